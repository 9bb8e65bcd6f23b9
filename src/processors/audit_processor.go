package processors

import (
	"math"
	"time"

	"github.com/username/cellarbook/backend/src/models"
)

// auditProcessorImpl implements the AuditProcessor interface.
type auditProcessorImpl struct {
	volume   VolumeProcessor
	capacity CapacityProcessor
}

// NewAuditProcessor creates a new instance of AuditProcessor.
func NewAuditProcessor(volume VolumeProcessor, capacity CapacityProcessor) AuditProcessor {
	return &auditProcessorImpl{volume: volume, capacity: capacity}
}

// Audit compares the cached running total, rewound to end by undoing every
// event recorded after it, against the independently replayed volume at the
// same instant. The cache and the replay describe the same object; when they
// disagree beyond tolerance on a batch nobody has manually verified, that is
// a discrepancy for human review.
func (a *auditProcessorImpl) Audit(batch *models.Batch, events []models.VolumeEvent, vessels map[int64]models.Vessel, end time.Time) AuditFindings {
	var f AuditFindings

	rewound := batch.CachedVolume
	for _, ev := range events {
		if ev.When().After(end) {
			delta, _ := eventEffect(ev)
			rewound -= delta
		}
	}

	replayed := a.volume.Replay(batch, events, end)
	f.Drift = rewound - replayed.Volume
	f.HasDriftIssue = !batch.Verified && math.Abs(f.Drift) > DriftTolerance

	// A transfer-created batch whose declared initial volume was never zeroed
	// is a data-entry smell rather than a volume error: the replay already
	// discounts the double-count.
	f.HasInitialVolumeAnomaly = isTransferCreated(batch, events)

	f.VesselPeaks = a.capacity.CapacityHistory(batch, events, vessels)
	if !batch.Verified {
		for _, peak := range f.VesselPeaks {
			if peak.Exceeds {
				f.ExceedsVesselCapacity = true
				break
			}
		}
	}

	return f
}
