package processors

import (
	"math"
	"sort"
	"time"

	"github.com/username/cellarbook/backend/src/models"
)

// volumeProcessorImpl implements the VolumeProcessor interface.
type volumeProcessorImpl struct{}

// NewVolumeProcessor creates a new instance of VolumeProcessor.
func NewVolumeProcessor() VolumeProcessor {
	return &volumeProcessorImpl{}
}

// kindOrder fixes the apply order for events sharing an instant: inflows and
// gains first, then process deductions, then outbound movements. Keeping the
// order fixed makes clamping deterministic.
var kindOrder = map[models.EventKind]int{
	models.KindTransferIn:   0,
	models.KindMergeIn:      1,
	models.KindAdjustment:   2,
	models.KindRacking:      3,
	models.KindFiltering:    4,
	models.KindPackaging:    5,
	models.KindDistillation: 6,
	models.KindChildOutflow: 7,
	models.KindTransferOut:  8,
	models.KindMergeOut:     9,
	models.KindDistribution: 10,
}

// sortEvents orders a batch's events by instant, breaking ties by kind. The
// sort is stable, so records fetched in primary-key order stay deterministic.
func sortEvents(events []models.VolumeEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].When().Equal(events[j].When()) {
			return events[i].When().Before(events[j].When())
		}
		return kindOrder[events[i].Kind()] < kindOrder[events[j].Kind()]
	})
}

// transferInTotal sums every inbound transfer in the batch's history.
func transferInTotal(events []models.VolumeEvent) float64 {
	var total float64
	for _, ev := range events {
		if in, ok := ev.(models.TransferIn); ok {
			total += in.Volume
		}
	}
	return total
}

// isTransferCreated reports whether the batch began predominantly from an
// inbound transfer. Such batches carry a declared initial volume that
// double-counts the transfer record.
func isTransferCreated(batch *models.Batch, events []models.VolumeEvent) bool {
	if batch.InitialVolume <= 0 {
		return false
	}
	return transferInTotal(events) >= TransferCreatedShare*batch.InitialVolume
}

// effectiveInitialVolume is the declared initial volume, zeroed for
// transfer-created batches.
func effectiveInitialVolume(batch *models.Batch, events []models.VolumeEvent) float64 {
	if isTransferCreated(batch, events) {
		return 0
	}
	return batch.InitialVolume
}

// packagingSplit resolves the loss-inclusion ambiguity in a packaging record.
// It returns the bulk volume consumed as packaged product, the loss portion,
// and whether the record fit neither interpretation within tolerance. The
// ambiguous case applies the conservative (larger) deduction so reported
// on-hand never overstates.
func packagingSplit(p models.Packaging) (taken, loss float64, ambiguous bool) {
	expected := float64(p.Units) * p.UnitSize
	if expected <= 0 {
		return p.VolumeTaken, p.Loss, false
	}
	if math.Abs(p.VolumeTaken-(expected+p.Loss)) <= PackagingTolerance {
		// Loss already embedded in volume-taken.
		return p.VolumeTaken - p.Loss, p.Loss, false
	}
	if math.Abs(p.VolumeTaken-expected) <= PackagingTolerance {
		// Loss recorded separately.
		return p.VolumeTaken, p.Loss, false
	}
	return p.VolumeTaken, p.Loss, p.Loss > PackagingTolerance
}

// rackingLoss is the volume a racking destroys: the explicit loss, or the
// before-after drop when no loss was recorded. Rackings claimed by a child
// batch skip the inference — their drop is the child outflow, accounted
// separately.
func rackingLoss(r models.Racking) float64 {
	if r.Loss > 0 {
		return r.Loss
	}
	if r.ChildClaimed {
		return 0
	}
	if drop := r.VolumeBefore - r.VolumeAfter; drop > 0 {
		return drop
	}
	return 0
}

// eventEffect maps one event to its signed volume delta. The switch is
// exhaustive over the closed union; ambiguous reports the packaging
// heuristic failing both interpretations.
func eventEffect(ev models.VolumeEvent) (delta float64, ambiguous bool) {
	switch e := ev.(type) {
	case models.TransferIn:
		return e.Volume, false
	case models.TransferOut:
		return -(e.Volume + e.Loss), false
	case models.MergeIn:
		return e.Volume, false
	case models.MergeOut:
		return -e.Volume, false
	case models.ChildOutflow:
		return -e.Volume, false
	case models.Racking:
		return -rackingLoss(e), false
	case models.Filtering:
		return -e.Loss, false
	case models.Packaging:
		taken, loss, amb := packagingSplit(e)
		return -(taken + loss), amb
	case models.Distillation:
		return -e.Volume, false
	case models.Adjustment:
		return e.Delta, false
	case models.Distribution:
		return -e.Volume, false
	}
	return 0, false
}

// Replay folds every event at or before cutoff into a running volume,
// starting from the effective initial volume. The result is clamped at zero
// after every step; clamped amounts accumulate in Residual rather than being
// discarded.
func (p *volumeProcessorImpl) Replay(batch *models.Batch, events []models.VolumeEvent, cutoff time.Time) ReplayResult {
	var res ReplayResult
	if batch.CreatedAt.After(cutoff) {
		return res
	}

	sorted := make([]models.VolumeEvent, 0, len(events))
	for _, ev := range events {
		if !ev.When().After(cutoff) {
			sorted = append(sorted, ev)
		}
	}
	sortEvents(sorted)

	vol := effectiveInitialVolume(batch, events)
	for _, ev := range sorted {
		delta, ambiguous := eventEffect(ev)
		if ambiguous {
			res.PackagingAmbiguous = true
		}
		vol += delta
		if vol < 0 {
			res.Residual += vol
			vol = 0
		}
	}
	res.Volume = vol
	return res
}

// VolumeAt returns the reconstructed volume at cutoff, never negative. A
// batch with no events before cutoff and zero initial volume reconstructs to
// zero; that is a valid answer, not an error.
func (p *volumeProcessorImpl) VolumeAt(batch *models.Batch, events []models.VolumeEvent, cutoff time.Time) float64 {
	return p.Replay(batch, events, cutoff).Volume
}

// BuildEventStreams turns raw per-batch event sets into normalized replay
// streams: timestamps are defaulted to the batch's creation instant,
// child-creation outflows are synthesised onto parents, and the parent
// racking closest to each child's creation is claimed so its volume drop is
// not double-counted as inferred loss.
func BuildEventStreams(batches []*models.Batch, raw map[int64][]models.VolumeEvent) map[int64][]models.VolumeEvent {
	byID := make(map[int64]*models.Batch, len(batches))
	for _, b := range batches {
		byID[b.ID] = b
	}

	streams := make(map[int64][]models.VolumeEvent, len(batches))
	for _, b := range batches {
		events := raw[b.ID]
		normalized := make([]models.VolumeEvent, 0, len(events))
		for _, ev := range events {
			normalized = append(normalized, normalizeTimestamp(ev, b.CreatedAt))
		}
		streams[b.ID] = normalized
	}

	// Child-creation outflows: a child spawned by partial racking has only a
	// parent reference. Its effective initial volume left the parent at the
	// child's creation instant. Transfer-created children are excluded; their
	// inflow is already a transfer record on both sides.
	for _, child := range batches {
		if child.ParentID == nil {
			continue
		}
		parent, ok := byID[*child.ParentID]
		if !ok {
			continue
		}
		outflow := effectiveInitialVolume(child, streams[child.ID])
		if outflow <= 0 {
			continue
		}
		claimClosestRacking(streams[parent.ID], child.CreatedAt)
		streams[parent.ID] = append(streams[parent.ID], models.ChildOutflow{
			EventHeader: models.EventHeader{BatchID: parent.ID, OccurredAt: child.CreatedAt},
			ChildID:     child.ID,
			Volume:      outflow,
		})
	}

	for id := range streams {
		sortEvents(streams[id])
	}
	return streams
}

// claimClosestRacking marks the single racking event nearest to childCreated
// (within ChildMatchWindow) as claimed by a child creation.
func claimClosestRacking(events []models.VolumeEvent, childCreated time.Time) {
	bestIdx := -1
	var bestGap time.Duration
	for i, ev := range events {
		r, ok := ev.(models.Racking)
		if !ok || r.ChildClaimed {
			continue
		}
		gap := childCreated.Sub(r.When())
		if gap < 0 {
			gap = -gap
		}
		if gap > ChildMatchWindow {
			continue
		}
		if bestIdx == -1 || gap < bestGap {
			bestIdx, bestGap = i, gap
		}
	}
	if bestIdx >= 0 {
		r := events[bestIdx].(models.Racking)
		r.ChildClaimed = true
		events[bestIdx] = r
	}
}

// normalizeTimestamp stamps events with a missing timestamp at the batch's
// creation instant. Events are never discarded for a bad timestamp.
func normalizeTimestamp(ev models.VolumeEvent, createdAt time.Time) models.VolumeEvent {
	if !ev.When().IsZero() {
		return ev
	}
	switch e := ev.(type) {
	case models.TransferIn:
		e.OccurredAt = createdAt
		return e
	case models.TransferOut:
		e.OccurredAt = createdAt
		return e
	case models.MergeIn:
		e.OccurredAt = createdAt
		return e
	case models.MergeOut:
		e.OccurredAt = createdAt
		return e
	case models.ChildOutflow:
		e.OccurredAt = createdAt
		return e
	case models.Racking:
		e.OccurredAt = createdAt
		return e
	case models.Filtering:
		e.OccurredAt = createdAt
		return e
	case models.Packaging:
		e.OccurredAt = createdAt
		return e
	case models.Distillation:
		e.OccurredAt = createdAt
		return e
	case models.Adjustment:
		e.OccurredAt = createdAt
		return e
	case models.Distribution:
		e.OccurredAt = createdAt
		return e
	}
	return ev
}
