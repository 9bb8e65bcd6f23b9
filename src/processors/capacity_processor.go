package processors

import (
	"sort"
	"time"

	"github.com/username/cellarbook/backend/src/models"
)

// capacityProcessorImpl implements the CapacityProcessor interface.
type capacityProcessorImpl struct{}

// NewCapacityProcessor creates a new instance of CapacityProcessor.
func NewCapacityProcessor() CapacityProcessor {
	return &capacityProcessorImpl{}
}

// timelineEntry is one step of the interleaved walk. Rackings that change
// vessel contribute two entries: the loss they cause lands on the source
// vessel (order 0, an instant before the move), then the occupancy change
// itself (order 1). Child-creation outflows also use order 0 so a split that
// coincides with the move leaves the source vessel, not the destination.
// Plain volume deltas use order 2.
type timelineEntry struct {
	at     time.Time
	order  int
	delta  float64
	vessel int64 // destination vessel for order 1 entries
}

// CapacityHistory replays the batch's events while tracking which vessel
// holds it, and returns the peak running volume per occupancy window. This
// catches physically impossible states (600 L recorded against a 500 L tank)
// that a cumulative check misses once the batch has been racked elsewhere.
func (p *capacityProcessorImpl) CapacityHistory(batch *models.Batch, events []models.VolumeEvent, vessels map[int64]models.Vessel) []models.VesselPeak {
	sorted := make([]models.VolumeEvent, len(events))
	copy(sorted, events)
	sortEvents(sorted)

	entries := make([]timelineEntry, 0, len(sorted)+4)
	initialVessel := int64(0)
	if batch.VesselID != nil {
		initialVessel = *batch.VesselID
	}
	for _, ev := range sorted {
		if r, ok := ev.(models.Racking); ok && r.FromVesselID != r.ToVesselID {
			// First vessel the batch ever occupied is the source of its
			// earliest vessel-changing racking.
			initialVessel = r.FromVesselID
			break
		}
	}

	for _, ev := range sorted {
		if r, ok := ev.(models.Racking); ok && r.FromVesselID != r.ToVesselID {
			entries = append(entries,
				timelineEntry{at: r.When(), order: 0, delta: -rackingLoss(r)},
				timelineEntry{at: r.When(), order: 1, vessel: r.ToVesselID},
			)
			continue
		}
		delta, _ := eventEffect(ev)
		order := 2
		if _, ok := ev.(models.ChildOutflow); ok {
			order = 0
		}
		entries = append(entries, timelineEntry{at: ev.When(), order: order, delta: delta})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].at.Equal(entries[j].at) {
			return entries[i].at.Before(entries[j].at)
		}
		return entries[i].order < entries[j].order
	})

	var peaks []models.VesselPeak
	vol := effectiveInitialVolume(batch, sorted)
	current := initialVessel
	peak, peakAt := vol, batch.CreatedAt

	closeWindow := func() {
		if current == 0 {
			return
		}
		v := vessels[current]
		peaks = append(peaks, models.VesselPeak{
			VesselID:   current,
			VesselName: v.Name,
			Capacity:   v.Capacity,
			PeakVolume: peak,
			PeakAt:     peakAt,
			Exceeds:    v.Capacity > 0 && peak > v.Capacity*(1+HeadspaceTolerance),
		})
	}

	for _, e := range entries {
		switch e.order {
		case 1:
			closeWindow()
			current = e.vessel
			peak, peakAt = vol, e.at
		default:
			vol += e.delta
			if vol < 0 {
				vol = 0
			}
			if vol > peak {
				peak, peakAt = vol, e.at
			}
		}
	}
	closeWindow()
	return peaks
}
