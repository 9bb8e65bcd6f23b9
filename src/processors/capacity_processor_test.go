package processors

import (
	"testing"

	"github.com/username/cellarbook/backend/src/models"
)

func vesselMap() map[int64]models.Vessel {
	return map[int64]models.Vessel{
		1: {ID: 1, Name: "FV-1", Capacity: 1200},
		2: {ID: 2, Name: "BBT-2", Capacity: 500},
	}
}

func TestCapacityHistoryFlagsOverfilledVessel(t *testing.T) {
	// 450 L racked into a 500 L tank, then 100 L merged in: peak 550 L is
	// past the 5% headspace allowance.
	vesselID := int64(1)
	batch := &models.Batch{ID: 1, CreatedAt: day(0), InitialVolume: 450, VesselID: &vesselID}
	events := []models.VolumeEvent{
		models.Racking{EventHeader: header(1, day(1)), FromVesselID: 1, ToVesselID: 2, VolumeBefore: 450, VolumeAfter: 450},
		models.MergeIn{EventHeader: header(1, day(2)), CounterpartID: 9, Volume: 100},
	}

	peaks := NewCapacityProcessor().CapacityHistory(batch, events, vesselMap())
	if len(peaks) != 2 {
		t.Fatalf("got %d occupancy windows, want 2", len(peaks))
	}

	if peaks[0].VesselID != 1 || peaks[0].Exceeds {
		t.Errorf("window 1 = {vessel %d, exceeds %v}, want {vessel 1, within capacity}", peaks[0].VesselID, peaks[0].Exceeds)
	}
	if peaks[1].VesselID != 2 {
		t.Fatalf("window 2 vessel = %d, want 2", peaks[1].VesselID)
	}
	if !almostEqual(peaks[1].PeakVolume, 550) {
		t.Errorf("window 2 peak = %.2f, want 550", peaks[1].PeakVolume)
	}
	if !peaks[1].Exceeds {
		t.Error("550 L in a 500 L vessel must exceed the 5% headspace allowance")
	}
}

func TestCapacityHistoryHeadspaceWithinAllowance(t *testing.T) {
	vesselID := int64(2)
	batch := &models.Batch{ID: 2, CreatedAt: day(0), InitialVolume: 520, VesselID: &vesselID}

	peaks := NewCapacityProcessor().CapacityHistory(batch, nil, vesselMap())
	if len(peaks) != 1 {
		t.Fatalf("got %d occupancy windows, want 1", len(peaks))
	}
	// 520 <= 500 * 1.05, within the foam/headspace allowance.
	if peaks[0].Exceeds {
		t.Error("520 L in a 500 L vessel is within the 5% allowance")
	}
}

func TestCapacityHistoryAttributesRackingLossToSourceVessel(t *testing.T) {
	vesselID := int64(1)
	batch := &models.Batch{ID: 3, CreatedAt: day(0), InitialVolume: 480, VesselID: &vesselID}
	events := []models.VolumeEvent{
		models.MergeIn{EventHeader: header(3, day(1)), Volume: 200},
		models.Racking{EventHeader: header(3, day(2)), FromVesselID: 1, ToVesselID: 2, VolumeBefore: 680, VolumeAfter: 660, Loss: 20},
	}

	peaks := NewCapacityProcessor().CapacityHistory(batch, events, vesselMap())
	if len(peaks) != 2 {
		t.Fatalf("got %d occupancy windows, want 2", len(peaks))
	}
	if !almostEqual(peaks[0].PeakVolume, 680) {
		t.Errorf("source vessel peak = %.2f, want 680 (loss lands after the peak)", peaks[0].PeakVolume)
	}
	// Destination window opens at 660: the racking loss belongs to the
	// source vessel, never the destination.
	if !almostEqual(peaks[1].PeakVolume, 660) {
		t.Errorf("destination vessel peak = %.2f, want 660", peaks[1].PeakVolume)
	}
	if !peaks[1].Exceeds {
		t.Error("660 L in the 500 L destination must be flagged")
	}
}

func TestCapacityHistoryChildOutflowLeavesSourceVessel(t *testing.T) {
	// A partial racking spawns a child at the same instant it moves the
	// remainder into BBT-2. The 480 L split leaves in FV-1; the destination
	// window opens at 520, inside the headspace allowance.
	vesselID := int64(1)
	batch := &models.Batch{ID: 6, CreatedAt: day(0), InitialVolume: 1000, VesselID: &vesselID}
	events := []models.VolumeEvent{
		models.Racking{EventHeader: header(6, day(4)), FromVesselID: 1, ToVesselID: 2, VolumeBefore: 1000, VolumeAfter: 520, ChildClaimed: true},
		models.ChildOutflow{EventHeader: header(6, day(4)), ChildID: 7, Volume: 480},
	}

	peaks := NewCapacityProcessor().CapacityHistory(batch, events, vesselMap())
	if len(peaks) != 2 {
		t.Fatalf("got %d occupancy windows, want 2", len(peaks))
	}
	if !almostEqual(peaks[0].PeakVolume, 1000) {
		t.Errorf("source vessel peak = %.2f, want 1000", peaks[0].PeakVolume)
	}
	if !almostEqual(peaks[1].PeakVolume, 520) {
		t.Errorf("destination vessel peak = %.2f, want 520 (split volume never entered it)", peaks[1].PeakVolume)
	}
	if peaks[1].Exceeds {
		t.Error("520 L in the 500 L destination is within the 5% allowance")
	}
}

func TestCapacityHistoryInfersInitialVesselFromFirstRacking(t *testing.T) {
	// Batch record carries no vessel reference; the first vessel-changing
	// racking's source is the original home.
	batch := &models.Batch{ID: 4, CreatedAt: day(0), InitialVolume: 400}
	events := []models.VolumeEvent{
		models.Racking{EventHeader: header(4, day(3)), FromVesselID: 2, ToVesselID: 1, VolumeBefore: 400, VolumeAfter: 400},
	}

	peaks := NewCapacityProcessor().CapacityHistory(batch, events, vesselMap())
	if len(peaks) != 2 {
		t.Fatalf("got %d occupancy windows, want 2", len(peaks))
	}
	if peaks[0].VesselID != 2 {
		t.Errorf("first window vessel = %d, want 2 (source of earliest racking)", peaks[0].VesselID)
	}
}

func TestCapacityHistoryUnknownVesselSkipped(t *testing.T) {
	batch := &models.Batch{ID: 5, CreatedAt: day(0), InitialVolume: 300}
	peaks := NewCapacityProcessor().CapacityHistory(batch, nil, vesselMap())
	if len(peaks) != 0 {
		t.Fatalf("batch with no vessel history produced %d windows, want 0", len(peaks))
	}
}
