package processors

import (
	"math"
	"testing"
	"time"

	"github.com/username/cellarbook/backend/src/models"
)

var testEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return testEpoch.AddDate(0, 0, n)
}

func header(batchID int64, at time.Time) models.EventHeader {
	return models.EventHeader{BatchID: batchID, OccurredAt: at}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestVolumeAtDeductsOutflows(t *testing.T) {
	batch := &models.Batch{ID: 1, CreatedAt: day(0), InitialVolume: 1000}
	events := []models.VolumeEvent{
		models.TransferOut{EventHeader: header(1, day(10)), CounterpartID: 2, Volume: 200, Loss: 5},
		models.Packaging{EventHeader: header(1, day(20)), VolumeTaken: 300, Units: 400, UnitSize: 0.75},
	}

	got := NewVolumeProcessor().VolumeAt(batch, events, day(25))
	if !almostEqual(got, 495) {
		t.Fatalf("VolumeAt = %.2f, want 495", got)
	}
}

func TestVolumeAtIgnoresEventsAfterCutoff(t *testing.T) {
	batch := &models.Batch{ID: 1, CreatedAt: day(0), InitialVolume: 1000}
	events := []models.VolumeEvent{
		models.TransferOut{EventHeader: header(1, day(10)), Volume: 200, Loss: 5},
		models.Distribution{EventHeader: header(1, day(30)), Volume: 500, Channel: "wholesale"},
	}

	got := NewVolumeProcessor().VolumeAt(batch, events, day(15))
	if !almostEqual(got, 795) {
		t.Fatalf("VolumeAt = %.2f, want 795", got)
	}
}

func TestVolumeAtBeforeCreationIsZero(t *testing.T) {
	batch := &models.Batch{ID: 1, CreatedAt: day(10), InitialVolume: 500}
	got := NewVolumeProcessor().VolumeAt(batch, nil, day(5))
	if got != 0 {
		t.Fatalf("VolumeAt before creation = %.2f, want 0", got)
	}
}

func TestTransferCreatedBatchInitialVolumeZeroed(t *testing.T) {
	// Declared initial volume duplicates the inbound transfer that created
	// the batch; replay must not count it twice.
	batch := &models.Batch{ID: 2, CreatedAt: day(0), InitialVolume: 1000}
	events := []models.VolumeEvent{
		models.TransferIn{EventHeader: header(2, day(0)), CounterpartID: 1, Volume: 1000},
	}

	if !isTransferCreated(batch, events) {
		t.Fatal("expected batch to be detected as transfer-created")
	}
	if got := effectiveInitialVolume(batch, events); got != 0 {
		t.Fatalf("effectiveInitialVolume = %.2f, want 0", got)
	}

	got := NewVolumeProcessor().VolumeAt(batch, events, day(1))
	if !almostEqual(got, 1000) {
		t.Fatalf("VolumeAt = %.2f, want 1000 (not 2000)", got)
	}
}

func TestPartialInboundTransferNotTransferCreated(t *testing.T) {
	// An inbound top-up well below the declared initial volume is a real
	// transfer into an independently produced batch.
	batch := &models.Batch{ID: 3, CreatedAt: day(0), InitialVolume: 1000}
	events := []models.VolumeEvent{
		models.TransferIn{EventHeader: header(3, day(2)), Volume: 300},
	}

	if isTransferCreated(batch, events) {
		t.Fatal("300 L inbound against 1000 L declared should not be transfer-created")
	}
	got := NewVolumeProcessor().VolumeAt(batch, events, day(3))
	if !almostEqual(got, 1300) {
		t.Fatalf("VolumeAt = %.2f, want 1300", got)
	}
}

func TestReplayClampsAtZeroAndAccumulatesResidual(t *testing.T) {
	batch := &models.Batch{ID: 4, CreatedAt: day(0), InitialVolume: 100}
	events := []models.VolumeEvent{
		models.Distribution{EventHeader: header(4, day(1)), Volume: 150},
		models.Adjustment{EventHeader: header(4, day(2)), Delta: 30},
	}

	res := NewVolumeProcessor().Replay(batch, events, day(3))
	if !almostEqual(res.Volume, 30) {
		t.Errorf("Volume = %.2f, want 30", res.Volume)
	}
	if !almostEqual(res.Residual, -50) {
		t.Errorf("Residual = %.2f, want -50", res.Residual)
	}
}

func TestReplayNeverNegative(t *testing.T) {
	batch := &models.Batch{ID: 5, CreatedAt: day(0), InitialVolume: 10}
	events := []models.VolumeEvent{
		models.Distillation{EventHeader: header(5, day(1)), Volume: 100},
		models.MergeOut{EventHeader: header(5, day(2)), Volume: 50},
	}

	res := NewVolumeProcessor().Replay(batch, events, day(10))
	if res.Volume < 0 {
		t.Fatalf("Volume = %.2f, must never be negative", res.Volume)
	}
}

func TestReplayDeterministicAcrossInputOrder(t *testing.T) {
	// Same-instant events: the inflow must apply before the outflow so the
	// clamp behaves identically regardless of fetch order.
	batch := &models.Batch{ID: 6, CreatedAt: day(0), InitialVolume: 0}
	in := models.TransferIn{EventHeader: header(6, day(1)), Volume: 500}
	out := models.TransferOut{EventHeader: header(6, day(1)), Volume: 400}

	p := NewVolumeProcessor()
	a := p.Replay(batch, []models.VolumeEvent{in, out}, day(2))
	b := p.Replay(batch, []models.VolumeEvent{out, in}, day(2))

	if !almostEqual(a.Volume, b.Volume) || !almostEqual(a.Residual, b.Residual) {
		t.Fatalf("replay depends on input order: (%.2f, %.2f) vs (%.2f, %.2f)",
			a.Volume, a.Residual, b.Volume, b.Residual)
	}
	if !almostEqual(a.Volume, 100) {
		t.Errorf("Volume = %.2f, want 100", a.Volume)
	}
	if a.Residual != 0 {
		t.Errorf("Residual = %.2f, want 0 (inflow ordered first)", a.Residual)
	}
}

func TestPackagingSplit(t *testing.T) {
	tests := []struct {
		name      string
		pkg       models.Packaging
		taken     float64
		loss      float64
		ambiguous bool
	}{
		{
			name:  "loss embedded in volume taken",
			pkg:   models.Packaging{VolumeTaken: 305, Loss: 5, Units: 400, UnitSize: 0.75},
			taken: 300, loss: 5,
		},
		{
			name:  "loss recorded separately",
			pkg:   models.Packaging{VolumeTaken: 300, Loss: 5, Units: 400, UnitSize: 0.75},
			taken: 300, loss: 5,
		},
		{
			name:  "no unit data falls back to record as-is",
			pkg:   models.Packaging{VolumeTaken: 120, Loss: 3},
			taken: 120, loss: 3,
		},
		{
			name:  "within tolerance treated as embedded",
			pkg:   models.Packaging{VolumeTaken: 305.2, Loss: 5, Units: 400, UnitSize: 0.75},
			taken: 300.2, loss: 5,
		},
		{
			name:  "fits neither interpretation",
			pkg:   models.Packaging{VolumeTaken: 310, Loss: 4, Units: 400, UnitSize: 0.75},
			taken: 310, loss: 4, ambiguous: true,
		},
		{
			name:  "mismatch with negligible loss is not flagged",
			pkg:   models.Packaging{VolumeTaken: 310, Loss: 0.1, Units: 400, UnitSize: 0.75},
			taken: 310, loss: 0.1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			taken, loss, ambiguous := packagingSplit(tt.pkg)
			if !almostEqual(taken, tt.taken) || !almostEqual(loss, tt.loss) {
				t.Errorf("packagingSplit = (%.2f, %.2f), want (%.2f, %.2f)", taken, loss, tt.taken, tt.loss)
			}
			if ambiguous != tt.ambiguous {
				t.Errorf("ambiguous = %v, want %v", ambiguous, tt.ambiguous)
			}
		})
	}
}

func TestAmbiguousPackagingSurfacesInReplay(t *testing.T) {
	batch := &models.Batch{ID: 7, CreatedAt: day(0), InitialVolume: 1000}
	events := []models.VolumeEvent{
		models.Packaging{EventHeader: header(7, day(1)), VolumeTaken: 310, Loss: 4, Units: 400, UnitSize: 0.75},
	}

	res := NewVolumeProcessor().Replay(batch, events, day(2))
	if !res.PackagingAmbiguous {
		t.Fatal("expected PackagingAmbiguous on replay result")
	}
	// Conservative deduction: both taken and loss come off.
	if !almostEqual(res.Volume, 686) {
		t.Errorf("Volume = %.2f, want 686", res.Volume)
	}
}

func TestRackingLoss(t *testing.T) {
	tests := []struct {
		name string
		r    models.Racking
		want float64
	}{
		{"explicit loss wins", models.Racking{VolumeBefore: 500, VolumeAfter: 480, Loss: 12}, 12},
		{"loss inferred from drop", models.Racking{VolumeBefore: 500, VolumeAfter: 488}, 12},
		{"no drop no loss", models.Racking{VolumeBefore: 500, VolumeAfter: 500}, 0},
		{"child claimed skips inference", models.Racking{VolumeBefore: 500, VolumeAfter: 300, ChildClaimed: true}, 0},
		{"child claimed keeps explicit loss", models.Racking{VolumeBefore: 500, VolumeAfter: 300, Loss: 8, ChildClaimed: true}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rackingLoss(tt.r); !almostEqual(got, tt.want) {
				t.Errorf("rackingLoss = %.2f, want %.2f", got, tt.want)
			}
		})
	}
}

func TestBuildEventStreamsSynthesizesChildOutflow(t *testing.T) {
	parentID, childID := int64(10), int64(11)
	parent := &models.Batch{ID: parentID, CreatedAt: day(0), InitialVolume: 1000}
	child := &models.Batch{ID: childID, CreatedAt: day(5), InitialVolume: 400, ParentID: &parentID}

	raw := map[int64][]models.VolumeEvent{
		parentID: {
			// Partial racking that spawned the child: the 400 L drop must
			// not also be inferred as racking loss.
			models.Racking{EventHeader: header(parentID, day(5)), FromVesselID: 1, ToVesselID: 1, VolumeBefore: 1000, VolumeAfter: 600},
		},
	}

	streams := BuildEventStreams([]*models.Batch{parent, child}, raw)

	var outflow *models.ChildOutflow
	var racking *models.Racking
	for _, ev := range streams[parentID] {
		switch e := ev.(type) {
		case models.ChildOutflow:
			outflow = &e
		case models.Racking:
			racking = &e
		}
	}
	if outflow == nil {
		t.Fatal("expected synthesized ChildOutflow on parent stream")
	}
	if outflow.ChildID != childID || !almostEqual(outflow.Volume, 400) {
		t.Errorf("ChildOutflow = {child %d, %.2f}, want {child %d, 400}", outflow.ChildID, outflow.Volume, childID)
	}
	if racking == nil || !racking.ChildClaimed {
		t.Fatal("expected nearest racking to be claimed by the child")
	}

	parentVol := NewVolumeProcessor().VolumeAt(parent, streams[parentID], day(6))
	if !almostEqual(parentVol, 600) {
		t.Fatalf("parent VolumeAt = %.2f, want 600 (outflow counted once)", parentVol)
	}
}

func TestBuildEventStreamsSkipsTransferCreatedChildren(t *testing.T) {
	parentID, childID := int64(20), int64(21)
	parent := &models.Batch{ID: parentID, CreatedAt: day(0), InitialVolume: 1000}
	child := &models.Batch{ID: childID, CreatedAt: day(5), InitialVolume: 400, ParentID: &parentID}

	raw := map[int64][]models.VolumeEvent{
		parentID: {
			models.TransferOut{EventHeader: header(parentID, day(5)), CounterpartID: childID, Volume: 400},
		},
		childID: {
			models.TransferIn{EventHeader: header(childID, day(5)), CounterpartID: parentID, Volume: 400},
		},
	}

	streams := BuildEventStreams([]*models.Batch{parent, child}, raw)
	for _, ev := range streams[parentID] {
		if _, ok := ev.(models.ChildOutflow); ok {
			t.Fatal("transfer-created child must not also synthesize a ChildOutflow")
		}
	}

	parentVol := NewVolumeProcessor().VolumeAt(parent, streams[parentID], day(6))
	if !almostEqual(parentVol, 600) {
		t.Fatalf("parent VolumeAt = %.2f, want 600", parentVol)
	}
}

func TestBuildEventStreamsNormalizesMissingTimestamps(t *testing.T) {
	batch := &models.Batch{ID: 30, CreatedAt: day(3), InitialVolume: 100}
	raw := map[int64][]models.VolumeEvent{
		30: {models.Filtering{EventHeader: models.EventHeader{BatchID: 30}, Loss: 5}},
	}

	streams := BuildEventStreams([]*models.Batch{batch}, raw)
	if len(streams[30]) != 1 {
		t.Fatalf("expected the timestampless event to be kept, got %d events", len(streams[30]))
	}
	if !streams[30][0].When().Equal(day(3)) {
		t.Fatalf("event stamped at %v, want batch creation %v", streams[30][0].When(), day(3))
	}
}

func TestClaimClosestRackingRespectsWindow(t *testing.T) {
	parentID, childID := int64(40), int64(41)
	parent := &models.Batch{ID: parentID, CreatedAt: day(0), InitialVolume: 1000}
	child := &models.Batch{ID: childID, CreatedAt: day(10), InitialVolume: 200, ParentID: &parentID}

	raw := map[int64][]models.VolumeEvent{
		parentID: {
			// Five days out: beyond the claim window, so its drop stays an
			// inferred loss.
			models.Racking{EventHeader: header(parentID, day(5)), FromVesselID: 1, ToVesselID: 1, VolumeBefore: 1000, VolumeAfter: 990},
		},
	}

	streams := BuildEventStreams([]*models.Batch{parent, child}, raw)
	for _, ev := range streams[parentID] {
		if r, ok := ev.(models.Racking); ok && r.ChildClaimed {
			t.Fatal("racking outside the match window must not be claimed")
		}
	}
}
