package processors

import (
	"testing"

	"github.com/username/cellarbook/backend/src/models"
)

func newReconciler() ReconciliationProcessor {
	return NewReconciliationProcessor(NewVolumeProcessor())
}

func window(start, end int) models.ReconciliationWindow {
	return models.ReconciliationWindow{Start: day(start), End: day(end)}
}

func TestBatchContributionPartitionsWindow(t *testing.T) {
	batch := &models.Batch{ID: 1, CreatedAt: day(0), InitialVolume: 1000}
	events := []models.VolumeEvent{
		models.Distribution{EventHeader: header(1, day(5)), Volume: 100},  // before window
		models.Distribution{EventHeader: header(1, day(10)), Volume: 50},  // exactly at start: previous period
		models.Distribution{EventHeader: header(1, day(15)), Volume: 200}, // inside
		models.Distribution{EventHeader: header(1, day(20)), Volume: 75},  // exactly at end: this period
		models.Distribution{EventHeader: header(1, day(25)), Volume: 40},  // after window
	}

	c := newReconciler().BatchContribution(batch, events, window(10, 20))

	if !almostEqual(c.Opening, 850) {
		t.Errorf("Opening = %.2f, want 850 (events through start inclusive)", c.Opening)
	}
	if !almostEqual(c.Sales, 275) {
		t.Errorf("Sales = %.2f, want 275 (day 15 and day 20 only)", c.Sales)
	}
	if !almostEqual(c.Ending, 575) {
		t.Errorf("Ending = %.2f, want 575", c.Ending)
	}
	if c.Production != 0 {
		t.Errorf("Production = %.2f, want 0 for a batch created before the window", c.Production)
	}
}

func TestBatchContributionCreatedInWindowCountsProduction(t *testing.T) {
	batch := &models.Batch{ID: 2, CreatedAt: day(12), InitialVolume: 800}
	events := []models.VolumeEvent{
		models.Filtering{EventHeader: header(2, day(14)), Loss: 10},
	}

	c := newReconciler().BatchContribution(batch, events, window(10, 20))
	if !almostEqual(c.Production, 800) {
		t.Errorf("Production = %.2f, want 800", c.Production)
	}
	if !almostEqual(c.Opening, 0) {
		t.Errorf("Opening = %.2f, want 0", c.Opening)
	}
	if !almostEqual(c.Losses.Filtering, 10) {
		t.Errorf("Filtering loss = %.2f, want 10", c.Losses.Filtering)
	}
	if !almostEqual(c.Ending, 790) {
		t.Errorf("Ending = %.2f, want 790", c.Ending)
	}
}

func TestBatchContributionMergeInCountsAsProduction(t *testing.T) {
	batch := &models.Batch{ID: 3, CreatedAt: day(0), InitialVolume: 500}
	events := []models.VolumeEvent{
		models.MergeIn{EventHeader: header(3, day(15)), CounterpartID: 8, Volume: 120},
	}

	c := newReconciler().BatchContribution(batch, events, window(10, 20))
	if !almostEqual(c.Production, 120) {
		t.Errorf("Production = %.2f, want 120", c.Production)
	}
	if !almostEqual(c.Ending, 620) {
		t.Errorf("Ending = %.2f, want 620", c.Ending)
	}
}

func TestBatchContributionSplitsAdjustments(t *testing.T) {
	batch := &models.Batch{ID: 4, CreatedAt: day(0), InitialVolume: 500}
	events := []models.VolumeEvent{
		models.Adjustment{EventHeader: header(4, day(12)), Delta: 15, Reason: "topping wine"},
		models.Adjustment{EventHeader: header(4, day(16)), Delta: -25, Reason: "spillage"},
	}

	c := newReconciler().BatchContribution(batch, events, window(10, 20))
	if !almostEqual(c.PositiveAdjustments, 15) {
		t.Errorf("PositiveAdjustments = %.2f, want 15", c.PositiveAdjustments)
	}
	if !almostEqual(c.Losses.Adjustment, 25) {
		t.Errorf("Adjustment loss = %.2f, want 25", c.Losses.Adjustment)
	}
	if !almostEqual(c.Ending, 490) {
		t.Errorf("Ending = %.2f, want 490", c.Ending)
	}
}

func TestBatchContributionIdentityResidual(t *testing.T) {
	// The window records 600 L leaving a batch that only ever held 500 L.
	batch := &models.Batch{ID: 5, CreatedAt: day(0), InitialVolume: 500}
	events := []models.VolumeEvent{
		models.Distribution{EventHeader: header(5, day(15)), Volume: 600},
	}

	c := newReconciler().BatchContribution(batch, events, window(10, 20))
	if !almostEqual(c.Ending, 0) {
		t.Errorf("Ending = %.2f, want 0 (clamped)", c.Ending)
	}
	if !almostEqual(c.IdentityResidual, -100) {
		t.Errorf("IdentityResidual = %.2f, want -100", c.IdentityResidual)
	}
	if !c.HasIdentityIssue {
		t.Error("expected HasIdentityIssue")
	}
	if c.Ending < 0 {
		t.Error("ending volume must never be negative")
	}
}

func TestBatchContributionMassBalance(t *testing.T) {
	batch := &models.Batch{ID: 6, CreatedAt: day(0), InitialVolume: 1000}
	events := []models.VolumeEvent{
		models.TransferIn{EventHeader: header(6, day(11)), Volume: 50},
		models.TransferOut{EventHeader: header(6, day(12)), Volume: 100, Loss: 2},
		models.Racking{EventHeader: header(6, day(13)), FromVesselID: 1, ToVesselID: 2, VolumeBefore: 948, VolumeAfter: 940},
		models.Packaging{EventHeader: header(6, day(14)), VolumeTaken: 300, Loss: 5, Units: 400, UnitSize: 0.75},
		models.Distribution{EventHeader: header(6, day(15)), Volume: 200},
	}

	c := newReconciler().BatchContribution(batch, events, window(10, 20))

	identity := c.Opening + c.Production + c.PositiveAdjustments + c.TransfersIn -
		c.TransfersOut - c.PackagedOut - c.Losses.Total() - c.Sales - c.Distillation
	if !almostEqual(identity, c.Ending) {
		t.Fatalf("identity %.2f != Ending %.2f", identity, c.Ending)
	}
	if c.IdentityResidual != 0 {
		t.Errorf("IdentityResidual = %.2f, want 0 on a self-consistent ledger", c.IdentityResidual)
	}
}

func TestRollupVarianceReportedNotAbsorbed(t *testing.T) {
	// Opening 0, production 1000, sales 400, losses 50: calculated ending
	// 550. The replayed batch ending says 500 — the 50 L gap must surface.
	contributions := []models.BatchContribution{
		{
			BatchID:    1,
			TaxClass:   models.TaxClassHardCider,
			Production: 1000,
			Sales:      400,
			Losses:     models.LossBreakdown{Racking: 50},
			Ending:     500,
		},
	}
	w := window(10, 20)
	w.OpeningBalances = map[models.TaxClass]float64{models.TaxClassHardCider: 0}

	classes, totals := newReconciler().Rollup(w, contributions, testTaxConfig())
	if len(classes) != 1 {
		t.Fatalf("got %d classes, want 1", len(classes))
	}
	s := classes[0]
	if !almostEqual(s.CalculatedEnding, 550) {
		t.Errorf("CalculatedEnding = %.2f, want 550", s.CalculatedEnding)
	}
	if !almostEqual(s.ReconstructedEnding, 500) {
		t.Errorf("ReconstructedEnding = %.2f, want 500", s.ReconstructedEnding)
	}
	if !almostEqual(s.Variance, 50) {
		t.Errorf("Variance = %.2f, want exactly 50", s.Variance)
	}
	if s.OpeningAssumedZero {
		t.Error("a seeded zero balance is not an assumed zero")
	}
	if !almostEqual(s.Rate, 0.0597) {
		t.Errorf("Rate = %.4f, want 0.0597", s.Rate)
	}
	if !almostEqual(totals.Variance, 50) {
		t.Errorf("total Variance = %.2f, want 50", totals.Variance)
	}
}

func TestRollupUnseededClassAnnotated(t *testing.T) {
	contributions := []models.BatchContribution{
		{BatchID: 1, TaxClass: models.TaxClassWineLowABV, Production: 300, Ending: 300},
		{BatchID: 2, TaxClass: models.TaxClassHardCider, Production: 200, Ending: 200},
	}
	w := window(10, 20)
	w.OpeningBalances = map[models.TaxClass]float64{models.TaxClassHardCider: 75}

	classes, _ := newReconciler().Rollup(w, contributions, nil)
	if len(classes) != 2 {
		t.Fatalf("got %d classes, want 2", len(classes))
	}
	// Sorted by class name: hard_cider before wine_low_abv.
	if classes[0].TaxClass != models.TaxClassHardCider || classes[0].OpeningAssumedZero {
		t.Errorf("hard_cider: seeded class wrongly annotated as assumed zero")
	}
	if !almostEqual(classes[0].OpeningBalance, 75) {
		t.Errorf("hard_cider opening = %.2f, want 75", classes[0].OpeningBalance)
	}
	if classes[1].TaxClass != models.TaxClassWineLowABV || !classes[1].OpeningAssumedZero {
		t.Errorf("wine_low_abv: class with activity and no seed must be flagged assumed-zero")
	}
}

func TestRollupDeterministicClassOrder(t *testing.T) {
	contributions := []models.BatchContribution{
		{BatchID: 1, TaxClass: models.TaxClassSpirits},
		{BatchID: 2, TaxClass: models.TaxClassExempt},
		{BatchID: 3, TaxClass: models.TaxClassHardCider},
	}
	w := window(0, 10)

	first, _ := newReconciler().Rollup(w, contributions, nil)
	second, _ := newReconciler().Rollup(w, contributions, nil)
	for i := range first {
		if first[i].TaxClass != second[i].TaxClass {
			t.Fatalf("class order differs between runs at index %d: %q vs %q", i, first[i].TaxClass, second[i].TaxClass)
		}
	}
	if first[0].TaxClass != models.TaxClassExempt {
		t.Errorf("first class = %q, want exempt (lexicographic)", first[0].TaxClass)
	}
}
