package models

import "time"

// Product categories as recorded on a batch. Raw juice is outside tax-class
// scope entirely; brandy is classified on its own track.
const (
	ProductJuice  = "juice"
	ProductCider  = "cider"
	ProductWine   = "wine"
	ProductMead   = "mead"
	ProductBrandy = "brandy"
)

// Carbonation methods. Natural carbonation (bottle/tank conditioning) and
// injected CO2 land in different tax classes above the still threshold.
const (
	CarbonationNone     = "none"
	CarbonationNatural  = "natural"
	CarbonationInjected = "injected"
)

// Batch statuses used for eligibility filtering.
const (
	BatchStatusActive    = "active"
	BatchStatusArchived  = "archived"
	BatchStatusDuplicate = "duplicate"
	BatchStatusExcluded  = "excluded"
)

// Batch is a production batch as stored in the batch directory. CachedVolume
// is the running total maintained by the write side; it is informational only
// and never trusted as ground truth — every reported figure is derived by
// replaying the batch's event history.
type Batch struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
	InitialVolume float64   `json:"initial_volume"` // liters, as declared at creation
	ParentID      *int64    `json:"parent_id,omitempty"`
	CachedVolume  float64   `json:"cached_volume"`
	VesselID      *int64    `json:"vessel_id,omitempty"`

	ProductCategory   string    `json:"product_category"`
	ABV               float64   `json:"abv"` // percent by volume, measured or estimated
	CO2Volumes        float64   `json:"co2_volumes"`
	CO2MeasuredAt     time.Time `json:"co2_measured_at"`
	CarbonationMethod string    `json:"carbonation_method"`
	RawMaterial       string    `json:"raw_material"`

	Status   string `json:"status"`
	Verified bool   `json:"verified"` // manual sign-off; suppresses drift and capacity flags
}

// Eligible reports whether the batch participates in reconciliation for a
// window ending at end: it must exist by then and not be marked as noise.
func (b *Batch) Eligible(end time.Time) bool {
	if b.Status == BatchStatusDuplicate || b.Status == BatchStatusExcluded {
		return false
	}
	return !b.CreatedAt.After(end)
}

// Vessel holds no volume state of its own; capacity is used only for
// overfill detection during timeline replay.
type Vessel struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Capacity float64 `json:"capacity"` // liters
}

// TaxClass is a regulator-defined category carrying its own rate.
type TaxClass string

const (
	TaxClassExempt         TaxClass = "exempt"
	TaxClassHardCider      TaxClass = "hard_cider"
	TaxClassWineLowABV     TaxClass = "wine_low_abv"
	TaxClassWineHighABV    TaxClass = "wine_high_abv"
	TaxClassSparklingWine  TaxClass = "sparkling_wine"
	TaxClassCarbonatedWine TaxClass = "carbonated_wine"
	TaxClassSpirits        TaxClass = "spirits"
)

// TaxClassConfig carries the thresholds and rates the classifier needs. It is
// supplied externally and passed explicitly into every call that needs it;
// the engine holds no ambient classification state.
type TaxClassConfig struct {
	HardCiderMaxABV    float64              `json:"hard_cider_max_abv"`
	HardCiderMaxCO2    float64              `json:"hard_cider_max_co2"` // volumes of CO2
	StillMaxCO2        float64              `json:"still_max_co2"`
	LowABVMax          float64              `json:"low_abv_max"`
	HighABVMax         float64              `json:"high_abv_max"`
	HardCiderMaterials []string             `json:"hard_cider_materials"` // raw materials allowed the preferential rate
	Rates              map[TaxClass]float64 `json:"rates"`                // currency units per liter
}

// ReconciliationWindow bounds one reporting period. OpeningBalances seed the
// per-class calculated position from a prior finalized period or a one-time
// regulator baseline; the seed is authoritative for the opening total but the
// activity boundaries are always the Start/End passed here, never inferred
// from the seed's own period.
type ReconciliationWindow struct {
	Start           time.Time            `json:"start"`
	End             time.Time            `json:"end"`
	OpeningBalances map[TaxClass]float64 `json:"opening_balances"`
}

// LossBreakdown splits process losses inside a window by cause.
type LossBreakdown struct {
	Racking    float64 `json:"racking"`
	Filtering  float64 `json:"filtering"`
	Packaging  float64 `json:"packaging"`
	Transfer   float64 `json:"transfer"`
	Adjustment float64 `json:"adjustment"` // magnitude of negative corrections
}

// Total sums every loss cause.
func (l LossBreakdown) Total() float64 {
	return l.Racking + l.Filtering + l.Packaging + l.Transfer + l.Adjustment
}

// Add folds another breakdown into this one.
func (l *LossBreakdown) Add(o LossBreakdown) {
	l.Racking += o.Racking
	l.Filtering += o.Filtering
	l.Packaging += o.Packaging
	l.Transfer += o.Transfer
	l.Adjustment += o.Adjustment
}

// VesselPeak is one vessel-occupancy window from the capacity walker: the
// highest running volume reached while the batch sat in that vessel.
type VesselPeak struct {
	VesselID   int64     `json:"vessel_id"`
	VesselName string    `json:"vessel_name"`
	Capacity   float64   `json:"capacity"`
	PeakVolume float64   `json:"peak_volume"`
	PeakAt     time.Time `json:"peak_at"`
	Exceeds    bool      `json:"exceeds"`
}

// BatchContribution is the per-batch output of a reconciliation run. It is
// computed fresh on every query and never persisted as the authoritative
// record. The anomaly fields are expected, reportable findings — a flagged
// batch never aborts the rest of the window.
type BatchContribution struct {
	BatchID   int64    `json:"batch_id"`
	BatchName string   `json:"batch_name"`
	TaxClass  TaxClass `json:"tax_class"`

	Opening             float64       `json:"opening"`
	Production          float64       `json:"production"`
	TransfersIn         float64       `json:"transfers_in"`
	TransfersOut        float64       `json:"transfers_out"`
	TransferLoss        float64       `json:"transfer_loss"`
	PositiveAdjustments float64       `json:"positive_adjustments"`
	Losses              LossBreakdown `json:"losses"`
	PackagedOut         float64       `json:"packaged_out"`
	Sales               float64       `json:"sales"`
	Distillation        float64       `json:"distillation"`
	Ending              float64       `json:"ending"`

	// IdentityResidual is the amount the ending formula would have gone
	// negative before clamping; always <= 0, exactly 0 when no clamp fired.
	IdentityResidual float64 `json:"identity_residual"`
	HasIdentityIssue bool    `json:"has_identity_issue"`

	// PackagingAmbiguity is set when a packaging record fits neither the
	// loss-included nor the loss-separate interpretation within tolerance.
	PackagingAmbiguity bool `json:"packaging_ambiguity"`

	Drift                   float64      `json:"drift"`
	HasDriftIssue           bool         `json:"has_drift_issue"`
	HasInitialVolumeAnomaly bool         `json:"has_initial_volume_anomaly"`
	ExceedsVesselCapacity   bool         `json:"exceeds_vessel_capacity"`
	VesselPeaks             []VesselPeak `json:"vessel_peaks,omitempty"`
}

// AnyAnomaly reports whether the contribution carries at least one finding
// that belongs in a review queue.
func (c *BatchContribution) AnyAnomaly() bool {
	return c.HasIdentityIssue || c.PackagingAmbiguity || c.HasDriftIssue ||
		c.HasInitialVolumeAnomaly || c.ExceedsVesselCapacity
}

// ClassSummary rolls batch contributions up by tax class. CalculatedEnding is
// derived from the seeded opening balance plus window activity;
// ReconstructedEnding is the sum of replayed batch endings. Variance is their
// difference and is reported, never absorbed.
type ClassSummary struct {
	TaxClass            TaxClass      `json:"tax_class"`
	Rate                float64       `json:"rate"`
	BatchCount          int           `json:"batch_count"`
	OpeningBalance      float64       `json:"opening_balance"`
	OpeningAssumedZero  bool          `json:"opening_assumed_zero"` // no seed for a class with activity
	Production          float64       `json:"production"`
	TransfersIn         float64       `json:"transfers_in"`
	TransfersOut        float64       `json:"transfers_out"`
	PositiveAdjustments float64       `json:"positive_adjustments"`
	Losses              LossBreakdown `json:"losses"`
	PackagedOut         float64       `json:"packaged_out"`
	Sales               float64       `json:"sales"`
	Distillation        float64       `json:"distillation"`
	CalculatedEnding    float64       `json:"calculated_ending"`
	ReconstructedEnding float64       `json:"reconstructed_ending"`
	Variance            float64       `json:"variance"`
}

// ReconciliationReport is the aggregate returned to the API layer.
type ReconciliationReport struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Totals        ClassSummary        `json:"totals"` // grand totals; TaxClass left empty
	PerClass      []ClassSummary      `json:"per_class"`
	PerBatch      []BatchContribution `json:"per_batch"`
	ConfigMissing bool                `json:"config_missing"` // classifier ran on conservative defaults
	Discrepancies int                 `json:"discrepancies"`  // batches with at least one anomaly flag
}
