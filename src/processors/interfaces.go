package processors

import (
	"time"

	"github.com/username/cellarbook/backend/src/models"
)

// Tolerances shared across the reconciliation processors. Volumes are liters.
const (
	// IdentityTolerance is the residual magnitude above which a batch is
	// flagged: the formula could not explain the ledger without going
	// negative.
	IdentityTolerance = 0.25
	// DriftTolerance is the allowed disagreement between the cached running
	// total and the replayed volume at the same instant.
	DriftTolerance = 0.5
	// PackagingTolerance bounds the volume-taken vs units×unitSize+loss
	// comparison used to detect whether a packaging record embeds its loss.
	PackagingTolerance = 0.25
	// HeadspaceTolerance is the fraction of vessel capacity a peak may exceed
	// before the vessel is flagged as physically overfilled.
	HeadspaceTolerance = 0.05
	// TransferCreatedShare: a batch whose inbound transfers account for at
	// least this share of its declared initial volume is transfer-created and
	// its nominal initial volume double-counts the transfer.
	TransferCreatedShare = 0.9
	// ChildMatchWindow is how far a parent racking may sit from a child
	// batch's creation instant and still be claimed as the racking that
	// spawned it.
	ChildMatchWindow = 48 * time.Hour
)

// ReplayResult is the outcome of folding a batch's event history up to a
// cutoff. Volume is clamped at zero; Residual accumulates the clamped amount
// (always <= 0) instead of silently discarding it.
type ReplayResult struct {
	Volume             float64
	Residual           float64
	PackagingAmbiguous bool
}

// VolumeProcessor reconstructs point-in-time volumes by pure replay. The fold
// is deterministic: same batch, events and cutoff always produce the same
// result, with no dependency on wall-clock time or on the cached total.
type VolumeProcessor interface {
	Replay(batch *models.Batch, events []models.VolumeEvent, cutoff time.Time) ReplayResult
	VolumeAt(batch *models.Batch, events []models.VolumeEvent, cutoff time.Time) float64
}

// TaxClassifier maps batch attributes plus a config to a tax class. Pure
// lookup: callers build a batch→class map once per query and reuse it.
type TaxClassifier interface {
	Classify(batch *models.Batch, cfg *models.TaxClassConfig) models.TaxClass
	ClassifyAll(batches []*models.Batch, cfg *models.TaxClassConfig) map[int64]models.TaxClass
}

// CapacityProcessor walks vessel occupancy and volume timelines together to
// find the peak volume reached in each vessel the batch ever sat in.
type CapacityProcessor interface {
	CapacityHistory(batch *models.Batch, events []models.VolumeEvent, vessels map[int64]models.Vessel) []models.VesselPeak
}

// ReconciliationProcessor partitions each batch's history around a window and
// produces per-batch, per-class and grand-total figures.
type ReconciliationProcessor interface {
	BatchContribution(batch *models.Batch, events []models.VolumeEvent, window models.ReconciliationWindow) models.BatchContribution
	Rollup(window models.ReconciliationWindow, contributions []models.BatchContribution, cfg *models.TaxClassConfig) ([]models.ClassSummary, models.ClassSummary)
}

// AuditFindings is the per-batch output of the drift/identity auditor.
type AuditFindings struct {
	Drift                   float64
	HasDriftIssue           bool
	HasInitialVolumeAnomaly bool
	ExceedsVesselCapacity   bool
	VesselPeaks             []models.VesselPeak
}

// AuditProcessor cross-checks the cached running total against independent
// replay and surfaces data-entry smells. Findings are reportable facts, not
// errors.
type AuditProcessor interface {
	Audit(batch *models.Batch, events []models.VolumeEvent, vessels map[int64]models.Vessel, end time.Time) AuditFindings
}
