package services

import (
	"time"

	"github.com/username/cellarbook/backend/src/models"
)

// ReconciliationService is the engine's entry point for the API layer. Both
// methods are synchronous, side-effect-free and idempotent for identical
// inputs against an unchanged ledger.
type ReconciliationService interface {
	Reconcile(userID int64, window models.ReconciliationWindow) (*models.ReconciliationReport, error)
	VolumeAt(userID, batchID int64, at time.Time) (float64, error)
	CapacityHistory(userID, batchID int64) ([]models.VesselPeak, error)
	InvalidateUserCache(userID int64)
}

// BalanceService yields, per tax class, the last finalized ending balance
// (or a one-time regulator baseline) used to seed a reconciliation window.
type BalanceService interface {
	OpeningBalances(userID int64, asOf time.Time) (map[models.TaxClass]float64, error)
}

// EmailService delivers anomaly summaries to the review queue inbox.
type EmailService interface {
	SendReconciliationAlert(toEmail string, report *models.ReconciliationReport) error
}
