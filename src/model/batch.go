package model

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/username/cellarbook/backend/src/models"
)

// ErrBatchNotFound is returned when a batch ID does not exist for the user.
var ErrBatchNotFound = errors.New("batch not found")

const batchColumns = `id, user_id, name, created_at, initial_volume, parent_id, cached_volume, vessel_id,
	product_category, abv, co2_volumes, co2_measured_at, carbonation_method, raw_material, status, verified`

func scanBatch(row interface{ Scan(...interface{}) error }) (*models.Batch, error) {
	var b models.Batch
	var parentID, vesselID sql.NullInt64
	var co2MeasuredAt sql.NullTime
	err := row.Scan(
		&b.ID, &b.UserID, &b.Name, &b.CreatedAt, &b.InitialVolume, &parentID, &b.CachedVolume, &vesselID,
		&b.ProductCategory, &b.ABV, &b.CO2Volumes, &co2MeasuredAt, &b.CarbonationMethod, &b.RawMaterial,
		&b.Status, &b.Verified,
	)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		b.ParentID = &parentID.Int64
	}
	if vesselID.Valid {
		b.VesselID = &vesselID.Int64
	}
	if co2MeasuredAt.Valid {
		b.CO2MeasuredAt = co2MeasuredAt.Time
	}
	return &b, nil
}

// GetBatchByID retrieves a single batch owned by the user.
func GetBatchByID(db *sql.DB, userID, batchID int64) (*models.Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM batches WHERE user_id = ? AND id = ?`, batchColumns)
	b, err := scanBatch(db.QueryRow(query, userID, batchID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("error querying batch %d for userID %d: %w", batchID, userID, err)
	}
	return b, nil
}

// GetBatchesForUser retrieves every batch the user owns, in ID order.
// Eligibility filtering (status, creation date) happens in-process so one
// fetch serves opening, period and post-period buckets alike.
func GetBatchesForUser(db *sql.DB, userID int64) ([]*models.Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM batches WHERE user_id = ? ORDER BY id ASC`, batchColumns)
	rows, err := db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying batches for userID %d: %w", userID, err)
	}
	defer rows.Close()

	var batches []*models.Batch
	for rows.Next() {
		b, scanErr := scanBatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("error scanning batch row for userID %d: %w", userID, scanErr)
		}
		batches = append(batches, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over batch rows for userID %d: %w", userID, err)
	}
	return batches, nil
}

// GetVesselsForUser returns the user's vessels keyed by ID.
func GetVesselsForUser(db *sql.DB, userID int64) (map[int64]models.Vessel, error) {
	rows, err := db.Query(`SELECT id, name, capacity FROM vessels WHERE user_id = ? ORDER BY id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying vessels for userID %d: %w", userID, err)
	}
	defer rows.Close()

	vessels := make(map[int64]models.Vessel)
	for rows.Next() {
		var v models.Vessel
		if scanErr := rows.Scan(&v.ID, &v.Name, &v.Capacity); scanErr != nil {
			return nil, fmt.Errorf("error scanning vessel row for userID %d: %w", userID, scanErr)
		}
		vessels[v.ID] = v
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over vessel rows for userID %d: %w", userID, err)
	}
	return vessels, nil
}

// GetFinalizedBalances returns the per-class ending balances of the most
// recent finalized period at or before periodEnd. An empty map means no
// period has been finalized yet; callers treat missing classes as zero and
// annotate the report.
func GetFinalizedBalances(db *sql.DB, userID int64, periodEnd time.Time) (map[models.TaxClass]float64, error) {
	var latest sql.NullTime
	err := db.QueryRow(
		`SELECT MAX(period_end) FROM finalized_periods WHERE user_id = ? AND period_end <= ?`,
		userID, periodEnd,
	).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("error finding latest finalized period for userID %d: %w", userID, err)
	}
	if !latest.Valid {
		return map[models.TaxClass]float64{}, nil
	}

	rows, err := db.Query(
		`SELECT tax_class, ending_balance FROM finalized_periods WHERE user_id = ? AND period_end = ?`,
		userID, latest.Time,
	)
	if err != nil {
		return nil, fmt.Errorf("error querying finalized balances for userID %d: %w", userID, err)
	}
	defer rows.Close()

	balances := make(map[models.TaxClass]float64)
	for rows.Next() {
		var class string
		var balance float64
		if scanErr := rows.Scan(&class, &balance); scanErr != nil {
			return nil, fmt.Errorf("error scanning finalized balance row for userID %d: %w", userID, scanErr)
		}
		balances[models.TaxClass(class)] = balance
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over finalized balance rows for userID %d: %w", userID, err)
	}
	return balances, nil
}
