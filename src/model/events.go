package model

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/username/cellarbook/backend/src/models"
)

// FetchAllEvents loads every volume-affecting record for the given batch set
// in one bulk range query per event kind — never one query per batch — and
// groups them by batch in-process. No date filter is applied: the same fetch
// serves the opening, period and post-period buckets.
func FetchAllEvents(db *sql.DB, batchIDs []int64) (map[int64][]models.VolumeEvent, error) {
	events := make(map[int64][]models.VolumeEvent, len(batchIDs))
	if len(batchIDs) == 0 {
		return events, nil
	}

	fetchers := []func(*sql.DB, []int64, map[int64][]models.VolumeEvent) error{
		fetchTransfers,
		fetchMerges,
		fetchRackings,
		fetchFilterings,
		fetchPackagings,
		fetchDistillations,
		fetchAdjustments,
		fetchDistributions,
	}
	for _, fetch := range fetchers {
		if err := fetch(db, batchIDs, events); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// timeOf unwraps a nullable timestamp; the zero time marks records whose
// timestamp is missing, which replay later defaults to the batch's creation
// instant.
func timeOf(t sql.NullTime) (out models.EventHeader) {
	if t.Valid {
		out.OccurredAt = t.Time
	}
	return out
}

// fetchTransfers reads each transfer once and fans it out to both sides: a
// TransferOut on the source batch (which owns the loss) and a TransferIn on
// the destination.
func fetchTransfers(db *sql.DB, batchIDs []int64, events map[int64][]models.VolumeEvent) error {
	ph := placeholders(len(batchIDs))
	query := fmt.Sprintf(
		`SELECT source_batch_id, dest_batch_id, volume, loss, occurred_at FROM transfers
		 WHERE source_batch_id IN (%s) OR dest_batch_id IN (%s) ORDER BY id ASC`, ph, ph)
	args := append(idArgs(batchIDs), idArgs(batchIDs)...)

	rows, err := db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("error querying transfers: %w", err)
	}
	defer rows.Close()

	inSet := make(map[int64]bool, len(batchIDs))
	for _, id := range batchIDs {
		inSet[id] = true
	}

	for rows.Next() {
		var source, dest int64
		var volume, loss float64
		var occurredAt sql.NullTime
		if err := rows.Scan(&source, &dest, &volume, &loss, &occurredAt); err != nil {
			return fmt.Errorf("error scanning transfer row: %w", err)
		}
		header := timeOf(occurredAt)
		if inSet[source] {
			header.BatchID = source
			events[source] = append(events[source], models.TransferOut{
				EventHeader: header, CounterpartID: dest, Volume: volume, Loss: loss,
			})
		}
		if inSet[dest] {
			header.BatchID = dest
			events[dest] = append(events[dest], models.TransferIn{
				EventHeader: header, CounterpartID: source, Volume: volume,
			})
		}
	}
	return rows.Err()
}

// fetchMerges fans each merge out to a MergeOut on the source and a MergeIn
// on the destination.
func fetchMerges(db *sql.DB, batchIDs []int64, events map[int64][]models.VolumeEvent) error {
	ph := placeholders(len(batchIDs))
	query := fmt.Sprintf(
		`SELECT source_batch_id, dest_batch_id, volume, occurred_at FROM merges
		 WHERE source_batch_id IN (%s) OR dest_batch_id IN (%s) ORDER BY id ASC`, ph, ph)
	args := append(idArgs(batchIDs), idArgs(batchIDs)...)

	rows, err := db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("error querying merges: %w", err)
	}
	defer rows.Close()

	inSet := make(map[int64]bool, len(batchIDs))
	for _, id := range batchIDs {
		inSet[id] = true
	}

	for rows.Next() {
		var source, dest int64
		var volume float64
		var occurredAt sql.NullTime
		if err := rows.Scan(&source, &dest, &volume, &occurredAt); err != nil {
			return fmt.Errorf("error scanning merge row: %w", err)
		}
		header := timeOf(occurredAt)
		if inSet[source] {
			header.BatchID = source
			events[source] = append(events[source], models.MergeOut{
				EventHeader: header, CounterpartID: dest, Volume: volume,
			})
		}
		if inSet[dest] {
			header.BatchID = dest
			events[dest] = append(events[dest], models.MergeIn{
				EventHeader: header, CounterpartID: source, Volume: volume,
			})
		}
	}
	return rows.Err()
}

func fetchRackings(db *sql.DB, batchIDs []int64, events map[int64][]models.VolumeEvent) error {
	query := fmt.Sprintf(
		`SELECT batch_id, from_vessel_id, to_vessel_id, volume_before, volume_after, loss, occurred_at
		 FROM rackings WHERE batch_id IN (%s) ORDER BY id ASC`, placeholders(len(batchIDs)))

	rows, err := db.Query(query, idArgs(batchIDs)...)
	if err != nil {
		return fmt.Errorf("error querying rackings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var batchID int64
		var fromVessel, toVessel sql.NullInt64
		var before, after, loss float64
		var occurredAt sql.NullTime
		if err := rows.Scan(&batchID, &fromVessel, &toVessel, &before, &after, &loss, &occurredAt); err != nil {
			return fmt.Errorf("error scanning racking row: %w", err)
		}
		header := timeOf(occurredAt)
		header.BatchID = batchID
		events[batchID] = append(events[batchID], models.Racking{
			EventHeader:  header,
			FromVesselID: fromVessel.Int64,
			ToVesselID:   toVessel.Int64,
			VolumeBefore: before,
			VolumeAfter:  after,
			Loss:         loss,
		})
	}
	return rows.Err()
}

func fetchFilterings(db *sql.DB, batchIDs []int64, events map[int64][]models.VolumeEvent) error {
	query := fmt.Sprintf(
		`SELECT batch_id, loss, occurred_at FROM filterings WHERE batch_id IN (%s) ORDER BY id ASC`,
		placeholders(len(batchIDs)))

	rows, err := db.Query(query, idArgs(batchIDs)...)
	if err != nil {
		return fmt.Errorf("error querying filterings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var batchID int64
		var loss float64
		var occurredAt sql.NullTime
		if err := rows.Scan(&batchID, &loss, &occurredAt); err != nil {
			return fmt.Errorf("error scanning filtering row: %w", err)
		}
		header := timeOf(occurredAt)
		header.BatchID = batchID
		events[batchID] = append(events[batchID], models.Filtering{EventHeader: header, Loss: loss})
	}
	return rows.Err()
}

func fetchPackagings(db *sql.DB, batchIDs []int64, events map[int64][]models.VolumeEvent) error {
	query := fmt.Sprintf(
		`SELECT batch_id, volume_taken, loss, units, unit_size, format, occurred_at
		 FROM packagings WHERE batch_id IN (%s) ORDER BY id ASC`, placeholders(len(batchIDs)))

	rows, err := db.Query(query, idArgs(batchIDs)...)
	if err != nil {
		return fmt.Errorf("error querying packagings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var batchID int64
		var taken, loss, unitSize float64
		var units int
		var format sql.NullString
		var occurredAt sql.NullTime
		if err := rows.Scan(&batchID, &taken, &loss, &units, &unitSize, &format, &occurredAt); err != nil {
			return fmt.Errorf("error scanning packaging row: %w", err)
		}
		header := timeOf(occurredAt)
		header.BatchID = batchID
		events[batchID] = append(events[batchID], models.Packaging{
			EventHeader: header,
			VolumeTaken: taken,
			Loss:        loss,
			Units:       units,
			UnitSize:    unitSize,
			Format:      format.String,
		})
	}
	return rows.Err()
}

func fetchDistillations(db *sql.DB, batchIDs []int64, events map[int64][]models.VolumeEvent) error {
	query := fmt.Sprintf(
		`SELECT batch_id, volume, destination, occurred_at FROM distillations
		 WHERE batch_id IN (%s) ORDER BY id ASC`, placeholders(len(batchIDs)))

	rows, err := db.Query(query, idArgs(batchIDs)...)
	if err != nil {
		return fmt.Errorf("error querying distillations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var batchID int64
		var volume float64
		var destination sql.NullString
		var occurredAt sql.NullTime
		if err := rows.Scan(&batchID, &volume, &destination, &occurredAt); err != nil {
			return fmt.Errorf("error scanning distillation row: %w", err)
		}
		header := timeOf(occurredAt)
		header.BatchID = batchID
		events[batchID] = append(events[batchID], models.Distillation{
			EventHeader: header, Volume: volume, Destination: destination.String,
		})
	}
	return rows.Err()
}

func fetchAdjustments(db *sql.DB, batchIDs []int64, events map[int64][]models.VolumeEvent) error {
	query := fmt.Sprintf(
		`SELECT batch_id, delta, reason, occurred_at FROM adjustments
		 WHERE batch_id IN (%s) ORDER BY id ASC`, placeholders(len(batchIDs)))

	rows, err := db.Query(query, idArgs(batchIDs)...)
	if err != nil {
		return fmt.Errorf("error querying adjustments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var batchID int64
		var delta float64
		var reason sql.NullString
		var occurredAt sql.NullTime
		if err := rows.Scan(&batchID, &delta, &reason, &occurredAt); err != nil {
			return fmt.Errorf("error scanning adjustment row: %w", err)
		}
		header := timeOf(occurredAt)
		header.BatchID = batchID
		events[batchID] = append(events[batchID], models.Adjustment{
			EventHeader: header, Delta: delta, Reason: reason.String,
		})
	}
	return rows.Err()
}

func fetchDistributions(db *sql.DB, batchIDs []int64, events map[int64][]models.VolumeEvent) error {
	query := fmt.Sprintf(
		`SELECT batch_id, volume, channel, occurred_at FROM distributions
		 WHERE batch_id IN (%s) ORDER BY id ASC`, placeholders(len(batchIDs)))

	rows, err := db.Query(query, idArgs(batchIDs)...)
	if err != nil {
		return fmt.Errorf("error querying distributions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var batchID int64
		var volume float64
		var channel sql.NullString
		var occurredAt sql.NullTime
		if err := rows.Scan(&batchID, &volume, &channel, &occurredAt); err != nil {
			return fmt.Errorf("error scanning distribution row: %w", err)
		}
		header := timeOf(occurredAt)
		header.BatchID = batchID
		events[batchID] = append(events[batchID], models.Distribution{
			EventHeader: header, Volume: volume, Channel: channel.String,
		})
	}
	return rows.Err()
}
