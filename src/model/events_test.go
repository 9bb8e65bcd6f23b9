package model

import (
	"database/sql"
	"testing"
	"time"

	"github.com/username/cellarbook/backend/src/database"
	"github.com/username/cellarbook/backend/src/models"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database.InitDB(":memory:")
	db := database.DB

	mustExec(t, db, `INSERT INTO users (id, username, password, email) VALUES (1, 'orchard', 'x', 'orchard@example.com')`)
	mustExec(t, db, `INSERT INTO vessels (id, user_id, name, capacity) VALUES (1, 1, 'FV-1', 1200), (2, 1, 'BBT-2', 500)`)
	mustExec(t, db, `INSERT INTO batches (id, user_id, name, created_at, initial_volume, cached_volume, vessel_id)
		VALUES (1, 1, 'Dabinett 2025', ?, 1000, 700, 1),
		       (2, 1, 'Kingston Black 2025', ?, 500, 500, 2)`,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))
	return db
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec failed: %v\nquery: %s", err, query)
	}
}

func TestFetchAllEventsTransferFanOut(t *testing.T) {
	db := setupTestDB(t)
	mustExec(t, db, `INSERT INTO transfers (source_batch_id, dest_batch_id, volume, loss, occurred_at)
		VALUES (1, 2, 200, 5, ?)`, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))

	events, err := FetchAllEvents(db, []int64{1, 2})
	if err != nil {
		t.Fatalf("FetchAllEvents: %v", err)
	}

	if len(events[1]) != 1 {
		t.Fatalf("source batch has %d events, want 1", len(events[1]))
	}
	out, ok := events[1][0].(models.TransferOut)
	if !ok {
		t.Fatalf("source event is %T, want TransferOut", events[1][0])
	}
	if out.Volume != 200 || out.Loss != 5 || out.CounterpartID != 2 {
		t.Errorf("TransferOut = {%.0f, %.0f, counterpart %d}, want {200, 5, 2}", out.Volume, out.Loss, out.CounterpartID)
	}

	if len(events[2]) != 1 {
		t.Fatalf("dest batch has %d events, want 1", len(events[2]))
	}
	in, ok := events[2][0].(models.TransferIn)
	if !ok {
		t.Fatalf("dest event is %T, want TransferIn", events[2][0])
	}
	if in.Volume != 200 || in.CounterpartID != 1 {
		t.Errorf("TransferIn = {%.0f, counterpart %d}, want {200, 1}", in.Volume, in.CounterpartID)
	}
}

func TestFetchAllEventsKinds(t *testing.T) {
	db := setupTestDB(t)
	mustExec(t, db, `INSERT INTO rackings (batch_id, from_vessel_id, to_vessel_id, volume_before, volume_after, loss, occurred_at)
		VALUES (1, 1, 2, 1000, 990, 0, ?)`, time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC))
	mustExec(t, db, `INSERT INTO packagings (batch_id, volume_taken, loss, units, unit_size, format, occurred_at)
		VALUES (1, 300, 5, 400, 0.75, '750ml bottle', ?)`, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))
	mustExec(t, db, `INSERT INTO adjustments (batch_id, delta, reason, occurred_at)
		VALUES (1, -12.5, 'evaporation', NULL)`)

	events, err := FetchAllEvents(db, []int64{1})
	if err != nil {
		t.Fatalf("FetchAllEvents: %v", err)
	}
	if len(events[1]) != 3 {
		t.Fatalf("got %d events, want 3", len(events[1]))
	}

	kinds := make(map[models.EventKind]bool)
	for _, ev := range events[1] {
		kinds[ev.Kind()] = true
		if adj, ok := ev.(models.Adjustment); ok {
			// NULL timestamps come back as the zero time for replay to
			// normalize, never an error.
			if !adj.When().IsZero() {
				t.Errorf("NULL occurred_at mapped to %v, want zero time", adj.When())
			}
			if adj.Delta != -12.5 {
				t.Errorf("Adjustment.Delta = %.1f, want -12.5", adj.Delta)
			}
		}
	}
	for _, k := range []models.EventKind{models.KindRacking, models.KindPackaging, models.KindAdjustment} {
		if !kinds[k] {
			t.Errorf("missing event kind %q", k)
		}
	}
}

func TestFetchAllEventsEmptyBatchSet(t *testing.T) {
	db := setupTestDB(t)
	events, err := FetchAllEvents(db, nil)
	if err != nil {
		t.Fatalf("FetchAllEvents with no batches: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("got %d entries, want 0", len(events))
	}
}

func TestGetBatchByIDScopedToUser(t *testing.T) {
	db := setupTestDB(t)

	b, err := GetBatchByID(db, 1, 1)
	if err != nil {
		t.Fatalf("GetBatchByID: %v", err)
	}
	if b.Name != "Dabinett 2025" || b.InitialVolume != 1000 {
		t.Errorf("batch = {%q, %.0f}, want {Dabinett 2025, 1000}", b.Name, b.InitialVolume)
	}

	if _, err := GetBatchByID(db, 99, 1); err != ErrBatchNotFound {
		t.Fatalf("foreign user's lookup returned %v, want ErrBatchNotFound", err)
	}
}

func TestGetFinalizedBalancesLatestPeriodWins(t *testing.T) {
	db := setupTestDB(t)
	march := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	june := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	september := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)
	mustExec(t, db, `INSERT INTO finalized_periods (user_id, period_end, tax_class, ending_balance)
		VALUES (1, ?, 'hard_cider', 400),
		       (1, ?, 'hard_cider', 550),
		       (1, ?, 'wine_low_abv', 80),
		       (1, ?, 'hard_cider', 900)`, march, june, june, september)

	asOf := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	balances, err := GetFinalizedBalances(db, 1, asOf)
	if err != nil {
		t.Fatalf("GetFinalizedBalances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("got %d classes, want 2 (the June period only)", len(balances))
	}
	if balances[models.TaxClassHardCider] != 550 {
		t.Errorf("hard_cider = %.0f, want 550", balances[models.TaxClassHardCider])
	}
	if balances[models.TaxClassWineLowABV] != 80 {
		t.Errorf("wine_low_abv = %.0f, want 80", balances[models.TaxClassWineLowABV])
	}
}

func TestGetFinalizedBalancesNonePresent(t *testing.T) {
	db := setupTestDB(t)
	balances, err := GetFinalizedBalances(db, 1, time.Now())
	if err != nil {
		t.Fatalf("GetFinalizedBalances: %v", err)
	}
	if len(balances) != 0 {
		t.Fatalf("got %d classes, want empty map", len(balances))
	}
}
