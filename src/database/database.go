package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/cellarbook/backend/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	if logger.L != nil {
		logger.L.Info("Checking database migrations", "databasePath", databasePath)
	} else {
		stdlog.Println("Checking database migrations for:", databasePath)
	}

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		auth_provider TEXT DEFAULT 'local',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		user_agent TEXT,
		client_ip TEXT,
		is_blocked BOOLEAN DEFAULT FALSE,
		expires_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS vessels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		capacity REAL NOT NULL DEFAULT 0,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		initial_volume REAL NOT NULL DEFAULT 0,
		parent_id INTEGER,
		cached_volume REAL NOT NULL DEFAULT 0,
		vessel_id INTEGER,
		product_category TEXT NOT NULL DEFAULT 'cider',
		abv REAL NOT NULL DEFAULT 0,
		co2_volumes REAL NOT NULL DEFAULT 0,
		co2_measured_at TIMESTAMP,
		carbonation_method TEXT NOT NULL DEFAULT 'none',
		raw_material TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		verified BOOLEAN DEFAULT FALSE,
		FOREIGN KEY(user_id) REFERENCES users(id),
		FOREIGN KEY(parent_id) REFERENCES batches(id),
		FOREIGN KEY(vessel_id) REFERENCES vessels(id)
	);

	CREATE TABLE IF NOT EXISTS transfers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_batch_id INTEGER NOT NULL,
		dest_batch_id INTEGER NOT NULL,
		volume REAL NOT NULL,
		loss REAL NOT NULL DEFAULT 0,
		occurred_at TIMESTAMP,
		FOREIGN KEY(source_batch_id) REFERENCES batches(id),
		FOREIGN KEY(dest_batch_id) REFERENCES batches(id)
	);

	CREATE TABLE IF NOT EXISTS merges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_batch_id INTEGER NOT NULL,
		dest_batch_id INTEGER NOT NULL,
		volume REAL NOT NULL,
		occurred_at TIMESTAMP,
		FOREIGN KEY(source_batch_id) REFERENCES batches(id),
		FOREIGN KEY(dest_batch_id) REFERENCES batches(id)
	);

	CREATE TABLE IF NOT EXISTS rackings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id INTEGER NOT NULL,
		from_vessel_id INTEGER,
		to_vessel_id INTEGER,
		volume_before REAL NOT NULL DEFAULT 0,
		volume_after REAL NOT NULL DEFAULT 0,
		loss REAL NOT NULL DEFAULT 0,
		occurred_at TIMESTAMP,
		FOREIGN KEY(batch_id) REFERENCES batches(id)
	);

	CREATE TABLE IF NOT EXISTS filterings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id INTEGER NOT NULL,
		loss REAL NOT NULL DEFAULT 0,
		occurred_at TIMESTAMP,
		FOREIGN KEY(batch_id) REFERENCES batches(id)
	);

	CREATE TABLE IF NOT EXISTS packagings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id INTEGER NOT NULL,
		volume_taken REAL NOT NULL,
		loss REAL NOT NULL DEFAULT 0,
		units INTEGER NOT NULL DEFAULT 0,
		unit_size REAL NOT NULL DEFAULT 0,
		format TEXT,
		occurred_at TIMESTAMP,
		FOREIGN KEY(batch_id) REFERENCES batches(id)
	);

	CREATE TABLE IF NOT EXISTS distillations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id INTEGER NOT NULL,
		volume REAL NOT NULL,
		destination TEXT,
		occurred_at TIMESTAMP,
		FOREIGN KEY(batch_id) REFERENCES batches(id)
	);

	CREATE TABLE IF NOT EXISTS adjustments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id INTEGER NOT NULL,
		delta REAL NOT NULL,
		reason TEXT,
		occurred_at TIMESTAMP,
		FOREIGN KEY(batch_id) REFERENCES batches(id)
	);

	CREATE TABLE IF NOT EXISTS distributions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id INTEGER NOT NULL,
		volume REAL NOT NULL,
		channel TEXT,
		occurred_at TIMESTAMP,
		FOREIGN KEY(batch_id) REFERENCES batches(id)
	);

	CREATE TABLE IF NOT EXISTS finalized_periods (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		period_end TIMESTAMP NOT NULL,
		tax_class TEXT NOT NULL,
		ending_balance REAL NOT NULL,
		finalized_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(user_id) REFERENCES users(id),
		UNIQUE(user_id, period_end, tax_class)
	);
	`

	_, err = DB.Exec(createTableStatement)
	if err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}

	migrateBatchTable()

	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
}

// migrateBatchTable adds columns introduced after the batches table first
// shipped.
func migrateBatchTable() {
	var tableName string
	err := DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='batches'").Scan(&tableName)
	if err != nil {
		if err == sql.ErrNoRows {
			return
		}
		if logger.L != nil {
			logger.L.Error("Error checking for 'batches' table", "error", err)
		}
		return
	}

	rows, err := DB.Query("PRAGMA table_info(batches)")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema for 'batches'", "error", err)
		}
		return
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			if logger.L != nil {
				logger.L.Error("Error scanning column info for 'batches'", "error", err)
			}
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info for 'batches'", "error", err)
		}
		return
	}

	if _, ok := columnExists["verified"]; !ok {
		if _, err := DB.Exec("ALTER TABLE batches ADD COLUMN verified BOOLEAN DEFAULT FALSE"); err != nil {
			logger.L.Error("Error adding 'verified' column to 'batches' table", "error", err)
		} else {
			logger.L.Info("Added 'verified' column to 'batches' table")
		}
	}
	if _, ok := columnExists["carbonation_method"]; !ok {
		if _, err := DB.Exec("ALTER TABLE batches ADD COLUMN carbonation_method TEXT NOT NULL DEFAULT 'none'"); err != nil {
			logger.L.Error("Error adding 'carbonation_method' column to 'batches' table", "error", err)
		} else {
			logger.L.Info("Added 'carbonation_method' column to 'batches' table")
		}
	}
}
