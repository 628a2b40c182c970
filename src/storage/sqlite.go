package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"fare-observer/src/logger"
	"fare-observer/src/models"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Writers take the database lock at BEGIN and wait for each other instead of failing.
const sqliteDSNParams = "_pragma=busy_timeout(5000)&_txlock=immediate"

// -----------------------------------------------------------------------------

type AsyncSQLiteDB struct {
	*sqlStore
	Config *models.MConfig
}

// -----------------------------------------------------------------------------

func NewAsyncSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*AsyncSQLiteDB, error) {
	return &AsyncSQLiteDB{
		Config: cfg,
		sqlStore: &sqlStore{
			Logger:            log,
			observations:      "observations",
			records:           "model_records",
			insertIgnore:      "INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
			deployedViolation: sqliteDeployedViolation,
		},
	}, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Initialize() error {
	dsn := d.Config.Storage.DBPath
	if strings.Contains(dsn, "?") {
		dsn += "&" + sqliteDSNParams
	} else {
		dsn += "?" + sqliteDSNParams
	}

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	// sqlite3 selects ? bind vars for named queries.
	d.DB = sqlx.NewDb(db, "sqlite3")

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) createTables() error {
	// SQLite types: INTEGER for int64 and bool, REAL for float64, TEXT for string
	query := `
		CREATE TABLE IF NOT EXISTS observations (
			id INTEGER PRIMARY KEY,
			origin TEXT NOT NULL,
			destination TEXT NOT NULL,
			airline TEXT NOT NULL,
			collected_at INTEGER NOT NULL,
			departure_at INTEGER NOT NULL,
			price REAL NOT NULL,
			currency TEXT NOT NULL,
			stops INTEGER NOT NULL DEFAULT 0,
			duration TEXT NOT NULL DEFAULT '',
			duration_minutes INTEGER NOT NULL DEFAULT 0,
			distance_km REAL NOT NULL DEFAULT 0
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create observations: %w", err)
	}

	if _, err := d.DB.Exec(`CREATE INDEX IF NOT EXISTS observations_route_time ON observations (origin, destination, collected_at)`); err != nil {
		return fmt.Errorf("failed to index observations: %w", err)
	}

	query = `
		CREATE TABLE IF NOT EXISTS model_records (
			version TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			trained_at INTEGER NOT NULL,
			training_metrics TEXT NOT NULL,
			evaluation TEXT NOT NULL,
			incumbent_evaluation TEXT,
			deployed INTEGER NOT NULL DEFAULT 0,
			is_candidate INTEGER NOT NULL DEFAULT 0,
			compared_against_version TEXT NOT NULL DEFAULT '',
			compared_on_timestamp INTEGER,
			deployed_at INTEGER,
			feature_order TEXT NOT NULL,
			artifact_path TEXT NOT NULL,
			decision_reason TEXT NOT NULL DEFAULT '',
			CHECK (NOT (deployed AND is_candidate))
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create model_records: %w", err)
	}

	// At most one deployed row, enforced by the database.
	if _, err := d.DB.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS one_deployed_model ON model_records (deployed) WHERE deployed = 1`); err != nil {
		return fmt.Errorf("failed to create one_deployed_model: %w", err)
	}

	d.Logger.Info("SQLite store ready at %s", d.Config.Storage.DBPath)
	return nil
}

// -----------------------------------------------------------------------------

func sqliteDeployedViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "model_records.deployed")
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
