package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fare-observer/src/logger"
	"fare-observer/src/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// registryLockKey is the advisory lock serializing registry writers.
const registryLockKey int64 = 0x6661726573

// uniqueViolation is the Postgres SQLSTATE for a unique index breach.
const uniqueViolation = "23505"

// -----------------------------------------------------------------------------

type PostgresDB struct {
	*sqlStore
	Config *models.MConfig
	Schema string
}

// -----------------------------------------------------------------------------

func NewPostgresDB(cfg *models.MConfig, log *logger.Logger) (*PostgresDB, error) {
	schema := SchemaName(cfg.Name)
	if schema == "" {
		return nil, fmt.Errorf("cannot derive a schema name from %q", cfg.Name)
	}

	return &PostgresDB{
		Config: cfg,
		Schema: schema,
		sqlStore: &sqlStore{
			Logger:            log,
			observations:      fmt.Sprintf(`"%s"."observations"`, schema),
			records:           fmt.Sprintf(`"%s"."model_records"`, schema),
			insertIgnore:      "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO NOTHING",
			lockCommit:        advisoryLock,
			deployedViolation: postgresDeployedViolation,
		},
	}, nil
}

// -----------------------------------------------------------------------------

// SchemaName maps an application name to a safe Postgres identifier.
func SchemaName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-', r == ' ', r == '.':
			b.WriteByte('_')
		}
	}
	return b.String()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	db, err := sqlx.Open("postgres", d.Config.Storage.DBConnectionString)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// Create Schema
	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresDB initialized successfully (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) createTables() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			origin TEXT NOT NULL,
			destination TEXT NOT NULL,
			airline TEXT NOT NULL,
			collected_at BIGINT NOT NULL,
			departure_at BIGINT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			currency TEXT NOT NULL,
			stops INTEGER NOT NULL DEFAULT 0,
			duration TEXT NOT NULL DEFAULT '',
			duration_minutes INTEGER NOT NULL DEFAULT 0,
			distance_km DOUBLE PRECISION NOT NULL DEFAULT 0
		);
	`, d.observations)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create observations: %w", err)
	}

	query = fmt.Sprintf(`CREATE INDEX IF NOT EXISTS observations_route_time ON %s (origin, destination, collected_at)`, d.observations)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to index observations: %w", err)
	}

	query = fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			trained_at BIGINT NOT NULL,
			training_metrics TEXT NOT NULL,
			evaluation TEXT NOT NULL,
			incumbent_evaluation TEXT,
			deployed BOOLEAN NOT NULL DEFAULT FALSE,
			is_candidate BOOLEAN NOT NULL DEFAULT FALSE,
			compared_against_version TEXT NOT NULL DEFAULT '',
			compared_on_timestamp BIGINT,
			deployed_at BIGINT,
			feature_order TEXT NOT NULL,
			artifact_path TEXT NOT NULL,
			decision_reason TEXT NOT NULL DEFAULT '',
			CHECK (NOT (deployed AND is_candidate))
		);
	`, d.records)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create model_records: %w", err)
	}

	query = fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS one_deployed_model ON %s (deployed) WHERE deployed`, d.records)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create one_deployed_model: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// advisoryLock is released automatically when the transaction ends.
func advisoryLock(ctx context.Context, tx *sqlx.Tx) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, registryLockKey)
	return err
}

// -----------------------------------------------------------------------------

func postgresDeployedViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == uniqueViolation && pqErr.Constraint == "one_deployed_model"
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
