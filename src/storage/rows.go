package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fare-observer/src/models"
)

// Times are stored as unix nanoseconds so records round-trip exactly.

type observationRow struct {
	ID              int64   `db:"id"`
	Origin          string  `db:"origin"`
	Destination     string  `db:"destination"`
	Airline         string  `db:"airline"`
	CollectedAt     int64   `db:"collected_at"`
	DepartureAt     int64   `db:"departure_at"`
	Price           float64 `db:"price"`
	Currency        string  `db:"currency"`
	Stops           int     `db:"stops"`
	Duration        string  `db:"duration"`
	DurationMinutes int     `db:"duration_minutes"`
	DistanceKm      float64 `db:"distance_km"`
}

type recordRow struct {
	Version                string         `db:"version"`
	RunID                  string         `db:"run_id"`
	TrainedAt              int64          `db:"trained_at"`
	TrainingMetrics        string         `db:"training_metrics"`
	Evaluation             string         `db:"evaluation"`
	IncumbentEvaluation    sql.NullString `db:"incumbent_evaluation"`
	Deployed               bool           `db:"deployed"`
	IsCandidate            bool           `db:"is_candidate"`
	ComparedAgainstVersion string         `db:"compared_against_version"`
	ComparedOnTimestamp    sql.NullInt64  `db:"compared_on_timestamp"`
	DeployedAt             sql.NullInt64  `db:"deployed_at"`
	FeatureOrder           string         `db:"feature_order"`
	ArtifactPath           string         `db:"artifact_path"`
	DecisionReason         string         `db:"decision_reason"`
}

const observationColumns = `id, origin, destination, airline, collected_at, departure_at, price, currency, stops, duration, duration_minutes, distance_km`

const recordColumns = `version, run_id, trained_at, training_metrics, evaluation, incumbent_evaluation, deployed, is_candidate, ` +
	`compared_against_version, compared_on_timestamp, deployed_at, feature_order, artifact_path, decision_reason`

// -----------------------------------------------------------------------------

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// -----------------------------------------------------------------------------

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// -----------------------------------------------------------------------------

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

// -----------------------------------------------------------------------------

func timeOrNil(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// -----------------------------------------------------------------------------

func fromObservation(o models.MPriceObservation) observationRow {
	return observationRow{
		ID:              o.ID,
		Origin:          o.Origin,
		Destination:     o.Destination,
		Airline:         o.Airline,
		CollectedAt:     toNanos(o.CollectedAt),
		DepartureAt:     toNanos(o.DepartureAt),
		Price:           o.Price,
		Currency:        o.Currency,
		Stops:           o.Stops,
		Duration:        o.Duration,
		DurationMinutes: o.DurationMinutes,
		DistanceKm:      o.DistanceKm,
	}
}

// -----------------------------------------------------------------------------

func (r observationRow) observation() models.MPriceObservation {
	return models.MPriceObservation{
		ID:              r.ID,
		Origin:          r.Origin,
		Destination:     r.Destination,
		Airline:         r.Airline,
		CollectedAt:     fromNanos(r.CollectedAt),
		DepartureAt:     fromNanos(r.DepartureAt),
		Price:           r.Price,
		Currency:        r.Currency,
		Stops:           r.Stops,
		Duration:        r.Duration,
		DurationMinutes: r.DurationMinutes,
		DistanceKm:      r.DistanceKm,
	}
}

// -----------------------------------------------------------------------------

func fromRecord(rec models.MModelRecord) (recordRow, error) {
	metrics, err := json.Marshal(rec.TrainingMetrics)
	if err != nil {
		return recordRow{}, fmt.Errorf("failed to encode training metrics: %w", err)
	}
	eval, err := json.Marshal(rec.Evaluation)
	if err != nil {
		return recordRow{}, fmt.Errorf("failed to encode evaluation: %w", err)
	}
	order, err := json.Marshal(rec.FeatureOrder)
	if err != nil {
		return recordRow{}, fmt.Errorf("failed to encode feature order: %w", err)
	}

	row := recordRow{
		Version:                rec.Version,
		RunID:                  rec.RunID,
		TrainedAt:              toNanos(rec.TrainedAt),
		TrainingMetrics:        string(metrics),
		Evaluation:             string(eval),
		Deployed:               rec.Deployed,
		IsCandidate:            rec.IsCandidate,
		ComparedAgainstVersion: rec.ComparedAgainstVersion,
		ComparedOnTimestamp:    nullNanos(rec.ComparedOnTimestamp),
		DeployedAt:             nullNanos(rec.DeployedAt),
		FeatureOrder:           string(order),
		ArtifactPath:           rec.ArtifactPath,
		DecisionReason:         rec.DecisionReason,
	}
	if rec.IncumbentEvaluation != nil {
		inc, err := json.Marshal(rec.IncumbentEvaluation)
		if err != nil {
			return recordRow{}, fmt.Errorf("failed to encode incumbent evaluation: %w", err)
		}
		row.IncumbentEvaluation = sql.NullString{String: string(inc), Valid: true}
	}
	return row, nil
}

// -----------------------------------------------------------------------------

func (r recordRow) record() (models.MModelRecord, error) {
	rec := models.MModelRecord{
		Version:                r.Version,
		RunID:                  r.RunID,
		TrainedAt:              fromNanos(r.TrainedAt),
		Deployed:               r.Deployed,
		IsCandidate:            r.IsCandidate,
		ComparedAgainstVersion: r.ComparedAgainstVersion,
		ComparedOnTimestamp:    timeOrNil(r.ComparedOnTimestamp),
		DeployedAt:             timeOrNil(r.DeployedAt),
		ArtifactPath:           r.ArtifactPath,
		DecisionReason:         r.DecisionReason,
	}
	if err := json.Unmarshal([]byte(r.TrainingMetrics), &rec.TrainingMetrics); err != nil {
		return rec, fmt.Errorf("record %s: bad training metrics: %w", r.Version, err)
	}
	if err := json.Unmarshal([]byte(r.Evaluation), &rec.Evaluation); err != nil {
		return rec, fmt.Errorf("record %s: bad evaluation: %w", r.Version, err)
	}
	if err := json.Unmarshal([]byte(r.FeatureOrder), &rec.FeatureOrder); err != nil {
		return rec, fmt.Errorf("record %s: bad feature order: %w", r.Version, err)
	}
	if r.IncumbentEvaluation.Valid {
		rec.IncumbentEvaluation = &models.MEvaluationResult{}
		if err := json.Unmarshal([]byte(r.IncumbentEvaluation.String), rec.IncumbentEvaluation); err != nil {
			return rec, fmt.Errorf("record %s: bad incumbent evaluation: %w", r.Version, err)
		}
	}
	return rec, nil
}
