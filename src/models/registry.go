package models

import (
	"fmt"
	"time"
)

const versionLayout = "20060102T150405.000000000Z"

// MModelRecord is one row of the model registry.
// Deployed and IsCandidate are never both true.
type MModelRecord struct {
	Version                string             `json:"version"`
	RunID                  string             `json:"run_id"`
	TrainedAt              time.Time          `json:"trained_at"`
	TrainingMetrics        MTrainingMetrics   `json:"training_metrics"`
	Evaluation             MEvaluationResult  `json:"evaluation"`
	IncumbentEvaluation    *MEvaluationResult `json:"incumbent_evaluation,omitempty"`
	Deployed               bool               `json:"deployed"`
	IsCandidate            bool               `json:"is_candidate"`
	ComparedAgainstVersion string             `json:"compared_against_version,omitempty"`
	ComparedOnTimestamp    *time.Time         `json:"compared_on_timestamp,omitempty"`
	DeployedAt             *time.Time         `json:"deployed_at,omitempty"`
	FeatureOrder           []string           `json:"feature_order"`
	ArtifactPath           string             `json:"artifact_path"`
	DecisionReason         string             `json:"decision_reason"`
}

// -----------------------------------------------------------------------------

// NewModelVersion derives a lexically sortable version id from t.
// A version not strictly greater than last is bumped by one nanosecond.
func NewModelVersion(t time.Time, last string) string {
	t = t.UTC()
	if last != "" {
		if prev, err := ParseModelVersion(last); err == nil && !t.After(prev) {
			t = prev.Add(time.Nanosecond)
		}
	}
	return "v" + t.Format(versionLayout)
}

// -----------------------------------------------------------------------------

// ParseModelVersion returns the timestamp encoded in a version id.
func ParseModelVersion(version string) (time.Time, error) {
	if len(version) < 2 || version[0] != 'v' {
		return time.Time{}, fmt.Errorf("invalid model version %q", version)
	}
	return time.Parse(versionLayout, version[1:])
}
