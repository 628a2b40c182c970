package gate

import (
	"testing"
	"time"

	"fare-observer/src/helpers"
	"fare-observer/src/models"
)

const threshold = 0.05

var (
	sliceStart = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	sliceEnd   = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
)

func result(version string, r2, mae, perm float64) models.MEvaluationResult {
	return models.MEvaluationResult{
		ModelVersion:  version,
		R2:            r2,
		MAE:           mae,
		PermutationR2: perm,
		SliceStart:    sliceStart,
		SliceEnd:      sliceEnd,
		RowCount:      120,
		Folds:         1,
	}
}

func TestAccept(t *testing.T) {
	tests := []struct {
		name      string
		candidate models.MEvaluationResult
		deployed  models.MEvaluationResult
		want      bool
	}{
		{"better on both", result("c", 0.65, 150, 0.01), result("d", 0.64, 155, 0), true},
		{"better r2 worse mae", result("c", 0.66, 160, 0.01), result("d", 0.64, 155, 0), false},
		{"equal r2 better mae", result("c", 0.64, 100, 0.01), result("d", 0.64, 155, 0), false},
		{"better r2 equal mae", result("c", 0.70, 155, 0.01), result("d", 0.64, 155, 0), false},
		{"worse on both", result("c", 0.50, 200, 0.01), result("d", 0.64, 155, 0), false},
		{"perm at threshold", result("c", 0.65, 150, 0.05), result("d", 0.64, 155, 0), true},
		{"perm above threshold", result("c", 0.99, 10, 0.0500001), result("d", 0.64, 155, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				if got := Accept(tt.candidate, tt.deployed, threshold); got != tt.want {
					t.Fatalf("call %d: Accept = %v, want %v", i, got, tt.want)
				}
			}
		})
	}
}

func TestDecide(t *testing.T) {
	deployed := result("d", 0.64, 155, 0)
	flagged := result("c", 0.9, 50, 0.2)
	flagged.LeakageFlagged = true

	tests := []struct {
		name      string
		candidate models.MEvaluationResult
		deployed  *models.MEvaluationResult
		accept    bool
		kind      string
	}{
		{"bootstrap", result("c", 0.1, 900, 0.01), nil, true, models.DecisionBootstrap},
		{"bootstrap still needs permutation check", flagged, nil, false, models.DecisionLeakage},
		{"accept", result("c", 0.65, 150, 0.01), &deployed, true, models.DecisionAccept},
		{"reject", result("c", 0.66, 160, 0.01), &deployed, false, models.DecisionReject},
		{"leakage beats metrics", flagged, &deployed, false, models.DecisionLeakage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Decide(tt.candidate, tt.deployed, threshold)
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if d.Accept != tt.accept || d.Kind != tt.kind {
				t.Fatalf("Decide = %+v, want accept=%v kind=%s", d, tt.accept, tt.kind)
			}
			if d.Reason == "" {
				t.Fatalf("decision carries no reason")
			}
		})
	}
}

func TestDecideRejectsDifferentSlices(t *testing.T) {
	deployed := result("d", 0.1, 500, 0)
	deployed.RowCount = 119
	_, err := Decide(result("c", 0.9, 10, 0), &deployed, threshold)
	if !helpers.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
