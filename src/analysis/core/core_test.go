package core

import (
	"math"
	"testing"
)

const tol = 1e-9

func TestTargetTransformRoundTrip(t *testing.T) {
	if TransformTarget(0) != 0 {
		t.Fatalf("log1p(0) = %v, want 0", TransformTarget(0))
	}
	prices := []float64{0, 1e-12, 0.01, 1, 49.99, 119.5, 1234.56, 199999.99, 1e7}
	for _, p := range prices {
		got := InverseTarget(TransformTarget(p))
		if math.Abs(got-p) > tol*math.Max(1, p) {
			t.Errorf("expm1(log1p(%v)) = %v", p, got)
		}
	}
}

func TestWindowStatsDefaults(t *testing.T) {
	tests := []struct {
		name     string
		prior    []float64
		wantMean float64
		wantStd  float64
	}{
		{"empty", nil, DefaultMean, DefaultStd},
		{"single", []float64{120}, 120, DefaultStd},
		{"constant", []float64{100, 100, 100}, 100, 0},
		{"pair", []float64{100, 110}, 105, math.Sqrt(50)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, std := WindowStats(tt.prior)
			if math.Abs(mean-tt.wantMean) > tol || math.Abs(std-tt.wantStd) > tol {
				t.Fatalf("WindowStats(%v) = (%v, %v), want (%v, %v)", tt.prior, mean, std, tt.wantMean, tt.wantStd)
			}
		})
	}
}

func TestSafeRatio(t *testing.T) {
	tests := []struct {
		num, den, def, want float64
	}{
		{10, 5, 1, 2},
		{10, 0, 1, 1},
		{0, 0, 0, 0},
		{math.Inf(1), 2, 1, 1},
	}
	for _, tt := range tests {
		if got := SafeRatio(tt.num, tt.den, tt.def); got != tt.want {
			t.Errorf("SafeRatio(%v, %v, %v) = %v, want %v", tt.num, tt.den, tt.def, got, tt.want)
		}
	}
}

func TestRegressionMetrics(t *testing.T) {
	actual := []float64{100, 200, 300, 400}

	if r2 := RSquared(actual, actual); math.Abs(r2-1) > tol {
		t.Fatalf("perfect fit r2 = %v", r2)
	}

	mean := []float64{250, 250, 250, 250}
	if r2 := RSquared(actual, mean); math.Abs(r2) > tol {
		t.Fatalf("mean predictor r2 = %v, want 0", r2)
	}

	predicted := []float64{110, 190, 330, 370}
	if mae := MeanAbsoluteError(actual, predicted); math.Abs(mae-17.5) > tol {
		t.Fatalf("mae = %v, want 17.5", mae)
	}
	wantRMSE := math.Sqrt((100 + 100 + 900 + 900) / 4.0)
	if rmse := RootMeanSquaredError(actual, predicted); math.Abs(rmse-wantRMSE) > tol {
		t.Fatalf("rmse = %v, want %v", rmse, wantRMSE)
	}

	flat := []float64{5, 5, 5}
	if RSquared(flat, []float64{5, 5, 5}) != 1 || RSquared(flat, []float64{5, 6, 5}) != 0 {
		t.Fatalf("constant target r2 handling")
	}
}

func TestCorrelationAndNormalize(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	if c := CalculateCorrelation(x, []float64{2, 4, 6, 8}); math.Abs(c-1) > tol {
		t.Fatalf("correlation = %v, want 1", c)
	}
	if c := CalculateCorrelation(x, []float64{3, 3, 3, 3}); c != 0 {
		t.Fatalf("zero variance correlation = %v", c)
	}

	v := []float64{1, 3}
	Normalize(v)
	if math.Abs(v[0]-0.25) > tol || math.Abs(v[1]-0.75) > tol {
		t.Fatalf("Normalize = %v", v)
	}
}

func TestHaversineKm(t *testing.T) {
	// Delhi to Mumbai, roughly 1140 km.
	d := HaversineKm(28.5562, 77.1000, 19.0896, 72.8656)
	if d < 1100 || d > 1180 {
		t.Fatalf("DEL-BOM distance = %v", d)
	}
	if HaversineKm(10, 10, 10, 10) != 0 {
		t.Fatalf("zero distance expected")
	}
}
