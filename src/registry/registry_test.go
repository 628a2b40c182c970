package registry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fare-observer/src/helpers"
	"fare-observer/src/logger"
	"fare-observer/src/models"
	"fare-observer/src/storage"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.MDeploymentEvent
}

func (n *recordingNotifier) Notify(_ context.Context, e models.MDeploymentEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *recordingNotifier) {
	t.Helper()
	cfg := &models.MConfig{}
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "registry.db")
	log := logger.NewLogger("ERROR", "registry-test")

	store, err := storage.NewAsyncSQLiteDB(cfg, log)
	if err != nil {
		t.Fatalf("NewAsyncSQLiteDB: %v", err)
	}
	if err := store.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	n := &recordingNotifier{}
	return NewRegistry(store, n, log), n
}

func testRecord(version string, deployed bool) models.MModelRecord {
	return models.MModelRecord{
		Version:      version,
		RunID:        "run",
		TrainedAt:    time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		Deployed:     deployed,
		IsCandidate:  !deployed,
		FeatureOrder: []string{"distance_km"},
		ArtifactPath: "/tmp/" + version,
	}
}

func TestNextVersionStrictlyIncreases(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	a, err := reg.NextVersion(ctx, now)
	if err != nil {
		t.Fatalf("NextVersion: %v", err)
	}
	b, _ := reg.NextVersion(ctx, now)
	if !(b > a) {
		t.Fatalf("versions must increase: %s then %s", a, b)
	}

	// A stored version from a clock running ahead still wins.
	ahead := models.NewModelVersion(now.Add(time.Hour), "")
	if err := reg.Commit(ctx, testRecord(ahead, false), ""); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	c, _ := reg.NextVersion(ctx, now)
	if !(c > ahead) {
		t.Fatalf("version %s must follow stored %s", c, ahead)
	}
}

func TestCommitValidation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	version := models.NewModelVersion(time.Now(), "")

	tests := []struct {
		name   string
		mutate func(*models.MModelRecord)
	}{
		{"bad version", func(r *models.MModelRecord) { r.Version = "latest" }},
		{"neither flag", func(r *models.MModelRecord) { r.IsCandidate = false }},
		{"no feature order", func(r *models.MModelRecord) { r.FeatureOrder = nil }},
		{"no artifact", func(r *models.MModelRecord) { r.ArtifactPath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testRecord(version, false)
			tt.mutate(&rec)
			if err := reg.Commit(ctx, rec, ""); !helpers.IsValidation(err) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestRollbackNotifies(t *testing.T) {
	reg, notifier := newTestRegistry(t)
	ctx := context.Background()

	v1, _ := reg.NextVersion(ctx, time.Now())
	v2, _ := reg.NextVersion(ctx, time.Now())
	if err := reg.Commit(ctx, testRecord(v1, true), ""); err != nil {
		t.Fatalf("Commit v1: %v", err)
	}
	if err := reg.Commit(ctx, testRecord(v2, true), v1); err != nil {
		t.Fatalf("Commit v2: %v", err)
	}

	rec, err := reg.Rollback(ctx, v1)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if !rec.Deployed {
		t.Fatalf("rolled back record not deployed")
	}
	if v, _ := reg.DeployedVersion(ctx); v != v1 {
		t.Fatalf("deployed = %s, want %s", v, v1)
	}
	if len(notifier.events) != 1 || notifier.events[0].Decision != models.DecisionRollback {
		t.Fatalf("events = %+v", notifier.events)
	}

	if _, err := reg.Rollback(ctx, "v20990101T000000.000000000Z"); !helpers.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
