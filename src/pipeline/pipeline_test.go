package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fare-observer/src/config"
	datasource "fare-observer/src/data_source"
	"fare-observer/src/helpers"
	"fare-observer/src/interfaces"
	"fare-observer/src/logger"
	"fare-observer/src/models"
	"fare-observer/src/registry"
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

type staticHistory struct {
	obs []models.MPriceObservation
}

func (h staticHistory) LoadHistory(context.Context) ([]models.MPriceObservation, error) {
	return h.obs, nil
}

func (h staticHistory) LoadRouteHistory(context.Context, string, string, time.Time) ([]models.MPriceObservation, error) {
	return nil, nil
}

// racingStore lets a rival deployment land just before the first deployed commit.
type racingStore struct {
	interfaces.IRegistryStore
	rival  *models.MModelRecord
	always bool
}

func (s *racingStore) Commit(ctx context.Context, rec models.MModelRecord, superseded string) error {
	if rec.Deployed && s.always {
		return helpers.NewConcurrentCommitConflict(superseded, "v-elsewhere")
	}
	if rec.Deployed && s.rival != nil {
		rival := *s.rival
		s.rival = nil
		if err := s.IRegistryStore.Commit(ctx, rival, superseded); err != nil {
			return err
		}
	}
	return s.IRegistryStore.Commit(ctx, rec, superseded)
}

// brokenStore fails every commit with a plain storage error.
type brokenStore struct {
	interfaces.IRegistryStore
}

func (brokenStore) Commit(context.Context, models.MModelRecord, string) error {
	return helpers.NewDatabaseError("commit", errors.New("disk I/O error"))
}

type fixture struct {
	cfg       *models.MConfig
	log       *logger.Logger
	store     *storage.AsyncSQLiteDB
	artifacts *storage.FileArtifactStore
	notifier  *recordingNotifier
	history   []models.MPriceObservation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := &models.MConfig{}
	(&config.Config{MConfig: cfg}).ApplyDefaults()
	cfg.Storage.DBPath = filepath.Join(dir, "fares.db")
	cfg.Storage.ModelDir = filepath.Join(dir, "models")
	cfg.Training.NEstimators = 30
	cfg.Training.MaxDepth = 4
	cfg.Training.CommitRetries = 1
	log := logger.NewLogger("ERROR", "pipeline-test")

	store, err := storage.NewAsyncSQLiteDB(cfg, log)
	if err != nil {
		t.Fatalf("NewAsyncSQLiteDB: %v", err)
	}
	if err := store.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	artifacts, err := storage.NewFileArtifactStore(cfg.Storage.ModelDir, log)
	if err != nil {
		t.Fatalf("NewFileArtifactStore: %v", err)
	}

	history, err := datasource.NewSyntheticSource(11, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 30, cfg.Features.Currency).
		Read(context.Background())
	if err != nil {
		t.Fatalf("synthetic history: %v", err)
	}

	return &fixture{cfg: cfg, log: log, store: store, artifacts: artifacts, notifier: &recordingNotifier{}, history: history}
}

func (f *fixture) pipeline(store interfaces.IRegistryStore, history interfaces.IHistorySource) *Pipeline {
	reg := registry.NewRegistry(store, f.notifier, f.log)
	return NewPipeline(f.cfg, f.log, history, reg, f.artifacts, f.notifier)
}

func (f *fixture) run(t *testing.T) *RunResult {
	t.Helper()
	res, err := f.pipeline(f.store, staticHistory{f.history}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestBootstrapThenIdenticalRetrainIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.run(t)
	if first.Decision.Kind != models.DecisionBootstrap || !first.Record.Deployed {
		t.Fatalf("first run = %+v", first.Decision)
	}
	if !f.artifacts.Exists(first.Record.ArtifactPath) {
		t.Fatalf("artifact not written")
	}
	if v, _ := f.store.DeployedVersion(ctx); v != first.Record.Version {
		t.Fatalf("deployed = %q", v)
	}

	// Same data, same seeds: the candidate only ties the incumbent.
	second := f.run(t)
	if second.Decision.Kind != models.DecisionReject || second.Record.Deployed || !second.Record.IsCandidate {
		t.Fatalf("second run = %+v", second.Decision)
	}
	rec := second.Record
	if rec.ComparedAgainstVersion != first.Record.Version || rec.IncumbentEvaluation == nil || rec.ComparedOnTimestamp == nil {
		t.Fatalf("comparison not recorded: %+v", rec)
	}
	if rec.IncumbentEvaluation.R2 != rec.Evaluation.R2 || !rec.IncumbentEvaluation.SameSlice(rec.Evaluation) {
		t.Fatalf("incumbent must be scored on the same rows: %+v vs %+v", rec.IncumbentEvaluation, rec.Evaluation)
	}
	if !(second.Record.Version > first.Record.Version) {
		t.Fatalf("versions must increase")
	}
	if v, _ := f.store.DeployedVersion(ctx); v != first.Record.Version {
		t.Fatalf("rejection changed the deployed model to %q", v)
	}

	if len(f.notifier.events) != 2 || f.notifier.events[1].Decision != models.DecisionReject {
		t.Fatalf("events = %+v", f.notifier.events)
	}
}

func TestMissingIncumbentArtifactBootstraps(t *testing.T) {
	f := newFixture(t)
	first := f.run(t)
	if err := os.Remove(first.Record.ArtifactPath); err != nil {
		t.Fatal(err)
	}

	second := f.run(t)
	if second.Decision.Kind != models.DecisionBootstrap || !second.Record.Deployed {
		t.Fatalf("second run = %+v", second.Decision)
	}
	if second.Record.ComparedAgainstVersion != first.Record.Version {
		t.Fatalf("superseded version not recorded")
	}
}

func TestCommitRaceReevaluatesAgainstNewIncumbent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.run(t)

	// The rival is the first model re-published under a newer version.
	reg := registry.NewRegistry(f.store, nil, f.log)
	rivalVersion, _ := reg.NextVersion(ctx, time.Now())
	data, err := f.artifacts.Load(first.Record.ArtifactPath)
	if err != nil {
		t.Fatal(err)
	}
	rivalPath, err := f.artifacts.Save(rivalVersion, data)
	if err != nil {
		t.Fatal(err)
	}
	rival := first.Record
	rival.Version = rivalVersion
	rival.RunID = "rival"
	rival.ArtifactPath = rivalPath

	// Forces the candidate down the accept path on its first attempt.
	os.Remove(first.Record.ArtifactPath)

	racing := &racingStore{IRegistryStore: f.store, rival: &rival}
	res, err := f.pipeline(racing, staticHistory{f.history}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Conflicts != 1 {
		t.Fatalf("conflicts = %d", res.Conflicts)
	}
	if res.Record.ComparedAgainstVersion != rivalVersion || res.Decision.Kind != models.DecisionReject {
		t.Fatalf("retry must face the rival: %+v %+v", res.Record.ComparedAgainstVersion, res.Decision)
	}
	if v, _ := f.store.DeployedVersion(ctx); v != rivalVersion {
		t.Fatalf("deployed = %q", v)
	}
}

func TestPersistentConflictHoldsCandidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	racing := &racingStore{IRegistryStore: f.store, always: true}
	res, err := f.pipeline(racing, staticHistory{f.history}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Conflicts != f.cfg.Training.CommitRetries+1 {
		t.Fatalf("conflicts = %d", res.Conflicts)
	}
	if res.Record.Deployed || !res.Record.IsCandidate {
		t.Fatalf("lost run must be held as candidate: %+v", res.Record)
	}
	if _, err := f.store.GetRecord(ctx, res.Record.Version); err != nil {
		t.Fatalf("held record not stored: %v", err)
	}
	if v, _ := f.store.DeployedVersion(ctx); v != "" {
		t.Fatalf("deployed = %q", v)
	}
}

func TestFailedRunCommitsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("insufficient data", func(t *testing.T) {
		_, err := f.pipeline(f.store, staticHistory{f.history[:20]}).Run(ctx)
		if !helpers.IsInsufficientData(err) {
			t.Fatalf("expected InsufficientDataError, got %v", err)
		}
	})

	t.Run("ordering error", func(t *testing.T) {
		broken := append([]models.MPriceObservation(nil), f.history...)
		broken = append(broken, broken[0])
		_, err := f.pipeline(f.store, staticHistory{broken}).Run(ctx)
		var ordering *helpers.DataOrderingError
		if !errors.As(err, &ordering) {
			t.Fatalf("expected DataOrderingError, got %v", err)
		}
	})

	history, _ := f.store.History(ctx, 0)
	if len(history) != 0 {
		t.Fatalf("failed runs committed %d records", len(history))
	}
}

func TestFailedCommitRemovesArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline(brokenStore{f.store}, staticHistory{f.history}).Run(ctx)
	if err == nil || helpers.IsCommitConflict(err) {
		t.Fatalf("expected storage error, got %v", err)
	}

	left, err := os.ReadDir(f.cfg.Storage.ModelDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("failed commit left %d files, first %s", len(left), left[0].Name())
	}
	if history, _ := f.store.History(ctx, 0); len(history) != 0 {
		t.Fatalf("failed commit stored %d records", len(history))
	}

	// The directory stays usable for the next run.
	res := f.run(t)
	if !f.artifacts.Exists(res.Record.ArtifactPath) {
		t.Fatalf("artifact %s missing after successful run", res.Record.ArtifactPath)
	}
}
