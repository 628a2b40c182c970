package grpc_control

import (
	"context"
	"net"
	"testing"

	"fare-observer/src/gate"
	"fare-observer/src/helpers"
	"fare-observer/src/logger"
	"fare-observer/src/models"
	"fare-observer/src/pipeline"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeRegistry struct {
	deployed *models.MModelRecord
	records  []models.MModelRecord
}

func (r *fakeRegistry) GetDeployed(context.Context) (*models.MModelRecord, error) {
	return r.deployed, nil
}

func (r *fakeRegistry) History(_ context.Context, limit int) ([]models.MModelRecord, error) {
	if limit > 0 && limit < len(r.records) {
		return r.records[:limit], nil
	}
	return r.records, nil
}

func (r *fakeRegistry) Rollback(_ context.Context, version string) (*models.MModelRecord, error) {
	for _, rec := range r.records {
		if rec.Version == version {
			rec.Deployed = true
			r.deployed = &rec
			return &rec, nil
		}
	}
	return nil, helpers.NewNotFoundError("model %s not found", version)
}

type fakeRetrainer struct {
	res *pipeline.RunResult
	err error
}

func (r *fakeRetrainer) Run(context.Context) (*pipeline.RunResult, error) { return r.res, r.err }

type countingRefresher struct{ n int }

func (c *countingRefresher) Refresh(context.Context) (bool, error) {
	c.n++
	return true, nil
}

// -----------------------------------------------------------------------------

func dial(t *testing.T, svc *ControlService) *ControlClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterControlServer(srv, svc)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewControlClient(conn)
}

func TestControlService(t *testing.T) {
	reg := &fakeRegistry{records: []models.MModelRecord{
		{Version: "v2", IsCandidate: true, FeatureOrder: []string{"days_until_departure"}},
		{Version: "v1", Deployed: true, FeatureOrder: []string{"days_until_departure"}},
	}}
	retrainer := &fakeRetrainer{res: &pipeline.RunResult{
		RunID:    "run-7",
		Record:   models.MModelRecord{Version: "v3", Deployed: true},
		Decision: gate.Decision{Accept: true, Kind: models.DecisionBootstrap, Reason: "no deployed model"},
	}}
	refresher := &countingRefresher{}
	client := dial(t, NewControlService(reg, retrainer, refresher, logger.NewLogger("ERROR", "grpc-test")))
	ctx := context.Background()

	if _, err := client.GetDeployed(ctx); status.Code(err) != codes.NotFound {
		t.Fatalf("GetDeployed on empty registry: %v", err)
	}

	out, err := client.Retrain(ctx)
	if err != nil {
		t.Fatalf("Retrain: %v", err)
	}
	fields := out.GetFields()
	if fields["decision"].GetStringValue() != models.DecisionBootstrap || !fields["accepted"].GetBoolValue() {
		t.Errorf("Retrain = %v", out)
	}
	if v := fields["record"].GetStructValue().GetFields()["version"].GetStringValue(); v != "v3" {
		t.Errorf("record version = %q", v)
	}

	list, err := client.ListModels(ctx, 1)
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if n := list.GetFields()["count"].GetNumberValue(); n != 1 {
		t.Errorf("count = %v, want 1", n)
	}
	if _, err := client.ListModels(ctx, -1); status.Code(err) != codes.InvalidArgument {
		t.Errorf("negative limit: %v", err)
	}

	if _, err := client.Rollback(ctx, "v9"); status.Code(err) != codes.NotFound {
		t.Errorf("unknown rollback: %v", err)
	}
	if _, err := client.Rollback(ctx, ""); status.Code(err) != codes.InvalidArgument {
		t.Errorf("empty rollback: %v", err)
	}
	rolled, err := client.Rollback(ctx, "v2")
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if !rolled.GetFields()["deployed"].GetBoolValue() {
		t.Errorf("rollback record = %v", rolled)
	}

	dep, err := client.GetDeployed(ctx)
	if err != nil || dep.GetFields()["version"].GetStringValue() != "v2" {
		t.Fatalf("GetDeployed = %v, %v", dep, err)
	}
	if refresher.n != 2 {
		t.Errorf("refreshes = %d, want 2", refresher.n)
	}
}

func TestRetrainErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{helpers.NewInsufficientDataError(3, 50, "short history"), codes.FailedPrecondition},
		{helpers.NewDataOrderingError("DEL-BOM", "duplicate timestamp"), codes.InvalidArgument},
		{helpers.NewSchemaMismatchError("drift"), codes.Internal},
		{helpers.NewConcurrentCommitConflict("v1", "v2"), codes.Aborted},
	}
	for _, tt := range tests {
		client := dial(t, NewControlService(&fakeRegistry{}, &fakeRetrainer{err: tt.err}, nil, logger.NewLogger("ERROR", "grpc-test")))
		if _, err := client.Retrain(context.Background()); status.Code(err) != tt.want {
			t.Errorf("Retrain with %v: code %v, want %v", tt.err, status.Code(err), tt.want)
		}
	}
}
