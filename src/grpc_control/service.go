package grpc_control

import (
	"context"
	"encoding/json"

	"fare-observer/src/helpers"
	"fare-observer/src/logger"
	"fare-observer/src/models"
	"fare-observer/src/pipeline"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type ModelRegistry interface {
	GetDeployed(ctx context.Context) (*models.MModelRecord, error)
	History(ctx context.Context, limit int) ([]models.MModelRecord, error)
	Rollback(ctx context.Context, version string) (*models.MModelRecord, error)
}

type Retrainer interface {
	Run(ctx context.Context) (*pipeline.RunResult, error)
}

type Refresher interface {
	Refresh(ctx context.Context) (bool, error)
}

// ControlService implements ControlServer
type ControlService struct {
	Registry  ModelRegistry
	Retrainer Retrainer
	Predictor Refresher
	Logger    *logger.Logger
}

// NewControlService creates a new instance of ControlService
func NewControlService(reg ModelRegistry, retrainer Retrainer, predictor Refresher, log *logger.Logger) *ControlService {
	return &ControlService{
		Registry:  reg,
		Retrainer: retrainer,
		Predictor: predictor,
		Logger:    log,
	}
}

// -----------------------------------------------------------------------------

func (s *ControlService) Retrain(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	res, err := s.Retrainer.Run(ctx)
	if err != nil {
		return nil, s.toStatus("Retrain", err)
	}
	s.refresh(ctx)
	s.Logger.Info("gRPC: Retrain %s finished with %s", res.RunID, res.Decision.Kind)

	return toStruct(map[string]any{
		"run_id":    res.RunID,
		"decision":  res.Decision.Kind,
		"accepted":  res.Decision.Accept,
		"reason":    res.Decision.Reason,
		"conflicts": res.Conflicts,
		"record":    res.Record,
	})
}

// -----------------------------------------------------------------------------

func (s *ControlService) GetDeployed(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	rec, err := s.Registry.GetDeployed(ctx)
	if err != nil {
		return nil, s.toStatus("GetDeployed", err)
	}
	if rec == nil {
		return nil, status.Error(codes.NotFound, "no model is deployed")
	}
	return toStruct(rec)
}

// -----------------------------------------------------------------------------

func (s *ControlService) Rollback(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "version is required")
	}
	rec, err := s.Registry.Rollback(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus("Rollback", err)
	}
	s.refresh(ctx)
	return toStruct(rec)
}

// -----------------------------------------------------------------------------

func (s *ControlService) ListModels(ctx context.Context, req *wrapperspb.Int32Value) (*structpb.Struct, error) {
	if req.GetValue() < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit cannot be negative")
	}
	records, err := s.Registry.History(ctx, int(req.GetValue()))
	if err != nil {
		return nil, s.toStatus("ListModels", err)
	}
	if records == nil {
		records = []models.MModelRecord{}
	}
	return toStruct(map[string]any{"models": records, "count": len(records)})
}

// -----------------------------------------------------------------------------

func (s *ControlService) refresh(ctx context.Context) {
	if s.Predictor == nil {
		return
	}
	if _, err := s.Predictor.Refresh(ctx); err != nil {
		s.Logger.Error("gRPC: predictor refresh failed: %v", err)
	}
}

// -----------------------------------------------------------------------------

// toStatus maps the error taxonomy onto gRPC codes.
func (s *ControlService) toStatus(method string, err error) error {
	code := codes.Internal
	switch {
	case helpers.IsSchemaMismatch(err):
		// configuration drift, stays Internal
	case helpers.IsInsufficientData(err):
		code = codes.FailedPrecondition
	case helpers.IsNotFound(err):
		code = codes.NotFound
	case helpers.IsCommitConflict(err):
		code = codes.Aborted
	case helpers.IsValidation(err):
		code = codes.InvalidArgument
	}
	if code == codes.Internal {
		s.Logger.Error("gRPC: %s failed: %v", method, err)
	}
	return status.Error(code, err.Error())
}

// -----------------------------------------------------------------------------

// toStruct converts v through its JSON form so times and nested records keep
// the same shape as the REST API.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
