package grpc_control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The control plane is small enough to describe by hand over well-known
// types; payloads are JSON-shaped structs.

const serviceName = "fareobserver.Control"

const (
	methodRetrain     = "/" + serviceName + "/Retrain"
	methodGetDeployed = "/" + serviceName + "/GetDeployed"
	methodRollback    = "/" + serviceName + "/Rollback"
	methodListModels  = "/" + serviceName + "/ListModels"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

type ControlServer interface {
	Retrain(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetDeployed(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Rollback(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListModels(context.Context, *wrapperspb.Int32Value) (*structpb.Struct, error)
}

func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&Control_ServiceDesc, srv)
}

// -----------------------------------------------------------------------------

func unary[Req any](method string, call func(ControlServer, context.Context, *Req) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ControlServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var Control_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Retrain", Handler: unary(methodRetrain, ControlServer.Retrain)},
		{MethodName: "GetDeployed", Handler: unary(methodGetDeployed, ControlServer.GetDeployed)},
		{MethodName: "Rollback", Handler: unary(methodRollback, ControlServer.Rollback)},
		{MethodName: "ListModels", Handler: unary(methodListModels, ControlServer.ListModels)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fareobserver/control",
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

type ControlClient struct {
	cc grpc.ClientConnInterface
}

func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func (c *ControlClient) Retrain(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, methodRetrain, &emptypb.Empty{}, out, opts...)
}

func (c *ControlClient) GetDeployed(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, methodGetDeployed, &emptypb.Empty{}, out, opts...)
}

func (c *ControlClient) Rollback(ctx context.Context, version string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, methodRollback, wrapperspb.String(version), out, opts...)
}

func (c *ControlClient) ListModels(ctx context.Context, limit int32, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, methodListModels, wrapperspb.Int32(limit), out, opts...)
}
