package main

import (
	"fmt"
	"net"

	"fare-observer/src/config"
	pb "fare-observer/src/grpc_control"
	"fare-observer/src/logger"
	"fare-observer/src/server"

	"google.golang.org/grpc"
)

// -----------------------------------------------------------------------------

// startServers starts the REST/websocket server and the gRPC control server.
// The returned function stops both.
func startServers(srv *server.FastAPIServer, c *components, conf *config.Config, appLogger *logger.Logger) (func(), error) {
	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Critical("Server failed: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", conf.GrpcHost, conf.GrpcPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		srv.Stop()
		return nil, fmt.Errorf("listen for gRPC on %s: %w", addr, err)
	}
	grpcServer := grpc.NewServer()
	controlService := pb.NewControlService(c.registry, c.pipeline, c.predictor, appLogger.Named("ControlService"))
	pb.RegisterControlServer(grpcServer, controlService)

	go func() {
		appLogger.Info("Starting gRPC Control Server on %s", addr)
		if err := grpcServer.Serve(lis); err != nil {
			appLogger.Critical("failed to serve gRPC: %v", err)
		}
	}()

	return func() {
		grpcServer.GracefulStop()
		if err := srv.Stop(); err != nil {
			appLogger.Warning("Server shutdown: %v", err)
		}
	}, nil
}
