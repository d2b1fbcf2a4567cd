package main

import (
	"net"

	"PPHub/service/rpc"
	"PPHub/tools/errs"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newHealthServer() (*grpc.Server, *health.Server) {
	gs := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(gs, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(rpc.HubService, healthpb.HealthCheckResponse_SERVING)
	return gs, healthServer
}

// serveHealth listens on addr; the returned func marks the hub NOT_SERVING
// and stops the server.
func serveHealth(addr string, log *zap.Logger) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errs.WrapMsg(err, "grpc listen", "addr", addr)
	}
	gs, hs := newHealthServer()
	go func() {
		log.Info("[gRPC] listening", zap.String("addr", lis.Addr().String()))
		if err := gs.Serve(lis); err != nil {
			log.Warn("[gRPC] server stopped", zap.Error(err))
		}
	}()
	return func() {
		hs.Shutdown()
		gs.GracefulStop()
	}, nil
}
