package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/elskow/portal/internal/config"
)

// GRPCServer is the ops endpoint: the standard health service plus
// optional reflection.
type GRPCServer struct {
	config     *config.AppConfig
	log        *zap.Logger
	grpcServer *grpc.Server
	health     *health.Server
}

func NewGRPCServer(config *config.AppConfig, log *zap.Logger) *GRPCServer {
	log = log.Named("grpc")

	opts := []grpc.ServerOption{
		grpc.UnaryInterceptor(loggingInterceptor(log)),
	}
	if config.GRPC.MaxReceiveMessageSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(config.GRPC.MaxReceiveMessageSize))
	}
	if config.GRPC.MaxSendMessageSize > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(config.GRPC.MaxSendMessageSize))
	}

	grpcServer := grpc.NewServer(opts...)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	if config.GRPC.EnableReflection {
		reflection.Register(grpcServer)
	}

	return &GRPCServer{
		config:     config,
		log:        log,
		grpcServer: grpcServer,
		health:     healthServer,
	}
}

func (s *GRPCServer) Start() error {
	addr := fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve blocks serving on lis until Stop is called.
func (s *GRPCServer) Serve(lis net.Listener) error {
	s.log.Info("Starting gRPC server",
		zap.String("address", lis.Addr().String()),
		zap.Object("config", serverConfigToField(s.config)),
	)

	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

func serverConfigToField(config *config.AppConfig) zapcore.ObjectMarshaler {
	return zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		enc.AddString("environment", os.Getenv("APP_ENV"))
		enc.AddBool("reflection_enabled", config.GRPC.EnableReflection)
		enc.AddInt("max_receive_size", config.GRPC.MaxReceiveMessageSize)
		enc.AddInt("max_send_size", config.GRPC.MaxSendMessageSize)
		return nil
	})
}

func (s *GRPCServer) Stop() {
	s.log.Info("shutting down gRPC server")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

func loggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("grpc call",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)))
		return resp, err
	}
}
