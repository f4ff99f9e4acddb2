package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	logger "github.com/Gopher0727/PulseChat/middleware/log"
)

type Server struct {
	server   *grpc.Server
	listener net.Listener
	address  string
	logger   *logger.Logger
}

func NewServer(address string, log *logger.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	return NewServerWithListener(listener, log), nil
}

// NewServerWithListener serves on an existing listener, e.g. a bufconn in tests.
func NewServerWithListener(listener net.Listener, log *logger.Logger) *Server {
	s := &Server{listener: listener, address: listener.Addr().String(), logger: log.Named("grpc")}
	s.server = grpc.NewServer(
		grpc.UnaryInterceptor(s.unaryLoggingInterceptor), // 一元 RPC 日志拦截器
	)
	return s
}

func (s *Server) unaryLoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	start := time.Now()
	resp, err = handler(ctx, req)
	code := status.Code(err)

	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.Duration("duration", time.Since(start)),
		zap.String("code", code.String()),
	}
	switch {
	case code == codes.OK:
		s.logger.Debug("gRPC call", fields...)
	case code == codes.InvalidArgument || code == codes.NotFound:
		s.logger.Warn("gRPC call", append(fields, zap.Error(err))...)
	default:
		s.logger.Error("gRPC call", append(fields, zap.Error(err))...)
	}
	return resp, err
}

// Start blocks serving until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("Starting gRPC server", zap.String("address", s.address))
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) Stop() {
	s.logger.Info("Stopping gRPC server")
	s.server.GracefulStop()
}

// GetServer 获取底层 gRPC 服务器（用于注册服务）
func (s *Server) GetServer() *grpc.Server {
	return s.server
}

func (s *Server) Address() string {
	return s.address
}
