package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/exchanges"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/logger"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/market"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/stream"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

const (
	defaultTimeframe = "1h"
	defaultLimit     = 100
	maxLimit         = 1000
)

// MarketService is the cached market data served over gRPC
type MarketService interface {
	GetTicker(ctx context.Context, symbol string) (*market.Ticker, error)
	GetOhlcv(ctx context.Context, symbol, timeframe string, limit int) (*market.OhlcvSeries, error)
}

type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	market     MarketService
	hub        *stream.Hub
	port       int
}

// NewServer creates a new gRPC server
func NewServer(port int, svc MarketService, hub *stream.Hub) *Server {
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(1024 * 1024 * 4), // 4MB
		grpc.MaxSendMsgSize(1024 * 1024 * 4), // 4MB
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    10 * time.Second, // Send keepalive every 10s
			Timeout: 5 * time.Second,  // Wait 5s for keepalive ack
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second, // Minimum time between client pings
			PermitWithoutStream: true,            // Allow keepalive without active streams
		}),
		grpc.ChainUnaryInterceptor(logUnary),
	}

	grpcServer := grpc.NewServer(opts...)
	server := &Server{
		grpcServer: grpcServer,
		health:     health.NewServer(),
		market:     svc,
		hub:        hub,
		port:       port,
	}

	RegisterMarketDataServer(grpcServer, server)
	healthpb.RegisterHealthServer(grpcServer, server.health)
	return server
}

// Start listens on the configured port and serves in the background
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	logrus.WithField("port", s.port).Info("Starting gRPC server")

	go func() {
		if err := s.Serve(lis); err != nil {
			logrus.WithError(err).Error("gRPC server failed")
		}
	}()

	return nil
}

// Serve serves on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s.grpcServer.Serve(lis)
}

// Stop stops the gRPC server after in-flight calls finish.
// Streams must be ended first, normally by closing the hub.
func (s *Server) Stop() {
	logrus.Info("Stopping gRPC server")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// GetTicker implements the GetTicker RPC
func (s *Server) GetTicker(ctx context.Context, req *TickerRequest) (*market.Ticker, error) {
	symbol := market.CanonicalSymbol(req.Symbol)
	if symbol == "" {
		return nil, status.Error(codes.InvalidArgument, "symbol is required")
	}

	t, err := s.market.GetTicker(ctx, symbol)
	if err != nil {
		return nil, toStatus(err)
	}
	return t, nil
}

// GetOhlcv implements the GetOhlcv RPC
func (s *Server) GetOhlcv(ctx context.Context, req *OhlcvRequest) (*market.OhlcvSeries, error) {
	symbol := market.CanonicalSymbol(req.Symbol)
	if symbol == "" {
		return nil, status.Error(codes.InvalidArgument, "symbol is required")
	}

	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = defaultTimeframe
	}
	if !exchanges.IsTimeframe(timeframe) {
		return nil, status.Errorf(codes.InvalidArgument, "invalid timeframe %q", timeframe)
	}

	limit := req.Limit
	if limit == 0 {
		limit = defaultLimit
	}
	if limit < 1 || limit > maxLimit {
		return nil, status.Errorf(codes.InvalidArgument, "limit must be between 1 and %d", maxLimit)
	}

	series, err := s.market.GetOhlcv(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return series, nil
}

// StreamTicker implements the StreamTicker RPC, sending a ticker every stream interval
func (s *Server) StreamTicker(req *StreamTickerRequest, out TickerStreamServer) error {
	symbol := market.CanonicalSymbol(req.Symbol)
	if symbol == "" {
		return status.Error(codes.InvalidArgument, "symbol is required")
	}

	err := s.hub.Run(out.Context(), symbol, out.Send)
	if errors.Is(err, stream.ErrClosed) {
		return status.Error(codes.Unavailable, "server shutting down")
	}
	return err
}

// codeFor maps a failure kind to its gRPC status code
func codeFor(kind market.Kind) codes.Code {
	switch kind {
	case market.KindNotFound:
		return codes.NotFound
	case market.KindRateLimited:
		return codes.ResourceExhausted
	case market.KindUnavailable, market.KindDependencyUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// toStatus converts a cache error into a status without upstream detail
func toStatus(err error) error {
	if kind, ok := market.KindOf(err); ok {
		return status.Error(codeFor(kind), kind.Detail())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, "request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, "request cancelled")
	}
	return status.Error(codes.Internal, "internal error")
}

// logUnary logs every unary call with its outcome and latency
func logUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	log := logger.WithComponent("grpc").WithFields(logrus.Fields{
		"method":     info.FullMethod,
		"code":       status.Code(err).String(),
		"latency_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		log.Warn("gRPC call failed")
	} else {
		log.Debug("gRPC call completed")
	}
	return resp, err
}
