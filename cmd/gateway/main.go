package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/config"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/exchanges"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/grpc"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/logger"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/market"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/redis"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/server"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/storage"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/stream"
	"github.com/sirupsen/logrus"
)

const (
	memoryCleanupInterval = time.Minute
	postgresJanitorPeriod = 5 * time.Minute
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger.Init(cfg.Logging)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A nil store is allowed: reads then report the cache as unavailable
	store := openStore(ctx, cfg)
	if store != nil {
		defer store.Close()
	}

	exchange, err := exchanges.NewClient(cfg.Exchange)
	if err != nil {
		logrus.Fatalf("Failed to create exchange client: %v", err)
	}

	cache := market.New(exchange, store, market.Options{
		TickerTTL:      cfg.Cache.TickerTTL,
		OhlcvTTL:       cfg.Cache.OhlcvTTL,
		Coalesce:       cfg.Cache.Coalesce,
		BypassOnOutage: cfg.Cache.BypassOnOutage,
		FetchTimeout:   cfg.Cache.FetchTimeout,
	})
	logger.WithExchange(exchange.ID()).WithFields(logrus.Fields{
		"ticker_ttl": cache.TickerTTL().String(),
		"ohlcv_ttl":  cache.OhlcvTTL().String(),
		"coalesce":   cfg.Cache.Coalesce,
	}).Info("Market cache ready")

	hub := stream.NewHub(cache, cfg.Stream.Interval)

	// Start HTTP server
	srv := server.New(cfg.Server, cache, hub, store)
	go func() {
		logrus.Infof("Starting HTTP server on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Start gRPC server
	var grpcSrv *grpc.Server
	if cfg.Server.GRPCPort > 0 {
		grpcSrv = grpc.NewServer(cfg.Server.GRPCPort, cache, hub)
		if err := grpcSrv.Start(); err != nil {
			logrus.Fatalf("Failed to start gRPC server: %v", err)
		}
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logrus.Info("Shutting down market gateway...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Streams hold hijacked or long-lived connections the servers cannot drain themselves
	hub.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}
	if grpcSrv != nil {
		grpcSrv.Stop()
	}

	// Stop background janitors
	cancel()

	logrus.Info("Market gateway shutdown complete")
}

// openStore builds the configured cache backend. Connection failures are logged and yield nil.
func openStore(ctx context.Context, cfg *config.Config) storage.Store {
	log := logger.WithComponent("storage").WithField("backend", cfg.Cache.Backend)

	switch cfg.Cache.Backend {
	case "memory":
		log.Info("Using in-process memory cache")
		return storage.NewMemoryStorage(memoryCleanupInterval)

	case "postgres":
		connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
		defer connectCancel()
		pg, err := storage.NewPostgresStorage(connectCtx, cfg.Postgres.DSN)
		if err != nil {
			log.WithError(err).Error("Postgres cache unavailable, reads will fail until restart")
			return nil
		}
		go pg.RunJanitor(ctx, postgresJanitorPeriod)
		log.Info("Using Postgres cache")
		return pg

	default:
		client, err := redis.NewClient(cfg.Redis)
		if err != nil {
			log.WithError(err).Error("Redis cache not configured")
			return nil
		}
		rs, err := storage.NewRedisStorage(client)
		if err != nil {
			log.WithError(err).Error("Redis cache not configured")
			client.Close()
			return nil
		}
		log.WithField("addr", cfg.Redis.Addr).Info("Using Redis cache")
		return rs
	}
}
