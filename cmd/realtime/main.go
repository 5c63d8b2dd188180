package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fleet-monitor/realtime/internal/auth"
	"fleet-monitor/realtime/internal/cache"
	"fleet-monitor/realtime/internal/config"
	"fleet-monitor/realtime/internal/domain"
	"fleet-monitor/realtime/internal/gateway"
	"fleet-monitor/realtime/internal/notify"
	"fleet-monitor/realtime/internal/pipeline"
	"fleet-monitor/realtime/internal/ratelimit"
	"fleet-monitor/realtime/internal/store"
	transport "fleet-monitor/realtime/internal/transport/http"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	logger.Info("starting realtime gateway", "port", cfg.HTTPPort, "instance_id", cfg.InstanceID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := store.NewPostgresStore(ctx, cfg)
	if err != nil {
		logger.Error("postgres init failed", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	rdb, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		logger.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	var push domain.PushGateway
	if cfg.FCMCredentialsFile != "" {
		fcm, err := notify.NewFCMGateway(ctx, cfg.FCMCredentialsFile, logger)
		if err != nil {
			logger.Error("fcm init failed", "error", err)
			os.Exit(1)
		}
		push = fcm
	} else {
		logger.Warn("FCM_CREDENTIALS_FILE not set, push notifications are logged only")
		push = notify.NewLogGateway(logger)
	}

	buffer := pipeline.NewLocationBuffer(pg, cfg.FlushInterval, logger)
	relay := pipeline.NewRelay(rdb, cfg.RelayChannelSize, logger)
	engine := pipeline.NewProximityEngine(pg, push, notify.DefaultCatalog(), cfg.NearbyRadiusMeters, logger)

	gw := gateway.New(gateway.Deps{
		Buffer:    buffer,
		Cache:     cache.NewMetadataCache(pg, cfg.CacheSize, cfg.CacheTTL),
		Limiter:   ratelimit.NewLimiter(cfg.RateLimitPoints, cfg.RateLimitWindow),
		Proximity: engine,
		Vehicles:  pg,
		Locations: pg,
		Relay:     relay,
		Log:       logger,
	}, gateway.Options{
		InstanceID:     cfg.InstanceID,
		SnapshotWindow: cfg.SnapshotWindow,
		CoordPrecision: cfg.CoordPrecision,
		SendBufferSize: cfg.SendBufferSize,
	})

	var workers sync.WaitGroup
	workers.Add(3)
	go func() {
		defer workers.Done()
		buffer.Run(ctx)
	}()
	go func() {
		defer workers.Done()
		relay.Run(ctx)
	}()
	go func() {
		defer workers.Done()
		if err := rdb.SubscribeSpaces(ctx, gw.DeliverRemote); err != nil {
			logger.Error("space relay subscription ended", "error", err)
		}
	}()

	authenticator := auth.NewAuthenticator(cfg, rdb)
	srv := transport.NewServer(cfg.HTTPPort, gw, transport.NewAuthMiddleware(authenticator, logger),
		map[string]transport.Pinger{"postgres": pg, "redis": rdb}, logger)

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Error("http server failed", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	gw.CloseAll()
	gw.Wait()

	// Stops the workers; the buffer runs its final flush on the way out.
	cancel()
	workers.Wait()

	logger.Info("realtime gateway stopped", "buffered_left", buffer.Len())
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
