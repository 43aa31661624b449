package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/webrtc-meet/config"
	"github.com/mossy-p/webrtc-meet/internal/handlers"
	"github.com/mossy-p/webrtc-meet/internal/logging"
	"github.com/mossy-p/webrtc-meet/internal/metrics"
	"github.com/mossy-p/webrtc-meet/internal/registry"
	"github.com/mossy-p/webrtc-meet/internal/relay"
	"github.com/mossy-p/webrtc-meet/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	roomStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer roomStore.Close()

	m := metrics.New()
	reg := registry.New(
		registry.WithIdleTimeout(cfg.RoomIdleTimeout),
		registry.WithHistoryLimit(cfg.ChatHistoryLimit),
	)
	hub := relay.NewHub(relay.Config{
		Registry:             reg,
		Store:                roomStore,
		Metrics:              m,
		Logger:               logger,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
	})
	go hub.RunSweeper(ctx, cfg.RoomSweepInterval)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(cfg, hub, roomStore, m),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting signaling server", "port", cfg.Port, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	logger.Info("signaling server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Store != config.StoreRedis {
		slog.Info("using in-memory room store")
		return store.NewLocalStore(), nil
	}
	s, err := store.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	slog.Info("redis connection established", "host", cfg.Redis.Host)
	return s, nil
}
