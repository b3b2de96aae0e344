package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/webrtc-mesh/config"
	"github.com/mossy-p/webrtc-mesh/internal/handlers"
	"github.com/mossy-p/webrtc-mesh/internal/hub"
	"github.com/mossy-p/webrtc-mesh/internal/logging"
	"github.com/mossy-p/webrtc-mesh/internal/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Init("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Init(cfg.LogLevel)

	iceServers, err := cfg.ICE.Servers()
	if err != nil {
		logger.Error("invalid ICE configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis is optional: without it the hub runs with no audit trail
	var (
		audit   hub.AuditSink
		history handlers.ChatHistory
		sink    *redis.AuditSink
	)
	if cfg.RedisURL != "" {
		client, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		logger.Info("Redis connection established")

		sink = redis.NewAuditSink(client, logger.With("component", "audit"))
		go sink.Run(ctx)
		audit, history = sink, sink
	}

	h := hub.New(hub.NewMemoryStore(), audit, logger.With("component", "hub"))
	go h.Run(ctx)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(handlers.Deps{
		Hub:            h,
		History:        history,
		ICEServers:     iceServers,
		AllowedOrigins: cfg.AllowedOrigins,
		JWTSecret:      cfg.JWTSecret,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting signaling server", "addr", srv.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	if sink != nil {
		select {
		case <-sink.Done():
		case <-shutdownCtx.Done():
		}
	}
}
