package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"party-play/internal/config"
	"party-play/internal/db"
	"party-play/internal/logging"
	"party-play/internal/room"
	"party-play/internal/server"
	"party-play/internal/telemetry"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Warn().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "party-play", cfg.OtelEndpoint)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled")
	}

	var conn *gorm.DB
	if cfg.DatabaseURL != "" {
		conn, err = db.Open(cfg.DatabaseURL, db.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
	} else {
		logger.Warn().Msg("DATABASE_URL is not set; rooms live in memory only")
	}

	rooms := room.NewService(room.NewStore(), conn, room.Options{
		HostTimeout:      cfg.HostTimeout,
		AbandonAfter:     cfg.AbandonAfter,
		EvictAfter:       cfg.EvictAfter,
		ReactionInterval: cfg.ReactionInterval,
		Logger:           &logger,
	})
	go rooms.RunSweeper(ctx, cfg.SweepInterval)

	srv := server.New(rooms, conn, cfg)
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Addr()).Msg("party-play server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracing shutdown failed")
	}
}
