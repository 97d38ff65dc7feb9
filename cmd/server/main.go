// Package main is the entry point for the support-log API server.
//
// Boot order: env file, config, logger, tracing, database, optional NATS
// ingest, receipt sweeper, HTTP server. Shutdown walks the same list in
// reverse so in-flight requests and events drain before the process exits.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/retaildesk/go-support-log/internal/config"
	httpapi "github.com/retaildesk/go-support-log/internal/http"
	"github.com/retaildesk/go-support-log/internal/ingest"
	"github.com/retaildesk/go-support-log/internal/maintenance"
	"github.com/retaildesk/go-support-log/internal/observability"
	"github.com/retaildesk/go-support-log/internal/repo"
	"github.com/retaildesk/go-support-log/internal/services"
	"github.com/retaildesk/go-support-log/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.InitLogger(cfg.LogLevel, cfg.LogPretty)

	log.Info().Str("version", version).Msg("starting support-log server")

	ctx := context.Background()

	// Tracing (no-op provider unless OTEL_ENABLED).
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(c)
	}()

	// Database.
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("gorm tracing plugin failed; continuing without")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	// Optional NATS ingest.
	var sub *ingest.Subscriber
	if cfg.NATS.URL != "" {
		sub = ingest.NewSubscriber(cfg.NATS, services.NewConversationStore(db))
		if err := sub.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("nats ingest failed to start")
		}
		defer sub.Close()
	}

	// Expired-receipt sweeper.
	sweeper := maintenance.NewReceiptSweeper(db, cfg.ReceiptSweepCron)
	if err := sweeper.Start(); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.ReceiptSweepCron).Msg("receipt sweeper failed to start")
	}
	defer sweeper.Stop()

	// HTTP transport.
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server stopped")
}
