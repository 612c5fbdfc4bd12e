// Package main implements the safebot HTTP API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CodeChampian/safebot/engine/app"
	"github.com/CodeChampian/safebot/engine/ingest"
	"github.com/CodeChampian/safebot/pkg/config"
	"github.com/CodeChampian/safebot/pkg/mid"
)

func main() {
	configPath := flag.String("config", "safebot.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger, app.WithName("safebot-api"))
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if err := os.MkdirAll(cfg.Ingest.UploadDir, 0o755); err != nil {
		return fmt.Errorf("upload dir: %w", err)
	}

	// Uploads go to the worker when NATS is configured and are ingested
	// in-process otherwise.
	var ingester ingest.Ingester = a.Pipeline
	if a.NATS != nil {
		ingester = ingest.NewClient(a.NATS, cfg.Ingest.ReplyTimeout)
	}

	s := &server{
		assessor:  a.Assessor,
		store:     a.Store,
		ingester:  ingester,
		suppliers: a.Suppliers,
		uploadDir: cfg.Ingest.UploadDir,
		metrics:   a.Metrics,
		log:       logger,
	}
	handler := mid.Chain(s.routes(),
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.CORS(cfg.Server.CORSOrigin),
		mid.BodyLimit(cfg.Server.MaxUploadBytes),
		mid.OTel("safebot-api"),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      cfg.Ingest.ReplyTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Server.Port, "nats", a.NATS != nil)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
