// Command ingest consumes ingestion requests from NATS and, with -watch,
// also ingests files dropped into a directory laid out as <dir>/<vendor_id>/.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/CodeChampian/safebot/engine/app"
	"github.com/CodeChampian/safebot/engine/ingest"
	"github.com/CodeChampian/safebot/pkg/config"
)

type options struct {
	watchDir    string
	stateFile   string
	interval    time.Duration
	metricsAddr string
	requireNATS bool
}

func main() {
	var (
		configPath  = flag.String("config", "safebot.yaml", "path to the YAML config file")
		watchDir    = flag.String("watch", "", "drop directory to scan; subdirectories are vendor ids")
		stateFile   = flag.String("state", "", "processed files state (default <watch>/.ingest-state.json)")
		interval    = flag.Duration("interval", 30*time.Second, "scan interval")
		metricsAddr = flag.String("metrics", ":9091", "metrics listen address")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	opts := options{
		watchDir:    *watchDir,
		stateFile:   *stateFile,
		interval:    *interval,
		metricsAddr: *metricsAddr,
		requireNATS: *watchDir == "",
	}
	if opts.watchDir != "" && opts.stateFile == "" {
		opts.stateFile = filepath.Join(opts.watchDir, ".ingest-state.json")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, opts); err != nil {
		logger.Error("ingest worker exited with error", "err", err)
		os.Exit(1)
	}
}

var errNoWork = errors.New("nothing to do: configure nats.url or pass -watch")

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts options, appOpts ...app.Option) error {
	appOpts = append([]app.Option{app.WithName("safebot-ingest")}, appOpts...)
	a, err := app.Open(ctx, cfg, logger, appOpts...)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if a.NATS == nil && opts.requireNATS {
		return errNoWork
	}

	if opts.metricsAddr != "" {
		a.Metrics.CollectRuntime(ctx, "safebot_ingest", 15*time.Second)
		a.Metrics.ServeAsync(ctx, opts.metricsAddr, logger)
	}

	if a.NATS != nil {
		c, err := ingest.StartConsumer(a.NATS, a.Pipeline, logger)
		if err != nil {
			return err
		}
		defer c.Stop()
		logger.Info("consuming ingestion requests", "nats", cfg.NATS.URL)
	}

	if opts.watchDir == "" {
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	}

	if err := os.MkdirAll(opts.watchDir, 0o755); err != nil {
		return err
	}
	w := newWatcher(opts.watchDir, opts.stateFile, a.Pipeline, a.Metrics, logger)
	logger.Info("watching drop directory", "dir", opts.watchDir, "interval", opts.interval)

	w.scan(ctx)
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}
