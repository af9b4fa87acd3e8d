// Command subchain runs a replica daemon: it fetches the transition module and snapshot,
// follows the block stream and serves queries over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-subchain/pkg/artifact"
	"github.com/dd0wney/cluso-subchain/pkg/config"
	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/metrics"
	"github.com/dd0wney/cluso-subchain/pkg/reactive"
	"github.com/dd0wney/cluso-subchain/pkg/server"
	"github.com/dd0wney/cluso-subchain/pkg/stream"
	"github.com/dd0wney/cluso-subchain/pkg/subchain"
	"github.com/dd0wney/cluso-subchain/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (SUBCHAIN_* variables override it)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "subchain: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.NewJSONLogger(os.Stdout, cfg.Level())
	logging.SetDefaultLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.TracingOptions())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	var registry *metrics.Registry
	if cfg.HTTP.MetricsEnabled {
		registry = metrics.NewRegistry()
	}

	transport, err := stream.NewTransport(cfg.Transport)
	if err != nil {
		return err
	}

	// both artifacts are requested before either is needed
	fetchCtx, cancelFetch := context.WithTimeout(ctx, cfg.FetchTimeout)
	defer cancelFetch()
	fetchOpts := cfg.ArtifactOptions(logger)
	module := artifact.Fetch(fetchCtx, cfg.ModuleURL, fetchOpts)
	snap := artifact.Fetch(fetchCtx, cfg.SnapshotURL, fetchOpts)

	logger.Info("starting replica",
		logging.String("module", cfg.ModuleURL),
		logging.String("snapshot", cfg.SnapshotURL),
		logging.String("blocks", cfg.BlocksURL),
		logging.String("transport", cfg.Transport))

	provider := reactive.NewProvider(logger)
	teardown := provider.Create(ctx, subchain.Options{
		ModuleSource:   module,
		SnapshotSource: snap,
		BlocksURL:      cfg.BlocksURL,
		Transport:      transport,
		Params:         cfg.Params(),
		Slowmo:         cfg.Slowmo,
		Ingest:         cfg.Ingest(),
		Logger:         logger,
		Metrics:        registry,
	})
	defer teardown()

	return server.New(provider, registry, logger).Run(ctx, cfg.HTTP.Addr)
}
