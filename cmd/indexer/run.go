package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pulsescan/indexer/internal/indexer"
	"github.com/pulsescan/indexer/pkg/chain"
	"github.com/pulsescan/indexer/pkg/data/postgres/blocks"
	"github.com/pulsescan/indexer/pkg/metrics"
	"github.com/pulsescan/indexer/pkg/postgres"
	"github.com/pulsescan/indexer/pkg/utils"
)

func run(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"logLevel", cfg.LogLevel,
		"rpcURL", cfg.Chain.URL,
		"rpcWSURL", cfg.Chain.WSURL,
		"chainID", cfg.Chain.ChainID,
		"dbHost", cfg.Postgres.Host,
		"dbName", cfg.Postgres.Database,
		"dbMaxConnections", cfg.Postgres.MaxConnections,
		"startBlock", cfg.Indexer.StartBlock,
		"batchSize", cfg.Indexer.BatchSize,
		"parallelBatches", cfg.Indexer.ParallelBatches,
		"blockDelayMs", cfg.Indexer.BlockDelayMs,
		"reorgCheck", cfg.Indexer.EnableReorgCheck,
		"rpcRetries", cfg.Indexer.RPCRetries,
		"pollIntervalMs", cfg.Indexer.PollIntervalMs,
		"metricsPort", cfg.MetricsPort,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		ChainID:     cfg.Chain.ChainID,
		Environment: cfg.Environment,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	// Startup health checks: both the store and the endpoint must be
	// reachable before the pipeline starts.
	pg, err := postgres.New(ctx, cfg.Postgres, sugar)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pg.Close()

	chainClient, err := chain.Dial(ctx, cfg.Chain, sugar, m)
	if err != nil {
		return fmt.Errorf("failed to connect to chain endpoint: %w", err)
	}

	// /health re-probes the same dependencies the startup check verified.
	metricsServer := metrics.NewServer(cfg.MetricsAddr(), registry,
		metrics.HealthCheck{Name: "postgres", Probe: func(ctx context.Context) bool {
			return pg.Ping(ctx) == nil
		}},
		metrics.HealthCheck{Name: "rpc", Probe: chainClient.Healthy},
	)
	metricsErrCh := metricsServer.Start()
	sugar.Infof("metrics server listening on http://0.0.0.0:%d/metrics", cfg.MetricsPort)

	repo, err := blocks.NewRepository(ctx, pg, sugar)
	if err != nil {
		return fmt.Errorf("failed to create block repository: %w", err)
	}

	ix, err := indexer.New(sugar, chainClient, repo, cfg.Indexer, m)
	if err != nil {
		return fmt.Errorf("failed to create indexer: %w", err)
	}

	if err := ix.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize indexer: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ix.Start(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-metricsErrCh:
			if err != nil {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		}
	})
	g.Go(func() error {
		// A signal or a sibling failure requests shutdown; further signals
		// are absorbed by the NotifyContext until it is released. The
		// summary is collected before Stop closes the RPC transport.
		<-gctx.Done()
		logShutdownSummary(sugar, ix)
		ix.Stop()
		return nil
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		sugar.Errorw("run failed", "error", err)
	} else {
		err = nil
	}

	sugar.Info("shutting down metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if sErr := metricsServer.Shutdown(shutdownCtx); sErr != nil {
		sugar.Warnw("metrics server shutdown error", "error", sErr)
	}

	sugar.Info("shutdown complete")
	return err
}

func logShutdownSummary(sugar *zap.SugaredLogger, ix *indexer.Indexer) {
	statsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := ix.Stats(statsCtx)
	if err != nil {
		sugar.Warnw("failed to collect shutdown stats", "error", err)
		return
	}
	sugar.Infow("shutdown summary",
		"indexed", p.Indexed,
		"lastBlock", p.LastBlock,
		"totalTransactions", p.TotalTransactions,
		"progressPct", p.ProgressPct,
	)
}
