package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ChuLiYu/ledger-scheduler/internal/config"
	"github.com/ChuLiYu/ledger-scheduler/internal/controller"
	"github.com/ChuLiYu/ledger-scheduler/internal/ledger"
	"github.com/ChuLiYu/ledger-scheduler/internal/logging"
	"github.com/ChuLiYu/ledger-scheduler/internal/metrics"
	"github.com/ChuLiYu/ledger-scheduler/internal/server"
	"github.com/ChuLiYu/ledger-scheduler/internal/snapshot"
	"github.com/ChuLiYu/ledger-scheduler/internal/storage/wal"
	"github.com/ChuLiYu/ledger-scheduler/internal/store"
)

func buildServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler API and settlement workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	return cmd
}

// openLedger returns the configured ledger client and its closer
func openLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledger.Client, func(), error) {
	switch cfg.Ledger.Mode {
	case config.LedgerSimulated:
		logger.Warn("using simulated ledger; nothing is settled on chain",
			zap.Duration("latency", cfg.Ledger.SimulatedLatency))
		return ledger.NewSimulated(cfg.Ledger.SimulatedLatency), func() {}, nil
	case config.LedgerEthereum:
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Ledger.ConfirmTimeout)
		defer cancel()
		client, err := ledger.Dial(dialCtx, cfg.Ledger.Ethereum(), logger.Named("ledger"))
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger mode %q", cfg.Ledger.Mode)
	}
}

// runServe runs until ctx is cancelled or a listener fails
func runServe(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	records := snapshot.NewStore(cfg.Storage.JobsPath, cfg.Storage.NodesPath)
	journal, err := wal.OpenJournal(cfg.Storage.JournalPath)
	if err != nil {
		return fmt.Errorf("open settlement journal: %w", err)
	}

	client, closeLedger, err := openLedger(ctx, cfg, logger)
	if err != nil {
		journal.Close()
		return fmt.Errorf("connect ledger: %w", err)
	}
	defer closeLedger()

	var (
		gatherer  prometheus.Gatherer
		collector *metrics.Collector
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector = metrics.NewCollector(reg)
		gatherer = reg
	}

	ctrl, err := controller.New(controller.Config{
		SettlementWorkers: cfg.Settlement.Workers,
		MaxAttempts:       cfg.Settlement.MaxAttempts,
		InitialBackoff:    cfg.Settlement.InitialBackoff,
		MaxBackoff:        cfg.Settlement.MaxBackoff,
		ConfirmTimeout:    cfg.Ledger.ConfirmTimeout,
		EnforceMinMemory:  cfg.Selection.EnforceMinMemory,
	}, controller.Deps{
		Store:   store.New(),
		Records: records,
		Journal: journal,
		Ledger:  client,
		Metrics: collector,
		Logger:  logger.Named("controller"),
	})
	if err != nil {
		journal.Close()
		return err
	}
	if err := ctrl.Start(); err != nil {
		ctrl.Stop()
		return fmt.Errorf("start controller (run 'scheduler init' to create empty records): %w", err)
	}
	defer ctrl.Stop()

	errCh := make(chan error, 2)

	var health *server.HealthServer
	if cfg.GRPC.Port > 0 {
		health, err = server.NewHealthServer(cfg.Server.Host+":"+strconv.Itoa(cfg.GRPC.Port), logger.Named("grpc"))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		defer health.Stop()
		go func() { errCh <- health.Serve() }()
	}

	srv := server.New(ctrl, logger.Named("http"), server.Options{
		Addr:         cfg.Server.Addr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Gatherer:     gatherer,
	})
	l, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	go func() { errCh <- srv.Serve(l) }()

	// health reports SERVING only once HTTP accepts connections
	if health != nil {
		health.SetServing(true)
	}

	logger.Info("scheduler started",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("ledger", cfg.Ledger.Mode),
		zap.Bool("metrics", cfg.Metrics.Enabled))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		if runErr == nil {
			runErr = errors.New("listener exited unexpectedly")
		}
		logger.Error("listener failed", zap.Error(runErr))
	}

	if health != nil {
		health.SetServing(false)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return runErr
}
