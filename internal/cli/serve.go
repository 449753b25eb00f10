package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mikeusry/southland-platform-sub000/internal/config"
	"github.com/mikeusry/southland-platform-sub000/internal/engine"
	"github.com/mikeusry/southland-platform-sub000/internal/extract"
	"github.com/mikeusry/southland-platform-sub000/internal/forward"
	"github.com/mikeusry/southland-platform-sub000/internal/health"
	"github.com/mikeusry/southland-platform-sub000/internal/metrics"
	"github.com/mikeusry/southland-platform-sub000/internal/server"
	"github.com/mikeusry/southland-platform-sub000/internal/store"
	"github.com/mikeusry/southland-platform-sub000/internal/visitor"
	"github.com/mikeusry/southland-platform-sub000/pkg/kvstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scoring HTTP service",
	Long: `Start the scoring HTTP service.

Endpoints:
  POST /event         score one event
  POST /batch         score an array of events
  GET  /visitor/:id   fetch a stored visitor record
  GET  /health        liveness
  GET  /ready         readiness (visitor store ping)
  GET  /metrics       Prometheus metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.IsDevelopment(), cfg.LogLevel)
	logger.Info().
		Str("environment", cfg.Environment).
		Int("http_port", cfg.HTTPPort).
		Str("brand", cfg.Brand).
		Str("store_backend", cfg.StoreBackend).
		Bool("forward_enabled", cfg.ForwardEnabled()).
		Msg("Starting persona scorer")

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()

	kv, closeStore, err := openStore(cfg, m, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	rules := extract.DefaultRules()
	if cfg.RulesFile != "" {
		if rules, err = extract.LoadRules(cfg.RulesFile); err != nil {
			return err
		}
		logger.Info().Str("rules_file", cfg.RulesFile).Msg("Loaded scoring rules")
	}

	repo := visitor.NewRepository(kv, logger, visitor.WithTTL(cfg.VisitorTTL))

	var dispatcher *forward.Dispatcher
	svcCfg := engine.ServiceConfig{
		Brand:            cfg.Brand,
		BatchConcurrency: cfg.BatchConcurrency,
		Recorder:         m,
	}
	if cfg.ForwardEnabled() {
		sink := forward.NewHTTPSink(cfg.ForwardURL, cfg.ForwardTimeout, logger)
		dispatcher = forward.NewDispatcher(sink, forward.Config{
			Workers:   cfg.ForwardWorkers,
			QueueSize: cfg.ForwardQueueSize,
			BatchSize: cfg.ForwardBatchSize,
			Timeout:   cfg.ForwardTimeout,
		}, m, logger)
		dispatcher.Start(context.Background())
		svcCfg.Forwarder = dispatcher
	} else {
		logger.Info().Msg("FORWARD_URL not set, analytics forwarding disabled")
	}

	proc := engine.NewProcessor(engine.ProcessorConfig{
		MaxSignals:      cfg.MaxSignals,
		MaxStageHistory: cfg.MaxStageHistory,
		Rules:           rules,
	})
	svc := engine.NewService(proc, repo, svcCfg, logger)

	checker := health.NewChecker(logger)
	checker.Register("visitor_store", health.Ping(repo.Ping))

	srv := server.New(server.Config{
		ListenAddr:   cfg.ListenAddr(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		BodyLimit:    cfg.BodyLimit,
		RateLimit: server.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		Auth: server.AuthConfig{
			Mode:      cfg.VisitorAuthMode,
			APIKey:    cfg.VisitorAPIKey,
			JWTSecret: cfg.VisitorJWTSecret,
		},
	}, svc, checker, m, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		store.RunRetention(ctx, kv, cfg.RetentionInterval, func(removed int, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("Retention sweep failed")
				return
			}
			m.RecordRetention(removed)
			if removed > 0 {
				logger.Info().Int("removed", removed).Msg("Expired visitors removed")
			}
		})
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down gracefully")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP server error")
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if dispatcher != nil {
		if err := dispatcher.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("forwarder drain: %w", err))
		}
	}
	wg.Wait()

	logger.Info().Msg("Persona scorer stopped")
	return errors.Join(errs...)
}

// openStore selects the visitor store backend. The returned func releases it.
func openStore(cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) (kvstore.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("creating sqlite directory: %w", err)
			}
		}
		st, err := store.New(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening visitor store: %w", err)
		}
		if size, err := st.DBSizeBytes(); err == nil {
			m.SetStoreSize(size)
		}
		return st, func() {
			if err := st.Close(); err != nil {
				logger.Error().Err(err).Msg("Closing visitor store")
			}
		}, nil
	default:
		st := kvstore.NewMemoryStore(cfg.MemoryStoreCapacity,
			kvstore.WithEvictionHook(func(string) { m.RecordMemoryEviction() }))
		return st, func() {
			stats := st.Stats()
			logger.Info().
				Int("keys", st.Len()).
				Uint64("evictions", stats.Evictions).
				Uint64("expirations", stats.Expirations).
				Float64("hit_rate", stats.HitRate()).
				Msg("Memory visitor store closed")
		}, nil
	}
}
