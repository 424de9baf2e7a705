package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kennethrrosen/qubes-template-upgrade/pkg/config"
	"github.com/kennethrrosen/qubes-template-upgrade/pkg/qvm"
	"github.com/kennethrrosen/qubes-template-upgrade/pkg/stores"
	"github.com/kennethrrosen/qubes-template-upgrade/pkg/telemetry"
)

// runtime holds the shared pieces every command needs: loaded config, the
// structured logger, the optional tracer, and the platform adapter.
type runtime struct {
	cfg     *config.Config
	log     *telemetry.Logger
	tracer  *telemetry.Tracer
	adapter *qvm.Local
}

// newRuntime loads configuration and builds the telemetry and platform
// layers. The verbose flag overrides the configured log level.
func newRuntime(version string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	tcfg := cfg.Telemetry(version)
	if verbose {
		tcfg.Logging.Level = "debug"
	}

	logger, err := telemetry.NewLogger(tcfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	tracer, err := telemetry.NewTracer(tcfg.Tracing, tcfg.ServiceName, tcfg.ServiceVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	return &runtime{
		cfg:     cfg,
		log:     logger,
		tracer:  tracer,
		adapter: qvm.NewLocal(cfg.Timeout()),
	}, nil
}

// openStore opens the run-history database, or returns nil when history is
// disabled. The caller closes the store through the returned cleanup.
func (r *runtime) openStore(ctx context.Context) (stores.Store, func(), error) {
	if r.cfg.HistoryDisabled {
		return nil, func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(r.cfg.StatePath), 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: r.cfg.StatePath})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create history store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to open history store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to migrate history store: %w", err)
	}

	cleanup := func() {
		if err := store.Close(); err != nil {
			r.log.WithError(err).Warn("failed to close history store")
		}
	}
	return store, cleanup, nil
}

// shutdown flushes the tracer. Safe to call with tracing disabled.
func (r *runtime) shutdown(ctx context.Context) {
	if err := r.tracer.Shutdown(ctx); err != nil {
		r.log.WithError(err).Warn("failed to shut down tracer")
	}
}
