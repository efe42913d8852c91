package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/runnerr0/refyn/internal/config"
	"github.com/runnerr0/refyn/internal/daemon"
	"github.com/runnerr0/refyn/internal/engine"
	"github.com/runnerr0/refyn/internal/logging"
	"github.com/runnerr0/refyn/internal/storage"
	"github.com/runnerr0/refyn/internal/vision"
)

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Daemon.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Daemon.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Sync()

	store, db, dbPath, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	defer store.Close()
	log.Info("database opened", zap.String("path", dbPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return c.serve(ctx, cfg, store, log)
}

// serve runs the engine and daemon against a provided store until ctx is
// cancelled.
func (c *ServeCommand) serve(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore, log *zap.Logger) error {
	if !c.NoPrune && cfg.Retention.Days > 0 {
		olderThan := time.Now().Add(-time.Duration(cfg.Retention.Days) * 24 * time.Hour)
		pruneCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := store.PruneFeedback(pruneCtx, olderThan)
		cancel()
		if err != nil {
			log.Warn("startup prune failed", zap.Error(err))
		} else if n > 0 {
			log.Info("startup prune", zap.Int64("deleted", n), zap.Int("retention_days", cfg.Retention.Days))
		}
	}

	opts := engine.Options{Store: store, Logger: log.Named("engine")}
	if cfg.Vision.Enabled {
		client, err := vision.NewClient(cfg.Vision)
		if err != nil {
			log.Warn("vision disabled", zap.Error(err))
		} else {
			opts.Analyzer = client
		}
	}

	eng, err := engine.New(cfg, opts)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Close()

	srv := daemon.New(eng, cfg.Daemon, c.version, log.Named("daemon"))
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info("daemon stopped")
	return nil
}
