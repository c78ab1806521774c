package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridstream/internal/channel"
	"github.com/leapstack-labs/gridstream/internal/config"
	"github.com/leapstack-labs/gridstream/internal/engine"
	"github.com/leapstack-labs/gridstream/internal/state"
	"github.com/leapstack-labs/gridstream/pkg/core"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

type ctxKey struct{}

// NewContext stores the loaded configuration and logger for commands.
func NewContext(ctx context.Context, cfg *config.Config, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, &CommandContext{Cfg: cfg, Logger: logger})
}

// FromCommand retrieves the command context, falling back to defaults
// when the root command's config load was skipped.
func FromCommand(cmd *cobra.Command) *CommandContext {
	if cctx, ok := cmd.Context().Value(ctxKey{}).(*CommandContext); ok {
		return cctx
	}
	cfg, err := config.Load("", nil)
	if err != nil {
		cfg = &config.Config{
			StatePath:      config.DefaultStateFile,
			StateDriver:    config.DefaultStateDriver,
			ProvidersPath:  config.DefaultProvidersFile,
			InstanceID:     config.DefaultInstanceID,
			KeyColumn:      config.DefaultKeyColumn,
			NotifyInterval: config.DefaultNotifyInterval,
			ConnectTimeout: config.DefaultConnectTimeout,
			ListenAddr:     config.DefaultListenAddr,
			ExportDir:      config.DefaultExportDir,
			Output:         config.DefaultOutput,
		}
	}
	return &CommandContext{Cfg: cfg, Logger: slog.New(slog.DiscardHandler)}
}

// openStore opens and migrates the configured document store. The
// returned cleanup must be called (typically via defer).
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.DocumentStore, func(), error) {
	if cfg.StateDriver == "postgres" {
		store := state.NewPostgresStore(logger)
		if err := store.Open(ctx, cfg.PostgresDSN); err != nil {
			return nil, nil, fmt.Errorf("failed to open state store: %w", err)
		}
		if err := store.Migrate(); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("failed to migrate state store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	}

	if dir := filepath.Dir(cfg.StatePath); dir != "." && dir != "" && cfg.StatePath != ":memory:" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store := state.NewSQLiteStore()
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to migrate state store: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

// newEngine assembles an engine over the configured store and a
// websocket stream channel.
func newEngine(ctx context.Context, cctx *CommandContext) (*engine.Engine, func(), error) {
	store, cleanup, err := openStore(ctx, cctx.Cfg, cctx.Logger)
	if err != nil {
		return nil, nil, err
	}
	ch := channel.NewWSChannel(cctx.Logger)
	eng := engine.New(cctx.Cfg, store, ch, cctx.Logger)

	teardown := func() {
		_ = eng.Close(context.Background())
		_ = ch.Close()
		cleanup()
	}
	return eng, teardown, nil
}
