package channel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/gridstream/pkg/core"
)

// providersFile is the on-disk shape of the provider definitions file.
type providersFile struct {
	Providers []core.ProviderConfig `yaml:"providers"`
}

// ProviderRegistry caches provider configurations keyed by id. It is an
// explicit object owned by the engine's composition root, constructed
// once per process and passed by reference, with explicit invalidation
// on provider change — never a module-level global.
type ProviderRegistry struct {
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	providers map[string]core.ProviderConfig
	loaded    bool
}

// NewProviderRegistry creates a registry backed by a providers file. If
// logger is nil, a discard logger is used.
func NewProviderRegistry(path string, logger *slog.Logger) *ProviderRegistry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ProviderRegistry{
		path:      path,
		logger:    logger,
		providers: make(map[string]core.ProviderConfig),
	}
}

// Get returns the provider configuration for id, loading the file on
// first access.
func (r *ProviderRegistry) Get(id string) (core.ProviderConfig, bool) {
	r.mu.RLock()
	if r.loaded {
		cfg, ok := r.providers[id]
		r.mu.RUnlock()
		return cfg, ok
	}
	r.mu.RUnlock()

	if err := r.Reload(); err != nil {
		r.logger.Warn("failed to load providers", "path", r.path, "error", err)
		return core.ProviderConfig{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.providers[id]
	return cfg, ok
}

// List returns all known providers.
func (r *ProviderRegistry) List() []core.ProviderConfig {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if !loaded {
		if err := r.Reload(); err != nil {
			r.logger.Warn("failed to load providers", "path", r.path, "error", err)
			return nil
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ProviderConfig, 0, len(r.providers))
	for _, cfg := range r.providers {
		out = append(out, cfg)
	}
	return out
}

// Invalidate drops a single cached provider; the next Get reloads the
// file.
func (r *ProviderRegistry) Invalidate(id string) {
	r.mu.Lock()
	delete(r.providers, id)
	r.loaded = false
	r.mu.Unlock()
}

// Reload re-reads the providers file. A missing file is not an error;
// it yields an empty registry.
func (r *ProviderRegistry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.providers = make(map[string]core.ProviderConfig)
			r.loaded = true
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read providers file: %w", err)
	}

	var parsed providersFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse providers file %s: %w", r.path, err)
	}

	providers := make(map[string]core.ProviderConfig, len(parsed.Providers))
	for _, p := range parsed.Providers {
		if p.ID == "" {
			r.logger.Warn("skipping provider without id", "name", p.Name)
			continue
		}
		if p.KeyColumn == "" {
			p.KeyColumn = core.DefaultKeyColumn
		}
		providers[p.ID] = p
	}

	r.mu.Lock()
	r.providers = providers
	r.loaded = true
	r.mu.Unlock()
	r.logger.Debug("loaded providers", "path", r.path, "count", len(providers))
	return nil
}

// Watch reloads the registry whenever the providers file changes, until
// the context is cancelled.
func (r *ProviderRegistry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(r.path); err != nil {
		return fmt.Errorf("watch providers file %s: %w", r.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Warn("provider reload failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("provider watch error", "error", err)
		}
	}
}
