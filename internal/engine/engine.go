// Package engine is the composition root: it owns the stream channel,
// the reconciler, the configuration services and the pending-application
// queues, and exposes the operations the CLI and HTTP server call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/gridstream/internal/calc"
	"github.com/leapstack-labs/gridstream/internal/channel"
	"github.com/leapstack-labs/gridstream/internal/colgroup"
	"github.com/leapstack-labs/gridstream/internal/config"
	"github.com/leapstack-labs/gridstream/internal/gridstate"
	"github.com/leapstack-labs/gridstream/internal/pending"
	"github.com/leapstack-labs/gridstream/internal/profile"
	"github.com/leapstack-labs/gridstream/internal/stream"
	"github.com/leapstack-labs/gridstream/pkg/core"
)

// Engine wires the stream pipeline to the configuration services for one
// surface instance.
//
// Two pending queues exist on purpose: profile applications and the
// partial column state deferred behind a structural layout rebuild have
// different lifetimes, and a profile flush must be able to park column
// state without racing its own queue. On a surface-ready signal the
// profile queue is flushed first, then the column-state queue; structure
// before per-column state, always.
type Engine struct {
	logger *slog.Logger
	cfg    *config.Config

	store      core.DocumentStore
	channel    core.StreamChannel
	providers  *channel.ProviderRegistry
	reconciler *stream.Reconciler
	groups     *colgroup.Service
	profiles   *profile.Adapter
	grid       *gridstate.Manager
	notifier   *StatusNotifier

	// queue holds deferred profile applications; stateQueue holds column
	// state parked behind layout rebuilds.
	queue      *pending.Queue
	stateQueue *pending.Queue

	mu           sync.Mutex
	active       *core.Profile
	rules        *calc.RuleSet
	providerID   string
	streamCancel context.CancelFunc
}

// New assembles an Engine from its collaborators. The channel is
// injected so tests and alternative transports can swap it; everything
// else is constructed here. If logger is nil, a discard logger is used.
func New(cfg *config.Config, store core.DocumentStore, ch core.StreamChannel, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	e := &Engine{
		logger:   logger,
		cfg:      cfg,
		store:    store,
		channel:  ch,
		notifier: NewStatusNotifier(),
	}

	e.providers = channel.NewProviderRegistry(cfg.ProvidersPath, logger)
	e.groups = colgroup.New(store, logger)
	e.profiles = profile.NewAdapter(store, logger)

	e.stateQueue = pending.New(func(s core.Surface, entry pending.Entry) error {
		return e.grid.ApplyDeferred(s, entry)
	}, logger)
	e.grid = gridstate.NewManager(cfg.InstanceID, e.groups, e.stateQueue, logger)
	e.queue = pending.New(e.applyQueued, logger)

	e.reconciler = stream.New(logger,
		stream.WithKeyColumn(cfg.KeyColumn),
		stream.WithNotifyInterval(cfg.NotifyInterval),
		stream.WithNotify(e.notifier.Broadcast),
	)
	return e
}

// Accessors for the CLI and HTTP layers.
func (e *Engine) Grid() *gridstate.Manager            { return e.grid }
func (e *Engine) Groups() *colgroup.Service           { return e.groups }
func (e *Engine) Profiles() *profile.Adapter          { return e.profiles }
func (e *Engine) Registry() *channel.ProviderRegistry { return e.providers }
func (e *Engine) Notifier() *StatusNotifier           { return e.notifier }
func (e *Engine) Reconciler() *stream.Reconciler      { return e.reconciler }

// AttachSurface binds a rendering surface to the pipeline. Pending work
// is flushed immediately when the surface is already ready.
func (e *Engine) AttachSurface(s core.Surface) {
	e.grid.AttachSurface(s)
	e.reconciler.AttachSurface(s)
	if s != nil && s.Ready() {
		e.OnSurfaceReady()
	}
}

// DetachSurface unbinds the surface. Stream delivery continues; updates
// are dropped with a warning until a surface is attached again.
func (e *Engine) DetachSurface() {
	e.grid.AttachSurface(nil)
	e.reconciler.AttachSurface(nil)
}

// OnSurfaceReady is the surface's readiness signal. Deferred profile
// applications run first so any column state they park lands in the
// state queue, which is flushed second.
func (e *Engine) OnSurfaceReady() {
	surface := e.grid.Surface()
	e.queue.FlushOnReady(surface)
	e.stateQueue.FlushOnReady(surface)
}

// Connect establishes the stream session for a registered provider. An
// existing session is torn down first. When the channel holds a cached
// snapshot for the source it seeds the row set before live events start
// draining.
func (e *Engine) Connect(ctx context.Context, providerID string) error {
	cfg, ok := e.providers.Get(providerID)
	if !ok {
		return fmt.Errorf("unknown provider %q", providerID)
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = e.cfg.ConnectTimeout
	}

	if err := e.Disconnect(ctx); err != nil {
		e.logger.Warn("disconnect before reconnect failed", "error", err)
	}

	if err := e.channel.Connect(ctx, cfg); err != nil {
		return fmt.Errorf("connect provider %s: %w", providerID, err)
	}
	e.reconciler.BeginSession()

	hit, err := e.reconciler.RequestCachedSnapshot(ctx, e.channel, cfg.SourceID)
	if err != nil {
		e.logger.Warn("cached snapshot request failed", "provider", providerID, "error", err)
	} else if hit {
		e.logger.Info("seeded row set from cached snapshot",
			"provider", providerID, "rows", e.reconciler.RowCount())
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.providerID = providerID
	e.streamCancel = cancel
	e.mu.Unlock()

	go func() {
		if err := e.reconciler.Run(runCtx, e.channel); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("stream loop ended", "provider", providerID, "error", err)
		}
	}()

	e.logger.Info("connected", "provider", providerID, "source", cfg.SourceID)
	return nil
}

// Disconnect tears down the stream session and resets the reconciler.
// Safe to call when not connected.
func (e *Engine) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.streamCancel
	e.streamCancel = nil
	e.providerID = ""
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := e.channel.Disconnect(ctx)
	if err != nil && !errors.Is(err, core.ErrNotConnected) {
		e.logger.Warn("channel disconnect failed", "error", err)
	}
	e.reconciler.Reset()
	return nil
}

// ConnectedProvider returns the id of the provider the engine is
// streaming from, or empty.
func (e *Engine) ConnectedProvider() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.providerID
}

// ApplyProfile applies the profile to the surface, or defers it when no
// ready surface is attached. A second call before the surface becomes
// ready replaces the deferred profile: only the most recently requested
// one is ever applied.
func (e *Engine) ApplyProfile(ctx context.Context, p *core.Profile) error {
	if p == nil {
		return fmt.Errorf("nil profile")
	}
	clone := p.Clone()
	surface := e.grid.Surface()
	if surface == nil || !surface.Ready() {
		e.queue.Enqueue(pending.Entry{Profile: clone})
		e.logger.Debug("profile application deferred", "profile", clone.ID, "name", clone.Name)
		return nil
	}
	return e.applyProfileNow(ctx, surface, clone)
}

// applyQueued is the profile queue's apply function.
func (e *Engine) applyQueued(surface core.Surface, entry pending.Entry) error {
	if entry.Profile == nil {
		return nil
	}
	return e.applyProfileNow(context.Background(), surface, entry.Profile)
}

func (e *Engine) applyProfileNow(ctx context.Context, surface core.Surface, p *core.Profile) error {
	if surface == nil || !surface.Ready() {
		return core.ErrSurfaceDetached
	}

	activeIDs := e.migrateProfileGroups(ctx, p)

	cols, err := calc.CompileColumns(p.CalculatedColumns, e.logger)
	if err != nil {
		e.logger.Warn("some calculated columns failed to compile", "profile", p.ID, "error", err)
	}
	rules, err := calc.CompileRules(p.FormattingRules, e.logger)
	if err != nil {
		e.logger.Warn("some formatting rules failed to compile", "profile", p.ID, "error", err)
	}
	if cols != nil && cols.Len() > 0 {
		e.reconciler.SetRowTransform(cols.ApplyTo)
	} else {
		e.reconciler.SetRowTransform(nil)
	}

	switch {
	case p.GridState != nil:
		if !e.grid.Apply(ctx, p.GridState, activeIDs, gridstate.AllOptions()) {
			e.logger.Warn("profile applied with facet failures", "profile", p.ID)
		}
	case len(activeIDs) > 0:
		// No saved state, but the grouped layout still has to exist.
		if err := e.groups.ApplyLayout(ctx, e.cfg.InstanceID, surface, surface.Columns(), activeIDs); err != nil {
			e.logger.Warn("failed to build column group layout", "profile", p.ID, "error", err)
		}
	}

	// When the profile carries no explicit open state, fall back to the
	// instance-level persisted one.
	if len(activeIDs) > 0 && (p.GridState == nil || len(p.GridState.ColumnGroupState) == 0) {
		err := e.groups.LoadAndApplyGroupOpenState(ctx, e.cfg.InstanceID, surface, activeIDs)
		if err != nil && !errors.Is(err, colgroup.ErrGroupStateUnsupported) {
			e.logger.Warn("failed to apply group open state", "profile", p.ID, "error", err)
		}
	}

	e.mu.Lock()
	e.active = p
	e.rules = rules
	e.mu.Unlock()

	e.logger.Info("applied profile", "profile", p.ID, "name", p.Name)
	return nil
}

// migrateProfileGroups resolves the profile's active group ids,
// registering any inline legacy definitions into instance storage on
// first encounter. Id references win when both representations are
// present; the inline copy is dropped and the cleaned profile persisted
// so migration runs once.
func (e *Engine) migrateProfileGroups(ctx context.Context, p *core.Profile) []string {
	ids := p.ActiveColumnGroupIDs
	if len(p.LegacyColumnGroups) == 0 {
		return ids
	}

	migrated, err := e.groups.MigrateLegacyGroups(ctx, e.cfg.InstanceID, p.LegacyColumnGroups)
	if err != nil {
		e.logger.Warn("legacy column group migration failed", "profile", p.ID, "error", err)
		return ids
	}
	if len(ids) == 0 {
		ids = migrated
	}

	p.ActiveColumnGroupIDs = ids
	p.LegacyColumnGroups = nil
	if p.ID != "" {
		err := e.profiles.Update(ctx, p.ID, func(stored *core.Profile) {
			stored.ActiveColumnGroupIDs = ids
			stored.LegacyColumnGroups = nil
		})
		if err != nil {
			e.logger.Warn("failed to persist column group migration", "profile", p.ID, "error", err)
		}
	}
	return ids
}

// SaveProfile extracts the surface's current state into the active
// profile (or a new one when none is active) and persists it. name
// overrides the profile name when non-empty.
func (e *Engine) SaveProfile(ctx context.Context, name string) (string, error) {
	return e.saveProfile(ctx, name, false)
}

// SaveProfileAs always creates a new profile, regardless of which one is
// active.
func (e *Engine) SaveProfileAs(ctx context.Context, name string) (string, error) {
	return e.saveProfile(ctx, name, true)
}

func (e *Engine) saveProfile(ctx context.Context, name string, forceNew bool) (string, error) {
	state := e.grid.Extract(gridstate.AllOptions())
	if state == nil {
		return "", fmt.Errorf("no surface attached")
	}

	e.mu.Lock()
	p := e.active.Clone()
	providerID := e.providerID
	e.mu.Unlock()

	if p == nil {
		p = &core.Profile{}
	} else if forceNew {
		p.ID = ""
		p.IsDefault = false
		p.IsLocked = false
		p.CreatedAt = time.Time{}
	}
	if name != "" {
		p.Name = name
	}
	p.GridState = state
	if providerID != "" {
		p.DataSourceID = providerID
	}

	id, err := e.profiles.Save(ctx, p)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.active = p
	e.mu.Unlock()

	if surface := e.grid.Surface(); surface != nil && len(p.ActiveColumnGroupIDs) > 0 {
		err := e.groups.SaveGroupOpenState(ctx, e.cfg.InstanceID, surface)
		if err != nil && !errors.Is(err, colgroup.ErrGroupStateUnsupported) {
			e.logger.Warn("failed to persist group open state", "error", err)
		}
	}
	return id, nil
}

// LoadProfile fetches a profile by id and applies it. When the profile
// requests auto-connect and names a data source, the stream session is
// established as well; a connect failure does not fail the load.
func (e *Engine) LoadProfile(ctx context.Context, id string) error {
	p := e.profiles.Get(ctx, id)
	if p == nil {
		return fmt.Errorf("profile %s not found", id)
	}
	if err := e.ApplyProfile(ctx, p); err != nil {
		return err
	}
	if p.AutoConnect && p.DataSourceID != "" {
		if err := e.Connect(ctx, p.DataSourceID); err != nil {
			e.logger.Warn("auto-connect failed", "provider", p.DataSourceID, "error", err)
		}
	}
	return nil
}

// DeleteProfile soft-deletes the profile. The active reference is
// cleared when it pointed at the deleted one.
func (e *Engine) DeleteProfile(ctx context.Context, id string) error {
	if err := e.profiles.Delete(ctx, id); err != nil {
		return err
	}
	e.mu.Lock()
	if e.active != nil && e.active.ID == id {
		e.active = nil
	}
	e.mu.Unlock()
	return nil
}

// ListProfiles lists stored profiles matching the filter.
func (e *Engine) ListProfiles(ctx context.Context, filter core.ProfileFilter) []core.Profile {
	return e.profiles.Query(ctx, filter)
}

// ActiveProfile returns a copy of the profile currently applied, or nil.
func (e *Engine) ActiveProfile() *core.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active.Clone()
}

// ExportProfile writes the profile to a file in the configured export
// directory and returns the path.
func (e *Engine) ExportProfile(ctx context.Context, id string) (string, error) {
	p := e.profiles.Get(ctx, id)
	if p == nil {
		return "", fmt.Errorf("profile %s not found", id)
	}
	return e.profiles.ExportFile(p, e.cfg.ExportDir)
}

// ImportProfile reads an exported profile and persists it. Importing a
// previously exported profile overwrites the original record.
func (e *Engine) ImportProfile(ctx context.Context, r io.Reader) (*core.Profile, error) {
	return e.profiles.Import(ctx, r)
}

// ResetState restores the surface to its default configuration.
func (e *Engine) ResetState(ctx context.Context) {
	e.grid.ResetToDefault(ctx)
	e.mu.Lock()
	e.active = nil
	e.rules = nil
	e.mu.Unlock()
	e.reconciler.SetRowTransform(nil)
}

// RowStyles evaluates the active profile's formatting rules against a
// record. Keys are column ids; the empty key holds row-scoped styles.
func (e *Engine) RowStyles(rec core.RowRecord) map[string][]string {
	e.mu.Lock()
	rules := e.rules
	e.mu.Unlock()
	if rules == nil {
		return nil
	}
	return rules.StylesFor(rec)
}

// Stats returns the current stream session statistics.
func (e *Engine) Stats() core.StreamStats {
	return e.reconciler.Stats()
}

// Close tears down the stream session. The document store is owned by
// the caller and closed there.
func (e *Engine) Close(ctx context.Context) error {
	return e.Disconnect(ctx)
}
