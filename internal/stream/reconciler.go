// Package stream absorbs an asynchronous sequence of record batches from
// a live data channel, separates bulk-load semantics from incremental
// updates, and exposes a single consistent row set to the rendering
// surface.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/gridstream/pkg/core"
)

// Mode is the lifecycle state of a stream session.
type Mode int

const (
	ModeIdle Mode = iota
	ModeRequesting
	ModeReceiving
	ModeComplete
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeRequesting:
		return "requesting"
	case ModeReceiving:
		return "receiving"
	case ModeComplete:
		return "complete"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// DefaultNotifyInterval is how often, at most, the status callback fires
// while batches are accumulating.
const DefaultNotifyInterval = 100 * time.Millisecond

// StatusFunc receives throttled stream statistics for the status panel.
type StatusFunc func(stats core.StreamStats)

// Reconciler reconciles a high-volume record stream into a stable row
// set. Until the snapshot completes it accumulates batches in a private
// buffer; after completion every batch is applied as an incremental
// upsert against the live surface, never a full reload.
type Reconciler struct {
	logger *slog.Logger

	mu           sync.Mutex
	mode         Mode
	buffer       []core.RowRecord
	handoffCount int
	messageCount int64
	keyColumn    string
	surface      core.Surface

	notify     StatusFunc
	interval   time.Duration
	lastNotify time.Time
	notified   bool

	// transform is applied to every accepted record, e.g. to fill in
	// calculated columns. May be nil.
	transform func(core.RowRecord)

	// now is swappable for throttle tests.
	now func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithNotify installs the status callback.
func WithNotify(fn StatusFunc) Option {
	return func(r *Reconciler) { r.notify = fn }
}

// WithNotifyInterval overrides the status throttle window.
func WithNotifyInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.interval = d }
}

// WithKeyColumn sets the row identity field. Defaults to "id".
func WithKeyColumn(col string) Option {
	return func(r *Reconciler) {
		if col != "" {
			r.keyColumn = col
		}
	}
}

// New creates a Reconciler. If logger is nil, a discard logger is used.
func New(logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Reconciler{
		logger:    logger,
		keyColumn: core.DefaultKeyColumn,
		interval:  DefaultNotifyInterval,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AttachSurface sets the live surface. A nil surface detaches; stream
// delivery is never coupled to UI lifecycle, so updates arriving while
// detached are dropped with a warning instead of failing.
func (r *Reconciler) AttachSurface(s core.Surface) {
	r.mu.Lock()
	r.surface = s
	r.mu.Unlock()
}

// SetRowTransform installs a per-record hook applied to every accepted
// record, buffered or incremental. Used for calculated columns; nil
// clears it.
func (r *Reconciler) SetRowTransform(fn func(core.RowRecord)) {
	r.mu.Lock()
	r.transform = fn
	r.mu.Unlock()
}

// BeginSession marks the start of a connect request.
func (r *Reconciler) BeginSession() {
	r.mu.Lock()
	r.mode = ModeRequesting
	r.mu.Unlock()
}

// Mode returns the current session mode.
func (r *Reconciler) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// MessageCount returns the number of records seen this session.
func (r *Reconciler) MessageCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messageCount
}

// BufferLen returns the number of records accumulated and not yet handed
// off. Zero after snapshot completion.
func (r *Reconciler) BufferLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

// RowCount returns the size of the exposed row set: the live surface's
// count after completion, the buffer length before it. When completion
// happened with no surface attached the last handoff size is reported,
// so status metrics stay truthful while detached.
func (r *Reconciler) RowCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rowCountLocked()
}

func (r *Reconciler) rowCountLocked() int {
	if r.mode == ModeComplete {
		if r.surface != nil {
			return r.surface.RowCount()
		}
		return r.handoffCount
	}
	return len(r.buffer)
}

// OnBatch ingests one batch of records, in delivery order. Before the
// snapshot completes, batches accumulate in the buffer; afterwards each
// record is upserted directly against the live row set.
func (r *Reconciler) OnBatch(records []core.RowRecord) {
	if len(records) == 0 {
		return
	}

	r.mu.Lock()
	if r.mode != ModeComplete {
		if r.mode == ModeIdle || r.mode == ModeRequesting {
			r.mode = ModeReceiving
		}
		for _, rec := range records {
			r.prepareLocked(rec)
			r.buffer = append(r.buffer, rec)
		}
		r.messageCount += int64(len(records))
		r.notifyLocked(false)
		r.mu.Unlock()
		return
	}

	r.messageCount += int64(len(records))
	surface := r.surface
	for _, rec := range records {
		r.prepareLocked(rec)
	}
	r.mu.Unlock()

	if surface == nil {
		r.logger.Warn("dropping incremental update, no surface attached",
			"records", len(records))
		return
	}
	if err := surface.ApplyTransaction(core.Transaction{Upserts: records}); err != nil {
		r.logger.Warn("incremental upsert failed", "error", err)
	}

	r.mu.Lock()
	r.notifyLocked(false)
	r.mu.Unlock()
}

// MarkSnapshotComplete flips the session to complete and hands the
// buffered rows to the surface as the authoritative row set, exactly
// once. The buffer is discarded afterwards; it has no further writers.
func (r *Reconciler) MarkSnapshotComplete() {
	r.mu.Lock()
	if r.mode == ModeComplete {
		r.mu.Unlock()
		return
	}
	r.mode = ModeComplete
	rows := r.buffer
	r.buffer = nil
	r.handoffCount = len(rows)
	surface := r.surface
	r.mu.Unlock()

	if surface != nil {
		if err := surface.SetRows(rows); err != nil {
			r.logger.Warn("snapshot handoff failed", "error", err, "rows", len(rows))
		}
	} else {
		r.logger.Warn("snapshot completed with no surface attached", "rows", len(rows))
	}

	r.mu.Lock()
	r.notifyLocked(true)
	r.mu.Unlock()
}

// ReplaceSnapshot accepts a complete bulk row set in one step: the buffer
// is replaced wholesale and the session jumps straight to complete
// without passing through incremental accumulation.
func (r *Reconciler) ReplaceSnapshot(records []core.RowRecord) {
	r.mu.Lock()
	if r.mode == ModeComplete {
		// A fresh bulk set after completion is still a full replace.
		r.mode = ModeReceiving
	}
	r.buffer = make([]core.RowRecord, 0, len(records))
	for _, rec := range records {
		r.prepareLocked(rec)
		r.buffer = append(r.buffer, rec)
	}
	r.messageCount += int64(len(records))
	r.mu.Unlock()

	r.MarkSnapshotComplete()
}

// RequestCachedSnapshot asks the channel for its cached bulk data set.
// When the channel holds one, it is accepted as a single complete batch
// and the reported bool is true; an empty result leaves the session
// untouched.
func (r *Reconciler) RequestCachedSnapshot(ctx context.Context, channel core.StreamChannel, sourceID string) (bool, error) {
	rows, err := channel.Snapshot(ctx, sourceID)
	if err != nil {
		return false, fmt.Errorf("request cached snapshot for %s: %w", sourceID, err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	r.ReplaceSnapshot(rows)
	return true, nil
}

// Reset clears buffer, counters and mode. Used when disconnecting or
// switching data sources. Idempotent.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.mode = ModeIdle
	r.buffer = nil
	r.handoffCount = 0
	r.messageCount = 0
	r.lastNotify = time.Time{}
	r.notified = false
	r.mu.Unlock()
}

// Run drains the channel's event stream until the context is cancelled
// or the channel closes. Events are processed in delivery order on this
// single goroutine.
func (r *Reconciler) Run(ctx context.Context, channel core.StreamChannel) error {
	events := channel.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case core.EventSnapshot:
				r.ReplaceSnapshot(ev.Rows)
			case core.EventUpdate:
				r.OnBatch(ev.Rows)
			case core.EventStatus:
				r.forwardStatus(ev.Stats)
			}
		}
	}
}

// Stats returns a snapshot of the session statistics.
func (r *Reconciler) Stats() core.StreamStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsLocked()
}

func (r *Reconciler) statsLocked() core.StreamStats {
	rowCount := r.rowCountLocked()
	return core.StreamStats{
		Connected:        r.mode == ModeReceiving || r.mode == ModeComplete,
		Mode:             r.mode.String(),
		MessageCount:     r.messageCount,
		RowCount:         rowCount,
		SnapshotComplete: r.mode == ModeComplete,
		LastUpdate:       r.now(),
	}
}

func (r *Reconciler) forwardStatus(stats core.StreamStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notify != nil {
		r.notify(stats)
	}
}

// notifyLocked emits a throttled status notification. The very first
// notification of a session and the post-completion notification bypass
// the throttle window so the status panel never misses the endpoints.
func (r *Reconciler) notifyLocked(force bool) {
	if r.notify == nil {
		return
	}
	now := r.now()
	if !force && r.notified && now.Sub(r.lastNotify) < r.interval {
		return
	}
	r.lastNotify = now
	r.notified = true
	r.notify(r.statsLocked())
}

// prepareLocked readies one record for acceptance: identity first, then
// derived fields.
func (r *Reconciler) prepareLocked(rec core.RowRecord) {
	r.ensureKeyLocked(rec)
	if r.transform != nil {
		r.transform(rec)
	}
}

// ensureKeyLocked guarantees the record carries an identity value,
// synthesizing a fallback key when the key column is absent. The record
// is still accepted; a missing key is a data-quality warning, never
// fatal.
func (r *Reconciler) ensureKeyLocked(rec core.RowRecord) {
	if _, ok := rec.Key(r.keyColumn); ok {
		return
	}
	key := core.SynthesizeKey()
	rec[r.keyColumn] = key
	r.logger.Warn("record missing key column, synthesized fallback",
		"keyColumn", r.keyColumn, "fallback", key)
}
