// Package pending holds grid state that could not yet be applied because
// the rendering surface was not ready, and flushes it the moment the
// surface signals readiness.
package pending

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/gridstream/pkg/core"
)

// Entry is the unit of deferred work: either a full profile, or the
// partial column/group state deferred behind a structural layout rebuild.
type Entry struct {
	Profile        *core.Profile
	ColumnState    []core.ColumnState
	GroupOpenState []core.GroupOpenState
}

// IsZero reports whether the entry carries nothing to apply.
func (e Entry) IsZero() bool {
	return e.Profile == nil && e.ColumnState == nil && e.GroupOpenState == nil
}

// ApplyFunc applies a queued entry to a ready surface. Returning
// core.ErrSurfaceDetached signals that the surface went away mid-flush
// and the entry should stay queued for the next ready signal.
type ApplyFunc func(surface core.Surface, entry Entry) error

type state int

const (
	stateEmpty state = iota
	stateQueued
	stateFlushing
)

// Queue is the pending-application queue. A second Enqueue while already
// queued replaces the prior entry: last writer wins, no merge, so only
// the most recently requested profile is ever the one applied.
type Queue struct {
	apply  ApplyFunc
	logger *slog.Logger

	mu    sync.Mutex
	st    state
	entry Entry
	// generation increments on every Enqueue so an aborted flush never
	// resurrects an entry that was replaced mid-flight.
	generation uint64
}

// New creates a Queue that applies entries with the given function.
func New(apply ApplyFunc, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{apply: apply, logger: logger}
}

// Enqueue stores an entry for later application, replacing any prior one.
func (q *Queue) Enqueue(entry Entry) {
	if entry.IsZero() {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.st != stateEmpty {
		q.logger.Debug("replacing pending application entry")
	}
	q.entry = entry
	q.generation++
	if q.st != stateFlushing {
		q.st = stateQueued
	}
}

// IsEmpty reports whether nothing is queued.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.st == stateEmpty
}

// FlushOnReady applies the queued entry to the surface. It is triggered
// once per surface-ready signal. If the surface reports unready before
// the flush completes, the flush aborts and the entry remains queued for
// the next ready signal — unless a newer entry replaced it meanwhile.
func (q *Queue) FlushOnReady(surface core.Surface) {
	q.mu.Lock()
	if q.st != stateQueued {
		q.mu.Unlock()
		return
	}
	entry := q.entry
	gen := q.generation
	q.st = stateFlushing
	q.mu.Unlock()

	var err error
	if surface == nil || !surface.Ready() {
		err = core.ErrSurfaceDetached
	} else {
		err = q.apply(surface, entry)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.generation != gen {
		// A newer entry arrived during the flush; keep it queued and let
		// the next ready signal pick it up.
		q.st = stateQueued
		return
	}
	if errors.Is(err, core.ErrSurfaceDetached) {
		q.logger.Debug("surface went unready mid-flush, keeping entry queued")
		q.st = stateQueued
		return
	}
	if err != nil {
		q.logger.Warn("pending application failed", "error", err)
	}
	q.entry = Entry{}
	q.st = stateEmpty
}
