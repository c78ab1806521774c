package pending

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridstream/internal/surface"
	"github.com/leapstack-labs/gridstream/internal/testutil"
	"github.com/leapstack-labs/gridstream/pkg/core"
)

func testSurface(ready bool) *surface.Memory {
	surf := surface.NewMemory("id", []core.Column{{ID: "id"}})
	surf.SetReady(ready)
	return surf
}

func profileEntry(name string) Entry {
	return Entry{Profile: &core.Profile{ID: name, Name: name}}
}

func TestFlushAppliesQueuedEntry(t *testing.T) {
	var applied []string
	q := New(func(_ core.Surface, e Entry) error {
		applied = append(applied, e.Profile.Name)
		return nil
	}, testutil.NewTestLogger(t))

	q.Enqueue(profileEntry("alpha"))
	assert.False(t, q.IsEmpty())

	q.FlushOnReady(testSurface(true))
	assert.Equal(t, []string{"alpha"}, applied)
	assert.True(t, q.IsEmpty())

	// Nothing queued: a second ready signal is a no-op.
	q.FlushOnReady(testSurface(true))
	assert.Equal(t, []string{"alpha"}, applied)
}

func TestEnqueueReplacesLastWriterWins(t *testing.T) {
	var applied []string
	q := New(func(_ core.Surface, e Entry) error {
		applied = append(applied, e.Profile.Name)
		return nil
	}, testutil.NewTestLogger(t))

	q.Enqueue(profileEntry("first"))
	q.Enqueue(profileEntry("second"))
	q.FlushOnReady(testSurface(true))

	// Only the most recently requested entry is ever applied.
	assert.Equal(t, []string{"second"}, applied)
}

func TestZeroEntryIgnored(t *testing.T) {
	q := New(func(core.Surface, Entry) error { return nil }, testutil.NewTestLogger(t))
	q.Enqueue(Entry{})
	assert.True(t, q.IsEmpty())
}

func TestUnreadySurfaceKeepsEntryQueued(t *testing.T) {
	var applied int
	q := New(func(core.Surface, Entry) error {
		applied++
		return nil
	}, testutil.NewTestLogger(t))

	q.Enqueue(profileEntry("alpha"))
	q.FlushOnReady(testSurface(false))
	assert.Equal(t, 0, applied)
	assert.False(t, q.IsEmpty())

	q.FlushOnReady(testSurface(true))
	assert.Equal(t, 1, applied)
	assert.True(t, q.IsEmpty())
}

func TestDetachedDuringApplyRequeues(t *testing.T) {
	calls := 0
	q := New(func(core.Surface, Entry) error {
		calls++
		if calls == 1 {
			return core.ErrSurfaceDetached
		}
		return nil
	}, testutil.NewTestLogger(t))

	q.Enqueue(profileEntry("alpha"))
	q.FlushOnReady(testSurface(true))
	// The surface went away mid-apply: the entry survives for the next
	// ready signal.
	assert.False(t, q.IsEmpty())

	q.FlushOnReady(testSurface(true))
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 2, calls)
}

func TestNewerEntryDuringFlushIsKept(t *testing.T) {
	var q *Queue
	var applied []string
	q = New(func(_ core.Surface, e Entry) error {
		applied = append(applied, e.Profile.Name)
		if e.Profile.Name == "old" {
			// A newer request arrives while the old one is being applied.
			q.Enqueue(profileEntry("new"))
		}
		return nil
	}, testutil.NewTestLogger(t))

	q.Enqueue(profileEntry("old"))
	q.FlushOnReady(testSurface(true))

	// The newer entry must not be lost even though the old apply
	// succeeded.
	require.False(t, q.IsEmpty())
	q.FlushOnReady(testSurface(true))
	assert.Equal(t, []string{"old", "new"}, applied)
	assert.True(t, q.IsEmpty())
}

func TestApplyErrorDropsEntry(t *testing.T) {
	q := New(func(core.Surface, Entry) error {
		return assert.AnError
	}, testutil.NewTestLogger(t))

	q.Enqueue(profileEntry("alpha"))
	q.FlushOnReady(testSurface(true))

	// A real failure is logged and dropped, not retried forever.
	assert.True(t, q.IsEmpty())
}
