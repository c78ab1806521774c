package stream

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridstream/internal/surface"
	"github.com/leapstack-labs/gridstream/internal/testutil"
	"github.com/leapstack-labs/gridstream/pkg/core"
)

// fakeChannel is a scriptable StreamChannel for reconciler tests.
type fakeChannel struct {
	events   chan core.Event
	snapshot []core.RowRecord
	snapErr  error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan core.Event, 16)}
}

func (f *fakeChannel) Connect(context.Context, core.ProviderConfig) error { return nil }
func (f *fakeChannel) Disconnect(context.Context) error                   { return nil }
func (f *fakeChannel) Events() <-chan core.Event                          { return f.events }

func (f *fakeChannel) Snapshot(context.Context, string) ([]core.RowRecord, error) {
	return f.snapshot, f.snapErr
}

func (f *fakeChannel) Status(context.Context, string) (core.ChannelStatus, error) {
	return core.ChannelStatus{}, nil
}

func records(n int, offset int) []core.RowRecord {
	out := make([]core.RowRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, core.RowRecord{
			"id":    string(rune('a'+offset+i)) + "-row",
			"value": offset + i,
		})
	}
	return out
}

func readySurface(t *testing.T) *surface.Memory {
	t.Helper()
	surf := surface.NewMemory("id", []core.Column{{ID: "id"}, {ID: "value"}})
	surf.SetReady(true)
	return surf
}

func TestOnBatchBuffersBeforeComplete(t *testing.T) {
	surf := readySurface(t)
	r := New(testutil.NewTestLogger(t))
	r.AttachSurface(surf)
	r.BeginSession()

	r.OnBatch(records(4, 0))
	r.OnBatch(records(6, 4))

	assert.Equal(t, ModeReceiving, r.Mode())
	assert.Equal(t, 10, r.BufferLen())
	assert.Equal(t, int64(10), r.MessageCount())
	// Nothing reaches the surface until the snapshot completes.
	assert.Equal(t, 0, surf.RowCount())
	assert.Equal(t, 10, r.RowCount())
}

func TestSnapshotHandoffExactlyOnce(t *testing.T) {
	surf := readySurface(t)
	r := New(testutil.NewTestLogger(t))
	r.AttachSurface(surf)
	r.BeginSession()

	r.OnBatch(records(10, 0))
	r.MarkSnapshotComplete()

	assert.Equal(t, ModeComplete, r.Mode())
	assert.Equal(t, 0, r.BufferLen())
	assert.Equal(t, 10, surf.RowCount())

	// A duplicate completion signal must not re-hand-off an empty buffer.
	r.MarkSnapshotComplete()
	assert.Equal(t, 10, surf.RowCount())
}

func TestIncrementalUpsertsAfterComplete(t *testing.T) {
	surf := readySurface(t)
	r := New(testutil.NewTestLogger(t))
	r.AttachSurface(surf)
	r.BeginSession()

	r.OnBatch(records(10, 0))
	r.MarkSnapshotComplete()

	// One existing key updated in place plus two new rows.
	r.OnBatch([]core.RowRecord{
		{"id": "a-row", "value": 999},
		{"id": "x-new-1", "value": 1},
		{"id": "x-new-2", "value": 2},
	})

	assert.Equal(t, 12, surf.RowCount())
	updated, ok := surf.Row("a-row")
	require.True(t, ok)
	assert.Equal(t, 999, updated["value"])
	assert.Equal(t, int64(13), r.MessageCount())
}

func TestUpdatesDroppedWithoutSurface(t *testing.T) {
	r := New(testutil.NewTestLogger(t))
	r.BeginSession()
	r.OnBatch(records(3, 0))
	r.MarkSnapshotComplete()

	// No surface attached: the update is dropped, not queued, and the
	// counter still advances.
	r.OnBatch(records(2, 10))
	assert.Equal(t, int64(5), r.MessageCount())
	assert.Equal(t, ModeComplete, r.Mode())
}

func TestRowCountRetainedAfterDetachedCompletion(t *testing.T) {
	r := New(testutil.NewTestLogger(t))
	r.BeginSession()
	r.OnBatch(records(3, 0))

	// Completing without a surface discards the buffer, but the handoff
	// size still backs the row count.
	r.MarkSnapshotComplete()
	assert.Equal(t, 0, r.BufferLen())
	assert.Equal(t, 3, r.RowCount())
	assert.Equal(t, 3, r.Stats().RowCount)

	r.Reset()
	assert.Equal(t, 0, r.RowCount())
}

func TestReplaceSnapshot(t *testing.T) {
	surf := readySurface(t)
	r := New(testutil.NewTestLogger(t))
	r.AttachSurface(surf)
	r.BeginSession()

	r.ReplaceSnapshot(records(5, 0))

	assert.Equal(t, ModeComplete, r.Mode())
	assert.Equal(t, 5, surf.RowCount())

	// A later bulk set replaces wholesale rather than merging.
	r.ReplaceSnapshot(records(3, 10))
	assert.Equal(t, 3, surf.RowCount())
}

func TestRequestCachedSnapshot(t *testing.T) {
	t.Run("empty leaves session untouched", func(t *testing.T) {
		r := New(testutil.NewTestLogger(t))
		r.BeginSession()
		ch := newFakeChannel()

		hit, err := r.RequestCachedSnapshot(context.Background(), ch, "src")
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, ModeRequesting, r.Mode())
	})

	t.Run("cached rows complete the session", func(t *testing.T) {
		surf := readySurface(t)
		r := New(testutil.NewTestLogger(t))
		r.AttachSurface(surf)
		r.BeginSession()
		ch := newFakeChannel()
		ch.snapshot = records(7, 0)

		hit, err := r.RequestCachedSnapshot(context.Background(), ch, "src")
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, ModeComplete, r.Mode())
		assert.Equal(t, 7, surf.RowCount())
	})

	t.Run("channel error is propagated", func(t *testing.T) {
		r := New(testutil.NewTestLogger(t))
		ch := newFakeChannel()
		ch.snapErr = core.ErrNotConnected

		_, err := r.RequestCachedSnapshot(context.Background(), ch, "src")
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrNotConnected)
	})
}

func TestNotifyThrottle(t *testing.T) {
	var notified []core.StreamStats
	now := time.Unix(1000, 0)

	r := New(testutil.NewTestLogger(t),
		WithNotify(func(s core.StreamStats) { notified = append(notified, s) }),
		WithNotifyInterval(100*time.Millisecond),
	)
	r.now = func() time.Time { return now }
	r.AttachSurface(readySurface(t))
	r.BeginSession()

	// First notification bypasses the throttle window.
	r.OnBatch(records(1, 0))
	require.Len(t, notified, 1)

	// Within the window: suppressed.
	now = now.Add(10 * time.Millisecond)
	r.OnBatch(records(1, 1))
	now = now.Add(20 * time.Millisecond)
	r.OnBatch(records(1, 2))
	require.Len(t, notified, 1)

	// Past the window: delivered.
	now = now.Add(200 * time.Millisecond)
	r.OnBatch(records(1, 3))
	require.Len(t, notified, 2)

	// Completion forces a final notification regardless of the window.
	now = now.Add(time.Millisecond)
	r.MarkSnapshotComplete()
	require.Len(t, notified, 3)
	assert.True(t, notified[2].SnapshotComplete)
	assert.Equal(t, 4, notified[2].RowCount)
}

func TestMissingKeySynthesized(t *testing.T) {
	surf := readySurface(t)
	r := New(testutil.NewTestLogger(t))
	r.AttachSurface(surf)
	r.BeginSession()

	rec := core.RowRecord{"value": 42}
	r.OnBatch([]core.RowRecord{rec})

	key, ok := rec.Key("id")
	require.True(t, ok)
	assert.True(t, core.IsSynthesizedKey(key))
	assert.True(t, strings.HasPrefix(key, core.MissingKeyPrefix))
	assert.Equal(t, 1, r.BufferLen())
}

func TestRowTransformAppliedBothPaths(t *testing.T) {
	surf := readySurface(t)
	r := New(testutil.NewTestLogger(t))
	r.AttachSurface(surf)
	r.SetRowTransform(func(rec core.RowRecord) {
		rec["doubled"] = rec["value"].(int) * 2
	})
	r.BeginSession()

	r.OnBatch([]core.RowRecord{{"id": "k1", "value": 3}})
	r.MarkSnapshotComplete()
	r.OnBatch([]core.RowRecord{{"id": "k2", "value": 5}})

	row1, ok := surf.Row("k1")
	require.True(t, ok)
	assert.Equal(t, 6, row1["doubled"])
	row2, ok := surf.Row("k2")
	require.True(t, ok)
	assert.Equal(t, 10, row2["doubled"])
}

func TestResetIsIdempotent(t *testing.T) {
	r := New(testutil.NewTestLogger(t))
	r.BeginSession()
	r.OnBatch(records(5, 0))

	r.Reset()
	r.Reset()

	assert.Equal(t, ModeIdle, r.Mode())
	assert.Equal(t, 0, r.BufferLen())
	assert.Equal(t, int64(0), r.MessageCount())
}

func TestRunDrainsEventsInOrder(t *testing.T) {
	surf := readySurface(t)
	var statuses []core.StreamStats
	r := New(testutil.NewTestLogger(t),
		WithNotify(func(s core.StreamStats) { statuses = append(statuses, s) }))
	r.AttachSurface(surf)
	r.BeginSession()

	ch := newFakeChannel()
	ch.events <- core.Event{Kind: core.EventUpdate, Rows: records(2, 0)}
	ch.events <- core.Event{Kind: core.EventSnapshot, Rows: records(4, 0)}
	ch.events <- core.Event{Kind: core.EventUpdate, Rows: []core.RowRecord{{"id": "late", "value": 1}}}
	ch.events <- core.Event{Kind: core.EventStatus, Stats: core.StreamStats{Connected: true, Mode: "receiving"}}
	close(ch.events)

	err := r.Run(context.Background(), ch)
	require.NoError(t, err)

	assert.Equal(t, ModeComplete, r.Mode())
	assert.Equal(t, 5, surf.RowCount())
	require.NotEmpty(t, statuses)
	assert.Equal(t, "receiving", statuses[len(statuses)-1].Mode)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	r := New(testutil.NewTestLogger(t))
	ch := newFakeChannel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, ch) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
