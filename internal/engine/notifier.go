package engine

import (
	"sync"

	"github.com/leapstack-labs/gridstream/pkg/core"
)

// StatusNotifier fans stream statistics out to subscribers (status
// panels, SSE handlers). Slow subscribers never block the stream path:
// when a subscriber's buffer is full the stale value is dropped and the
// newest one takes its place.
type StatusNotifier struct {
	mu   sync.Mutex
	subs map[chan core.StreamStats]struct{}
	last core.StreamStats
	seen bool
}

func NewStatusNotifier() *StatusNotifier {
	return &StatusNotifier{subs: make(map[chan core.StreamStats]struct{})}
}

// Subscribe registers a subscriber and returns its channel plus an
// unsubscribe function. The current stats are delivered immediately when
// any have been broadcast.
func (n *StatusNotifier) Subscribe() (<-chan core.StreamStats, func()) {
	ch := make(chan core.StreamStats, 1)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	if n.seen {
		ch <- n.last
	}
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		if _, ok := n.subs[ch]; ok {
			delete(n.subs, ch)
			close(ch)
		}
		n.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast delivers stats to all subscribers, latest-wins.
func (n *StatusNotifier) Broadcast(stats core.StreamStats) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = stats
	n.seen = true
	for ch := range n.subs {
		select {
		case ch <- stats:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- stats:
			default:
			}
		}
	}
}

// Last returns the most recently broadcast stats.
func (n *StatusNotifier) Last() (core.StreamStats, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last, n.seen
}
