// Package channel implements the engine's streaming channel contract
// over websocket, plus the provider configuration registry. The wire
// protocol is a stream of JSON frames typed snapshot/update/status; the
// client translates frames into typed events on a single ordered
// channel that the reconciler drains on its own schedule.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leapstack-labs/gridstream/pkg/core"
)

const (
	// DefaultConnectTimeout bounds the wait for a connection; connect
	// surfaces a failure rather than hanging indefinitely.
	DefaultConnectTimeout = 10 * time.Second

	writeTimeout    = 5 * time.Second
	eventBufferSize = 256
)

// Frame types on the wire.
const (
	frameSnapshot        = "snapshot"
	frameSnapshotRequest = "snapshot_request"
	frameUpdate          = "update"
	frameStatus          = "status"
)

// wireFrame is one JSON message on the websocket.
type wireFrame struct {
	Type   string           `json:"type"`
	Source string           `json:"source"`
	Rows   []core.RowRecord `json:"rows,omitempty"`
	Stats  core.StreamStats `json:"stats,omitempty"`
}

// WSChannel is a websocket-backed core.StreamChannel.
type WSChannel struct {
	logger *slog.Logger
	events chan core.Event

	mu          sync.Mutex
	conn        *websocket.Conn
	cfg         core.ProviderConfig
	done        chan struct{}
	status      map[string]core.ChannelStatus
	snapWaiters map[string]chan []core.RowRecord
}

// NewWSChannel creates a disconnected channel client. If logger is nil,
// a discard logger is used.
func NewWSChannel(logger *slog.Logger) *WSChannel {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WSChannel{
		logger:      logger,
		events:      make(chan core.Event, eventBufferSize),
		status:      make(map[string]core.ChannelStatus),
		snapWaiters: make(map[string]chan []core.RowRecord),
	}
}

// Connect dials the provider's websocket endpoint. It gives up after the
// provider's connect timeout.
func (c *WSChannel) Connect(ctx context.Context, cfg core.ProviderConfig) error {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("connect to provider %s (%s): %w", cfg.ID, cfg.URL, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("provider %s: already connected", cfg.ID)
	}
	c.conn = conn
	c.cfg = cfg
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.logger.Info("stream channel connected", "provider", cfg.ID, "url", cfg.URL)
	go c.readLoop(conn, done)
	return nil
}

// Disconnect closes the connection. Safe to call when not connected.
func (c *WSChannel) Disconnect(_ context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(writeTimeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

// Events returns the typed event stream. Events are delivered in wire
// order; the channel is closed by Close.
func (c *WSChannel) Events() <-chan core.Event {
	return c.events
}

// Snapshot requests the channel's cached bulk row set for a source. An
// empty slice means the upstream holds no cached snapshot.
func (c *WSChannel) Snapshot(ctx context.Context, sourceID string) ([]core.RowRecord, error) {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	if conn == nil {
		c.mu.Unlock()
		return nil, core.ErrNotConnected
	}
	waiter := make(chan []core.RowRecord, 1)
	c.snapWaiters[sourceID] = waiter
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.snapWaiters, sourceID)
		c.mu.Unlock()
	}()

	if err := c.writeFrame(conn, wireFrame{Type: frameSnapshotRequest, Source: sourceID}); err != nil {
		return nil, fmt.Errorf("request snapshot for %s: %w", sourceID, err)
	}

	select {
	case rows := <-waiter:
		return rows, nil
	case <-done:
		return nil, core.ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the last status reported for a source, falling back to
// bare connectivity when the upstream has not reported yet.
func (c *WSChannel) Status(_ context.Context, sourceID string) (core.ChannelStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.status[sourceID]; ok {
		st.IsConnected = c.conn != nil
		return st, nil
	}
	return core.ChannelStatus{IsConnected: c.conn != nil}, nil
}

// Close disconnects and closes the event stream. The channel cannot be
// reused afterwards.
func (c *WSChannel) Close() error {
	err := c.Disconnect(context.Background())
	close(c.events)
	return err
}

func (c *WSChannel) writeFrame(conn *websocket.Conn, f wireFrame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// readLoop decodes frames until the connection drops, routing
// synchronous snapshot replies to their waiters and everything else to
// the event stream.
func (c *WSChannel) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var f wireFrame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("stream channel read failed", "error", err)
			}
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			return
		}

		switch f.Type {
		case frameSnapshot:
			c.mu.Lock()
			waiter, waiting := c.snapWaiters[f.Source]
			if waiting {
				delete(c.snapWaiters, f.Source)
			}
			c.mu.Unlock()
			if waiting {
				waiter <- f.Rows
				continue
			}
			c.emit(core.Event{Kind: core.EventSnapshot, SourceID: f.Source, Rows: f.Rows})
		case frameUpdate:
			c.emit(core.Event{Kind: core.EventUpdate, SourceID: f.Source, Rows: f.Rows})
		case frameStatus:
			c.mu.Lock()
			c.status[f.Source] = core.ChannelStatus{IsConnected: true}
			c.mu.Unlock()
			c.emit(core.Event{Kind: core.EventStatus, SourceID: f.Source, Stats: f.Stats})
		default:
			c.logger.Debug("ignoring unknown frame type", "type", f.Type)
		}
	}
}

// emit blocks rather than dropping: event order within a session is a
// guarantee, and backpressure belongs on the socket, not on the
// reconciler.
func (c *WSChannel) emit(ev core.Event) {
	c.events <- ev
}
