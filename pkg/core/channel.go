package core

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by channel operations that require an
// established connection.
var ErrNotConnected = errors.New("stream channel not connected")

// EventKind discriminates the events a stream channel delivers.
type EventKind string

const (
	// EventSnapshot carries a complete bulk row set for a source.
	EventSnapshot EventKind = "snapshot"
	// EventUpdate carries an incremental batch of row mutations.
	EventUpdate EventKind = "update"
	// EventStatus carries channel statistics for a source.
	EventStatus EventKind = "status"
)

// Event is a single typed message from the streaming channel. All stream
// input reaches the reconciler through these, on one channel, in delivery
// order.
type Event struct {
	Kind     EventKind
	SourceID string
	Rows     []RowRecord
	Stats    StreamStats
}

// StreamStats is the status-panel metric payload: what the engine reports
// about an active stream session.
type StreamStats struct {
	Connected        bool      `json:"connected"`
	Mode             string    `json:"mode"`
	MessageCount     int64     `json:"messageCount"`
	RowCount         int       `json:"rowCount"`
	SnapshotComplete bool      `json:"snapshotComplete"`
	LastUpdate       time.Time `json:"lastUpdate,omitempty"`
}

// ChannelStatus is the upstream channel's view of a source connection.
type ChannelStatus struct {
	IsConnected bool           `json:"isConnected"`
	Detail      map[string]any `json:"detail,omitempty"`
}

// ProviderConfig identifies and configures an upstream data provider.
type ProviderConfig struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	URL            string            `json:"url" yaml:"url"`
	SourceID       string            `json:"sourceId" yaml:"source_id"`
	KeyColumn      string            `json:"keyColumn,omitempty" yaml:"key_column"`
	AutoConnect    bool              `json:"autoConnect,omitempty" yaml:"auto_connect"`
	ConnectTimeout time.Duration     `json:"connectTimeout,omitempty" yaml:"connect_timeout"`
	Params         map[string]string `json:"params,omitempty" yaml:"params"`
}

// StreamChannel is the engine's contract with the upstream data provider.
// The engine is a pure consumer: it connects, disconnects and drains
// Events; it never manages channel lifecycle beyond that.
type StreamChannel interface {
	// Connect establishes the channel for the given provider. It gives up
	// after the provider's connect timeout rather than hanging.
	Connect(ctx context.Context, cfg ProviderConfig) error
	// Disconnect tears the connection down. Safe to call when not
	// connected.
	Disconnect(ctx context.Context) error
	// Snapshot returns the channel's cached bulk row set for a source, or
	// an empty slice when the channel holds none.
	Snapshot(ctx context.Context, sourceID string) ([]RowRecord, error)
	// Status returns connection status for a source.
	Status(ctx context.Context, sourceID string) (ChannelStatus, error)
	// Events returns the typed event stream. Events for one session are
	// delivered in order; the channel is closed when the client closes.
	Events() <-chan Event
}
