// Package adapter defines the uniform contract for protocol adapters
// that produce and consume tag values (simulation, REST, MQTT, WebSocket).
package adapter

import (
	"context"
	"time"

	"github.com/pv/scada-bridge/internal/tag"
)

// State represents the current state of an adapter connection
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// ConnectionStatus describes the adapter connection for status polling
type ConnectionStatus struct {
	State         State     `json:"state"`
	LastError     string    `json:"lastError,omitempty"`
	ConnectedAt   time.Time `json:"connectedAt,omitempty"`
	LastAttemptAt time.Time `json:"lastAttemptAt,omitempty"`
	Reconnects    int64     `json:"reconnects"`
}

// Statistics accumulates adapter I/O counters
type Statistics struct {
	Reads      int64     `json:"reads"`
	Writes     int64     `json:"writes"`
	Errors     int64     `json:"errors"`
	Reconnects int64     `json:"reconnects"`
	LastUpdate time.Time `json:"lastUpdate,omitempty"`
}

// Callback receives a batch of tag values from the adapter.
// Invoked synchronously from the producing goroutine.
type Callback func(values []tag.Value)

// Unsubscribe removes a previously registered subscription
type Unsubscribe func()

// ProtocolAdapter is the uniform contract for reading/writing/subscribing
// to tag values. Implementations: simulation, REST polling, MQTT,
// WebSocket. Exactly one adapter instance produces values for a given
// registered tag set.
type ProtocolAdapter interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	ReadTag(ctx context.Context, id string) (tag.Value, error)
	ReadTags(ctx context.Context, ids []string) ([]tag.Value, error)
	ReadAllTags(ctx context.Context) ([]tag.Value, error)

	// WriteTag returns false (without error) for read-only or unknown tags
	WriteTag(ctx context.Context, id string, value float64) (bool, error)

	// Subscribe registers a callback for the given tags.
	// Empty ids means "all tags".
	Subscribe(ids []string, cb Callback) Unsubscribe

	ConnectionStatus() ConnectionStatus
	Statistics() Statistics
}
