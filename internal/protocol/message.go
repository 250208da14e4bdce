// Package protocol defines the framed wire format shared by the
// push-based adapters (MQTT, WebSocket) and its schema validation.
package protocol

import (
	"time"

	"github.com/pv/scada-bridge/internal/tag"
)

// MessageType enumerates the push protocol frame types
type MessageType string

const (
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypeWrite       MessageType = "write"
	TypeUpdate      MessageType = "update"
	TypeBatch       MessageType = "batch"
	TypeSnapshot    MessageType = "snapshot"
	TypeError       MessageType = "error"
	TypePing        MessageType = "ping"
	TypePong        MessageType = "pong"
)

// TagPayload is one tag value inside a batch or snapshot frame
type TagPayload struct {
	TagID     string      `json:"tagId"`
	Value     *float64    `json:"value,omitempty"`
	Quality   tag.Quality `json:"quality,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// Message is a single push protocol frame.
// Optional fields are pointers so presence can be validated per type.
type Message struct {
	Type      MessageType  `json:"type"`
	TagID     string       `json:"tagId,omitempty"`
	TagIDs    []string     `json:"tagIds,omitempty"`
	Value     *float64     `json:"value,omitempty"`
	Quality   tag.Quality  `json:"quality,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
	Tags      []TagPayload `json:"tags,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// ParseTimestamp returns the frame timestamp, or now if absent
func (m *Message) ParseTimestamp() time.Time {
	if m.Timestamp == "" {
		return time.Now().UTC()
	}
	ts, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return time.Now().UTC()
	}
	return ts
}

// NewSubscribe builds a subscribe frame. Empty ids = all tags.
func NewSubscribe(ids []string) Message {
	return Message{Type: TypeSubscribe, TagIDs: ids}
}

// NewWrite builds a write frame
func NewWrite(id string, value float64) Message {
	return Message{Type: TypeWrite, TagID: id, Value: &value}
}

// NewPing builds a ping frame
func NewPing() Message {
	return Message{Type: TypePing, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
}
