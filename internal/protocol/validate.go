package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ValidationError reports a malformed inbound frame. The raw payload is
// attached for logging; the adapter rejects the frame instead of crashing.
type ValidationError struct {
	Protocol string // "mqtt" or "websocket"
	Reason   string
	Raw      []byte
}

func (e *ValidationError) Error() string {
	raw := string(e.Raw)
	if len(raw) > 256 {
		raw = raw[:256] + "..."
	}
	return fmt.Sprintf("%s: invalid message: %s (payload: %s)", e.Protocol, e.Reason, raw)
}

func invalid(protocol, reason string, raw []byte) *ValidationError {
	return &ValidationError{Protocol: protocol, Reason: reason, Raw: raw}
}

// Validate parses and schema-checks an inbound frame.
// Every inbound payload goes through here before the adapter trusts it.
func Validate(protocol string, raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, invalid(protocol, "not valid JSON: "+err.Error(), raw)
	}

	switch msg.Type {
	case TypeUpdate:
		if msg.TagID == "" {
			return nil, invalid(protocol, "update without tagId", raw)
		}
		if msg.Value == nil {
			return nil, invalid(protocol, "update without value", raw)
		}
		if msg.Quality != "" && !msg.Quality.Valid() {
			return nil, invalid(protocol, "unknown quality: "+string(msg.Quality), raw)
		}
	case TypeBatch, TypeSnapshot:
		if len(msg.Tags) == 0 {
			return nil, invalid(protocol, string(msg.Type)+" without tags", raw)
		}
		for i, p := range msg.Tags {
			if p.TagID == "" {
				return nil, invalid(protocol, fmt.Sprintf("tags[%d] without tagId", i), raw)
			}
			if p.Value == nil {
				return nil, invalid(protocol, fmt.Sprintf("tags[%d] without value", i), raw)
			}
			if p.Quality != "" && !p.Quality.Valid() {
				return nil, invalid(protocol, fmt.Sprintf("tags[%d] unknown quality: %s", i, p.Quality), raw)
			}
		}
	case TypeSubscribe, TypeUnsubscribe:
		// empty tagIds is legal: "all tags"
	case TypeWrite:
		if msg.TagID == "" {
			return nil, invalid(protocol, "write without tagId", raw)
		}
		if msg.Value == nil {
			return nil, invalid(protocol, "write without value", raw)
		}
	case TypeError:
		if msg.Error == "" {
			return nil, invalid(protocol, "error frame without error text", raw)
		}
	case TypePing, TypePong:
		// no required fields
	case "":
		return nil, invalid(protocol, "missing type", raw)
	default:
		return nil, invalid(protocol, "unknown type: "+string(msg.Type), raw)
	}

	if msg.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err != nil {
			return nil, invalid(protocol, "bad timestamp: "+msg.Timestamp, raw)
		}
	}

	return &msg, nil
}
