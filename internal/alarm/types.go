// Package alarm implements the ISA-18.2 style alarm state machine:
// evaluation of tag values against thresholds with deadband, operator
// acknowledgement, shelving (suppression) and a bounded alarm history.
package alarm

import (
	"time"
)

// Type identifies the alarm condition
type Type string

const (
	TypeHiHi       Type = "HIHI"
	TypeHi         Type = "HI"
	TypeLo         Type = "LO"
	TypeLoLo       Type = "LOLO"
	TypeBadQuality Type = "BAD_QUALITY"
)

// State is the alarm lifecycle state. NORMAL is terminal: it only ever
// appears on archived records, never on a live alarm.
type State string

const (
	StateNormal   State = "NORMAL"
	StateUnack    State = "UNACK"
	StateAcked    State = "ACKED"
	StateRtnUnack State = "RTN_UNACK"
)

// Priority orders alarms for display
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// rank returns a sortable weight: CRITICAL > HIGH > MEDIUM > LOW
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// priorityFor maps an alarm type to its display priority
func priorityFor(t Type) Priority {
	switch t {
	case TypeHiHi, TypeLoLo:
		return PriorityCritical
	case TypeHi, TypeLo, TypeBadQuality:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// Alarm is one alarm instance. Identity is the (TagID, Type) pair:
// a sustained condition keeps one instance alive and updates its value.
type Alarm struct {
	ID             string     `json:"id"`
	TagID          string     `json:"tagId"`
	Type           Type       `json:"type"`
	State          State      `json:"state"`
	Priority       Priority   `json:"priority"`
	Value          float64    `json:"value"`     // last seen value while in alarm
	Threshold      float64    `json:"threshold"` // crossed limit (0 for BAD_QUALITY)
	RaisedAt       time.Time  `json:"raisedAt"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	ClearedAt      *time.Time `json:"clearedAt,omitempty"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
}

// Suppression shelves alarm evaluation for one tag. At most one per tag.
type Suppression struct {
	TagID        string     `json:"tagId"`
	SuppressedAt time.Time  `json:"suppressedAt"`
	SuppressedBy string     `json:"suppressedBy"`
	Reason       string     `json:"reason,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"` // nil = until removed
}

// expired returns true if the suppression TTL elapsed
func (s *Suppression) expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}
