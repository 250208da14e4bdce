package alarm

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pv/scada-bridge/internal/logger"
	"github.com/pv/scada-bridge/internal/tag"
)

const (
	// Evaluation is skipped during warmup to avoid false alarms before
	// upstream state has synced; last values are still tracked.
	defaultWarmup = 5 * time.Second

	// Bounded alarm history: oldest records are dropped beyond this cap
	defaultHistoryCap = 1000

	// Minimum interval between log lines for the same alarm key,
	// so a chattering alarm cannot flood the log
	logThrottle = 30 * time.Second
)

// EventCallback receives live alarm transitions (raise, state change, archive)
type EventCallback func(a Alarm)

// ArchiveCallback receives closed alarms for durable persistence
type ArchiveCallback func(a Alarm)

// Manager runs the alarm state machine over incoming tag values.
// A single mutex covers the active map, tracked conditions and
// suppressions so evaluate and acknowledge never race each other.
type Manager struct {
	registry *tag.Registry

	mu           sync.Mutex
	active       map[string]*Alarm // key: tagID + "/" + type
	tracked      map[string]Type   // current alarm condition per tag ("" = none)
	lastValues   map[string]float64
	suppressions map[string]*Suppression
	history      []Alarm
	historyCap   int
	lastLog      map[string]time.Time

	startedAt time.Time
	warmup    time.Duration
	now       func() time.Time

	eventCb   EventCallback
	archiveCb ArchiveCallback
}

// NewManager creates an alarm manager for a tag catalog
func NewManager(registry *tag.Registry) *Manager {
	return &Manager{
		registry:     registry,
		active:       make(map[string]*Alarm),
		tracked:      make(map[string]Type),
		lastValues:   make(map[string]float64),
		suppressions: make(map[string]*Suppression),
		historyCap:   defaultHistoryCap,
		lastLog:      make(map[string]time.Time),
		warmup:       defaultWarmup,
		now:          func() time.Time { return time.Now().UTC() },
		startedAt:    time.Now().UTC(),
	}
}

// SetEventCallback registers the live alarm stream consumer
func (m *Manager) SetEventCallback(cb EventCallback) {
	m.mu.Lock()
	m.eventCb = cb
	m.mu.Unlock()
}

// SetArchiveCallback registers the consumer of closed alarms
func (m *Manager) SetArchiveCallback(cb ArchiveCallback) {
	m.mu.Lock()
	m.archiveCb = cb
	m.mu.Unlock()
}

func alarmKey(tagID string, t Type) string {
	return tagID + "/" + string(t)
}

// Evaluate runs one tag value through the state machine
func (m *Manager) Evaluate(v tag.Value) {
	def := m.registry.ByID(v.TagID)
	if def == nil {
		return
	}

	m.mu.Lock()
	m.lastValues[v.TagID] = v.Value

	// Warmup window: track values only
	if m.now().Sub(m.startedAt) < m.warmup {
		m.mu.Unlock()
		return
	}

	// Shelved tags are not evaluated; purge expired shelves on the way
	if s, ok := m.suppressions[v.TagID]; ok {
		if !s.expired(m.now()) {
			m.mu.Unlock()
			return
		}
		delete(m.suppressions, v.TagID)
	}

	lastType := m.tracked[v.TagID]
	newType, threshold := computeCondition(def, v, lastType)

	var events []Alarm
	switch {
	case newType == lastType:
		if newType != "" {
			// Sustained condition: no duplicate raise, update last value
			if a, ok := m.active[alarmKey(v.TagID, newType)]; ok {
				a.Value = v.Value
			}
		}
	case newType == "":
		events = append(events, m.clearCondition(def, v, lastType)...)
	default:
		if lastType != "" {
			// Escalation or de-escalation supersedes the previous condition
			events = append(events, m.supersede(v.TagID, lastType)...)
		}
		events = append(events, m.raise(def, v, newType, threshold)...)
	}
	cb := m.eventCb
	m.mu.Unlock()

	if cb != nil {
		for _, e := range events {
			cb(e)
		}
	}
}

// computeCondition evaluates thresholds from most to least severe.
// The exact comparison order is deliberate: the HI branch keeps
// reporting HIHI while the value is inside the HIHI deadband during
// de-escalation, and the clear branch holds any active condition until
// the value recedes past threshold +/- deadband.
func computeCondition(def *tag.Definition, v tag.Value, lastType Type) (Type, float64) {
	if v.Quality == tag.QualityBad {
		return TypeBadQuality, 0
	}
	// BAD_QUALITY снимается только при возврате качества в GOOD;
	// UNCERTAIN и STALE удерживают аварию
	if lastType == TypeBadQuality && v.Quality != tag.QualityGood {
		return TypeBadQuality, 0
	}

	t := def.Thresholds
	db := def.Deadband
	value := v.Value

	if t.HiHi != nil && value >= *t.HiHi {
		return TypeHiHi, *t.HiHi
	}
	if t.Hi != nil && value >= *t.Hi {
		if lastType == TypeHiHi && t.HiHi != nil && value > *t.HiHi-db {
			return TypeHiHi, *t.HiHi
		}
		return TypeHi, *t.Hi
	}
	if t.LoLo != nil && value <= *t.LoLo {
		return TypeLoLo, *t.LoLo
	}
	if t.Lo != nil && value <= *t.Lo {
		if lastType == TypeLoLo && t.LoLo != nil && value < *t.LoLo+db {
			return TypeLoLo, *t.LoLo
		}
		return TypeLo, *t.Lo
	}

	// No threshold crossed: hold the active condition until the value
	// recedes past the deadband-adjusted clearing threshold
	switch lastType {
	case TypeHiHi:
		if t.HiHi != nil && value > *t.HiHi-db {
			return TypeHiHi, *t.HiHi
		}
		// fell out of HIHI but may still be held in HI
		if t.Hi != nil && value > *t.Hi-db {
			return TypeHi, *t.Hi
		}
	case TypeHi:
		if t.Hi != nil && value > *t.Hi-db {
			return TypeHi, *t.Hi
		}
	case TypeLoLo:
		if t.LoLo != nil && value < *t.LoLo+db {
			return TypeLoLo, *t.LoLo
		}
		if t.Lo != nil && value < *t.Lo+db {
			return TypeLo, *t.Lo
		}
	case TypeLo:
		if t.Lo != nil && value < *t.Lo+db {
			return TypeLo, *t.Lo
		}
	case TypeBadQuality:
		// quality returned to GOOD: condition cleared
	}

	return "", 0
}

// raise creates (or re-activates) the alarm for (tag, type). Called under mu.
func (m *Manager) raise(def *tag.Definition, v tag.Value, t Type, threshold float64) []Alarm {
	key := alarmKey(v.TagID, t)
	m.tracked[v.TagID] = t

	if a, ok := m.active[key]; ok {
		// Same condition returned while the old instance awaited ack:
		// identity is the (tag, type) pair, so re-activate it
		a.State = StateUnack
		a.Value = v.Value
		a.ClearedAt = nil
		m.throttledLog("Alarm re-raised", a)
		return []Alarm{*a}
	}

	a := &Alarm{
		ID:        uuid.NewString(),
		TagID:     v.TagID,
		Type:      t,
		State:     StateUnack,
		Priority:  priorityFor(t),
		Value:     v.Value,
		Threshold: threshold,
		RaisedAt:  m.now(),
	}
	m.active[key] = a
	m.throttledLog("Alarm raised", a)
	return []Alarm{*a}
}

// clearCondition handles return to normal. Called under mu.
func (m *Manager) clearCondition(def *tag.Definition, v tag.Value, lastType Type) []Alarm {
	delete(m.tracked, v.TagID)
	if lastType == "" {
		return nil
	}

	key := alarmKey(v.TagID, lastType)
	a, ok := m.active[key]
	if !ok {
		return nil
	}

	now := m.now()
	a.ClearedAt = &now
	a.Value = v.Value

	switch a.State {
	case StateUnack:
		// Operator still has to acknowledge
		a.State = StateRtnUnack
		m.throttledLog("Alarm returned to normal, awaiting ack", a)
		return []Alarm{*a}
	case StateAcked:
		m.archiveLocked(a)
		delete(m.active, key)
		m.throttledLog("Alarm cleared", a)
		return []Alarm{*a}
	}
	return nil
}

// supersede archives the previous condition on escalation/de-escalation.
// Called under mu.
func (m *Manager) supersede(tagID string, lastType Type) []Alarm {
	key := alarmKey(tagID, lastType)
	a, ok := m.active[key]
	if !ok {
		return nil
	}
	now := m.now()
	a.ClearedAt = &now
	m.archiveLocked(a)
	delete(m.active, key)
	return []Alarm{*a}
}

// Acknowledge moves UNACK to ACKED, archives RTN_UNACK.
// Unknown id or an already-ACKED alarm is a no-op returning false.
func (m *Manager) Acknowledge(alarmID, operator string) bool {
	m.mu.Lock()

	var found *Alarm
	var foundKey string
	for key, a := range m.active {
		if a.ID == alarmID {
			found = a
			foundKey = key
			break
		}
	}
	if found == nil {
		m.mu.Unlock()
		return false
	}

	now := m.now()
	var event Alarm
	switch found.State {
	case StateUnack:
		found.State = StateAcked
		found.AcknowledgedAt = &now
		found.AcknowledgedBy = operator
		event = *found
	case StateRtnUnack:
		found.State = StateNormal
		found.AcknowledgedAt = &now
		found.AcknowledgedBy = operator
		m.archiveLocked(found)
		delete(m.active, foundKey)
		if t, ok := m.tracked[found.TagID]; ok && t == found.Type {
			delete(m.tracked, found.TagID)
		}
		event = *found
	default:
		m.mu.Unlock()
		return false
	}
	cb := m.eventCb
	m.mu.Unlock()

	logger.Info("Alarm acknowledged", "alarm_id", alarmID, "tag", event.TagID, "operator", operator)
	if cb != nil {
		cb(event)
	}
	return true
}

// Suppress shelves a tag (ttl 0 = until removed). Replaces any existing shelf.
func (m *Manager) Suppress(tagID, operator, reason string, ttl time.Duration) bool {
	if m.registry.ByID(tagID) == nil {
		return false
	}

	s := &Suppression{
		TagID:        tagID,
		SuppressedAt: m.now(),
		SuppressedBy: operator,
		Reason:       reason,
	}
	if ttl > 0 {
		expires := s.SuppressedAt.Add(ttl)
		s.ExpiresAt = &expires
	}

	m.mu.Lock()
	m.suppressions[tagID] = s
	m.mu.Unlock()

	logger.Info("Tag suppressed", "tag", tagID, "operator", operator, "ttl", ttl)
	return true
}

// Unsuppress removes a shelf; false if the tag was not shelved
func (m *Manager) Unsuppress(tagID string) bool {
	m.mu.Lock()
	_, ok := m.suppressions[tagID]
	delete(m.suppressions, tagID)
	m.mu.Unlock()

	if ok {
		logger.Info("Tag unsuppressed", "tag", tagID)
	}
	return ok
}

// Suppressions returns the current shelves (expired ones are purged)
func (m *Manager) Suppressions() []Suppression {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	result := make([]Suppression, 0, len(m.suppressions))
	for id, s := range m.suppressions {
		if s.expired(now) {
			delete(m.suppressions, id)
			continue
		}
		result = append(result, *s)
	}
	return result
}

// Active returns live alarms ordered CRITICAL > HIGH > MEDIUM > LOW,
// ties broken by newest first
func (m *Manager) Active() []Alarm {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]Alarm, 0, len(m.active))
	for _, a := range m.active {
		result = append(result, *a)
	}
	sort.Slice(result, func(i, j int) bool {
		ri, rj := result[i].Priority.rank(), result[j].Priority.rank()
		if ri != rj {
			return ri > rj
		}
		return result[i].RaisedAt.After(result[j].RaisedAt)
	})
	return result
}

// ActiveForTag returns live alarms for one tag
func (m *Manager) ActiveForTag(tagID string) []Alarm {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Alarm
	for _, a := range m.active {
		if a.TagID == tagID {
			result = append(result, *a)
		}
	}
	return result
}

// History returns archived alarms, newest first
func (m *Manager) History() []Alarm {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]Alarm, len(m.history))
	for i, a := range m.history {
		result[len(m.history)-1-i] = a
	}
	return result
}

// Reset drops all live state (used on service stop)
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active = make(map[string]*Alarm)
	m.tracked = make(map[string]Type)
	m.lastValues = make(map[string]float64)
	m.suppressions = make(map[string]*Suppression)
	m.startedAt = m.now()
}

// archiveLocked appends a closed alarm to the bounded history and hands
// it to the archive consumer. Called under mu.
func (m *Manager) archiveLocked(a *Alarm) {
	archived := *a
	archived.State = StateNormal

	m.history = append(m.history, archived)
	if len(m.history) > m.historyCap {
		m.history = m.history[len(m.history)-m.historyCap:]
	}

	if m.archiveCb != nil {
		cb := m.archiveCb
		// Persisting is the consumer's business; do not hold it under mu
		go cb(archived)
	}
}

// throttledLog logs an alarm transition unless the same key logged recently
func (m *Manager) throttledLog(msg string, a *Alarm) {
	key := alarmKey(a.TagID, a.Type)
	now := m.now()
	if last, ok := m.lastLog[key]; ok && now.Sub(last) < logThrottle {
		return
	}
	m.lastLog[key] = now
	logger.Info(msg, "tag", a.TagID, "type", a.Type, "state", a.State,
		"value", a.Value, "threshold", a.Threshold, "priority", a.Priority)
}
