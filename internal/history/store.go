// Package history implements the local retention-bounded time-series
// store for tag values and closed alarms. Writes are decoupled from the
// hot path through a bounded buffer with a single-flight batched flush.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/pv/scada-bridge/internal/logger"
	"github.com/pv/scada-bridge/internal/tag"
)

// Record is one buffered tag-history row
type Record struct {
	TagID     string      `json:"tagId"`
	Value     float64     `json:"value"`
	Quality   tag.Quality `json:"quality"`
	Timestamp time.Time   `json:"timestamp"`
}

// Point is one stored history sample
type Point struct {
	Timestamp time.Time   `json:"timestamp"`
	Value     float64     `json:"value"`
	Quality   tag.Quality `json:"quality"`
}

// AlarmRecord is a persisted closed alarm
type AlarmRecord struct {
	ID             string     `json:"id"`
	TagID          string     `json:"tagId"`
	Type           string     `json:"type"`
	Priority       string     `json:"priority"`
	Value          float64    `json:"value"`
	Threshold      float64    `json:"threshold"`
	RaisedAt       time.Time  `json:"raisedAt"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	ClearedAt      *time.Time `json:"clearedAt,omitempty"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
}

// Options tunes the store
type Options struct {
	ChangeDeadband float64       // skip persisting smaller changes (default: 0.5)
	FlushInterval  time.Duration // batched flush period (default: 1s)
	BufferLimit    int           // force flush beyond this size (default: 2000)
	TagRetention   time.Duration // default: 24h
	AlarmRetention time.Duration // default: 7d
	OpTimeout      time.Duration // per storage call (default: 10s)
	MaxPoints      int           // range query bound (default: 10000)
	FanOut         int           // parallel multi-tag reads (default: 4)
}

func (o Options) withDefaults() Options {
	if o.ChangeDeadband <= 0 {
		o.ChangeDeadband = 0.5
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.BufferLimit <= 0 {
		o.BufferLimit = 2000
	}
	if o.TagRetention <= 0 {
		o.TagRetention = 24 * time.Hour
	}
	if o.AlarmRetention <= 0 {
		o.AlarmRetention = 7 * 24 * time.Hour
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 10 * time.Second
	}
	if o.MaxPoints <= 0 {
		o.MaxPoints = 10000
	}
	if o.FanOut <= 0 {
		o.FanOut = 4
	}
	return o
}

// Store is the local history store. When the storage engine cannot be
// opened it runs disabled: writes are dropped, reads return empty and
// no error reaches the callers.
type Store struct {
	opts    Options
	backend *sqliteBackend // nil = disabled mode

	mu           sync.Mutex
	buffer       []Record
	lastWritten  map[string]float64
	flushing     bool
	pendingFlush bool

	// flushMu сериализует собственно запись партии: mu защищает только
	// состояние буфера и не держится на время I/O
	flushMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open creates the store. A backend open failure degrades to disabled
// mode instead of failing the whole service.
func Open(dbPath string, opts Options) *Store {
	s := &Store{
		opts:        opts.withDefaults(),
		lastWritten: make(map[string]float64),
	}

	backend, err := openSQLite(dbPath)
	if err != nil {
		logger.Warn("History store disabled, storage engine unavailable", "path", dbPath, "error", err)
	} else {
		s.backend = backend
		logger.Info("History store opened", "path", dbPath,
			"tag_retention", s.opts.TagRetention, "alarm_retention", s.opts.AlarmRetention)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	if s.backend != nil {
		s.wg.Add(2)
		go s.flushLoop()
		go s.cleanupLoop()
	}
	return s
}

// Enabled reports whether the storage engine is available
func (s *Store) Enabled() bool {
	return s.backend != nil
}

// Close flushes what it can and closes the engine
func (s *Store) Close() error {
	s.cancel()
	s.wg.Wait()

	if s.backend == nil {
		return nil
	}

	// Final synchronous flush of whatever is still buffered
	s.flushOnce()
	return s.backend.close()
}

// WriteTagValue buffers one value for persistence. Change detection:
// values moving less than the change deadband since the last persisted
// value are skipped so near-constant noise is not stored.
func (s *Store) WriteTagValue(v tag.Value) {
	if s.backend == nil {
		return
	}

	s.mu.Lock()
	last, seen := s.lastWritten[v.TagID]
	if seen && abs(v.Value-last) < s.opts.ChangeDeadband {
		s.mu.Unlock()
		return
	}
	s.lastWritten[v.TagID] = v.Value
	s.buffer = append(s.buffer, Record{
		TagID:     v.TagID,
		Value:     v.Value,
		Quality:   v.Quality,
		Timestamp: v.Timestamp,
	})
	force := len(s.buffer) >= s.opts.BufferLimit
	s.mu.Unlock()

	if force {
		// Bounded buffer: cap memory by flushing immediately
		s.requestFlush()
	}
}

// WriteAlarm persists one closed alarm
func (s *Store) WriteAlarm(a AlarmRecord) {
	if s.backend == nil {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.OpTimeout)
	defer cancel()

	if err := s.backend.saveAlarm(ctx, a); err != nil {
		logger.Error("Alarm history write failed", "alarm_id", a.ID, "error", err)
	}
}

// Flush synchronously persists everything buffered so far. Readers that
// need write-your-own-read (export, tests) call it before querying.
func (s *Store) Flush() {
	if s.backend == nil {
		return
	}
	s.flushOnce()
}

// QueryRange returns points for one tag in [start, end], bounded to the
// configured maximum point count
func (s *Store) QueryRange(ctx context.Context, tagID string, start, end time.Time) ([]Point, error) {
	if s.backend == nil {
		return nil, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	return s.backend.queryRange(opCtx, tagID, start, end, s.opts.MaxPoints)
}

// Latest returns the most recent stored point for a tag, or nil
func (s *Store) Latest(ctx context.Context, tagID string) (*Point, error) {
	if s.backend == nil {
		return nil, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	return s.backend.queryLatest(opCtx, tagID)
}

// QueryMulti reads several tags in parallel with bounded concurrency
func (s *Store) QueryMulti(ctx context.Context, tagIDs []string, start, end time.Time) (map[string][]Point, error) {
	result := make(map[string][]Point, len(tagIDs))
	if s.backend == nil {
		return result, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.opts.FanOut)

	for _, id := range tagIDs {
		wg.Add(1)
		go func(tagID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			points, err := s.QueryRange(ctx, tagID, start, end)
			if err != nil {
				logger.Error("History batch read failed", "tag", tagID, "error", err)
				return
			}
			mu.Lock()
			result[tagID] = points
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return result, nil
}

// QueryAlarms returns alarm records raised in [start, end]
func (s *Store) QueryAlarms(ctx context.Context, start, end time.Time) ([]AlarmRecord, error) {
	if s.backend == nil {
		return nil, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	return s.backend.queryAlarms(opCtx, start, end)
}

// requestFlush schedules a flush. Flushes are single-flight: a request
// while one runs is coalesced into exactly one follow-up flush.
func (s *Store) requestFlush() {
	s.mu.Lock()
	if s.flushing {
		s.pendingFlush = true
		s.mu.Unlock()
		return
	}
	s.flushing = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.flushOnce()

		s.mu.Lock()
		s.flushing = false
		again := s.pendingFlush
		s.pendingFlush = false
		s.mu.Unlock()

		if again {
			s.requestFlush()
		}
	}()
}

// flushOnce writes one buffered batch. Callers are serialized on
// flushMu so two flushes never commit the same head concurrently.
// Only successfully committed records leave the buffer; failures
// retry on the next cycle.
func (s *Store) flushOnce() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	batch := make([]Record, len(s.buffer))
	copy(batch, s.buffer)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.OpTimeout)
	err := s.backend.saveTagValues(ctx, batch)
	cancel()

	if err != nil {
		logger.Error("History flush failed, will retry", "records", len(batch), "error", err)
		return
	}

	s.mu.Lock()
	// Committed records are the head of the buffer; anything appended
	// while the flush ran stays for the next cycle
	s.buffer = s.buffer[len(batch):]
	s.mu.Unlock()
}

func (s *Store) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.requestFlush()
		}
	}
}

func (s *Store) cleanupLoop() {
	defer s.wg.Done()

	// Cleanup runs much less often than the flush
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.cleanupOnce()
		}
	}
}

func (s *Store) cleanupOnce() {
	now := time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.OpTimeout)
	defer cancel()

	if n, err := s.backend.cleanupTags(ctx, now.Add(-s.opts.TagRetention)); err != nil {
		logger.Error("Tag history cleanup failed", "error", err)
	} else if n > 0 {
		logger.Debug("Tag history cleaned up", "deleted", n)
	}

	if n, err := s.backend.cleanupAlarms(ctx, now.Add(-s.opts.AlarmRetention)); err != nil {
		logger.Error("Alarm history cleanup failed", "error", err)
	} else if n > 0 {
		logger.Debug("Alarm history cleaned up", "deleted", n)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
