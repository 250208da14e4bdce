package rest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pv/scada-bridge/internal/adapter"
	"github.com/pv/scada-bridge/internal/logger"
	"github.com/pv/scada-bridge/internal/tag"
)

// Options настройки REST адаптера
type Options struct {
	PollInterval   time.Duration // default: 1s
	BackoffInitial time.Duration // default: 1s
	BackoffMax     time.Duration // default: 30s
	MaxReconnects  int           // default: 10; после исчерпания - постоянный отказ
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 10
	}
	return o
}

// Adapter опрашивающий адаптер: периодический GET снимка тегов,
// детекция изменений, рассылка подписчикам. При сбоях - экспоненциальный
// backoff с лимитом попыток.
type Adapter struct {
	client *Client
	opts   Options

	tracker adapter.StatusTracker
	subs    *adapter.Subscribers

	mu         sync.RWMutex
	lastValues map[string]tag.Value

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт REST адаптер
func New(baseURL string, opts Options) *Adapter {
	return &Adapter{
		client:     NewClient(baseURL),
		opts:       opts.withDefaults(),
		subs:       adapter.NewSubscribers(),
		lastValues: make(map[string]tag.Value),
	}
}

// Connect проверяет доступность шлюза и запускает опрос
func (a *Adapter) Connect(ctx context.Context) error {
	if a.IsConnected() {
		return nil
	}

	a.tracker.SetState(adapter.StateConnecting)
	if _, err := a.client.GetAllTags(ctx); err != nil {
		a.tracker.SetError(err)
		return fmt.Errorf("rest adapter connect: %w", err)
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.tracker.SetState(adapter.StateConnected)

	a.wg.Add(1)
	go a.pollLoop()

	logger.Info("REST adapter started", "interval", a.opts.PollInterval)
	return nil
}

// Disconnect останавливает опрос
func (a *Adapter) Disconnect() error {
	if a.cancel != nil {
		a.cancel()
		a.wg.Wait()
		a.cancel = nil
	}
	a.tracker.SetState(adapter.StateDisconnected)
	logger.Info("REST adapter stopped")
	return nil
}

// IsConnected возвращает true в состоянии connected
func (a *Adapter) IsConnected() bool {
	return a.tracker.IsConnected()
}

// ConnectionStatus возвращает статус подключения
func (a *Adapter) ConnectionStatus() adapter.ConnectionStatus {
	return a.tracker.ConnectionStatus()
}

// Statistics возвращает счётчики адаптера
func (a *Adapter) Statistics() adapter.Statistics {
	return a.tracker.Statistics()
}

// Subscribe регистрирует подписку; пустой ids = все теги
func (a *Adapter) Subscribe(ids []string, cb adapter.Callback) adapter.Unsubscribe {
	return a.subs.Add(ids, cb)
}

// ReadTag читает одно значение напрямую со шлюза
func (a *Adapter) ReadTag(ctx context.Context, id string) (tag.Value, error) {
	dto, err := a.client.GetTag(ctx, id)
	if err != nil {
		a.tracker.RecordError()
		return tag.Value{}, err
	}
	a.tracker.RecordReads(1)
	return dtoToValue(dto), nil
}

// ReadTags читает значения из последнего снимка опроса
func (a *Adapter) ReadTags(ctx context.Context, ids []string) ([]tag.Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	values := make([]tag.Value, 0, len(ids))
	for _, id := range ids {
		if v, ok := a.lastValues[id]; ok {
			values = append(values, v)
		}
	}
	return values, nil
}

// ReadAllTags возвращает полный снимок со шлюза
func (a *Adapter) ReadAllTags(ctx context.Context) ([]tag.Value, error) {
	dtos, err := a.client.GetAllTags(ctx)
	if err != nil {
		a.tracker.RecordError()
		return nil, err
	}
	a.tracker.RecordReads(len(dtos))

	values := make([]tag.Value, 0, len(dtos))
	for _, dto := range dtos {
		values = append(values, dtoToValue(dto))
	}
	return values, nil
}

// WriteTag делегирует запись шлюзу
func (a *Adapter) WriteTag(ctx context.Context, id string, value float64) (bool, error) {
	ok, err := a.client.WriteTag(ctx, id, value)
	if err != nil {
		a.tracker.RecordError()
		return false, err
	}
	if ok {
		a.tracker.RecordWrite()
	}
	return ok, nil
}

func (a *Adapter) pollLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	backoff := adapter.Backoff{
		Initial:     a.opts.BackoffInitial,
		Max:         a.opts.BackoffMax,
		MaxAttempts: a.opts.MaxReconnects,
	}

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			if err := a.poll(); err != nil {
				a.tracker.SetError(err)
				delay, ok := backoff.Next()
				if !ok {
					// Лимит исчерпан: постоянный отказ до ручного Connect
					logger.Error("REST adapter gave up reconnecting",
						"attempts", backoff.Attempts(), "error", err)
					return
				}
				logger.Warn("REST poll failed, backing off",
					"delay", delay, "attempt", backoff.Attempts(), "error", err)
				select {
				case <-a.ctx.Done():
					return
				case <-time.After(delay):
				}
				continue
			}

			if backoff.Attempts() > 0 {
				backoff.Reset()
				a.tracker.RecordReconnect()
				a.tracker.SetState(adapter.StateConnected)
				logger.Info("REST adapter reconnected")
			}
		}
	}
}

// poll один цикл опроса: снимок, детекция изменений, рассылка
func (a *Adapter) poll() error {
	ctx, cancel := context.WithTimeout(a.ctx, defaultTimeout)
	defer cancel()

	dtos, err := a.client.GetAllTags(ctx)
	if err != nil {
		return err
	}
	a.tracker.RecordReads(len(dtos))

	var changed []tag.Value
	a.mu.Lock()
	for _, dto := range dtos {
		v := dtoToValue(dto)
		last, ok := a.lastValues[v.TagID]
		if !ok || last.Value != v.Value || last.Quality != v.Quality {
			a.lastValues[v.TagID] = v
			changed = append(changed, v)
		}
	}
	a.mu.Unlock()

	if len(changed) > 0 {
		a.subs.Notify(changed)
	}
	return nil
}

func dtoToValue(dto tagDTO) tag.Value {
	quality := dto.Quality
	if quality == "" {
		quality = tag.QualityGood
	}
	ts := dto.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return tag.Value{
		TagID:     dto.TagID,
		Value:     dto.Value,
		Quality:   quality,
		Timestamp: ts,
	}
}
