// Package scada wires the protocol adapter, alarm manager, history
// store and historian router into one service with a shared event hub.
package scada

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pv/scada-bridge/internal/adapter"
	"github.com/pv/scada-bridge/internal/alarm"
	"github.com/pv/scada-bridge/internal/config"
	"github.com/pv/scada-bridge/internal/historian"
	"github.com/pv/scada-bridge/internal/history"
	"github.com/pv/scada-bridge/internal/logger"
	"github.com/pv/scada-bridge/internal/mqtt"
	"github.com/pv/scada-bridge/internal/rest"
	"github.com/pv/scada-bridge/internal/sim"
	"github.com/pv/scada-bridge/internal/tag"
	"github.com/pv/scada-bridge/internal/wsgate"
)

// Service владеет компонентами интеграционного слоя и раздаёт значения
// тегов по цепочке adapter -> alarms/history/hub
type Service struct {
	cfg      *config.Config
	registry *tag.Registry

	adapter    adapter.ProtocolAdapter
	simAdapter *sim.Adapter // non-nil when simulation backs the adapter

	alarms *alarm.Manager
	store  *history.Store
	remote historian.Remote
	router *historian.Router
	hub    *Hub

	mu          sync.RWMutex
	latest      map[string]tag.Value
	unsubscribe adapter.Unsubscribe
	started     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт сервис. Подключение к источнику происходит в Start.
func New(cfg *config.Config, registry *tag.Registry) *Service {
	s := &Service{
		cfg:      cfg,
		registry: registry,
		alarms:   alarm.NewManager(registry),
		hub:      NewHub(registry),
		latest:   make(map[string]tag.Value),
	}

	s.store = history.Open(cfg.History.GetSQLitePath(), history.Options{
		ChangeDeadband: historyDeadband(cfg),
		TagRetention:   cfg.History.GetTagRetention(),
		AlarmRetention: cfg.History.GetAlarmRetention(),
		FlushInterval:  historyFlushInterval(cfg),
		BufferLimit:    historyBufferLimit(cfg),
	})

	// Удалённый историан опционален: ошибка подключения деградирует
	// до локального архива
	if cfg.Historian != nil {
		remote, err := historian.NewRemote(*cfg.Historian)
		if err != nil {
			logger.Warn("Remote historian unavailable, serving local history only", "error", err)
		} else {
			s.remote = remote
		}
	}
	s.router = historian.NewRouter(s.store, s.remote, cfg.History.GetTagRetention())

	// Аварии уходят подписчикам, закрытые аварии в архив
	s.alarms.SetEventCallback(s.hub.BroadcastAlarm)
	s.alarms.SetArchiveCallback(func(a alarm.Alarm) {
		s.store.WriteAlarm(toAlarmRecord(a))
		s.hub.BroadcastAlarmArchive(a)
	})

	return s
}

// Start подключает адаптер и запускает раздачу значений.
// Недоступный сетевой адаптер деградирует до симуляции.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(context.Background())

	a, simA, err := s.buildAdapter()
	if err != nil {
		s.abortStart()
		return err
	}

	if err := a.Connect(ctx); err != nil {
		if simA != nil {
			// уже симуляция, дальше падать некуда
			s.abortStart()
			return fmt.Errorf("connect simulation adapter: %w", err)
		}
		logger.Error("Adapter connect failed, falling back to simulation",
			"type", s.cfg.Adapter.GetType(), "error", err)
		simA = sim.New(s.registry)
		a = simA
		if err := a.Connect(ctx); err != nil {
			s.abortStart()
			return fmt.Errorf("connect fallback simulation adapter: %w", err)
		}
	}

	s.mu.Lock()
	s.adapter = a
	s.simAdapter = simA
	s.unsubscribe = a.Subscribe(nil, s.onValues)
	s.mu.Unlock()

	// Первичное заполнение кэша последних значений
	if values, err := a.ReadAllTags(ctx); err != nil {
		logger.Warn("Initial tag read failed", "error", err)
	} else {
		s.onValues(values)
	}

	s.wg.Add(1)
	go s.watchStatus()

	logger.Info("SCADA service started",
		"adapter", s.cfg.Adapter.GetType(), "tags", s.registry.Count())
	return nil
}

// Stop останавливает раздачу и закрывает компоненты
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	unsubscribe := s.unsubscribe
	a := s.adapter
	s.mu.Unlock()

	s.cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
	if a != nil {
		if err := a.Disconnect(); err != nil {
			logger.Warn("Adapter disconnect failed", "error", err)
		}
	}
	s.wg.Wait()

	if s.remote != nil {
		if err := s.remote.Close(); err != nil {
			logger.Warn("Remote historian close failed", "error", err)
		}
	}
	err := s.store.Close()

	logger.Info("SCADA service stopped")
	return err
}

// abortStart откатывает флаг запуска после неудачного Start
func (s *Service) abortStart() {
	s.cancel()
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// buildAdapter конструирует адаптер по конфигурации
func (s *Service) buildAdapter() (adapter.ProtocolAdapter, *sim.Adapter, error) {
	cfg := s.cfg.Adapter

	switch cfg.GetType() {
	case config.AdapterSimulation:
		a := sim.New(s.registry)
		return a, a, nil

	case config.AdapterREST:
		a := rest.New(cfg.URL, rest.Options{
			PollInterval:  cfg.GetPollInterval(),
			MaxReconnects: cfg.GetMaxReconnects(),
		})
		return a, nil, nil

	case config.AdapterWebSocket:
		a, err := wsgate.New(cfg.URL, wsgate.Options{
			MaxReconnects: cfg.GetMaxReconnects(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create websocket adapter: %w", err)
		}
		return a, nil, nil

	case config.AdapterMQTT:
		a := mqtt.New(mqtt.Options{
			Broker:        cfg.Broker,
			ClientID:      cfg.ClientID,
			Username:      cfg.Username,
			Password:      cfg.Password,
			TopicBase:     cfg.GetTopicBase(),
			MaxReconnects: cfg.GetMaxReconnects(),
		})
		return a, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown adapter type: %s", cfg.Type)
	}
}

// onValues раздаёт батч значений: кэш, аварии, архив, подписчики
func (s *Service) onValues(values []tag.Value) {
	if len(values) == 0 {
		return
	}

	s.mu.Lock()
	for _, v := range values {
		s.latest[v.TagID] = v
	}
	s.mu.Unlock()

	for _, v := range values {
		s.alarms.Evaluate(v)
		s.store.WriteTagValue(v)
	}

	s.hub.BroadcastValues(values)
}

// watchStatus следит за статусом подключения и уведомляет подписчиков
// об изменениях
func (s *Service) watchStatus() {
	defer s.wg.Done()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var last adapter.State
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			status := s.adapter.ConnectionStatus()
			if status.State != last {
				logger.Info("Adapter status changed", "state", status.State, "was", last)
				s.hub.BroadcastAdapterStatus(status)
				last = status.State
			}
		}
	}
}

// ReadTag возвращает значение тега из кэша, с запросом к адаптеру
// при отсутствии
func (s *Service) ReadTag(ctx context.Context, tagID string) (tag.Value, error) {
	if s.registry.ByID(tagID) == nil {
		return tag.Value{}, fmt.Errorf("unknown tag: %s", tagID)
	}

	s.mu.RLock()
	v, ok := s.latest[tagID]
	a := s.adapter
	s.mu.RUnlock()

	if ok {
		return v, nil
	}
	if a == nil {
		return tag.Value{}, fmt.Errorf("adapter not started")
	}
	return a.ReadTag(ctx, tagID)
}

// Latest возвращает снимок последних значений всех тегов
func (s *Service) Latest() []tag.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tag.Value, 0, len(s.latest))
	for _, id := range s.registry.IDs() {
		if v, ok := s.latest[id]; ok {
			result = append(result, v)
		}
	}
	return result
}

// WriteTag записывает значение тега. Запись в read-only или
// неизвестный тег возвращает (false, nil).
func (s *Service) WriteTag(ctx context.Context, tagID string, value float64) (bool, error) {
	def := s.registry.ByID(tagID)
	if def == nil || !def.Access.Writable() {
		return false, nil
	}

	s.mu.RLock()
	a := s.adapter
	s.mu.RUnlock()
	if a == nil {
		return false, fmt.Errorf("adapter not started")
	}

	ok, err := a.WriteTag(ctx, tagID, value)
	if err != nil {
		logger.Error("Tag write failed", "tag", tagID, "value", value, "error", err)
		return false, err
	}
	if ok {
		logger.Info("Tag written", "tag", tagID, "value", value)
	}
	return ok, nil
}

// Registry возвращает каталог тегов
func (s *Service) Registry() *tag.Registry { return s.registry }

// Alarms возвращает менеджер аварий
func (s *Service) Alarms() *alarm.Manager { return s.alarms }

// History возвращает локальный архив
func (s *Service) History() *history.Store { return s.store }

// Historian возвращает маршрутизатор трендовых запросов
func (s *Service) Historian() *historian.Router { return s.router }

// Hub возвращает hub подписчиков
func (s *Service) Hub() *Hub { return s.hub }

// Sim возвращает адаптер симуляции или nil, если сервис работает
// с внешним источником
func (s *Service) Sim() *sim.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.simAdapter
}

// ConnectionStatus возвращает статус подключения адаптера
func (s *Service) ConnectionStatus() adapter.ConnectionStatus {
	s.mu.RLock()
	a := s.adapter
	s.mu.RUnlock()
	if a == nil {
		return adapter.ConnectionStatus{State: adapter.StateDisconnected}
	}
	return a.ConnectionStatus()
}

// Statistics возвращает счётчики операций адаптера
func (s *Service) Statistics() adapter.Statistics {
	s.mu.RLock()
	a := s.adapter
	s.mu.RUnlock()
	if a == nil {
		return adapter.Statistics{}
	}
	return a.Statistics()
}

func toAlarmRecord(a alarm.Alarm) history.AlarmRecord {
	return history.AlarmRecord{
		ID:             a.ID,
		TagID:          a.TagID,
		Type:           string(a.Type),
		Priority:       string(a.Priority),
		Value:          a.Value,
		Threshold:      a.Threshold,
		RaisedAt:       a.RaisedAt,
		AcknowledgedAt: a.AcknowledgedAt,
		ClearedAt:      a.ClearedAt,
		AcknowledgedBy: a.AcknowledgedBy,
	}
}

func historyDeadband(cfg *config.Config) float64 {
	if cfg.History == nil {
		return 0
	}
	return cfg.History.ChangeDeadband
}

func historyFlushInterval(cfg *config.Config) time.Duration {
	if cfg.History == nil {
		return 0
	}
	return cfg.History.FlushInterval
}

func historyBufferLimit(cfg *config.Config) int {
	if cfg.History == nil {
		return 0
	}
	return cfg.History.BufferLimit
}
