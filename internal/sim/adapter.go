// Package sim реализует адаптер-генератор синтетических значений тегов.
// Значения пересчитываются от базового значения на каждом тике (1 Гц),
// без накопления: шум, корреляции и нагрузка не "уезжают" со временем.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pv/scada-bridge/internal/adapter"
	"github.com/pv/scada-bridge/internal/logger"
	"github.com/pv/scada-bridge/internal/tag"
)

const (
	tickInterval = time.Second

	// Вероятность спонтанного отказа датчика на один тик
	sensorFailureProbability = 0.00005
)

// machineState состояние машины-владельца тегов
type machineState struct {
	running bool
	load    float64 // 0..100
}

// tagState изменяемое runtime-состояние тега
type tagState struct {
	base      float64 // базовое значение генератора (запись setpoint меняет его)
	lastValue float64
	lastQual  tag.Quality
	hasValue  bool
}

// Adapter адаптер-симулятор. Единственный владелец значений своих тегов.
type Adapter struct {
	registry *tag.Registry

	tracker adapter.StatusTracker
	subs    *adapter.Subscribers

	mu       sync.RWMutex
	runtime  map[string]*tagState
	machines map[string]*machineState
	faults   map[string]*Fault
	started  time.Time

	rng         *rand.Rand
	failureProb float64
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт симулятор для каталога тегов
func New(registry *tag.Registry) *Adapter {
	a := &Adapter{
		registry:    registry,
		subs:        adapter.NewSubscribers(),
		runtime:     make(map[string]*tagState),
		machines:    make(map[string]*machineState),
		faults:      make(map[string]*Fault),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		failureProb: sensorFailureProbability,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, def := range registry.All() {
		if def.Sim == nil {
			continue
		}
		a.runtime[def.ID] = &tagState{
			base:      def.Sim.Base,
			lastValue: def.Sim.Base,
			lastQual:  tag.QualityGood,
		}
		if def.Machine != "" {
			if _, ok := a.machines[def.Machine]; !ok {
				// Машины по умолчанию работают под средней нагрузкой
				a.machines[def.Machine] = &machineState{running: true, load: 50}
			}
		}
	}
	return a
}

// Connect запускает тикер генерации
func (a *Adapter) Connect(ctx context.Context) error {
	if a.IsConnected() {
		return nil
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.mu.Lock()
	a.started = a.now()
	a.mu.Unlock()

	a.tracker.SetState(adapter.StateConnected)

	a.wg.Add(1)
	go a.tickLoop()

	logger.Info("Simulation adapter started", "tags", len(a.runtime), "interval", tickInterval)
	return nil
}

// Disconnect останавливает генерацию
func (a *Adapter) Disconnect() error {
	if a.cancel != nil {
		a.cancel()
		a.wg.Wait()
		a.cancel = nil
	}
	a.tracker.SetState(adapter.StateDisconnected)
	logger.Info("Simulation adapter stopped")
	return nil
}

// IsConnected возвращает true после Connect
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

// ReadTag возвращает текущее значение тега
func (a *Adapter) ReadTag(ctx context.Context, id string) (tag.Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, ok := a.runtime[id]
	if !ok {
		return tag.Value{}, fmt.Errorf("unknown tag: %s", id)
	}
	return tag.Value{
		TagID:     id,
		Value:     st.lastValue,
		Quality:   st.lastQual,
		Timestamp: a.now(),
	}, nil
}

// ReadTags возвращает значения нескольких тегов (неизвестные пропускаются)
func (a *Adapter) ReadTags(ctx context.Context, ids []string) ([]tag.Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.now()
	values := make([]tag.Value, 0, len(ids))
	for _, id := range ids {
		if st, ok := a.runtime[id]; ok {
			values = append(values, tag.Value{TagID: id, Value: st.lastValue, Quality: st.lastQual, Timestamp: now})
		}
	}
	return values, nil
}

// ReadAllTags возвращает значения всех симулируемых тегов
func (a *Adapter) ReadAllTags(ctx context.Context) ([]tag.Value, error) {
	return a.ReadTags(ctx, a.registry.IDs())
}

// WriteTag записывает значение в тег.
// Запись в read-only тег возвращает false без побочных эффектов.
// Успешная запись обновляет и текущее значение, и базу генератора.
func (a *Adapter) WriteTag(ctx context.Context, id string, value float64) (bool, error) {
	def := a.registry.ByID(id)
	if def == nil || !def.Access.Writable() {
		return false, nil
	}

	a.mu.Lock()
	st, ok := a.runtime[id]
	if !ok {
		a.mu.Unlock()
		return false, nil
	}
	st.base = value
	st.lastValue = value
	st.lastQual = tag.QualityGood
	a.mu.Unlock()

	a.tracker.RecordWrite()
	a.subs.Notify([]tag.Value{{TagID: id, Value: value, Quality: tag.QualityGood, Timestamp: a.now()}})
	return true, nil
}

// SetMachineRunning включает/выключает машину
func (a *Adapter) SetMachineRunning(machine string, running bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.machines[machine]; ok {
		st.running = running
	}
}

// SetMachineLoad задаёт нагрузку машины (0..100)
func (a *Adapter) SetMachineLoad(machine string, load float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.machines[machine]; ok {
		st.load = clamp(load, 0, 100)
	}
}

func (a *Adapter) tickLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

// tick один шаг генерации: снять истёкшие неисправности, пересчитать
// значения, уведомить подписчиков только об изменившихся тегах.
func (a *Adapter) tick() {
	a.mu.Lock()
	now := a.now()
	a.expireFaults(now)

	var changed []tag.Value
	for _, def := range a.registry.All() {
		st, ok := a.runtime[def.ID]
		if !ok {
			continue
		}

		value, quality := a.computeValue(def, st, now)
		if def.DataType.IsInteger() {
			value = math.Round(value)
		}

		if !st.hasValue || value != st.lastValue || quality != st.lastQual {
			st.lastValue = value
			st.lastQual = quality
			st.hasValue = true
			changed = append(changed, tag.Value{
				TagID:     def.ID,
				Value:     value,
				Quality:   quality,
				Timestamp: now,
			})
		}
	}
	a.mu.Unlock()

	if len(changed) > 0 {
		a.tracker.RecordReads(len(changed))
		a.subs.Notify(changed)
	}
}

// computeValue пересчитывает значение тега от базы. Вызывается под mu.
func (a *Adapter) computeValue(def *tag.Definition, st *tagState, now time.Time) (float64, tag.Quality) {
	// Активная неисправность заменяет нормальный расчёт
	if f, ok := a.faults[def.ID]; ok {
		return a.applyFault(def, st, f, now)
	}

	// Остановленная машина: спад к амбиентному значению
	if def.Sim.StatusDependent && def.Machine != "" {
		if m, ok := a.machines[def.Machine]; ok && !m.running {
			ambient := def.Sim.AmbientValue
			value := st.lastValue + (ambient-st.lastValue)*0.1
			quality := tag.QualityUncertain
			if def.Critical {
				quality = tag.QualityBad
			}
			return clamp(value, def.EngLow, def.EngHigh), quality
		}
	}

	value := st.base

	// Множитель нагрузки: 0.7 при нулевой нагрузке, 1.3 при полной
	if def.Sim.LoadFactor && def.Machine != "" {
		if m, ok := a.machines[def.Machine]; ok {
			load := clamp(m.load, 0, 100)
			value *= 0.7 + load/100*0.6
		}
	}

	// Медленный дрейф: синусоидальное блуждание с амплитудой DriftRate
	if def.Sim.DriftRate != 0 && !a.started.IsZero() {
		elapsed := now.Sub(a.started).Seconds()
		value += def.Sim.DriftRate * math.Sin(elapsed/600*2*math.Pi)
	}

	// Равномерный шум ±noiseAmplitude
	if def.Sim.NoiseAmplitude > 0 {
		value += (a.rng.Float64()*2 - 1) * def.Sim.NoiseAmplitude
	}

	// Линейные вклады коррелированных тегов
	for _, corrID := range def.Sim.CorrelatedTags {
		corrDef := a.registry.ByID(corrID)
		corrState, ok := a.runtime[corrID]
		if corrDef == nil || !ok || corrDef.Range() == 0 {
			continue
		}
		normalized := (corrState.lastValue - corrDef.EngLow) / corrDef.Range()
		value += 0.1 * (normalized - 0.5) * def.Range()
	}

	value = clamp(value, def.EngLow, def.EngHigh)

	// Редкий спонтанный отказ датчика
	if a.failureProb > 0 && a.rng.Float64() < a.failureProb {
		return def.EngLow, tag.QualityBad
	}

	return value, tag.QualityGood
}

// applyFault применяет трансформацию активной неисправности. Вызывается под mu.
func (a *Adapter) applyFault(def *tag.Definition, st *tagState, f *Fault, now time.Time) (float64, tag.Quality) {
	switch f.Type {
	case FaultSensorFail:
		return def.EngLow, tag.QualityBad
	case FaultSpike:
		return def.EngLow + 0.9*def.Range(), tag.QualityGood
	case FaultDrift:
		// Ускоряющийся уход: линейная + квадратичная составляющие
		age := f.age(now)
		rate := def.Sim.DriftRate
		if rate == 0 {
			rate = 0.01 * def.Range()
		}
		value := st.base + rate*age + 0.05*rate*age*age
		return clamp(value, def.EngLow, def.EngHigh), tag.QualityGood
	case FaultStuck:
		return f.FrozenValue, tag.QualityUncertain
	case FaultNoise:
		value := st.base + (a.rng.Float64()*2-1)*def.Sim.NoiseAmplitude*10
		return clamp(value, def.EngLow, def.EngHigh), tag.QualityGood
	case FaultCommunication:
		return st.lastValue, tag.QualityStale
	}
	return st.lastValue, st.lastQual
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
