package sim

import (
	"fmt"
	"time"
)

// FaultType вид инжектируемой неисправности датчика
type FaultType string

const (
	FaultSensorFail    FaultType = "sensor_fail"   // отказ датчика: engLow + BAD
	FaultSpike         FaultType = "spike"         // выброс: 90% диапазона
	FaultDrift         FaultType = "drift"         // ускоряющийся уход показаний
	FaultStuck         FaultType = "stuck"         // замёрзшее значение + UNCERTAIN
	FaultNoise         FaultType = "noise"         // усиленный шум
	FaultCommunication FaultType = "communication" // потеря связи: STALE, значение прежнее
)

// Valid возвращает true для известного вида неисправности
func (f FaultType) Valid() bool {
	switch f {
	case FaultSensorFail, FaultSpike, FaultDrift, FaultStuck, FaultNoise, FaultCommunication:
		return true
	}
	return false
}

// Fault активная неисправность на теге
type Fault struct {
	TagID       string        `json:"tagId"`
	Type        FaultType     `json:"type"`
	InjectedAt  time.Time     `json:"injectedAt"`
	Duration    time.Duration `json:"duration"` // 0 = до явного снятия
	FrozenValue float64       `json:"-"`        // значение на момент инжекции (для stuck)
}

// expired возвращает true если срок неисправности истёк
func (f *Fault) expired(now time.Time) bool {
	return f.Duration > 0 && now.Sub(f.InjectedAt) >= f.Duration
}

// age возвращает возраст неисправности в секундах
func (f *Fault) age(now time.Time) float64 {
	return now.Sub(f.InjectedAt).Seconds()
}

// InjectFault включает неисправность на теге (duration 0 = бессрочно)
func (a *Adapter) InjectFault(tagID string, faultType FaultType, duration time.Duration) error {
	if !faultType.Valid() {
		return fmt.Errorf("unknown fault type: %s", faultType)
	}
	def := a.registry.ByID(tagID)
	if def == nil || def.Sim == nil {
		return fmt.Errorf("unknown simulated tag: %s", tagID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	frozen := def.Sim.Base
	if st, ok := a.runtime[tagID]; ok {
		frozen = st.lastValue
	}
	a.faults[tagID] = &Fault{
		TagID:       tagID,
		Type:        faultType,
		InjectedAt:  a.now(),
		Duration:    duration,
		FrozenValue: frozen,
	}
	return nil
}

// ClearFault снимает неисправность с тега
func (a *Adapter) ClearFault(tagID string) {
	a.mu.Lock()
	delete(a.faults, tagID)
	a.mu.Unlock()
}

// ActiveFaults возвращает снимок активных неисправностей
func (a *Adapter) ActiveFaults() []Fault {
	a.mu.RLock()
	defer a.mu.RUnlock()

	faults := make([]Fault, 0, len(a.faults))
	for _, f := range a.faults {
		faults = append(faults, *f)
	}
	return faults
}

// expireFaults убирает неисправности с истёкшим сроком. Вызывается под mu.
func (a *Adapter) expireFaults(now time.Time) {
	for id, f := range a.faults {
		if f.expired(now) {
			delete(a.faults, id)
		}
	}
}
