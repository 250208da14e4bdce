package sim

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/pv/scada-bridge/internal/tag"
)

func fptr(v float64) *float64 { return &v }

func testRegistry(t *testing.T) *tag.Registry {
	t.Helper()
	reg, err := tag.FromDefinitions([]tag.Definition{
		{
			ID:       "RM101.TT001.PV",
			DataType: tag.TypeFloat64,
			Access:   tag.AccessRead,
			EngLow:   0,
			EngHigh:  100,
			Machine:  "COMP1",
			Critical: true,
			Thresholds: tag.Thresholds{
				Hi: fptr(80),
			},
			Sim: &tag.SimParams{
				Base:            50,
				LoadFactor:      true,
				StatusDependent: true,
				AmbientValue:    20,
			},
		},
		{
			ID:       "RM101.PT001.PV",
			DataType: tag.TypeFloat64,
			Access:   tag.AccessRead,
			EngLow:   0,
			EngHigh:  10,
			Machine:  "COMP1",
			Sim: &tag.SimParams{
				Base:           5,
				CorrelatedTags: []string{"RM101.TT001.PV"},
			},
		},
		{
			ID:       "RM101.SC001.SP",
			DataType: tag.TypeInt32,
			Access:   tag.AccessReadWrite,
			EngLow:   0,
			EngHigh:  3000,
			Machine:  "PUMP1",
			Sim:      &tag.SimParams{Base: 1450},
		},
		{
			ID:       "RM101.XX001.PV",
			DataType: tag.TypeFloat64,
			Access:   tag.AccessRead,
			EngLow:   0,
			EngHigh:  1,
			// без Sim: адаптер этот тег не обслуживает
		},
	})
	if err != nil {
		t.Fatalf("FromDefinitions: %v", err)
	}
	return reg
}

// newTestAdapter возвращает детерминированный симулятор:
// фиксированный rng, без спонтанных отказов
func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a := New(testRegistry(t))
	a.rng = rand.New(rand.NewSource(42))
	a.failureProb = 0
	return a
}

func TestNewSkipsTagsWithoutSim(t *testing.T) {
	a := newTestAdapter(t)

	if _, ok := a.runtime["RM101.XX001.PV"]; ok {
		t.Error("tag without sim params must not get runtime state")
	}
	if len(a.runtime) != 3 {
		t.Errorf("expected 3 simulated tags, got %d", len(a.runtime))
	}
}

func TestMachinesDefaultRunning(t *testing.T) {
	a := newTestAdapter(t)

	m, ok := a.machines["COMP1"]
	if !ok {
		t.Fatal("expected machine COMP1 registered")
	}
	if !m.running || m.load != 50 {
		t.Errorf("expected running at load 50, got running=%v load=%v", m.running, m.load)
	}
}

func TestTickNotifiesChangedTags(t *testing.T) {
	a := newTestAdapter(t)

	var received []tag.Value
	a.Subscribe(nil, func(values []tag.Value) {
		received = append(received, values...)
	})

	a.tick()

	if len(received) == 0 {
		t.Fatal("expected values from first tick")
	}
	for _, v := range received {
		if v.Quality != tag.QualityGood {
			t.Errorf("tag %s: expected GOOD quality, got %s", v.TagID, v.Quality)
		}
	}
}

func TestLoadMultiplier(t *testing.T) {
	a := newTestAdapter(t)

	// Без шума и дрейфа значение полностью определяется нагрузкой
	a.SetMachineLoad("COMP1", 0)
	a.tick()
	v, err := a.ReadTag(context.Background(), "RM101.TT001.PV")
	if err != nil {
		t.Fatalf("ReadTag: %v", err)
	}
	if v.Value != 50*0.7 {
		t.Errorf("load 0: expected %v, got %v", 50*0.7, v.Value)
	}

	a.SetMachineLoad("COMP1", 100)
	a.tick()
	v, _ = a.ReadTag(context.Background(), "RM101.TT001.PV")
	if v.Value != 50*1.3 {
		t.Errorf("load 100: expected %v, got %v", 50*1.3, v.Value)
	}
}

func TestStoppedMachineDecaysToAmbient(t *testing.T) {
	a := newTestAdapter(t)

	a.SetMachineLoad("COMP1", 50)
	a.tick()
	before, _ := a.ReadTag(context.Background(), "RM101.TT001.PV")

	a.SetMachineRunning("COMP1", false)
	a.tick()
	after, _ := a.ReadTag(context.Background(), "RM101.TT001.PV")

	expected := before.Value + (20-before.Value)*0.1
	if after.Value != expected {
		t.Errorf("expected decay toward ambient: %v, got %v", expected, after.Value)
	}
	// Критичный тег остановленной машины отдаёт BAD
	if after.Quality != tag.QualityBad {
		t.Errorf("expected BAD quality for critical tag on stopped machine, got %s", after.Quality)
	}
}

func TestWriteTagReadOnly(t *testing.T) {
	a := newTestAdapter(t)

	ok, err := a.WriteTag(context.Background(), "RM101.TT001.PV", 60)
	if err != nil {
		t.Fatalf("WriteTag: %v", err)
	}
	if ok {
		t.Error("expected write to read-only tag to return false")
	}

	ok, err = a.WriteTag(context.Background(), "NO.SUCH.TAG", 1)
	if err != nil || ok {
		t.Errorf("expected (false, nil) for unknown tag, got (%v, %v)", ok, err)
	}
}

func TestWriteSetpointUpdatesBase(t *testing.T) {
	a := newTestAdapter(t)

	var notified []tag.Value
	a.Subscribe([]string{"RM101.SC001.SP"}, func(values []tag.Value) {
		notified = append(notified, values...)
	})

	ok, err := a.WriteTag(context.Background(), "RM101.SC001.SP", 1800)
	if err != nil || !ok {
		t.Fatalf("expected successful write, got (%v, %v)", ok, err)
	}

	v, _ := a.ReadTag(context.Background(), "RM101.SC001.SP")
	if v.Value != 1800 {
		t.Errorf("expected value 1800 after write, got %v", v.Value)
	}
	if a.runtime["RM101.SC001.SP"].base != 1800 {
		t.Error("expected generator base updated by write")
	}
	if len(notified) != 1 || notified[0].Value != 1800 {
		t.Errorf("expected write notification, got %+v", notified)
	}

	// Следующий тик генерирует от новой базы
	a.tick()
	v, _ = a.ReadTag(context.Background(), "RM101.SC001.SP")
	if v.Value != 1800 {
		t.Errorf("expected setpoint to hold new base after tick, got %v", v.Value)
	}
}

func TestIntegerRounding(t *testing.T) {
	a := newTestAdapter(t)
	a.runtime["RM101.SC001.SP"].base = 1450.6

	a.tick()
	v, _ := a.ReadTag(context.Background(), "RM101.SC001.SP")
	if v.Value != 1451 {
		t.Errorf("expected integer tag rounded to 1451, got %v", v.Value)
	}
}

func TestCorrelationContribution(t *testing.T) {
	a := newTestAdapter(t)

	// Источник на 75% диапазона: вклад 0.1*(0.75-0.5)*10 = +0.25
	a.runtime["RM101.TT001.PV"].lastValue = 75

	def := a.registry.ByID("RM101.PT001.PV")
	st := a.runtime["RM101.PT001.PV"]
	value, quality := a.computeValue(def, st, time.Now())

	if quality != tag.QualityGood {
		t.Fatalf("expected GOOD quality, got %s", quality)
	}
	expected := 5 + 0.1*(0.75-0.5)*10
	if value != expected {
		t.Errorf("expected %v with correlation contribution, got %v", expected, value)
	}
}

func TestRandomSensorFailure(t *testing.T) {
	a := newTestAdapter(t)
	a.failureProb = 1 // отказ на каждом тике

	def := a.registry.ByID("RM101.PT001.PV")
	st := a.runtime["RM101.PT001.PV"]
	value, quality := a.computeValue(def, st, time.Now())

	if value != def.EngLow || quality != tag.QualityBad {
		t.Errorf("expected (engLow, BAD) on sensor failure, got (%v, %s)", value, quality)
	}
}

func TestConnectDisconnect(t *testing.T) {
	a := newTestAdapter(t)

	if a.IsConnected() {
		t.Fatal("expected disconnected before Connect")
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !a.IsConnected() {
		t.Fatal("expected connected after Connect")
	}
	// Повторный Connect это no-op
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("repeat Connect: %v", err)
	}

	if err := a.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if a.IsConnected() {
		t.Error("expected disconnected after Disconnect")
	}
}

func TestInjectFaultSpike(t *testing.T) {
	a := newTestAdapter(t)

	if err := a.InjectFault("RM101.TT001.PV", FaultSpike, 0); err != nil {
		t.Fatalf("InjectFault: %v", err)
	}

	a.tick()
	v, _ := a.ReadTag(context.Background(), "RM101.TT001.PV")
	if v.Value != 90 { // engLow + 0.9*range
		t.Errorf("expected spike to 90, got %v", v.Value)
	}
}

func TestInjectFaultStuck(t *testing.T) {
	a := newTestAdapter(t)

	a.tick()
	frozen, _ := a.ReadTag(context.Background(), "RM101.TT001.PV")

	if err := a.InjectFault("RM101.TT001.PV", FaultStuck, 0); err != nil {
		t.Fatalf("InjectFault: %v", err)
	}

	a.SetMachineLoad("COMP1", 100)
	a.tick()
	v, _ := a.ReadTag(context.Background(), "RM101.TT001.PV")
	if v.Value != frozen.Value {
		t.Errorf("expected stuck at %v, got %v", frozen.Value, v.Value)
	}
	if v.Quality != tag.QualityUncertain {
		t.Errorf("expected UNCERTAIN quality for stuck sensor, got %s", v.Quality)
	}
}

func TestInjectFaultSensorFail(t *testing.T) {
	a := newTestAdapter(t)

	a.InjectFault("RM101.TT001.PV", FaultSensorFail, 0)
	a.tick()

	v, _ := a.ReadTag(context.Background(), "RM101.TT001.PV")
	if v.Value != 0 || v.Quality != tag.QualityBad {
		t.Errorf("expected (0, BAD), got (%v, %s)", v.Value, v.Quality)
	}
}

func TestInjectFaultCommunication(t *testing.T) {
	a := newTestAdapter(t)

	a.tick()
	before, _ := a.ReadTag(context.Background(), "RM101.TT001.PV")

	a.InjectFault("RM101.TT001.PV", FaultCommunication, 0)
	a.tick()

	v, _ := a.ReadTag(context.Background(), "RM101.TT001.PV")
	if v.Value != before.Value {
		t.Errorf("expected value held at %v, got %v", before.Value, v.Value)
	}
	if v.Quality != tag.QualityStale {
		t.Errorf("expected STALE quality, got %s", v.Quality)
	}
}

func TestInjectFaultValidation(t *testing.T) {
	a := newTestAdapter(t)

	if err := a.InjectFault("RM101.TT001.PV", "explode", 0); err == nil {
		t.Error("expected error for unknown fault type")
	}
	if err := a.InjectFault("NO.SUCH.TAG", FaultSpike, 0); err == nil {
		t.Error("expected error for unknown tag")
	}
	if err := a.InjectFault("RM101.XX001.PV", FaultSpike, 0); err == nil {
		t.Error("expected error for tag without sim params")
	}
}

func TestFaultExpiry(t *testing.T) {
	a := newTestAdapter(t)

	base := time.Now().UTC()
	a.now = func() time.Time { return base }

	a.InjectFault("RM101.TT001.PV", FaultSpike, time.Minute)
	a.tick()
	if len(a.ActiveFaults()) != 1 {
		t.Fatal("expected 1 active fault")
	}

	a.now = func() time.Time { return base.Add(2 * time.Minute) }
	a.tick()
	if got := a.ActiveFaults(); len(got) != 0 {
		t.Errorf("expected fault expired, got %+v", got)
	}

	v, _ := a.ReadTag(context.Background(), "RM101.TT001.PV")
	if v.Value == 90 {
		t.Error("expected normal generation after fault expiry")
	}
}

func TestClearFault(t *testing.T) {
	a := newTestAdapter(t)

	a.InjectFault("RM101.TT001.PV", FaultSpike, 0)
	a.ClearFault("RM101.TT001.PV")

	if got := a.ActiveFaults(); len(got) != 0 {
		t.Errorf("expected no faults after clear, got %+v", got)
	}
}
