package scada

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pv/scada-bridge/internal/adapter"
	"github.com/pv/scada-bridge/internal/config"
	"github.com/pv/scada-bridge/internal/tag"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Adapter: &config.AdapterConfig{Type: config.AdapterSimulation},
		History: &config.HistoryConfig{
			SQLitePath:    filepath.Join(t.TempDir(), "history.db"),
			FlushInterval: time.Hour,
		},
		Addr: ":0",
	}
}

func testServiceRegistry(t *testing.T) *tag.Registry {
	t.Helper()
	reg, err := tag.FromDefinitions([]tag.Definition{
		{ID: "RM101.TT001.PV", DataType: tag.TypeFloat64, Access: tag.AccessRead,
			EngLow: 0, EngHigh: 120, Machine: "COMP1",
			Sim: &tag.SimParams{Base: 40}},
		{ID: "RM101.SC001.SP", DataType: tag.TypeInt32, Access: tag.AccessReadWrite,
			EngLow: 0, EngHigh: 3000, Machine: "PUMP1",
			Sim: &tag.SimParams{Base: 1450}},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func startTestService(t *testing.T) *Service {
	t.Helper()
	svc := New(testConfig(t), testServiceRegistry(t))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop() })
	return svc
}

func TestServiceStartSeedsCache(t *testing.T) {
	svc := startTestService(t)

	latest := svc.Latest()
	if len(latest) != 2 {
		t.Fatalf("expected 2 seeded values, got %d", len(latest))
	}
	// Порядок следует каталогу
	if latest[0].TagID != "RM101.TT001.PV" || latest[1].TagID != "RM101.SC001.SP" {
		t.Errorf("unexpected order: %s, %s", latest[0].TagID, latest[1].TagID)
	}

	if svc.Sim() == nil {
		t.Error("expected simulation adapter exposed")
	}
	if svc.ConnectionStatus().State != adapter.StateConnected {
		t.Errorf("expected connected, got %s", svc.ConnectionStatus().State)
	}
}

func TestServiceDoubleStart(t *testing.T) {
	svc := startTestService(t)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("second Start must be a no-op, got %v", err)
	}
}

func TestServiceReadTag(t *testing.T) {
	svc := startTestService(t)

	v, err := svc.ReadTag(context.Background(), "RM101.TT001.PV")
	if err != nil {
		t.Fatalf("ReadTag: %v", err)
	}
	if v.TagID != "RM101.TT001.PV" || v.Quality != tag.QualityGood {
		t.Errorf("unexpected value: %+v", v)
	}

	if _, err := svc.ReadTag(context.Background(), "RM101.XX999.PV"); err == nil {
		t.Error("expected error for unknown tag")
	}
}

func TestServiceWriteTag(t *testing.T) {
	svc := startTestService(t)

	ok, err := svc.WriteTag(context.Background(), "RM101.SC001.SP", 1600)
	if err != nil || !ok {
		t.Fatalf("expected accepted write, got ok=%v err=%v", ok, err)
	}

	// Read-only тег отклоняется без ошибки
	ok, err = svc.WriteTag(context.Background(), "RM101.TT001.PV", 50)
	if err != nil || ok {
		t.Errorf("expected silent rejection, got ok=%v err=%v", ok, err)
	}

	// Неизвестный тег тоже
	ok, err = svc.WriteTag(context.Background(), "RM101.XX999.PV", 1)
	if err != nil || ok {
		t.Errorf("expected silent rejection for unknown tag, got ok=%v err=%v", ok, err)
	}
}

func TestServiceHubReceivesValues(t *testing.T) {
	svc := startTestService(t)

	c := svc.Hub().AddClient(nil, "")
	defer svc.Hub().RemoveClient(c)

	// Генератор тикает раз в секунду
	select {
	case ev := <-c.Events():
		if ev.Type != "tag_update" {
			t.Fatalf("expected tag_update, got %s", ev.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for simulation tick")
	}
}

func TestServiceStopIdempotent(t *testing.T) {
	svc := New(testConfig(t), testServiceRegistry(t))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop must be a no-op, got %v", err)
	}
}

func TestProviderRefCounting(t *testing.T) {
	var created int
	p := NewProvider(func() *Service {
		created++
		return New(testConfig(t), testServiceRegistry(t))
	})

	h1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}

	if created != 1 {
		t.Fatalf("expected one service instance, got %d", created)
	}
	if h1.Service() != h2.Service() {
		t.Fatal("expected shared service")
	}
	if p.Refs() != 2 {
		t.Fatalf("expected 2 refs, got %d", p.Refs())
	}

	h1.Release()
	if p.Refs() != 1 {
		t.Fatalf("expected 1 ref, got %d", p.Refs())
	}
	// Повторный Release той же ссылки не трогает счётчик
	h1.Release()
	if p.Refs() != 1 {
		t.Fatalf("expected 1 ref after double release, got %d", p.Refs())
	}

	h2.Release()
	if p.Refs() != 0 {
		t.Fatalf("expected 0 refs, got %d", p.Refs())
	}

	// Следующий Acquire поднимает новый экземпляр
	h3, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after shutdown: %v", err)
	}
	defer h3.Release()
	if created != 2 {
		t.Fatalf("expected a fresh service instance, got %d", created)
	}
}
