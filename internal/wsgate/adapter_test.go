package wsgate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pv/scada-bridge/internal/protocol"
	"github.com/pv/scada-bridge/internal/tag"
)

func TestDeriveWSURL(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{base: "http://localhost:8080", want: "ws://localhost:8080/ws/tags"},
		{base: "https://gateway.plant.local", want: "wss://gateway.plant.local/ws/tags"},
		{base: "http://localhost:8080/", want: "ws://localhost:8080/ws/tags"},
		{base: "http://localhost:8080/api", want: "ws://localhost:8080/api/ws/tags"},
		{base: "ws://localhost:8080", want: "ws://localhost:8080/ws/tags"},
		{base: "wss://gateway", want: "wss://gateway/ws/tags"},
		{base: "ftp://localhost", wantErr: true},
		{base: "://bad", wantErr: true},
	}

	for _, tc := range tests {
		got, err := DeriveWSURL(tc.base)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error, got %s", tc.base, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.base, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.base, tc.want, got)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.PingInterval != pingInterval || o.PongTimeout != pongTimeout {
		t.Errorf("unexpected defaults: %+v", o)
	}
	if o.MaxReconnects != defaultReconnects {
		t.Errorf("expected %d reconnects, got %d", defaultReconnects, o.MaxReconnects)
	}

	o = Options{PingInterval: time.Minute}.withDefaults()
	if o.PingInterval != time.Minute {
		t.Error("explicit option overridden")
	}
}

// fakeGateway поднимает websocket сервер и даёт каналы для обмена фреймами
type fakeGateway struct {
	srv      *httptest.Server
	inbound  chan protocol.Message
	outbound chan protocol.Message
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()

	g := &fakeGateway{
		inbound:  make(chan protocol.Message, 16),
		outbound: make(chan protocol.Message, 16),
	}

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/tags", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		go func() {
			for msg := range g.outbound {
				data, _ := json.Marshal(msg)
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg protocol.Message
			if json.Unmarshal(raw, &msg) == nil {
				g.inbound <- msg
			}
		}
	})

	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) expectFrame(t *testing.T, want protocol.MessageType) protocol.Message {
	t.Helper()
	select {
	case msg := <-g.inbound:
		if msg.Type != want {
			t.Fatalf("expected %s frame, got %s", want, msg.Type)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s frame", want)
		return protocol.Message{}
	}
}

func TestConnectAndReceiveUpdates(t *testing.T) {
	g := newFakeGateway(t)

	a, err := New(g.srv.URL, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	batches := make(chan []tag.Value, 16)
	a.Subscribe(nil, func(values []tag.Value) { batches <- values })

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer a.Disconnect()

	// Подписка проигрывается при подключении
	g.expectFrame(t, protocol.TypeSubscribe)

	v := 42.5
	g.outbound <- protocol.Message{Type: protocol.TypeUpdate, TagID: "RM101.TT001.PV", Value: &v}

	select {
	case batch := <-batches:
		if len(batch) != 1 || batch[0].Value != 42.5 {
			t.Fatalf("unexpected batch: %+v", batch)
		}
		if batch[0].Quality != tag.QualityGood {
			t.Errorf("expected GOOD default quality, got %s", batch[0].Quality)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}

	// Последнее значение доступно для чтения
	got, err := a.ReadTag(context.Background(), "RM101.TT001.PV")
	if err != nil || got.Value != 42.5 {
		t.Errorf("ReadTag: %+v, %v", got, err)
	}
	if _, err := a.ReadTag(context.Background(), "RM101.XX999.PV"); err == nil {
		t.Error("expected error for tag without a pushed value")
	}
}

func TestBatchFrame(t *testing.T) {
	g := newFakeGateway(t)

	a, err := New(g.srv.URL, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	batches := make(chan []tag.Value, 16)
	a.Subscribe(nil, func(values []tag.Value) { batches <- values })

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer a.Disconnect()
	g.expectFrame(t, protocol.TypeSubscribe)

	v1, v2 := 1.0, 2.0
	g.outbound <- protocol.Message{Type: protocol.TypeBatch, Tags: []protocol.TagPayload{
		{TagID: "A.B.C", Value: &v1},
		{TagID: "D.E.F", Value: &v2},
	}}

	select {
	case batch := <-batches:
		if len(batch) != 2 {
			t.Fatalf("expected 2 values in batch, got %d", len(batch))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
	}

	all, _ := a.ReadAllTags(context.Background())
	if len(all) != 2 {
		t.Errorf("expected 2 cached values, got %d", len(all))
	}
}

func TestMalformedFrameRejected(t *testing.T) {
	g := newFakeGateway(t)

	a, err := New(g.srv.URL, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	batches := make(chan []tag.Value, 16)
	a.Subscribe(nil, func(values []tag.Value) { batches <- values })

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer a.Disconnect()
	g.expectFrame(t, protocol.TypeSubscribe)

	// update без value не проходит валидацию и не доходит до подписчиков
	g.outbound <- protocol.Message{Type: protocol.TypeUpdate, TagID: "A.B.C"}

	v := 7.0
	g.outbound <- protocol.Message{Type: protocol.TypeUpdate, TagID: "D.E.F", Value: &v}

	select {
	case batch := <-batches:
		if len(batch) != 1 || batch[0].TagID != "D.E.F" {
			t.Fatalf("expected only the valid frame delivered, got %+v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for valid frame")
	}
	if a.Statistics().Errors == 0 {
		t.Error("expected rejected frame counted as error")
	}
}

func TestWriteTag(t *testing.T) {
	g := newFakeGateway(t)

	a, err := New(g.srv.URL, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Запись без подключения отклоняется сразу
	if ok, err := a.WriteTag(context.Background(), "RM101.SC001.SP", 1500); ok || err == nil {
		t.Error("expected write rejected while disconnected")
	}

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer a.Disconnect()

	ok, err := a.WriteTag(context.Background(), "RM101.SC001.SP", 1500)
	if err != nil || !ok {
		t.Fatalf("WriteTag: ok=%v err=%v", ok, err)
	}

	msg := g.expectFrame(t, protocol.TypeWrite)
	if msg.TagID != "RM101.SC001.SP" || msg.Value == nil || *msg.Value != 1500 {
		t.Errorf("unexpected write frame: %+v", msg)
	}
}
