package adapter

import (
	"errors"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	var tr StatusTracker

	if tr.IsConnected() {
		t.Fatal("new tracker must not report connected")
	}

	tr.SetState(StateConnecting)
	if got := tr.ConnectionStatus().State; got != StateConnecting {
		t.Errorf("expected connecting, got %s", got)
	}

	tr.SetError(errors.New("dial refused"))
	st := tr.ConnectionStatus()
	if st.State != StateError || st.LastError != "dial refused" {
		t.Errorf("unexpected error status: %+v", st)
	}
	if tr.Statistics().Errors != 1 {
		t.Errorf("expected 1 error counted, got %d", tr.Statistics().Errors)
	}

	// Успешное подключение чистит последнюю ошибку
	tr.SetState(StateConnected)
	st = tr.ConnectionStatus()
	if !tr.IsConnected() || st.LastError != "" {
		t.Errorf("expected connected with cleared error, got %+v", st)
	}
	if st.ConnectedAt.IsZero() {
		t.Error("expected ConnectedAt set")
	}
}

func TestStatusCounters(t *testing.T) {
	var tr StatusTracker

	tr.RecordReads(5)
	tr.RecordReads(3)
	tr.RecordWrite()
	tr.RecordError()
	tr.RecordReconnect()

	stats := tr.Statistics()
	if stats.Reads != 8 {
		t.Errorf("expected 8 reads, got %d", stats.Reads)
	}
	if stats.Writes != 1 {
		t.Errorf("expected 1 write, got %d", stats.Writes)
	}
	if stats.Errors != 1 {
		t.Errorf("expected 1 error, got %d", stats.Errors)
	}
	if stats.Reconnects != 1 {
		t.Errorf("expected 1 reconnect, got %d", stats.Reconnects)
	}
	if stats.LastUpdate.IsZero() {
		t.Error("expected LastUpdate set")
	}
	if tr.ConnectionStatus().Reconnects != 1 {
		t.Errorf("expected reconnect mirrored in status")
	}
}
