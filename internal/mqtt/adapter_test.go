package mqtt

import (
	"context"
	"testing"

	"github.com/pv/scada-bridge/internal/tag"
)

func TestOptionsDefaults(t *testing.T) {
	o := Options{Broker: "tcp://broker:1883"}.withDefaults()
	if o.TopicBase != "scada" {
		t.Errorf("expected default topic base, got %s", o.TopicBase)
	}
	if o.QoS != 1 || o.MaxReconnects != 10 {
		t.Errorf("unexpected defaults: %+v", o)
	}

	if got := o.updatesTopic(); got != "scada/updates" {
		t.Errorf("updatesTopic: %s", got)
	}
	if got := o.writeTopic(); got != "scada/write" {
		t.Errorf("writeTopic: %s", got)
	}
	if got := o.pingTopic(); got != "scada/ping" {
		t.Errorf("pingTopic: %s", got)
	}

	o = Options{TopicBase: "plant/rm101"}.withDefaults()
	if got := o.updatesTopic(); got != "plant/rm101/updates" {
		t.Errorf("custom base updatesTopic: %s", got)
	}
}

func TestHandlePayloadUpdate(t *testing.T) {
	a := New(Options{})

	batches := make(chan []tag.Value, 16)
	a.Subscribe(nil, func(values []tag.Value) { batches <- values })

	a.handlePayload([]byte(`{"type":"update","tagId":"RM101.TT001.PV","value":42.5,"quality":"UNCERTAIN"}`))

	select {
	case batch := <-batches:
		if len(batch) != 1 || batch[0].Value != 42.5 || batch[0].Quality != tag.QualityUncertain {
			t.Fatalf("unexpected batch: %+v", batch)
		}
	default:
		t.Fatal("expected synchronous delivery")
	}

	v, err := a.ReadTag(context.Background(), "RM101.TT001.PV")
	if err != nil || v.Value != 42.5 {
		t.Errorf("ReadTag: %+v, %v", v, err)
	}
	if a.Statistics().Reads != 1 {
		t.Errorf("expected 1 read counted, got %d", a.Statistics().Reads)
	}
}

func TestHandlePayloadBatch(t *testing.T) {
	a := New(Options{})

	a.handlePayload([]byte(`{"type":"batch","tags":[
		{"tagId":"A.B.C","value":1},
		{"tagId":"D.E.F","value":2,"timestamp":"2026-08-30T12:00:00Z"}]}`))

	all, _ := a.ReadAllTags(context.Background())
	if len(all) != 2 {
		t.Fatalf("expected 2 cached values, got %d", len(all))
	}
	// Качество по умолчанию GOOD если шлюз его не прислал
	for _, v := range all {
		if v.Quality != tag.QualityGood {
			t.Errorf("expected GOOD quality for %s, got %s", v.TagID, v.Quality)
		}
	}
}

func TestHandlePayloadRejectsMalformed(t *testing.T) {
	a := New(Options{})

	delivered := 0
	a.Subscribe(nil, func(values []tag.Value) { delivered += len(values) })

	a.handlePayload([]byte(`{"type":"update","tagId":"A.B.C"}`)) // без value
	a.handlePayload([]byte(`not json`))
	a.handlePayload([]byte(`{"type":"telemetry"}`))

	if delivered != 0 {
		t.Errorf("expected no delivery of malformed payloads, got %d values", delivered)
	}
	if a.Statistics().Errors != 3 {
		t.Errorf("expected 3 rejected payloads, got %d", a.Statistics().Errors)
	}
}

func TestReadTagMissing(t *testing.T) {
	a := New(Options{})
	if _, err := a.ReadTag(context.Background(), "RM101.XX999.PV"); err == nil {
		t.Error("expected error for tag without a pushed value")
	}

	values, err := a.ReadTags(context.Background(), []string{"RM101.XX999.PV"})
	if err != nil || len(values) != 0 {
		t.Errorf("expected missing tags skipped, got %+v, %v", values, err)
	}
}

func TestWriteTagNotConnected(t *testing.T) {
	a := New(Options{})
	if ok, err := a.WriteTag(context.Background(), "RM101.SC001.SP", 1500); ok || err == nil {
		t.Error("expected write rejected while disconnected")
	}
}
