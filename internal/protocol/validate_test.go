package protocol

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string // пусто = валидный фрейм
	}{
		{
			name: "valid update",
			raw:  `{"type":"update","tagId":"RM101.TT001.PV","value":42.5,"quality":"GOOD"}`,
		},
		{
			name:    "update without tagId",
			raw:     `{"type":"update","value":42.5}`,
			wantErr: "update without tagId",
		},
		{
			name:    "update without value",
			raw:     `{"type":"update","tagId":"RM101.TT001.PV"}`,
			wantErr: "update without value",
		},
		{
			name: "update with zero value",
			raw:  `{"type":"update","tagId":"RM101.TT001.PV","value":0}`,
		},
		{
			name:    "update with unknown quality",
			raw:     `{"type":"update","tagId":"RM101.TT001.PV","value":1,"quality":"GREAT"}`,
			wantErr: "unknown quality",
		},
		{
			name: "valid batch",
			raw:  `{"type":"batch","tags":[{"tagId":"A.B.C","value":1},{"tagId":"D.E.F","value":2}]}`,
		},
		{
			name:    "batch without tags",
			raw:     `{"type":"batch"}`,
			wantErr: "batch without tags",
		},
		{
			name:    "batch entry without value",
			raw:     `{"type":"batch","tags":[{"tagId":"A.B.C"}]}`,
			wantErr: "tags[0] without value",
		},
		{
			name:    "snapshot entry without tagId",
			raw:     `{"type":"snapshot","tags":[{"value":1}]}`,
			wantErr: "tags[0] without tagId",
		},
		{
			name: "subscribe without tagIds means all",
			raw:  `{"type":"subscribe"}`,
		},
		{
			name: "subscribe with tagIds",
			raw:  `{"type":"subscribe","tagIds":["A.B.C"]}`,
		},
		{
			name: "valid write",
			raw:  `{"type":"write","tagId":"RM101.SC001.SP","value":1500}`,
		},
		{
			name:    "write without value",
			raw:     `{"type":"write","tagId":"RM101.SC001.SP"}`,
			wantErr: "write without value",
		},
		{
			name: "valid error frame",
			raw:  `{"type":"error","error":"tag not found"}`,
		},
		{
			name:    "error frame without text",
			raw:     `{"type":"error"}`,
			wantErr: "error frame without error text",
		},
		{
			name: "ping",
			raw:  `{"type":"ping"}`,
		},
		{
			name:    "missing type",
			raw:     `{"tagId":"A.B.C"}`,
			wantErr: "missing type",
		},
		{
			name:    "unknown type",
			raw:     `{"type":"telemetry"}`,
			wantErr: "unknown type",
		},
		{
			name:    "not json",
			raw:     `{"type":`,
			wantErr: "not valid JSON",
		},
		{
			name:    "bad timestamp",
			raw:     `{"type":"ping","timestamp":"yesterday"}`,
			wantErr: "bad timestamp",
		},
		{
			name: "good timestamp",
			raw:  `{"type":"ping","timestamp":"2026-08-30T12:00:00Z"}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Validate("mqtt", []byte(tc.raw))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if msg == nil {
					t.Fatal("expected parsed message")
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidationErrorFields(t *testing.T) {
	_, err := Validate("websocket", []byte(`{"type":"update"}`))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Protocol != "websocket" {
		t.Errorf("expected protocol recorded, got %s", verr.Protocol)
	}
	if len(verr.Raw) == 0 {
		t.Error("expected raw payload attached")
	}
}

func TestValidationErrorTruncatesPayload(t *testing.T) {
	raw := `{"type":"update","tagId":"` + strings.Repeat("x", 400) + `"}`
	_, err := Validate("mqtt", []byte(raw))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "...") {
		t.Error("expected long payload truncated in error text")
	}
}

func TestParseTimestamp(t *testing.T) {
	ts := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	m := Message{Timestamp: ts.Format(time.RFC3339Nano)}
	if !m.ParseTimestamp().Equal(ts) {
		t.Errorf("expected %v, got %v", ts, m.ParseTimestamp())
	}

	// Пустая или битая метка времени заменяется текущим временем
	before := time.Now().UTC()
	got := (&Message{}).ParseTimestamp()
	if got.Before(before.Add(-time.Second)) {
		t.Errorf("expected current time fallback, got %v", got)
	}
	got = (&Message{Timestamp: "garbage"}).ParseTimestamp()
	if got.Before(before.Add(-time.Second)) {
		t.Errorf("expected current time fallback for bad input, got %v", got)
	}
}

func TestFrameBuilders(t *testing.T) {
	sub := NewSubscribe([]string{"A.B.C"})
	if sub.Type != TypeSubscribe || len(sub.TagIDs) != 1 {
		t.Errorf("unexpected subscribe frame: %+v", sub)
	}

	w := NewWrite("RM101.SC001.SP", 1500)
	if w.Type != TypeWrite || w.Value == nil || *w.Value != 1500 {
		t.Errorf("unexpected write frame: %+v", w)
	}

	p := NewPing()
	if p.Type != TypePing || p.Timestamp == "" {
		t.Errorf("unexpected ping frame: %+v", p)
	}
}
