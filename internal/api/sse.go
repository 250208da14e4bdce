package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pv/scada-bridge/internal/logger"
	"github.com/pv/scada-bridge/internal/scada"
)

// HandleSSE обрабатывает SSE подключение
// GET /api/events?tags=A,B&machine=RM101 (оба фильтра опциональны)
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "SSE not supported")
		return
	}

	tagIDs := splitTagList(r.URL.Query().Get("tags"))
	machine := r.URL.Query().Get("machine")

	// Устанавливаем заголовки SSE
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no") // Для nginx

	client := h.svc.Hub().AddClient(tagIDs, machine)
	defer h.svc.Hub().RemoveClient(client)

	// Приветственное сообщение со снимком текущих значений
	h.sendSSEEvent(w, scada.Event{
		Type:      "connected",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"connection": h.svc.ConnectionStatus(),
			"snapshot":   h.svc.Latest(),
		},
	})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done():
			return
		case event := <-client.Events():
			h.sendSSEEvent(w, event)
			flusher.Flush()
		}
	}
}

// sendSSEEvent отправляет одно SSE событие
func (h *Handlers) sendSSEEvent(w http.ResponseWriter, event scada.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal SSE event", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
