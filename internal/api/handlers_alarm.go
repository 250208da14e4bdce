package api

import (
	"net/http"
	"time"
)

// GetAlarms возвращает активные аварии (по приоритету, новые первыми)
// GET /api/alarms
func (h *Handlers) GetAlarms(w http.ResponseWriter, r *http.Request) {
	alarms := h.svc.Alarms().Active()
	h.writeJSON(w, map[string]interface{}{
		"alarms": alarms,
		"count":  len(alarms),
	})
}

// GetAlarmHistory возвращает закрытые аварии из кольцевого буфера
// GET /api/alarms/history
func (h *Handlers) GetAlarmHistory(w http.ResponseWriter, r *http.Request) {
	alarms := h.svc.Alarms().History()
	h.writeJSON(w, map[string]interface{}{
		"alarms": alarms,
		"count":  len(alarms),
	})
}

// AcknowledgeAlarm квитирует аварию
// POST /api/alarms/{id}/ack {"operator": "name"}
func (h *Handlers) AcknowledgeAlarm(w http.ResponseWriter, r *http.Request) {
	alarmID := r.PathValue("id")
	if alarmID == "" {
		h.writeError(w, http.StatusBadRequest, "alarm id required")
		return
	}

	var body struct {
		Operator string `json:"operator"`
	}
	if !h.decodeJSONBody(w, r, &body) {
		return
	}
	if body.Operator == "" {
		h.writeError(w, http.StatusBadRequest, "operator required")
		return
	}

	if !h.svc.Alarms().Acknowledge(alarmID, body.Operator) {
		h.writeError(w, http.StatusConflict, "alarm not found or not acknowledgeable")
		return
	}

	h.writeJSON(w, map[string]string{
		"status":  "acknowledged",
		"alarmId": alarmID,
	})
}

// GetSuppressions возвращает активные подавления
// GET /api/suppressions
func (h *Handlers) GetSuppressions(w http.ResponseWriter, r *http.Request) {
	suppressions := h.svc.Alarms().Suppressions()
	h.writeJSON(w, map[string]interface{}{
		"suppressions": suppressions,
		"count":        len(suppressions),
	})
}

// Suppress подавляет генерацию аварий для тега
// POST /api/suppressions {"tagId": "...", "operator": "...", "reason": "...", "ttlSeconds": 3600}
func (h *Handlers) Suppress(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TagID      string `json:"tagId"`
		Operator   string `json:"operator"`
		Reason     string `json:"reason"`
		TTLSeconds int    `json:"ttlSeconds"`
	}
	if !h.decodeJSONBody(w, r, &body) {
		return
	}
	if body.TagID == "" || body.Operator == "" {
		h.writeError(w, http.StatusBadRequest, "tagId and operator required")
		return
	}

	ttl := time.Duration(body.TTLSeconds) * time.Second
	if !h.svc.Alarms().Suppress(body.TagID, body.Operator, body.Reason, ttl) {
		h.writeError(w, http.StatusNotFound, "tag not found")
		return
	}

	h.writeJSON(w, map[string]string{
		"status": "suppressed",
		"tagId":  body.TagID,
	})
}

// Unsuppress снимает подавление с тега
// DELETE /api/suppressions/{id}
func (h *Handlers) Unsuppress(w http.ResponseWriter, r *http.Request) {
	tagID := r.PathValue("id")
	if tagID == "" {
		h.writeError(w, http.StatusBadRequest, "tag id required")
		return
	}

	if !h.svc.Alarms().Unsuppress(tagID) {
		h.writeError(w, http.StatusNotFound, "no suppression for tag")
		return
	}

	h.writeJSON(w, map[string]string{
		"status": "unsuppressed",
		"tagId":  tagID,
	})
}
