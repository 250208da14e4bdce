package api

import (
	"net/http"
	"time"

	"github.com/pv/scada-bridge/internal/sim"
)

// requireSim returns the simulation adapter.
// Returns nil and false when the service runs against a real source
// (error already written).
func (h *Handlers) requireSim(w http.ResponseWriter) (*sim.Adapter, bool) {
	simA := h.svc.Sim()
	if simA == nil {
		h.writeError(w, http.StatusConflict, "simulation control is not available for this adapter")
		return nil, false
	}
	return simA, true
}

// SetMachineState управляет состоянием симулируемой машины
// POST /api/machines/{name}/state {"running": true, "load": 75}
func (h *Handlers) SetMachineState(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		h.writeError(w, http.StatusBadRequest, "machine name required")
		return
	}

	simA, ok := h.requireSim(w)
	if !ok {
		return
	}

	var body struct {
		Running *bool    `json:"running"`
		Load    *float64 `json:"load"`
	}
	if !h.decodeJSONBody(w, r, &body) {
		return
	}

	if body.Running != nil {
		simA.SetMachineRunning(name, *body.Running)
	}
	if body.Load != nil {
		simA.SetMachineLoad(name, *body.Load)
	}

	h.writeJSON(w, map[string]interface{}{
		"status":  "updated",
		"machine": name,
	})
}

// GetFaults возвращает активные неисправности симуляции
// GET /api/faults
func (h *Handlers) GetFaults(w http.ResponseWriter, r *http.Request) {
	simA, ok := h.requireSim(w)
	if !ok {
		return
	}

	faults := simA.ActiveFaults()
	h.writeJSON(w, map[string]interface{}{
		"faults": faults,
		"count":  len(faults),
	})
}

// InjectFault вносит неисправность в симулируемый датчик
// POST /api/faults {"tagId": "...", "type": "spike", "durationSeconds": 60}
func (h *Handlers) InjectFault(w http.ResponseWriter, r *http.Request) {
	simA, ok := h.requireSim(w)
	if !ok {
		return
	}

	var body struct {
		TagID           string `json:"tagId"`
		Type            string `json:"type"`
		DurationSeconds int    `json:"durationSeconds"`
	}
	if !h.decodeJSONBody(w, r, &body) {
		return
	}

	faultType := sim.FaultType(body.Type)
	if !faultType.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown fault type")
		return
	}

	duration := time.Duration(body.DurationSeconds) * time.Second
	if err := simA.InjectFault(body.TagID, faultType, duration); err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	h.writeJSON(w, map[string]string{
		"status": "injected",
		"tagId":  body.TagID,
		"type":   body.Type,
	})
}

// ClearFault снимает неисправность с датчика
// DELETE /api/faults/{id}
func (h *Handlers) ClearFault(w http.ResponseWriter, r *http.Request) {
	tagID := r.PathValue("id")
	if tagID == "" {
		h.writeError(w, http.StatusBadRequest, "tag id required")
		return
	}

	simA, ok := h.requireSim(w)
	if !ok {
		return
	}

	simA.ClearFault(tagID)
	h.writeJSON(w, map[string]string{
		"status": "cleared",
		"tagId":  tagID,
	})
}
