package api

import (
	"encoding/json"
	"net/http"

	"github.com/pv/scada-bridge/internal/scada"
	"github.com/pv/scada-bridge/internal/tag"
)

type Handlers struct {
	svc *scada.Service
}

func NewHandlers(svc *scada.Service) *Handlers {
	return &Handlers{svc: svc}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// decodeJSONBody decodes request body into target struct.
// Returns false if decode failed (error already written).
func (h *Handlers) decodeJSONBody(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// requireTag extracts the tag ID from the path and checks the catalog.
// Returns nil and false if the tag is unknown (error already written).
func (h *Handlers) requireTag(w http.ResponseWriter, r *http.Request) (*tag.Definition, bool) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "tag id required")
		return nil, false
	}
	def := h.svc.Registry().ByID(id)
	if def == nil {
		h.writeError(w, http.StatusNotFound, "tag not found")
		return nil, false
	}
	return def, true
}

// tagView объединяет описание тега с его последним значением
type tagView struct {
	tag.Definition
	Value *tag.Value `json:"value,omitempty"`
}

// GetTags возвращает каталог тегов с последними значениями
// GET /api/tags?machine=...&group=...
func (h *Handlers) GetTags(w http.ResponseWriter, r *http.Request) {
	registry := h.svc.Registry()

	var defs []*tag.Definition
	switch {
	case r.URL.Query().Get("machine") != "":
		defs = registry.ByMachine(r.URL.Query().Get("machine"))
	case r.URL.Query().Get("group") != "":
		defs = registry.ByGroup(r.URL.Query().Get("group"))
	default:
		defs = registry.All()
	}

	latest := make(map[string]tag.Value)
	for _, v := range h.svc.Latest() {
		latest[v.TagID] = v
	}

	views := make([]tagView, 0, len(defs))
	for _, def := range defs {
		view := tagView{Definition: *def}
		if v, ok := latest[def.ID]; ok {
			value := v
			view.Value = &value
		}
		views = append(views, view)
	}

	h.writeJSON(w, map[string]interface{}{
		"tags":  views,
		"count": len(views),
	})
}

// GetTag возвращает описание и текущее значение тега
// GET /api/tags/{id}
func (h *Handlers) GetTag(w http.ResponseWriter, r *http.Request) {
	def, ok := h.requireTag(w, r)
	if !ok {
		return
	}

	view := tagView{Definition: *def}
	if v, err := h.svc.ReadTag(r.Context(), def.ID); err == nil {
		view.Value = &v
	}
	h.writeJSON(w, view)
}

// WriteTag записывает значение тега
// POST /api/tags/{id}/value {"value": 42.5}
func (h *Handlers) WriteTag(w http.ResponseWriter, r *http.Request) {
	def, ok := h.requireTag(w, r)
	if !ok {
		return
	}

	var body struct {
		Value *float64 `json:"value"`
	}
	if !h.decodeJSONBody(w, r, &body) {
		return
	}
	if body.Value == nil {
		h.writeError(w, http.StatusBadRequest, "value required")
		return
	}

	written, err := h.svc.WriteTag(r.Context(), def.ID, *body.Value)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if !written {
		h.writeError(w, http.StatusForbidden, "tag is not writable")
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"status": "written",
		"tagId":  def.ID,
		"value":  *body.Value,
	})
}

// GetMachines возвращает список машин с их тегами
// GET /api/machines
func (h *Handlers) GetMachines(w http.ResponseWriter, r *http.Request) {
	registry := h.svc.Registry()

	type machineView struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}

	machines := registry.Machines()
	views := make([]machineView, 0, len(machines))
	for _, m := range machines {
		defs := registry.ByMachine(m)
		ids := make([]string, 0, len(defs))
		for _, def := range defs {
			ids = append(ids, def.ID)
		}
		views = append(views, machineView{Name: m, Tags: ids})
	}

	h.writeJSON(w, map[string]interface{}{
		"machines": views,
		"count":    len(views),
	})
}

// GetStatus возвращает статус подключения и счётчики адаптера
// GET /api/status
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]interface{}{
		"connection":     h.svc.ConnectionStatus(),
		"statistics":     h.svc.Statistics(),
		"historyEnabled": h.svc.History().Enabled(),
		"clients":        h.svc.Hub().ClientCount(),
	})
}
