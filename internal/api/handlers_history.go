package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pv/scada-bridge/internal/historian"
)

// parseTimeRange извлекает from/to из query с default за последний час
func parseTimeRange(r *http.Request) (time.Time, time.Time) {
	from := time.Now().Add(-time.Hour)
	to := time.Now()

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		if t, err := time.Parse(time.RFC3339, fromStr); err == nil {
			from = t
		}
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		if t, err := time.Parse(time.RFC3339, toStr); err == nil {
			to = t
		}
	}
	return from, to
}

// parseQueryOptions извлекает режим выборки тренда из query
func parseQueryOptions(r *http.Request) historian.QueryOptions {
	opts := historian.QueryOptions{}

	switch r.URL.Query().Get("mode") {
	case "interpolated":
		opts.Mode = historian.ModeInterpolated
	case "plot":
		opts.Mode = historian.ModePlot
	case "recorded", "":
		opts.Mode = historian.ModeRecorded
	}

	if intervalStr := r.URL.Query().Get("interval"); intervalStr != "" {
		if d, err := time.ParseDuration(intervalStr); err == nil && d > 0 {
			opts.Interval = d
		}
	}
	if maxStr := r.URL.Query().Get("maxPoints"); maxStr != "" {
		if m, err := strconv.Atoi(maxStr); err == nil && m > 0 {
			opts.MaxPoints = m
		}
	}
	return opts
}

// GetTagHistory возвращает тренд тега через маршрутизатор
// (локальный архив + удалённый историан)
// GET /api/tags/{id}/history?from=...&to=...&mode=recorded|interpolated|plot
func (h *Handlers) GetTagHistory(w http.ResponseWriter, r *http.Request) {
	def, ok := h.requireTag(w, r)
	if !ok {
		return
	}

	from, to := parseTimeRange(r)
	opts := parseQueryOptions(r)

	points, err := h.svc.Historian().Query(r.Context(), def.ID, from, to, opts)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"tagId":  def.ID,
		"from":   from,
		"to":     to,
		"mode":   opts.Mode,
		"points": points,
		"count":  len(points),
	})
}

// GetTrends возвращает тренды нескольких тегов одним запросом
// GET /api/trends?tags=A,B,C&from=...&to=...&mode=plot
func (h *Handlers) GetTrends(w http.ResponseWriter, r *http.Request) {
	tagIDs := splitTagList(r.URL.Query().Get("tags"))
	if len(tagIDs) == 0 {
		h.writeError(w, http.StatusBadRequest, "tags parameter required")
		return
	}
	for _, id := range tagIDs {
		if h.svc.Registry().ByID(id) == nil {
			h.writeError(w, http.StatusNotFound, fmt.Sprintf("tag not found: %s", id))
			return
		}
	}

	from, to := parseTimeRange(r)
	opts := parseQueryOptions(r)

	trends, err := h.svc.Historian().QueryMulti(r.Context(), tagIDs, from, to, opts)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"from":   from,
		"to":     to,
		"mode":   opts.Mode,
		"trends": trends,
	})
}

// GetArchivedAlarms возвращает аварии из локального архива за период
// GET /api/alarms/archive?from=...&to=...
func (h *Handlers) GetArchivedAlarms(w http.ResponseWriter, r *http.Request) {
	from, to := parseTimeRange(r)

	alarms, err := h.svc.History().QueryAlarms(r.Context(), from, to)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"alarms": alarms,
		"count":  len(alarms),
	})
}

// ExportHistory выгружает архив в CSV или JSON
// GET /api/history/export?format=csv|json&tags=A,B&from=...&to=...&alarms=true
func (h *Handlers) ExportHistory(w http.ResponseWriter, r *http.Request) {
	tagIDs := splitTagList(r.URL.Query().Get("tags"))
	if len(tagIDs) == 0 {
		tagIDs = h.svc.Registry().IDs()
	}

	from, to := parseTimeRange(r)
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="history.csv"`)
		if err := h.svc.History().ExportCSV(r.Context(), w, tagIDs, from, to); err != nil {
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
	case "json":
		includeAlarms := r.URL.Query().Get("alarms") == "true"
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="history.json"`)
		if err := h.svc.History().ExportJSON(r.Context(), w, tagIDs, from, to, includeAlarms); err != nil {
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
	default:
		h.writeError(w, http.StatusBadRequest, "format must be csv or json")
	}
}

// ImportHistory загружает точки из JSON выгрузки в локальный архив
// POST /api/history/import
func (h *Handlers) ImportHistory(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.History().ImportJSON(r.Context(), r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"status":   "imported",
		"imported": count,
	})
}

func splitTagList(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}
