package api

import (
	"net/http"
)

type Server struct {
	mux      *http.ServeMux
	handlers *Handlers
}

func NewServer(handlers *Handlers) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		handlers: handlers,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Tag catalog and live values
	s.mux.HandleFunc("GET /api/tags", s.handlers.GetTags)
	s.mux.HandleFunc("GET /api/tags/{id}", s.handlers.GetTag)
	s.mux.HandleFunc("POST /api/tags/{id}/value", s.handlers.WriteTag)
	s.mux.HandleFunc("GET /api/tags/{id}/history", s.handlers.GetTagHistory)
	s.mux.HandleFunc("GET /api/trends", s.handlers.GetTrends)

	// Machines
	s.mux.HandleFunc("GET /api/machines", s.handlers.GetMachines)
	s.mux.HandleFunc("POST /api/machines/{name}/state", s.handlers.SetMachineState)

	// Alarms
	s.mux.HandleFunc("GET /api/alarms", s.handlers.GetAlarms)
	s.mux.HandleFunc("GET /api/alarms/history", s.handlers.GetAlarmHistory)
	s.mux.HandleFunc("GET /api/alarms/archive", s.handlers.GetArchivedAlarms)
	s.mux.HandleFunc("POST /api/alarms/{id}/ack", s.handlers.AcknowledgeAlarm)
	s.mux.HandleFunc("GET /api/suppressions", s.handlers.GetSuppressions)
	s.mux.HandleFunc("POST /api/suppressions", s.handlers.Suppress)
	s.mux.HandleFunc("DELETE /api/suppressions/{id}", s.handlers.Unsuppress)

	// History export/import
	s.mux.HandleFunc("GET /api/history/export", s.handlers.ExportHistory)
	s.mux.HandleFunc("POST /api/history/import", s.handlers.ImportHistory)

	// Simulation control
	s.mux.HandleFunc("GET /api/faults", s.handlers.GetFaults)
	s.mux.HandleFunc("POST /api/faults", s.handlers.InjectFault)
	s.mux.HandleFunc("DELETE /api/faults/{id}", s.handlers.ClearFault)

	// Service status
	s.mux.HandleFunc("GET /api/status", s.handlers.GetStatus)

	// SSE endpoint
	s.mux.HandleFunc("GET /api/events", s.handlers.HandleSSE)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
