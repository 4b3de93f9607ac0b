package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teranos/keywatch/logger"
)

const wsPath = "/ws/pulse"

// Handler returns the API with its middleware chain applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.setupHTTPRoutes(mux)

	var h http.Handler = mux
	h = s.corsMiddleware(h)
	h = s.limiter.middleware(h)
	h = s.loggingMiddleware(h)
	return requestIDMiddleware(h)
}

// setupHTTPRoutes registers all handlers on mux
func (s *Server) setupHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.HandleHealth)
	mux.HandleFunc("GET /api/schedules", s.HandleListSchedules)                   // ?owner=
	mux.HandleFunc("POST /api/schedules", s.HandleCreateSchedule)                 // create, first run one interval out
	mux.HandleFunc("GET /api/schedules/{id}", s.HandleGetSchedule)                // single schedule
	mux.HandleFunc("POST /api/schedules/{id}/{action}", s.HandleScheduleAction)   // pause, resume, cancel
	mux.HandleFunc("DELETE /api/schedules/{id}", s.HandleDeleteSchedule)          // ?force=true deletes without cancelling first
	mux.HandleFunc("GET /api/pulse/stats", s.HandlePulseStats)                    // ticker statistics
	mux.HandleFunc("GET /api/reports", s.HandleListReports)                       // ?owner=&limit=
	mux.HandleFunc("GET /api/reports/{id}", s.HandleGetReport)                    // report with resolved links
	mux.HandleFunc("GET /api/notifications", s.HandleListNotifications)           // ?owner=&unread=true
	mux.HandleFunc("POST /api/notifications/{id}/read", s.HandleMarkNotification) // ?owner=
	mux.HandleFunc("GET "+wsPath, s.HandleWebSocket)                              // execution events
}

// HandleWebSocket upgrades the connection and subscribes it to execution events
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		s.logger.Warnw("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(s.hub, conn, uuid.NewString())
	if !s.hub.add(client) {
		conn.Close()
		return
	}

	logger.FromContext(r.Context(), s.logger).Debugw("WebSocket client attached", "client_id", shortID(client.id))

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.writePump(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
}
