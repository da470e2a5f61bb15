package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wricardo/lens-relay/relay/metrics"
	"github.com/wricardo/lens-relay/relay/session"
	"github.com/wricardo/lens-relay/transport/websocket"
)

// Registry is the read-only view of the session registry the API needs.
type Registry interface {
	List() []*session.Info
	Get(displayCode string) (*session.Info, error)
	Stats() session.Stats
}

// Server represents the HTTP API server
type Server struct {
	sessions Registry
	hub      *websocket.Hub
	metrics  *metrics.Metrics
	router   *mux.Router
}

// NewServer creates a new API server. hub and m may be nil.
func NewServer(sessions Registry, hub *websocket.Hub, m *metrics.Metrics) *Server {
	s := &Server{
		sessions: sessions,
		hub:      hub,
		metrics:  m,
		router:   mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	readOnly(s.router, "/health", http.HandlerFunc(s.handleHealth))
	readOnly(s.router, "/metrics", s.metrics.Handler())

	api := s.router.PathPrefix("/api").Subrouter()
	readOnly(api, "/stats", http.HandlerFunc(s.handleStats))
	readOnly(api, "/sessions", http.HandlerFunc(s.handleListSessions))
	readOnly(api, "/sessions/{code}", http.HandlerFunc(s.handleGetSession))

	if s.hub != nil {
		s.router.HandleFunc("/ws", s.hub.ServeWS)
	}
}

// readOnly serves h for GET on path. Any other method on the same path gets
// 405 from a catch-all route registered right after it.
func readOnly(r *mux.Router, path string, h http.Handler) {
	r.Handle(path, h).Methods("GET")
	r.HandleFunc(path, methodNotAllowed)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET")
	respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// StatsResponse is returned by GET /api/stats.
type StatsResponse struct {
	session.Stats
	Connections int `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Stats: s.sessions.Stats()}
	if s.hub != nil {
		resp.Connections = s.hub.ConnectionCount()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()

	// Parse query parameters
	query := r.URL.Query()
	sortBy := query.Get("sort")    // "created", "activity" (default)
	order := query.Get("order")    // "asc", "desc" (default: "desc")
	limitStr := query.Get("limit") // number of sessions to return

	if sortBy == "" {
		sortBy = "activity"
	}
	if order == "" {
		order = "desc"
	}

	sort.Slice(sessions, func(i, j int) bool {
		var ti, tj time.Time
		if sortBy == "created" {
			ti, tj = sessions[i].CreatedAt, sessions[j].CreatedAt
		} else {
			ti, tj = sessions[i].LastActivityAt, sessions[j].LastActivityAt
		}

		if order == "asc" {
			return ti.Before(tj)
		}
		return ti.After(tj)
	})

	total := len(sessions)
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < len(sessions) {
			sessions = sessions[:l]
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"total":    total,
		"sessions": sessions,
		"sort":     sortBy,
		"order":    order,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	displayCode := mux.Vars(r)["code"]

	info, err := s.sessions.Get(displayCode)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, info)
}
