package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"forumsync/internal/logging"
	"forumsync/pkg/protocol"
)

// API serves the operational HTTP endpoints next to the socket handler.
type API struct {
	hub      *Hub
	registry *Registry
	gatherer prometheus.Gatherer
	started  time.Time
	router   *http.ServeMux
	logger   zerolog.Logger
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Uptime      string         `json:"uptime"`
	Connections map[string]int `json:"connections"`
}

// RoomsResponse is the body of GET /api/rooms.
type RoomsResponse struct {
	Rooms []RoomStats `json:"rooms"`
}

// StatusRequest is the body of POST /api/rooms/{kind}/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewAPI builds the router. A nil gatherer disables /metrics.
func NewAPI(hub *Hub, registry *Registry, gatherer prometheus.Gatherer) *API {
	a := &API{
		hub:      hub,
		registry: registry,
		gatherer: gatherer,
		started:  time.Now(),
		router:   http.NewServeMux(),
		logger:   logging.Component("api"),
	}
	a.setupRoutes()
	return a
}

func (a *API) setupRoutes() {
	a.router.Handle("/health", a.corsMiddleware(a.jsonMiddleware(http.HandlerFunc(a.healthCheck))))
	a.router.Handle("/api/rooms", a.corsMiddleware(a.jsonMiddleware(http.HandlerFunc(a.listRooms))))
	a.router.Handle("/api/rooms/", a.corsMiddleware(a.jsonMiddleware(http.HandlerFunc(a.handleRoom))))
	if a.gatherer != nil {
		a.router.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// GET /health
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	if _, err := a.hub.RoomStats(ctx); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Uptime:      time.Since(a.started).Round(time.Second).String(),
		Connections: a.registry.Stats(),
	})
}

// GET /api/rooms
func (a *API) listRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rooms, err := a.hub.RoomStats(r.Context())
	if err != nil {
		a.sendError(w, "Failed to list rooms", http.StatusServiceUnavailable)
		return
	}
	if rooms == nil {
		rooms = []RoomStats{}
	}
	_ = json.NewEncoder(w).Encode(RoomsResponse{Rooms: rooms})
}

// POST /api/rooms/{kind}/{id}/status
func (a *API) handleRoom(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/rooms/"), "/"), "/")
	if len(parts) != 3 || parts[2] != "status" {
		a.sendError(w, "Not found", http.StatusNotFound)
		return
	}
	if !protocol.ValidKind(parts[0]) {
		a.sendError(w, "Invalid room kind", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		a.sendError(w, "Invalid room id", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodPost {
		a.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	stats, err := a.hub.SetEventStatus(r.Context(), NewRoomKey(parts[0], id), req.Status)
	switch {
	case err == nil:
		a.logger.Info().Str("room", stats.Key.String()).Str("status", stats.Status).Msg("event status changed")
		_ = json.NewEncoder(w).Encode(stats)
	case errors.Is(err, ErrRoomNotFound):
		a.sendError(w, "Room not found", http.StatusNotFound)
	case errors.Is(err, ErrNotAnEvent), errors.Is(err, ErrInvalidStatus):
		a.sendError(w, err.Error(), http.StatusBadRequest)
	default:
		a.sendError(w, "Failed to change status", http.StatusServiceUnavailable)
	}
}

func (a *API) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
