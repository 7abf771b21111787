// Package api serves the HTTP surface around the chat server: the
// WebSocket chat endpoint, health and status reporting, and Prometheus
// metrics.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jgneff/volano-sub000/internal/protocol"
	"github.com/jgneff/volano-sub000/internal/server"
	"github.com/jgneff/volano-sub000/internal/transport"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(ctx *server.Context, hub *transport.Hub) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(ctx.Logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		MaxAge:         300,
	}))

	h := &handler{ctx: ctx, hub: hub}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.health)
	r.Get("/status", h.status)
	r.Get("/rooms", h.rooms)
	r.Get("/chat", hub.ServeWS)

	return r
}

type handler struct {
	ctx *server.Context
	hub *transport.Hub
}

func (h *handler) json(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse carries the aggregate counts for status reporting.
type StatusResponse struct {
	Connections     int `json:"connections"`
	Rooms           int `json:"rooms"`
	PrivateSessions int `json:"private_sessions"`
	Bans            int `json:"bans"`
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, StatusResponse{
		Connections:     h.hub.Count(),
		Rooms:           h.ctx.Rooms.Count(),
		PrivateSessions: h.ctx.Privates.Count(),
		Bans:            h.ctx.Access.Bans().Size(),
	})
}

// RoomInfo is one directory entry with its occupant snapshot. Host
// addresses are never exposed here.
type RoomInfo struct {
	Name  string              `json:"name"`
	Kind  string              `json:"kind"`
	Size  int                 `json:"size"`
	Users []protocol.UserInfo `json:"users,omitempty"`
}

func (h *handler) rooms(w http.ResponseWriter, r *http.Request) {
	var out []RoomInfo
	for _, rm := range h.ctx.Rooms.Snapshot() {
		if !rm.Listed() {
			continue
		}
		out = append(out, RoomInfo{
			Name:  rm.Key(),
			Kind:  string(rm.Kind()),
			Size:  rm.Size(),
			Users: rm.Snapshot(false),
		})
	}
	if out == nil {
		out = []RoomInfo{}
	}
	h.json(w, http.StatusOK, out)
}

// requestLogger logs each request with zerolog.
func requestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("remote_addr", r.RemoteAddr).
					Msg("request completed")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
