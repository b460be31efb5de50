// Package web serves the browser map: a small JSON API over the live
// track state, a websocket that streams render commands, and an embedded
// Leaflet page that draws them.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/unklstewy/ads-livemap/internal/livemap"
	"github.com/unklstewy/ads-livemap/internal/render"
	"github.com/unklstewy/ads-livemap/internal/track"
	"github.com/unklstewy/ads-livemap/pkg/config"
	"github.com/unklstewy/ads-livemap/pkg/coordinates"
)

//go:embed static
var staticFiles embed.FS

// Engine is the part of the reconciliation loop the web server uses.
type Engine interface {
	Select(id string)
	Resync(sink render.Sink)
	Tracks() []track.Track
	Track(id string) (track.Track, bool)
	Selection() (string, bool)
	Stats() livemap.Stats
}

// Server holds the HTTP router and its dependencies.
type Server struct {
	router   *chi.Mux
	engine   Engine
	hub      *Hub
	mapCfg   config.MapConfig
	interval time.Duration
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer builds the router. hub must be the sink (or part of the sink)
// the engine draws into.
func NewServer(engine Engine, hub *Hub, cfg *config.Config, logger *slog.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		engine:   engine,
		hub:      hub,
		mapCfg:   cfg.Map,
		interval: cfg.Feed.PollInterval(),
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/map", s.handleGetMap)
		r.Get("/status", s.handleGetStatus)

		r.Get("/tracks", s.handleGetTracks)
		r.Get("/tracks/{id}", s.handleGetTrack)
		r.Post("/tracks/{id}/toggle", s.handleToggleTrack)
	})

	// The websocket stays outside Compress so the connection can be hijacked
	r.Get("/ws", s.handleWebSocket)

	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	r.Handle("/*", http.FileServer(http.FS(static)))
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", slog.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("web server stopped")
	return nil
}

// MapInfo tells the browser how to set up the map.
type MapInfo struct {
	TileURL             string                 `json:"tile_url"`
	Attribution         string                 `json:"attribution"`
	Center              coordinates.Geographic `json:"center"`
	Zoom                int                    `json:"zoom"`
	PollIntervalSeconds float64                `json:"poll_interval_seconds"`
}

// TrackSummary is the list view of one track.
type TrackSummary struct {
	ID          string                 `json:"id"`
	Label       string                 `json:"label"`
	Position    coordinates.Geographic `json:"position"`
	Heading     float64                `json:"heading"`
	TrailPoints int                    `json:"trail_points"`
	Selected    bool                   `json:"selected"`
	LastSeen    time.Time              `json:"last_seen"`
}

// TrackDetail is one track with its full trail.
type TrackDetail struct {
	track.Track
	Selected bool `json:"selected"`
}

// StatusResponse reports loop health.
type StatusResponse struct {
	Status  string        `json:"status"`
	Loop    livemap.Stats `json:"loop"`
	Viewers int           `json:"viewers"`
}

func (s *Server) handleGetMap(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, MapInfo{
		TileURL:             s.mapCfg.TileURL,
		Attribution:         s.mapCfg.Attribution,
		Center:              coordinates.Geographic{Latitude: s.mapCfg.CenterLat, Longitude: s.mapCfg.CenterLon},
		Zoom:                s.mapCfg.Zoom,
		PollIntervalSeconds: s.interval.Seconds(),
	})
}

func (s *Server) handleGetTracks(w http.ResponseWriter, r *http.Request) {
	selected, active := s.engine.Selection()
	tracks := s.engine.Tracks()

	out := make([]TrackSummary, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, TrackSummary{
			ID:          t.ID,
			Label:       t.Label,
			Position:    t.Position,
			Heading:     t.Heading,
			TrailPoints: len(t.Trail),
			Selected:    active && t.ID == selected,
			LastSeen:    t.LastSeen,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTrack(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, ok := s.engine.Track(id)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown track "+id)
		return
	}

	selected, active := s.engine.Selection()
	respondJSON(w, http.StatusOK, TrackDetail{Track: t, Selected: active && id == selected})
}

// handleToggleTrack queues a click; the toggle happens inside the loop.
func (s *Server) handleToggleTrack(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.engine.Track(id); !ok {
		respondError(w, http.StatusNotFound, "unknown track "+id)
		return
	}

	s.engine.Select(id)
	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"id":     id,
	})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	status := "ok"
	if stats.LastError != "" {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, StatusResponse{
		Status:  status,
		Loop:    stats,
		Viewers: s.hub.Clients(),
	})
}

// handleWebSocket upgrades the connection, replays current state to the
// new viewer and then streams live commands.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, sendBuffer)}
	s.hub.register(c)

	go c.writePump()
	s.engine.Resync(c.resyncSink())
	go c.readPump(s.engine)
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes a JSON error body
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
