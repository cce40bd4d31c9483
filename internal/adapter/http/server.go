package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/incident-feed-sync/internal/domain"
	"github.com/couchcryptid/incident-feed-sync/internal/geocode"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// SnapshotSource returns the latest rendered snapshot.
type SnapshotSource interface {
	Current() (*domain.Snapshot, bool)
}

// GeocodeStatsSource reports geocode cache counts.
type GeocodeStatsSource interface {
	Stats() geocode.Stats
}

// Deps are the components the API reads from.
type Deps struct {
	Ready         ReadinessChecker
	Snapshots     SnapshotSource
	Installations *domain.ProximityIndex
	Categories    []domain.Category
	// Geocode serves /api/geocode/stats when set.
	Geocode GeocodeStatsSource
	// WebSocket serves /ws when set.
	WebSocket http.Handler
	// DefaultRadius applies when a nearby query omits radius, in meters.
	DefaultRadius float64
}

// Server exposes health, metrics, the incident snapshot and installation
// queries over HTTP.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates an HTTP server with health, metrics, and /api routes.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deps:   deps,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(deps.Ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/incidents", s.handleIncidents)
	mux.HandleFunc("GET /api/incidents.kml", s.handleIncidentsKML)
	mux.HandleFunc("GET /api/incidents/{id}/nearby", s.handleIncidentNearby)
	mux.HandleFunc("GET /api/installations", s.handleInstallations)
	mux.HandleFunc("GET /api/installations.kml", s.handleInstallationsKML)
	mux.HandleFunc("GET /api/installations/nearby", s.handleInstallationsNearby)
	mux.HandleFunc("GET /api/categories", s.handleCategories)
	if deps.Geocode != nil {
		mux.HandleFunc("GET /api/geocode/stats", s.handleGeocodeStats)
	}
	if deps.WebSocket != nil {
		mux.Handle("GET /ws", deps.WebSocket)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleIncidents(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.deps.Snapshots.Current()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no snapshot rendered yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleIncidentsKML(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.deps.Snapshots.Current()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no snapshot rendered yet")
		return
	}
	w.Header().Set("Content-Type", kmlContentType)
	if err := incidentsKML(snap).WriteIndent(w, "", "  "); err != nil {
		s.logger.Warn("write kml failed", "error", err)
	}
}

func (s *Server) handleInstallations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Installations.All())
}

func (s *Server) handleInstallationsKML(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", kmlContentType)
	if err := installationsKML(s.deps.Installations.All()).WriteIndent(w, "", "  "); err != nil {
		s.logger.Warn("write kml failed", "error", err)
	}
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Categories)
}

func (s *Server) handleGeocodeStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Geocode.Stats())
}

type nearbyResponse struct {
	Center        domain.GeoPoint             `json:"center"`
	RadiusMeters  float64                     `json:"radius_meters"`
	Installations []domain.NearbyInstallation `json:"installations"`
}

func (s *Server) handleInstallationsNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := parseCoordinate(q.Get("lat"), 90)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lat")
		return
	}
	lon, err := parseCoordinate(q.Get("lon"), 180)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lon")
		return
	}
	radius, ok := s.radius(q.Get("radius"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid radius")
		return
	}

	s.writeNearby(w, domain.GeoPoint{Lat: lat, Lon: lon}, radius)
}

// handleIncidentNearby answers "which cameras are near this incident", the
// query a map client issues when an incident is selected.
func (s *Server) handleIncidentNearby(w http.ResponseWriter, r *http.Request) {
	radius, ok := s.radius(r.URL.Query().Get("radius"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid radius")
		return
	}

	snap, _ := s.deps.Snapshots.Current()
	inc, found := snap.Find(r.PathValue("id"))
	if !found {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	if inc.Point == nil {
		writeError(w, http.StatusUnprocessableEntity, "incident has no resolved location")
		return
	}

	s.writeNearby(w, *inc.Point, radius)
}

func (s *Server) writeNearby(w http.ResponseWriter, center domain.GeoPoint, radius float64) {
	found := s.deps.Installations.Nearby(center, radius)
	if found == nil {
		found = []domain.NearbyInstallation{}
	}
	writeJSON(w, http.StatusOK, nearbyResponse{
		Center:        center,
		RadiusMeters:  radius,
		Installations: found,
	})
}

func (s *Server) radius(raw string) (float64, bool) {
	if raw == "" {
		return s.deps.DefaultRadius, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

func parseCoordinate(raw string, limit float64) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.Abs(v) > limit {
		return 0, strconv.ErrRange
	}
	return v, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
