// Package api exposes the validator over HTTP: observation ingestion,
// validation rounds, observer registration and operational surfaces.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"parallax/internal/consensus"
	"parallax/internal/logger"
	"parallax/internal/metrics"
	"parallax/internal/observation"
	"parallax/internal/physics"
	"parallax/internal/registry"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 1 << 20 // 1 MB
)

// ObservationStore accepts observations and reports what is pending.
type ObservationStore interface {
	Submit(obs observation.Observation) error
	Snapshot(targetID string) []observation.Observation
	Targets() []string
}

// Validator runs consensus rounds and remembers validated positions.
type Validator interface {
	Validate(targetID string, inline []observation.Observation) (*consensus.Result, error)
	LastPosition(targetID string) (r3.Vec, bool)
	ValidatedTargets() int
}

// Directory tracks live observer state pushed by the game layer.
type Directory interface {
	Upsert(e registry.Entry)
	Observers() []string
}

// ConservationSource exposes the latest conservation snapshot.
type ConservationSource interface {
	Last() (physics.Snapshot, bool)
	Sample() physics.Snapshot
}

// Archiver exports the audit journal as a compressed document.
type Archiver interface {
	Archive() ([]byte, error)
}

// FeedStats reports observer feed activity.
type FeedStats interface {
	Connections() int
	Counts() (accepted, rejected, duplicates uint64)
}

// WatchHub upgrades monitor connections and reports how many are live.
type WatchHub interface {
	http.Handler
	Clients() int
}

// Config wires the server to its collaborators. Store, Validator and
// Observers are required; the rest degrade to 503 when absent.
type Config struct {
	Addr      string
	Store     ObservationStore
	Validator Validator
	Observers Directory
	Physics   ConservationSource
	Journal   Archiver
	Feed      FeedStats
	Watch     WatchHub
	Metrics   *metrics.Metrics
}

// Server is the HTTP API server.
type Server struct {
	addr      string
	store     ObservationStore
	validator Validator
	observers Directory
	physics   ConservationSource
	journal   Archiver
	feed      FeedStats
	watch     WatchHub
	metrics   *metrics.Metrics

	started  time.Time
	listener net.Listener
	server   *http.Server
}

// New creates a new HTTP API server.
func New(cfg Config) *Server {
	return &Server{
		addr:      cfg.Addr,
		store:     cfg.Store,
		validator: cfg.Validator,
		observers: cfg.Observers,
		physics:   cfg.Physics,
		journal:   cfg.Journal,
		feed:      cfg.Feed,
		watch:     cfg.Watch,
		metrics:   cfg.Metrics,
		started:   time.Now(),
	}
}

// Start binds the listen address and serves in a goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /observations", s.handleSubmitObservation)
	mux.HandleFunc("POST /validate/{target}", s.handleValidate)
	mux.HandleFunc("GET /targets/{target}", s.handleGetTarget)
	mux.HandleFunc("PUT /observers/{observer}", s.handleUpsertObserver)
	mux.HandleFunc("GET /physics", s.handlePhysics)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /journal/archive", s.handleArchive)

	if s.watch != nil {
		mux.Handle("GET /watch", s.watch)
	}

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", listener.Addr())

		if err := s.server.Serve(listener); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address. Returns empty string if not started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"uptimeSeconds":    int64(time.Since(s.started) / time.Second),
		"targets":          s.store.Targets(),
		"observers":        s.observers.Observers(),
		"validatedTargets": s.validator.ValidatedTargets(),
	}

	if s.physics != nil {
		snapshot, ok := s.physics.Last()
		if !ok {
			snapshot = s.physics.Sample()
		}
		data["simulationTick"] = snapshot.Tick
		data["momentumConserved"] = snapshot.MomentumConserved
		data["energyConserved"] = snapshot.EnergyConserved
	}

	if s.feed != nil {
		accepted, rejected, duplicates := s.feed.Counts()
		data["feedConnections"] = s.feed.Connections()
		data["feedReports"] = map[string]uint64{
			"accepted":   accepted,
			"rejected":   rejected,
			"duplicates": duplicates,
		}
	}

	if s.watch != nil {
		data["watchClients"] = s.watch.Clients()
	}

	writeData(w, http.StatusOK, data)
}

// response is the envelope for every JSON reply.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeData writes a success envelope carrying data.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, response{Success: true, Data: data})
}

// writeOK writes an empty success envelope.
func writeOK(w http.ResponseWriter, status int) {
	writeJSON(w, status, response{Success: true})
}

// writeError writes a failure envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, response{Success: false, Message: message})
}
