package api

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"parallax/internal/consensus"
	"parallax/internal/geometry"
	"parallax/internal/logger"
	"parallax/internal/metrics"
	"parallax/internal/observation"
	"parallax/internal/registry"
)

// validateRequest optionally carries inline observations for a round.
type validateRequest struct {
	Observations []observation.Wire `json:"observations"`
}

// observerUpdate is the PUT /observers/{observer} payload.
type observerUpdate struct {
	Position *[3]float64 `json:"position"`
	PubKey   string      `json:"pubkey,omitempty"` // hex-encoded ed25519 public key
}

// targetStatus reports the live observation set and last verdict for
// one target.
type targetStatus struct {
	TargetID     string      `json:"targetId"`
	Observers    []string    `json:"observers"`
	Observations int         `json:"observations"`
	LastPosition *[3]float64 `json:"lastPosition,omitempty"`
}

// handleSubmitObservation handles POST /observations requests.
func (s *Server) handleSubmitObservation(w http.ResponseWriter, r *http.Request) {
	var wire observation.Wire
	if err := decodeBody(r, &wire); err != nil {
		s.countSubmission(false)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	obs := wire.Observation()

	if err := s.store.Submit(obs); err != nil {
		s.countSubmission(false)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.countSubmission(true)
	logger.Debug("observation submitted", "observer", obs.ObserverID, "target", obs.TargetID)

	writeOK(w, http.StatusAccepted)
}

// handleValidate handles POST /validate/{target} requests. The body may
// carry inline observations; they join whatever the store holds.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	targetID := r.PathValue("target")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var inline []observation.Observation
	if len(body) > 0 {
		var req validateRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		for _, wire := range req.Observations {
			inline = append(inline, wire.Observation())
		}
	}

	start := time.Now()

	result, err := s.validator.Validate(targetID, inline)
	if err != nil {
		s.failRound(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RoundDuration(time.Since(start))
	}

	writeData(w, http.StatusOK, result)
}

// failRound maps a validation error to its HTTP status and failure counter.
func (s *Server) failRound(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, observation.ErrInvalidObservation):
		s.countFailure(metrics.ReasonInvalidObservation)
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, consensus.ErrInsufficientObservers):
		s.countFailure(metrics.ReasonInsufficientObservers)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, geometry.ErrUnderConstrained):
		s.countFailure(metrics.ReasonUnderConstrained)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleGetTarget handles GET /targets/{target} requests.
func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	targetID := r.PathValue("target")

	pending := s.store.Snapshot(targetID)
	position, validated := s.validator.LastPosition(targetID)

	if len(pending) == 0 && !validated {
		writeError(w, http.StatusNotFound, "unknown target")
		return
	}

	status := targetStatus{
		TargetID:     targetID,
		Observers:    make([]string, 0, len(pending)),
		Observations: len(pending),
	}

	for _, obs := range pending {
		status.Observers = append(status.Observers, obs.ObserverID)
	}

	if validated {
		pos := geometry.ToArray(position)
		status.LastPosition = &pos
	}

	writeData(w, http.StatusOK, status)
}

// handleUpsertObserver handles PUT /observers/{observer} requests.
func (s *Server) handleUpsertObserver(w http.ResponseWriter, r *http.Request) {
	observerID := r.PathValue("observer")

	var update observerUpdate
	if err := decodeBody(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if update.Position == nil {
		writeError(w, http.StatusBadRequest, "position is required")
		return
	}

	position := geometry.FromArray(*update.Position)
	if !geometry.IsFinite(position) {
		writeError(w, http.StatusBadRequest, "position must be finite")
		return
	}

	entry := registry.Entry{
		ObserverID: observerID,
		Position:   position,
	}

	if update.PubKey != "" {
		key, err := hex.DecodeString(update.PubKey)
		if err != nil || len(key) != ed25519.PublicKeySize {
			writeError(w, http.StatusBadRequest, "pubkey must be a hex ed25519 public key")
			return
		}
		entry.PubKey = ed25519.PublicKey(key)
	}

	s.observers.Upsert(entry)
	logger.Debug("observer registered", "observer", observerID)

	writeOK(w, http.StatusOK)
}

// handlePhysics handles GET /physics requests.
func (s *Server) handlePhysics(w http.ResponseWriter, r *http.Request) {
	if s.physics == nil {
		writeError(w, http.StatusServiceUnavailable, "physics not available")
		return
	}

	snapshot, ok := s.physics.Last()
	if !ok {
		snapshot = s.physics.Sample()
	}

	writeData(w, http.StatusOK, snapshot)
}

// handleArchive handles GET /journal/archive requests. The body is the
// raw compressed archive, not a JSON envelope.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not available")
		return
	}

	data, err := s.journal.Archive()
	if err != nil {
		logger.Error("journal archive failed", "error", err)
		writeError(w, http.StatusInternalServerError, "archive failed")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return errors.New("failed to read body")
	}

	if len(body) == 0 {
		return errors.New("empty request body")
	}

	if err := json.Unmarshal(body, v); err != nil {
		return errors.New("malformed request body")
	}

	return nil
}

// countSubmission records an ingestion outcome.
func (s *Server) countSubmission(accepted bool) {
	if s.metrics != nil {
		s.metrics.Submission(accepted)
	}
}

// countFailure records a failed validation round.
func (s *Server) countFailure(reason string) {
	if s.metrics != nil {
		s.metrics.Failure(reason)
	}
}
