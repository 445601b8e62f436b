package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"parallax/internal/consensus"
	"parallax/internal/observation"
	"parallax/internal/physics"
	"parallax/internal/registry"
)

// mockStore captures submissions and serves canned snapshots.
type mockStore struct {
	submitted []observation.Observation
	snapshots map[string][]observation.Observation
	failWith  error
}

func (m *mockStore) Submit(obs observation.Observation) error {
	if m.failWith != nil {
		return m.failWith
	}
	norm, err := obs.Normalized()
	if err != nil {
		return err
	}
	m.submitted = append(m.submitted, norm)
	return nil
}

func (m *mockStore) Snapshot(targetID string) []observation.Observation {
	return m.snapshots[targetID]
}

func (m *mockStore) Targets() []string {
	ids := make([]string, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	return ids
}

// mockValidator returns a canned result or error.
type mockValidator struct {
	result    *consensus.Result
	err       error
	positions map[string]r3.Vec
	inline    []observation.Observation
	target    string
}

func (m *mockValidator) Validate(targetID string, inline []observation.Observation) (*consensus.Result, error) {
	m.target = targetID
	m.inline = inline
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockValidator) LastPosition(targetID string) (r3.Vec, bool) {
	pos, ok := m.positions[targetID]
	return pos, ok
}

func (m *mockValidator) ValidatedTargets() int {
	return len(m.positions)
}

// mockDirectory records upserts.
type mockDirectory struct {
	entries []registry.Entry
}

func (m *mockDirectory) Upsert(e registry.Entry) {
	m.entries = append(m.entries, e)
}

func (m *mockDirectory) Observers() []string {
	ids := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		ids = append(ids, e.ObserverID)
	}
	return ids
}

// mockPhysics serves one canned snapshot.
type mockPhysics struct {
	snapshot physics.Snapshot
	sampled  bool
	stored   bool
}

func (m *mockPhysics) Last() (physics.Snapshot, bool) {
	return m.snapshot, m.stored
}

func (m *mockPhysics) Sample() physics.Snapshot {
	m.sampled = true
	return m.snapshot
}

// newTestServer builds a server with the given mocks, defaulting the
// required collaborators.
func newTestServer(store *mockStore, validator *mockValidator, observers *mockDirectory) *Server {
	if store == nil {
		store = &mockStore{}
	}
	if validator == nil {
		validator = &mockValidator{}
	}
	if observers == nil {
		observers = &mockDirectory{}
	}

	return New(Config{
		Addr:      ":0",
		Store:     store,
		Validator: validator,
		Observers: observers,
	})
}

// decodeEnvelope parses the standard response envelope.
func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) response {
	t.Helper()

	var resp struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse envelope: %v (body %s)", err, w.Body.String())
	}
	return response{Success: resp.Success, Message: resp.Message, Data: resp.Data}
}

func observationBody(observerID, targetID string) string {
	return fmt.Sprintf(
		`{"observerId":%q,"targetId":%q,"direction":[1,0,0],"distance":10,"observerPosition":[0,0,0]}`,
		observerID, targetID,
	)
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(nil, nil, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	server.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestSubmitObservation_Success(t *testing.T) {
	store := &mockStore{}
	server := newTestServer(store, nil, nil)

	req := httptest.NewRequest("POST", "/observations", strings.NewReader(observationBody("alice", "asteroid-7")))
	w := httptest.NewRecorder()

	server.handleSubmitObservation(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	if len(store.submitted) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(store.submitted))
	}
	if store.submitted[0].ObserverID != "alice" {
		t.Errorf("unexpected observer: %s", store.submitted[0].ObserverID)
	}

	if resp := decodeEnvelope(t, w); !resp.Success {
		t.Error("expected success envelope")
	}
}

func TestSubmitObservation_EmptyBody(t *testing.T) {
	store := &mockStore{}
	server := newTestServer(store, nil, nil)

	req := httptest.NewRequest("POST", "/observations", nil)
	w := httptest.NewRecorder()

	server.handleSubmitObservation(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	if len(store.submitted) != 0 {
		t.Error("should not submit on error")
	}
}

func TestSubmitObservation_InvalidDirection(t *testing.T) {
	store := &mockStore{}
	server := newTestServer(store, nil, nil)

	body := `{"observerId":"alice","targetId":"asteroid-7","direction":[0,0,0],"distance":10}`
	req := httptest.NewRequest("POST", "/observations", strings.NewReader(body))
	w := httptest.NewRecorder()

	server.handleSubmitObservation(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeEnvelope(t, w)
	if resp.Success {
		t.Error("expected failure envelope")
	}
	if resp.Message == "" {
		t.Error("expected a reason in the envelope")
	}
}

func TestValidate_Success(t *testing.T) {
	validator := &mockValidator{
		result: &consensus.Result{
			TargetID:      "asteroid-7",
			Valid:         true,
			Confidence:    0.875,
			ObserverCount: 4,
			Method:        consensus.MethodLeastSquares,
		},
	}
	server := newTestServer(nil, validator, nil)

	req := httptest.NewRequest("POST", "/validate/asteroid-7", nil)
	req.SetPathValue("target", "asteroid-7")
	w := httptest.NewRecorder()

	server.handleValidate(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeEnvelope(t, w)
	if !resp.Success {
		t.Fatal("expected success envelope")
	}

	var result consensus.Result
	if err := json.Unmarshal(resp.Data.(json.RawMessage), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Valid || result.Confidence != 0.875 {
		t.Fatalf("unexpected result: %+v", result)
	}

	if validator.target != "asteroid-7" {
		t.Errorf("validator called with target %q", validator.target)
	}
}

func TestValidate_InlineObservations(t *testing.T) {
	validator := &mockValidator{result: &consensus.Result{TargetID: "asteroid-7"}}
	server := newTestServer(nil, validator, nil)

	body := fmt.Sprintf(`{"observations":[%s,%s]}`,
		observationBody("alice", "asteroid-7"),
		observationBody("bob", "asteroid-7"),
	)

	req := httptest.NewRequest("POST", "/validate/asteroid-7", strings.NewReader(body))
	req.SetPathValue("target", "asteroid-7")
	w := httptest.NewRecorder()

	server.handleValidate(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	if len(validator.inline) != 2 {
		t.Fatalf("expected 2 inline observations, got %d", len(validator.inline))
	}
	if validator.inline[1].ObserverID != "bob" {
		t.Errorf("unexpected inline observer: %s", validator.inline[1].ObserverID)
	}
}

func TestValidate_InsufficientObservers(t *testing.T) {
	validator := &mockValidator{
		err: fmt.Errorf("validation round for probe-1:\n%w", consensus.ErrInsufficientObservers),
	}
	server := newTestServer(nil, validator, nil)

	req := httptest.NewRequest("POST", "/validate/probe-1", nil)
	req.SetPathValue("target", "probe-1")
	w := httptest.NewRecorder()

	server.handleValidate(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", w.Code, w.Body.String())
	}

	if resp := decodeEnvelope(t, w); resp.Success {
		t.Error("expected failure envelope")
	}
}

func TestValidate_InvalidInline(t *testing.T) {
	validator := &mockValidator{
		err: fmt.Errorf("ingest inline observation:\n%w", observation.ErrInvalidObservation),
	}
	server := newTestServer(nil, validator, nil)

	req := httptest.NewRequest("POST", "/validate/probe-1", nil)
	req.SetPathValue("target", "probe-1")
	w := httptest.NewRecorder()

	server.handleValidate(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetTarget_WithVerdict(t *testing.T) {
	store := &mockStore{
		snapshots: map[string][]observation.Observation{
			"asteroid-7": {
				{ObserverID: "alice"},
				{ObserverID: "bob"},
			},
		},
	}
	validator := &mockValidator{
		positions: map[string]r3.Vec{"asteroid-7": {X: 10, Y: 20, Z: 30}},
	}
	server := newTestServer(store, validator, nil)

	req := httptest.NewRequest("GET", "/targets/asteroid-7", nil)
	req.SetPathValue("target", "asteroid-7")
	w := httptest.NewRecorder()

	server.handleGetTarget(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeEnvelope(t, w)

	var status targetStatus
	if err := json.Unmarshal(resp.Data.(json.RawMessage), &status); err != nil {
		t.Fatalf("decode target status: %v", err)
	}

	if status.Observations != 2 || len(status.Observers) != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.LastPosition == nil || *status.LastPosition != [3]float64{10, 20, 30} {
		t.Fatalf("unexpected last position: %v", status.LastPosition)
	}
}

func TestGetTarget_Unknown(t *testing.T) {
	server := newTestServer(nil, nil, nil)

	req := httptest.NewRequest("GET", "/targets/nothing", nil)
	req.SetPathValue("target", "nothing")
	w := httptest.NewRecorder()

	server.handleGetTarget(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestUpsertObserver_Success(t *testing.T) {
	observers := &mockDirectory{}
	server := newTestServer(nil, nil, observers)

	body := `{"position":[1,2,3],"pubkey":"` + strings.Repeat("ab", 32) + `"}`
	req := httptest.NewRequest("PUT", "/observers/alice", strings.NewReader(body))
	req.SetPathValue("observer", "alice")
	w := httptest.NewRecorder()

	server.handleUpsertObserver(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	if len(observers.entries) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(observers.entries))
	}

	entry := observers.entries[0]
	if entry.ObserverID != "alice" {
		t.Errorf("unexpected observer: %s", entry.ObserverID)
	}
	if entry.Position != (r3.Vec{X: 1, Y: 2, Z: 3}) {
		t.Errorf("unexpected position: %v", entry.Position)
	}
	if len(entry.PubKey) != 32 {
		t.Errorf("expected 32-byte key, got %d", len(entry.PubKey))
	}
}

func TestUpsertObserver_MissingPosition(t *testing.T) {
	observers := &mockDirectory{}
	server := newTestServer(nil, nil, observers)

	req := httptest.NewRequest("PUT", "/observers/alice", strings.NewReader(`{}`))
	req.SetPathValue("observer", "alice")
	w := httptest.NewRecorder()

	server.handleUpsertObserver(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	if len(observers.entries) != 0 {
		t.Error("should not upsert on error")
	}
}

func TestUpsertObserver_BadKey(t *testing.T) {
	observers := &mockDirectory{}
	server := newTestServer(nil, nil, observers)

	body := `{"position":[1,2,3],"pubkey":"deadbeef"}`
	req := httptest.NewRequest("PUT", "/observers/alice", strings.NewReader(body))
	req.SetPathValue("observer", "alice")
	w := httptest.NewRecorder()

	server.handleUpsertObserver(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestPhysicsEndpoint(t *testing.T) {
	phys := &mockPhysics{
		snapshot: physics.Snapshot{
			BodyCount:         2,
			MomentumConserved: true,
			EnergyConserved:   true,
			Tick:              7,
		},
		stored: true,
	}

	server := newTestServer(nil, nil, nil)
	server.physics = phys

	req := httptest.NewRequest("GET", "/physics", nil)
	w := httptest.NewRecorder()

	server.handlePhysics(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	resp := decodeEnvelope(t, w)

	var snapshot physics.Snapshot
	if err := json.Unmarshal(resp.Data.(json.RawMessage), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.Tick != 7 || !snapshot.MomentumConserved {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if phys.sampled {
		t.Error("should serve the stored snapshot without sampling")
	}
}

func TestPhysicsEndpoint_SamplesWhenEmpty(t *testing.T) {
	phys := &mockPhysics{snapshot: physics.Snapshot{Tick: 1}}

	server := newTestServer(nil, nil, nil)
	server.physics = phys

	req := httptest.NewRequest("GET", "/physics", nil)
	w := httptest.NewRecorder()

	server.handlePhysics(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !phys.sampled {
		t.Error("expected a fresh sample when none was stored")
	}
}

func TestPhysicsEndpoint_Unavailable(t *testing.T) {
	server := newTestServer(nil, nil, nil)

	req := httptest.NewRequest("GET", "/physics", nil)
	w := httptest.NewRecorder()

	server.handlePhysics(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	store := &mockStore{
		snapshots: map[string][]observation.Observation{
			"asteroid-7": {{ObserverID: "alice"}},
		},
	}
	validator := &mockValidator{
		positions: map[string]r3.Vec{"asteroid-7": {}},
	}
	observers := &mockDirectory{}
	observers.Upsert(registry.Entry{ObserverID: "alice"})

	server := newTestServer(store, validator, observers)

	req := httptest.NewRequest("GET", "/status", nil)
	w := httptest.NewRecorder()

	server.handleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	resp := decodeEnvelope(t, w)

	var data map[string]any
	if err := json.Unmarshal(resp.Data.(json.RawMessage), &data); err != nil {
		t.Fatalf("decode status: %v", err)
	}

	if data["validatedTargets"].(float64) != 1 {
		t.Errorf("expected 1 validated target, got %v", data["validatedTargets"])
	}
	if _, ok := data["uptimeSeconds"]; !ok {
		t.Error("expected uptimeSeconds in status")
	}
}

func TestValidate_RoundTripOverHTTP(t *testing.T) {
	validator := &mockValidator{
		result: &consensus.Result{TargetID: "asteroid-7", Valid: true, Timestamp: time.Now()},
	}
	server := newTestServer(nil, validator, nil)

	if err := server.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	url := "http://" + server.Addr() + "/validate/asteroid-7"
	resp, err := http.Post(url, "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("post validate: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if validator.target != "asteroid-7" {
		t.Errorf("route did not carry the target id, got %q", validator.target)
	}
}
