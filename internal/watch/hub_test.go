package watch

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"parallax/internal/consensus"
	"parallax/internal/physics"
)

// wireEnvelope mirrors Envelope with a raw payload so tests can decode
// the inner record themselves.
type wireEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(nil)
	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Clients() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, have %d", want, hub.Clients())
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wireEnvelope {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var envelope wireEnvelope
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return envelope
}

func TestMonitorReceivesValidation(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dial(t, server)
	waitClients(t, hub, 1)

	hub.RecordValidation(consensus.Result{
		TargetID:      "asteroid-7",
		Valid:         true,
		Confidence:    0.875,
		ObserverCount: 4,
		Method:        consensus.MethodLeastSquares,
	})

	envelope := readEnvelope(t, conn)
	if envelope.Type != TypeValidation {
		t.Fatalf("expected %q envelope, got %q", TypeValidation, envelope.Type)
	}

	var result consensus.Result
	if err := json.Unmarshal(envelope.Payload, &result); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if result.TargetID != "asteroid-7" || !result.Valid {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Confidence != 0.875 {
		t.Fatalf("expected confidence 0.875, got %v", result.Confidence)
	}
}

func TestMonitorReceivesConservation(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dial(t, server)
	waitClients(t, hub, 1)

	hub.RecordConservation(physics.Snapshot{
		BodyCount:         2,
		MomentumConserved: true,
		EnergyConserved:   true,
		Tick:              42,
	})

	envelope := readEnvelope(t, conn)
	if envelope.Type != TypeConservation {
		t.Fatalf("expected %q envelope, got %q", TypeConservation, envelope.Type)
	}

	var snapshot physics.Snapshot
	if err := json.Unmarshal(envelope.Payload, &snapshot); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if snapshot.Tick != 42 || !snapshot.MomentumConserved {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestBroadcastReachesAllMonitors(t *testing.T) {
	hub, server := newTestHub(t)
	first := dial(t, server)
	second := dial(t, server)
	waitClients(t, hub, 2)

	hub.RecordValidation(consensus.Result{TargetID: "probe-1", ObserverCount: 2})

	for _, conn := range []*websocket.Conn{first, second} {
		envelope := readEnvelope(t, conn)
		if envelope.Type != TypeValidation {
			t.Fatalf("expected %q envelope, got %q", TypeValidation, envelope.Type)
		}
	}
}

func TestCloseDisconnectsMonitors(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dial(t, server)
	waitClients(t, hub, 1)

	hub.Close()

	if hub.Clients() != 0 {
		t.Fatalf("expected no clients after close, have %d", hub.Clients())
	}
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected read to fail after hub close")
	}
}
