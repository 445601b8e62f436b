package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"parallax/internal/observation"
)

// newTestClient starts a stub node and connects a client to it.
// The mux must not handle /health; the stub answers it directly.
func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
			return
		}
		mux.ServeHTTP(w, r)
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cli, err := NewClient(strings.TrimPrefix(server.URL, "http://"))
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}

	return cli
}

// TestNewClientRejectsUnhealthyNode verifies the health probe gates
// client construction.
func TestNewClientRejectsUnhealthyNode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"degraded"}`))
	}))
	t.Cleanup(server.Close)

	if _, err := NewClient(strings.TrimPrefix(server.URL, "http://")); err == nil {
		t.Fatal("expected unhealthy node to be rejected")
	}
}

// TestSubmitObservationEncoding checks the wire form posted to the node.
func TestSubmitObservationEncoding(t *testing.T) {
	var got observation.Wire

	mux := http.NewServeMux()
	mux.HandleFunc("POST /observations", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode posted observation: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"success":true}`))
	})

	cli := newTestClient(t, mux)

	pos := r3.Vec{X: 1, Y: 2, Z: 3}
	err := cli.SubmitObservation(observation.Observation{
		ObserverID:       "obs-a",
		TargetID:         "tug-1",
		ObserverPosition: &pos,
		Direction:        r3.Vec{X: 1},
		Distance:         42,
	})
	if err != nil {
		t.Fatalf("submit observation: %v", err)
	}

	if got.ObserverID != "obs-a" || got.TargetID != "tug-1" {
		t.Errorf("identity fields lost: %+v", got)
	}

	if got.ObserverPosition == nil || *got.ObserverPosition != [3]float64{1, 2, 3} {
		t.Errorf("observer position lost: %+v", got.ObserverPosition)
	}

	if got.Direction != [3]float64{1, 0, 0} || got.Distance != 42 {
		t.Errorf("bearing fields lost: %+v", got)
	}
}

// TestValidateUnwrapsResult checks envelope unwrapping on the happy path.
func TestValidateUnwrapsResult(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /validate/{target}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("target") != "tug-1" {
			t.Errorf("unexpected target %q", r.PathValue("target"))
		}
		w.Write([]byte(`{"success":true,"data":{"targetId":"tug-1","valid":true,"confidence":0.875,"observerCount":4}}`))
	})

	cli := newTestClient(t, mux)

	result, err := cli.Validate("tug-1", nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	if !result.Valid || result.Confidence != 0.875 || result.ObserverCount != 4 {
		t.Errorf("result fields lost: %+v", result)
	}
}

// TestValidateSurfacesNodeFailure checks that a failure envelope becomes
// an error carrying the node's message.
func TestValidateSurfacesNodeFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /validate/{target}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"success":false,"message":"insufficient observers"}`))
	})

	cli := newTestClient(t, mux)

	_, err := cli.Validate("tug-1", nil)
	if err == nil {
		t.Fatal("expected validation failure to surface")
	}

	if !strings.Contains(err.Error(), "insufficient observers") {
		t.Errorf("node message lost: %v", err)
	}
}

// TestRegisterObserverEncoding checks the PUT payload shape.
func TestRegisterObserverEncoding(t *testing.T) {
	var got map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /observers/{observer}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("observer") != "obs-a" {
			t.Errorf("unexpected observer %q", r.PathValue("observer"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Write([]byte(`{"success":true}`))
	})

	cli := newTestClient(t, mux)

	if err := cli.RegisterObserver("obs-a", r3.Vec{X: 9}, nil); err != nil {
		t.Fatalf("register observer: %v", err)
	}

	if _, ok := got["position"]; !ok {
		t.Error("position missing from payload")
	}

	if _, ok := got["pubkey"]; ok {
		t.Error("pubkey sent despite nil key")
	}
}
