package observation

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Feed signatures cover the canonical bytes of the observation as
// transmitted, so a JSON round trip must not change them.
func TestWireRoundTripPreservesCanonicalBytes(t *testing.T) {
	obs := Observation{
		ObserverID:       "alice",
		TargetID:         "asteroid-7",
		ObserverPosition: &r3.Vec{X: 1.0 / 3.0, Y: -2.5, Z: 1e-17},
		Direction:        r3.Vec{X: 0.1, Y: 0.2, Z: 0.3},
		Distance:         12.34,
		ScaleFactor:      0.75,
		Timestamp:        time.Unix(1700000000, 123456789).UTC(),
	}

	data, err := json.Marshal(ToWire(obs))
	if err != nil {
		t.Fatalf("marshal wire: %v", err)
	}

	var decoded Wire
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal wire: %v", err)
	}

	got := decoded.Observation()
	if !bytes.Equal(got.CanonicalBytes(), obs.CanonicalBytes()) {
		t.Fatal("canonical bytes changed across the wire")
	}
}

func TestWireOmitsAbsentPosition(t *testing.T) {
	obs := Observation{
		ObserverID: "bob",
		TargetID:   "probe-1",
		Direction:  r3.Vec{X: 1},
		Distance:   5,
	}

	data, err := json.Marshal(ToWire(obs))
	if err != nil {
		t.Fatalf("marshal wire: %v", err)
	}
	if bytes.Contains(data, []byte("observerPosition")) {
		t.Fatalf("expected position to be omitted, got %s", data)
	}

	var decoded Wire
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal wire: %v", err)
	}
	if decoded.Observation().ObserverPosition != nil {
		t.Fatal("expected nil observer position after round trip")
	}
}
