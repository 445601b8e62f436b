// Package client provides programmatic access to a parallax validator
// node: an HTTP client for the control API and a QUIC feeder that
// streams signed observation reports.
package client

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net/url"

	"gonum.org/v1/gonum/spatial/r3"

	"parallax/internal/consensus"
	"parallax/internal/geometry"
	"parallax/internal/observation"
	"parallax/internal/physics"
)

// Client connects to a validator node via HTTP.
type Client struct {
	nodeAddr string // nodeAddr is the HTTP address (e.g. "127.0.0.1:8080")
}

// TargetStatus holds the node's view of a single tracked target.
type TargetStatus struct {
	TargetID     string      `json:"targetId"`
	Observers    []string    `json:"observers"`
	Observations int         `json:"observations"`
	LastPosition *[3]float64 `json:"lastPosition,omitempty"`
}

// NodeStatus holds node-wide counters from the status endpoint.
// Fields past ValidatedTargets stay zero when the node runs without
// the matching subsystem.
type NodeStatus struct {
	UptimeSeconds     int64      `json:"uptimeSeconds"`
	Targets           []string   `json:"targets"`
	Observers         []string   `json:"observers"`
	ValidatedTargets  int        `json:"validatedTargets"`
	SimulationTick    uint64     `json:"simulationTick"`
	MomentumConserved bool       `json:"momentumConserved"`
	EnergyConserved   bool       `json:"energyConserved"`
	FeedConnections   int        `json:"feedConnections"`
	FeedReports       FeedCounts `json:"feedReports"`
	WatchClients      int        `json:"watchClients"`
}

// FeedCounts breaks down QUIC feed traffic.
type FeedCounts struct {
	Accepted   uint64 `json:"accepted"`
	Rejected   uint64 `json:"rejected"`
	Duplicates uint64 `json:"duplicates"`
}

// NewClient creates a client connected to a node.
// It probes the node's /health endpoint to confirm it is reachable.
func NewClient(nodeAddr string) (*Client, error) {
	var health struct {
		Status string `json:"status"`
	}

	if err := httpGetPlain("http://"+nodeAddr+"/health", &health); err != nil {
		return nil, fmt.Errorf("get health:\n%w", err)
	}

	if health.Status != "ok" {
		return nil, fmt.Errorf("node unhealthy: %q", health.Status)
	}

	return &Client{nodeAddr: nodeAddr}, nil
}

// SubmitObservation queues one observation on the node.
func (c *Client) SubmitObservation(obs observation.Observation) error {
	endpoint := "http://" + c.nodeAddr + "/observations"

	if err := httpPostJSON(endpoint, observation.ToWire(obs), nil); err != nil {
		return fmt.Errorf("submit observation:\n%w", err)
	}

	return nil
}

// Validate runs a validation round for the target. Inline observations,
// if any, join the ones already queued on the node.
func (c *Client) Validate(targetID string, inline []observation.Observation) (*consensus.Result, error) {
	endpoint := "http://" + c.nodeAddr + "/validate/" + url.PathEscape(targetID)

	var body any
	if len(inline) > 0 {
		wires := make([]observation.Wire, len(inline))
		for i, obs := range inline {
			wires[i] = observation.ToWire(obs)
		}
		body = map[string]any{"observations": wires}
	}

	var result consensus.Result
	if err := httpPostJSON(endpoint, body, &result); err != nil {
		return nil, fmt.Errorf("validate %s:\n%w", targetID, err)
	}

	return &result, nil
}

// Target fetches the node's view of one target.
func (c *Client) Target(targetID string) (*TargetStatus, error) {
	endpoint := "http://" + c.nodeAddr + "/targets/" + url.PathEscape(targetID)

	var status TargetStatus
	if err := httpGet(endpoint, &status); err != nil {
		return nil, fmt.Errorf("get target %s:\n%w", targetID, err)
	}

	return &status, nil
}

// RegisterObserver registers or moves an observer in the node's directory.
// The key may be nil for observers that only submit over HTTP.
func (c *Client) RegisterObserver(observerID string, position r3.Vec, key ed25519.PublicKey) error {
	body := map[string]any{
		"position": geometry.ToArray(position),
	}
	if key != nil {
		body["pubkey"] = hex.EncodeToString(key)
	}

	endpoint := "http://" + c.nodeAddr + "/observers/" + url.PathEscape(observerID)
	if err := httpPutJSON(endpoint, body, nil); err != nil {
		return fmt.Errorf("register observer %s:\n%w", observerID, err)
	}

	return nil
}

// Physics fetches the node's latest simulation snapshot.
func (c *Client) Physics() (*physics.Snapshot, error) {
	var snapshot physics.Snapshot
	if err := httpGet("http://"+c.nodeAddr+"/physics", &snapshot); err != nil {
		return nil, fmt.Errorf("get physics:\n%w", err)
	}

	return &snapshot, nil
}

// Status fetches node-wide counters.
func (c *Client) Status() (*NodeStatus, error) {
	var status NodeStatus
	if err := httpGet("http://"+c.nodeAddr+"/status", &status); err != nil {
		return nil, fmt.Errorf("get status:\n%w", err)
	}

	return &status, nil
}

// JournalArchive downloads the node's journal as a compressed archive.
func (c *Client) JournalArchive() ([]byte, error) {
	data, err := httpGetRaw("http://" + c.nodeAddr + "/journal/archive")
	if err != nil {
		return nil, fmt.Errorf("get journal archive:\n%w", err)
	}

	return data, nil
}
