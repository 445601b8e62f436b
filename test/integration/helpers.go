package integration

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"parallax/client"
	"parallax/internal/api"
	"parallax/internal/consensus"
	"parallax/internal/feed"
	"parallax/internal/journal"
	"parallax/internal/metrics"
	"parallax/internal/observation"
	"parallax/internal/physics"
	"parallax/internal/registry"
	"parallax/internal/watch"
)

// TestNode is a validator running in-process on loopback ports.
type TestNode struct {
	Store       *observation.Store
	Registry    *registry.Registry
	Coordinator *consensus.Coordinator
	Journal     *journal.Journal
	Simulation  *physics.Simulation
	Sampler     *physics.Sampler
	Feed        *feed.Listener
	Watch       *watch.Hub
	API         *api.Server
}

// nodeOpts holds configuration for a TestNode.
type nodeOpts struct {
	staleness  time.Duration
	simulation bool
	tick       time.Duration
	sample     time.Duration
}

// NodeOption configures a TestNode.
type NodeOption func(*nodeOpts)

// WithStaleness sets the observation staleness window.
func WithStaleness(d time.Duration) NodeOption {
	return func(o *nodeOpts) { o.staleness = d }
}

// WithSimulation runs the built-in Earth-Moon world at the given cadence.
func WithSimulation(tick, sample time.Duration) NodeOption {
	return func(o *nodeOpts) {
		o.simulation = true
		o.tick = tick
		o.sample = sample
	}
}

// StartNode assembles and starts a full validator on loopback ports.
// Everything is torn down via t.Cleanup.
func StartNode(t *testing.T, options ...NodeOption) *TestNode {
	t.Helper()

	opts := &nodeOpts{staleness: 30 * time.Second}
	for _, opt := range options {
		opt(opts)
	}

	j, err := journal.Open(t.TempDir() + "/journal")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	m := metrics.New()
	store := observation.NewStore(opts.staleness)
	reg := registry.New()
	hub := watch.NewHub(m.WatchClients)

	coordinator := consensus.NewCoordinator(store, reg, consensus.Config{}, j, m, hub)

	n := &TestNode{
		Store:       store,
		Registry:    reg,
		Coordinator: coordinator,
		Journal:     j,
		Watch:       hub,
	}

	if opts.simulation {
		n.Simulation = physics.NewSimulation(physics.EarthMoon(), 0, 0)
		n.Sampler = physics.NewSampler(n.Simulation, physics.NewValidator(0), j, m, hub)
		n.Simulation.Run(opts.tick)
		n.Sampler.Run(opts.sample)
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate node key: %v", err)
	}

	listener, err := feed.NewListener(feed.Config{
		PrivateKey: key,
		ListenAddr: "127.0.0.1:0",
		Store:      store,
		Registry:   reg,
		Metrics:    m,
	})
	if err != nil {
		t.Fatalf("create feed listener: %v", err)
	}

	if err := listener.Start(); err != nil {
		t.Fatalf("start feed listener: %v", err)
	}
	n.Feed = listener

	cfg := api.Config{
		Addr:      "127.0.0.1:0",
		Store:     store,
		Validator: coordinator,
		Observers: reg,
		Journal:   j,
		Feed:      listener,
		Watch:     hub,
		Metrics:   m,
	}
	if n.Sampler != nil {
		cfg.Physics = n.Sampler
	}

	n.API = api.New(cfg)
	if err := n.API.Start(); err != nil {
		t.Fatalf("start api: %v", err)
	}

	t.Cleanup(func() {
		n.API.Stop()
		n.Feed.Close()
		n.Watch.Close()
		if n.Sampler != nil {
			n.Sampler.Close()
		}
		if n.Simulation != nil {
			n.Simulation.Close()
		}
		n.Store.Close()
		n.Journal.Close()
	})

	return n
}

// HTTPAddr returns the node's bound HTTP address.
func (n *TestNode) HTTPAddr() string { return n.API.Addr() }

// FeedAddr returns the node's bound QUIC feed address.
func (n *TestNode) FeedAddr() string { return n.Feed.Addr() }

// Client connects a client SDK instance to the node.
func (n *TestNode) Client(t *testing.T) *client.Client {
	t.Helper()

	cli, err := client.NewClient(n.HTTPAddr())
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}

	return cli
}

// Bearing builds the observation an observer at from would report for a
// target at to: unit direction and true distance.
func Bearing(observerID, targetID string, from, to r3.Vec) observation.Observation {
	delta := r3.Sub(to, from)

	return observation.Observation{
		ObserverID:       observerID,
		TargetID:         targetID,
		ObserverPosition: &from,
		Direction:        r3.Unit(delta),
		Distance:         r3.Norm(delta),
	}
}

// Tetrahedron returns four non-coplanar observer positions around origin.
func Tetrahedron(scale float64) []r3.Vec {
	return []r3.Vec{
		{X: scale, Y: scale, Z: scale},
		{X: scale, Y: -scale, Z: -scale},
		{X: -scale, Y: scale, Z: -scale},
		{X: -scale, Y: -scale, Z: scale},
	}
}

// WaitUntil polls cond until it returns true or the timeout passes.
func WaitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", msg)
}

// GenerateObserverKey creates an ed25519 keypair for a feed observer.
func GenerateObserverKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate observer key: %v", err)
	}

	return pub, priv
}
