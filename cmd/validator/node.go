package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"parallax/internal/api"
	"parallax/internal/consensus"
	"parallax/internal/feed"
	"parallax/internal/journal"
	"parallax/internal/logger"
	"parallax/internal/metrics"
	"parallax/internal/observation"
	"parallax/internal/physics"
	"parallax/internal/registry"
	"parallax/internal/watch"
)

// Node is a running parallax validator: observation ingestion over HTTP
// and QUIC, consensus rounds, the built-in N-body world with its
// conservation sampler, and the audit journal underneath.
type Node struct {
	cfg         *Config
	journal     *journal.Journal
	metrics     *metrics.Metrics
	store       *observation.Store
	registry    *registry.Registry
	coordinator *consensus.Coordinator
	simulation  *physics.Simulation
	sampler     *physics.Sampler
	feed        *feed.Listener
	watch       *watch.Hub
	api         *api.Server
}

// NewNode creates and initializes a new validator node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg}

	if err := n.initJournal(); err != nil {
		return nil, err
	}

	n.initCore()

	if cfg.Simulation {
		n.initPhysics()
	}

	if err := n.initFeed(); err != nil {
		n.Close()
		return nil, err
	}

	n.initAPI()

	return n, nil
}

// initJournal opens the Pebble-backed audit journal.
func (n *Node) initJournal() error {
	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	j, err := journal.Open(n.cfg.DataPath + "/journal")
	if err != nil {
		return fmt.Errorf("init journal:\n%w", err)
	}

	n.journal = j

	return nil
}

// initCore wires the store, registry, watch hub and coordinator. The
// journal, metrics and watch hub all sink completed results.
func (n *Node) initCore() {
	n.metrics = metrics.New()
	n.store = observation.NewStore(n.cfg.Staleness)
	n.registry = registry.New()
	n.watch = watch.NewHub(n.metrics.WatchClients)

	n.coordinator = consensus.NewCoordinator(n.store, n.registry, consensus.Config{
		ValidityThreshold: n.cfg.ValidityThreshold,
		MaxResidual:       n.cfg.MaxResidual,
	}, n.journal, n.metrics, n.watch)
}

// initPhysics builds the N-body world and its conservation sampler.
// The sampler fans samples out to the journal, metrics and watch hub.
func (n *Node) initPhysics() {
	n.simulation = physics.NewSimulation(physics.EarthMoon(), 0, 0)

	validator := physics.NewValidator(n.cfg.DriftTolerance)
	n.sampler = physics.NewSampler(n.simulation, validator, n.journal, n.metrics, n.watch)
}

// initFeed creates the QUIC observer feed listener.
func (n *Node) initFeed() error {
	listener, err := feed.NewListener(feed.Config{
		PrivateKey: n.cfg.PrivateKey,
		ListenAddr: n.cfg.FeedAddress,
		Store:      n.store,
		Registry:   n.registry,
		Metrics:    n.metrics,
	})
	if err != nil {
		return fmt.Errorf("init feed:\n%w", err)
	}

	n.feed = listener

	return nil
}

// initAPI creates the HTTP API server over the assembled components.
func (n *Node) initAPI() {
	cfg := api.Config{
		Addr:      n.cfg.HTTPAddress,
		Store:     n.store,
		Validator: n.coordinator,
		Observers: n.registry,
		Journal:   n.journal,
		Feed:      n.feed,
		Watch:     n.watch,
		Metrics:   n.metrics,
	}

	if n.sampler != nil {
		cfg.Physics = n.sampler
	}

	n.api = api.New(cfg)
}

// Run starts the node and blocks until shutdown signal.
func (n *Node) Run() error {
	if n.simulation != nil {
		n.simulation.Run(n.cfg.TickInterval)
		n.sampler.Run(n.cfg.SampleInterval)
	}

	if err := n.feed.Start(); err != nil {
		return fmt.Errorf("start feed:\n%w", err)
	}

	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	return n.waitForShutdown()
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close shuts down all node components gracefully, ingestion first so
// nothing writes into a closed journal.
func (n *Node) Close() error {
	if n.api != nil {
		n.api.Stop()
	}

	if n.feed != nil {
		n.feed.Close()
	}

	if n.watch != nil {
		n.watch.Close()
	}

	if n.sampler != nil {
		n.sampler.Close()
	}

	if n.simulation != nil {
		n.simulation.Close()
	}

	if n.store != nil {
		n.store.Close()
	}

	if n.journal != nil {
		n.journal.Close()
	}

	return nil
}
