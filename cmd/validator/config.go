package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the validator configuration. Environment variables supply
// defaults; command-line flags override them.
type Config struct {
	// DataPath is the directory for the audit journal.
	DataPath string `env:"PARALLAX_DATA" envDefault:"./data"`

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string `env:"PARALLAX_HTTP" envDefault:":8080"`

	// FeedAddress is the QUIC observer feed listen address.
	FeedAddress string `env:"PARALLAX_FEED" envDefault:":9000"`

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string `env:"PARALLAX_KEY"`

	// ValidityThreshold is the minimum confidence for a passing verdict.
	ValidityThreshold float64 `env:"PARALLAX_VALIDITY_THRESHOLD" envDefault:"0.6"`

	// MaxResidual is the maximum geometric error for a passing verdict.
	MaxResidual float64 `env:"PARALLAX_MAX_RESIDUAL" envDefault:"5.0"`

	// Staleness is the window after which a stored bearing is evicted.
	Staleness time.Duration `env:"PARALLAX_STALENESS" envDefault:"30s"`

	// DriftTolerance is the relative conservation drift per sample
	// above which a flag trips.
	DriftTolerance float64 `env:"PARALLAX_DRIFT_TOLERANCE" envDefault:"0.01"`

	// TickInterval is the wall-clock time between simulation steps.
	TickInterval time.Duration `env:"PARALLAX_TICK_INTERVAL" envDefault:"100ms"`

	// SampleInterval is the wall-clock time between conservation samples.
	SampleInterval time.Duration `env:"PARALLAX_SAMPLE_INTERVAL" envDefault:"1s"`

	// Simulation enables the built-in N-body world. Disable when an
	// external game layer drives the physics endpoints.
	Simulation bool `env:"PARALLAX_SIMULATION" envDefault:"true"`

	// PrivateKey is the node's Ed25519 signing key.
	PrivateKey ed25519.PrivateKey `env:"-"`
}

// parseConfig loads environment defaults and applies flag overrides.
func parseConfig() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment:\n%w", err)
	}

	flag.StringVar(&cfg.DataPath, "data", cfg.DataPath, "Data directory path")
	flag.StringVar(&cfg.HTTPAddress, "http", cfg.HTTPAddress, "HTTP API address")
	flag.StringVar(&cfg.FeedAddress, "feed", cfg.FeedAddress, "QUIC observer feed address")
	flag.StringVar(&cfg.KeyPath, "key", cfg.KeyPath, "Ed25519 private key path (generates new if missing)")
	flag.Float64Var(&cfg.ValidityThreshold, "validity-threshold", cfg.ValidityThreshold, "Minimum passing confidence")
	flag.Float64Var(&cfg.MaxResidual, "max-residual", cfg.MaxResidual, "Maximum passing geometric error")
	flag.DurationVar(&cfg.Staleness, "staleness", cfg.Staleness, "Observation staleness window")
	flag.Float64Var(&cfg.DriftTolerance, "drift-tolerance", cfg.DriftTolerance, "Conservation drift tolerance per sample")
	flag.DurationVar(&cfg.TickInterval, "tick-interval", cfg.TickInterval, "Simulation step interval")
	flag.DurationVar(&cfg.SampleInterval, "sample-interval", cfg.SampleInterval, "Conservation sample interval")
	flag.BoolVar(&cfg.Simulation, "sim", cfg.Simulation, "Run the built-in N-body simulation")
	flag.Parse()

	return cfg, nil
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
