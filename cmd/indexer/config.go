package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/pulsescan/indexer/internal/indexer"
	"github.com/pulsescan/indexer/pkg/chain"
	"github.com/pulsescan/indexer/pkg/postgres"
)

// Config aggregates all process configuration. Everything comes from the
// environment; a .env file is loaded when present.
type Config struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`
	Environment string `env:"ENVIRONMENT" envDefault:""`

	Postgres postgres.Config
	Chain    chain.Config
	Indexer  indexer.Options
}

// MetricsAddr returns the formatted metrics listen address.
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf(":%d", c.MetricsPort)
}

func loadConfig() (*Config, error) {
	// Best-effort; the environment itself is authoritative.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Indexer.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
