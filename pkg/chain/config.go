package chain

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the configuration for the chain RPC client.
type Config struct {
	URL     string `env:"RPC_URL" envDefault:"https://rpc.pulsechain.com"`
	WSURL   string `env:"RPC_WS_URL" envDefault:"wss://rpc.pulsechain.com"`
	Timeout int    `env:"RPC_TIMEOUT" envDefault:"30000"` // milliseconds
	Retries int    `env:"RPC_RETRIES" envDefault:"3"`
	ChainID uint64 `env:"CHAIN_ID" envDefault:"369"`

	// FullTransactions requests full transaction objects instead of hashes.
	// The mode is fixed per run so the stored transaction counts come from a
	// uniform representation.
	FullTransactions bool `env:"RPC_FULL_TRANSACTIONS" envDefault:"false"`
}

// Load reads the chain client configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse chain config: %w", err)
	}
	return cfg, nil
}
