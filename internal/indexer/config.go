package indexer

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

var (
	ErrInvalidBatchSize       = errors.New("invalid batch size: must be greater than 0")
	ErrInvalidParallelBatches = errors.New("invalid parallel batches: must be greater than 0")
	ErrInvalidBlockDelay      = errors.New("invalid block delay: must not be negative")
	ErrInvalidRetries         = errors.New("invalid rpc retries: must not be negative")
	ErrInvalidPollInterval    = errors.New("invalid poll interval: must be greater than 0")
)

// Options configures the indexing pipeline. The poll interval default is
// the chain's nominal block time.
type Options struct {
	// StartBlock is the lowest height to index when the store is empty.
	StartBlock uint64 `env:"INDEXER_START_BLOCK" envDefault:"0"`
	// BatchSize is the number of heights fetched and committed as one unit.
	BatchSize uint64 `env:"INDEXER_BATCH_SIZE" envDefault:"50"`
	// ParallelBatches caps how many batches run concurrently.
	ParallelBatches int `env:"INDEXER_PARALLEL_BATCHES" envDefault:"5"`
	// BlockDelayMs is slept between consecutive chunks, for endpoints with
	// strict rate limits.
	BlockDelayMs int `env:"INDEXER_BLOCK_DELAY" envDefault:"0"`
	// EnableReorgCheck compares fetched hashes against stored rows before
	// each batch commit.
	EnableReorgCheck bool `env:"INDEXER_ENABLE_REORG_CHECK" envDefault:"true"`
	// RPCRetries is the per-batch retry budget.
	RPCRetries int `env:"RPC_RETRIES" envDefault:"3"`
	// PollIntervalMs is the tail-mode poll cadence.
	PollIntervalMs int `env:"INDEXER_POLL_INTERVAL" envDefault:"12000"`
}

// LoadOptions reads indexer options from environment variables.
func LoadOptions() (Options, error) {
	var opts Options
	if err := env.Parse(&opts); err != nil {
		return Options{}, fmt.Errorf("failed to parse indexer options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate checks option bounds.
func (o Options) Validate() error {
	if o.BatchSize < 1 {
		return ErrInvalidBatchSize
	}
	if o.ParallelBatches < 1 {
		return ErrInvalidParallelBatches
	}
	if o.BlockDelayMs < 0 {
		return ErrInvalidBlockDelay
	}
	if o.RPCRetries < 0 {
		return ErrInvalidRetries
	}
	if o.PollIntervalMs <= 0 {
		return ErrInvalidPollInterval
	}
	return nil
}

// BlockDelay returns the inter-chunk delay as a duration.
func (o Options) BlockDelay() time.Duration {
	return time.Duration(o.BlockDelayMs) * time.Millisecond
}

// PollInterval returns the tail-mode poll interval as a duration.
func (o Options) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalMs) * time.Millisecond
}
