package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pulsescan/indexer/pkg/chain"
	"github.com/pulsescan/indexer/pkg/data/postgres/blocks"
	"github.com/pulsescan/indexer/pkg/metrics"
)

// State is the lifecycle position of the indexer.
type State int32

const (
	StateNew State = iota
	StateInitialized
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidLogger      = errors.New("invalid logger: must not be nil")
	ErrInvalidChainClient = errors.New("invalid chain client: must not be nil")
	ErrInvalidRepository  = errors.New("invalid block repository: must not be nil")
)

// Indexer drives the pipeline: backfill from the stored height to the chain
// head, then tail new blocks at the chain's block interval. Collaborators
// are injected; the indexer owns only the scheduling and the cursor.
type Indexer struct {
	log     *zap.SugaredLogger
	chain   chain.Client
	store   blocks.Repository
	opts    Options
	metrics *metrics.Metrics

	state   atomic.Int32
	running atomic.Bool

	// current is the highest height known to be durably stored, or
	// startBlock-1 when the store is empty (-1 for a genesis start).
	// Written by the orchestrator; progress readers load it atomically.
	current atomic.Int64

	// reorgMu serializes reorg checks across concurrently running batches
	// so one batch's repair is never undone by a sibling.
	reorgMu sync.Mutex

	// chunkWG tracks in-flight batches; Stop waits for the current chunk.
	chunkWG sync.WaitGroup

	stopCh   chan struct{}
	stopOnce sync.Once

	// sleep is swapped out in tests to observe backoff and delay schedules.
	sleep func(time.Duration)
}

// New creates an indexer and validates its dependencies and options.
func New(sugar *zap.SugaredLogger, chainClient chain.Client, store blocks.Repository, opts Options, m *metrics.Metrics) (*Indexer, error) {
	if sugar == nil {
		return nil, ErrInvalidLogger
	}
	if chainClient == nil {
		return nil, ErrInvalidChainClient
	}
	if store == nil {
		return nil, ErrInvalidRepository
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return &Indexer{
		log:     sugar,
		chain:   chainClient,
		store:   store,
		opts:    opts,
		metrics: m,
		stopCh:  make(chan struct{}),
		sleep:   time.Sleep,
	}, nil
}

// State returns the current lifecycle state.
func (ix *Indexer) State() State {
	return State(ix.state.Load())
}

// CurrentBlock returns the cursor: the highest height known stored, or
// startBlock-1 when nothing is stored yet.
func (ix *Indexer) CurrentBlock() int64 {
	return ix.current.Load()
}

// Initialize reads the chain head and the stored highest block and places
// the cursor. It doubles as the startup health check: an unreachable
// endpoint or store fails initialization.
func (ix *Indexer) Initialize(ctx context.Context) error {
	if ix.State() != StateNew {
		return fmt.Errorf("cannot initialize from state %s", ix.State())
	}

	head, err := ix.chain.HeadHeight(ctx)
	if err != nil {
		return fmt.Errorf("failed to read chain head: %w", err)
	}

	highest, ok, err := ix.store.HighestNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to read highest stored block: %w", err)
	}

	if ok {
		ix.current.Store(int64(highest))
	} else {
		ix.current.Store(int64(ix.opts.StartBlock) - 1)
	}

	if ix.metrics != nil {
		ix.metrics.SetChainHeight(head)
		if ok {
			ix.metrics.SetIndexedHeight(highest)
		}
	}

	ix.log.Infow("indexer initialized",
		"chainHead", head,
		"currentBlock", ix.current.Load(),
		"startBlock", ix.opts.StartBlock,
		"batchSize", ix.opts.BatchSize,
		"parallelBatches", ix.opts.ParallelBatches,
		"reorgCheck", ix.opts.EnableReorgCheck,
	)

	ix.state.Store(int32(StateInitialized))
	return nil
}

// Start backfills to the chain head, then enters tail mode until Stop or
// context cancellation. Calling Start while already running is a no-op.
func (ix *Indexer) Start(ctx context.Context) error {
	if !ix.state.CompareAndSwap(int32(StateInitialized), int32(StateRunning)) {
		if ix.State() == StateRunning {
			ix.log.Warnw("indexer already running, ignoring start")
			return nil
		}
		return fmt.Errorf("cannot start from state %s", ix.State())
	}
	ix.running.Store(true)

	head, err := ix.chain.HeadHeight(ctx)
	if err != nil {
		return fmt.Errorf("failed to read chain head: %w", err)
	}
	if ix.metrics != nil {
		ix.metrics.SetChainHeight(head)
	}

	if from := ix.current.Load() + 1; from <= int64(head) {
		ix.backfill(ctx, uint64(from), head)
	} else {
		ix.log.Infow("store already at chain head", "currentBlock", ix.current.Load(), "chainHead", head)
	}

	ix.tail(ctx)
	return nil
}

// Stop requests shutdown: the running flag is cleared, the in-flight chunk
// is awaited, and the RPC transport is closed. A repeated Stop while
// shutting down is ignored.
func (ix *Indexer) Stop() {
	st := ix.State()
	if st == StateStopping || st == StateStopped {
		ix.log.Warnw("shutdown already in progress, ignoring", "state", st.String())
		return
	}

	if !ix.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		// Never entered Running; nothing is in flight.
		ix.running.Store(false)
		ix.signalStop()
		ix.state.Store(int32(StateStopped))
		return
	}

	ix.running.Store(false)
	ix.signalStop()

	ix.log.Infow("stopping indexer, waiting for in-flight batches")
	ix.chunkWG.Wait()
	ix.chain.Close()
	ix.state.Store(int32(StateStopped))
	ix.log.Infow("indexer stopped")
}

func (ix *Indexer) signalStop() {
	ix.stopOnce.Do(func() { close(ix.stopCh) })
}

// advanceCurrent raises the cursor to height if it is not already past it.
func (ix *Indexer) advanceCurrent(height int64) {
	for {
		cur := ix.current.Load()
		if height <= cur {
			return
		}
		if ix.current.CompareAndSwap(cur, height) {
			if ix.metrics != nil {
				ix.metrics.SetIndexedHeight(uint64(height))
			}
			return
		}
	}
}
