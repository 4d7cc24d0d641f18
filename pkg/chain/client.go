package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/pulsescan/indexer/pkg/metrics"
)

// ErrSchemaMismatch reports a response that does not match the request: a
// wrong height or a missing mandatory field. It is retried like a transport
// error.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Client fetches blocks from an EVM JSON-RPC endpoint.
//
// A nil block with a nil error means the endpoint reported "no such block"
// (future or pruned height); it is a value, not an error, and is never
// retried.
type Client interface {
	// HeadHeight returns the current chain tip height.
	HeadHeight(ctx context.Context) (uint64, error)
	// BlockByNumber fetches one block with retry and backoff.
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)
	// BlockRange fetches heights from..to inclusive, ascending. A missing
	// block inside the range is a fault and fails the whole call.
	BlockRange(ctx context.Context, from, to uint64) ([]*Block, error)
	// BlockSet fetches an arbitrary set of heights with at most concurrency
	// requests in flight. Heights the endpoint does not know are dropped;
	// result order is unspecified.
	BlockSet(ctx context.Context, heights []uint64, concurrency int64) ([]*Block, error)
	// Healthy probes the endpoint once; it never raises.
	Healthy(ctx context.Context) bool
	// Close releases the transports. Idempotent.
	Close()
}

// caller is the subset of rpc.Client the chain client depends on; tests
// substitute a scripted implementation.
type caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

type client struct {
	call    caller
	httpRPC *rpc.Client
	wsRPC   *rpc.Client

	timeout time.Duration
	retries int
	fullTxs bool
	chainID uint64

	// sleep is swapped out in tests to observe the backoff schedule.
	sleep func(time.Duration)

	log       *zap.SugaredLogger
	metrics   *metrics.Metrics
	closeOnce sync.Once
}

// Dial connects to the configured HTTP endpoint and verifies the chain id.
// The optional websocket endpoint is dialed best-effort: a failed handshake
// is logged and the client proceeds on HTTP alone.
func Dial(ctx context.Context, cfg Config, sugar *zap.SugaredLogger, m *metrics.Metrics) (Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("invalid rpc url: must not be empty")
	}

	httpRPC, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}

	c := &client{
		call:    httpRPC,
		httpRPC: httpRPC,
		timeout: time.Duration(cfg.Timeout) * time.Millisecond,
		retries: cfg.Retries,
		fullTxs: cfg.FullTransactions,
		chainID: cfg.ChainID,
		sleep:   time.Sleep,
		log:     sugar,
		metrics: m,
	}

	if err := c.verifyChainID(ctx); err != nil {
		httpRPC.Close()
		return nil, err
	}

	if cfg.WSURL != "" {
		wsRPC, wsErr := rpc.DialContext(ctx, cfg.WSURL)
		if wsErr != nil {
			sugar.Warnw("websocket dial failed, continuing on http", "url", cfg.WSURL, "error", wsErr)
		} else {
			c.wsRPC = wsRPC
		}
	}

	return c, nil
}

func (c *client) verifyChainID(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var id hexutil.Big
	if err := c.call.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return fmt.Errorf("eth_chainId: %w", err)
	}
	if got := id.ToInt().Uint64(); got != c.chainID {
		return fmt.Errorf("chain id mismatch: configured %d, endpoint reports %d", c.chainID, got)
	}
	return nil
}

func (c *client) HeadHeight(ctx context.Context) (uint64, error) {
	const method = "eth_blockNumber"
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.sleep(backoff(attempt - 1))
		}
		height, err := c.headHeight(ctx)
		if err == nil {
			return height, nil
		}
		lastErr = err
		c.log.Debugw("head height fetch failed", "method", method, "attempt", attempt+1, "error", err)
	}
	return 0, lastErr
}

func (c *client) headHeight(ctx context.Context) (uint64, error) {
	const method = "eth_blockNumber"
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var height hexutil.Uint64
	err := c.call.CallContext(ctx, &height, method)
	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", method, err)
	}
	return uint64(height), nil
}

// BlockByNumber retries transport and schema faults with exponential
// backoff (1s, 2s, 4s, ...). A "no such block" response returns (nil, nil)
// immediately.
func (c *client) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.sleep(backoff(attempt - 1))
		}
		block, err := c.fetchBlock(ctx, number)
		if err == nil {
			return block, nil
		}
		lastErr = err
		c.log.Debugw("block fetch failed", "height", number, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (c *client) fetchBlock(ctx context.Context, number uint64) (*Block, error) {
	const method = "eth_getBlockByNumber"
	start := time.Now()

	if c.metrics != nil {
		c.metrics.IncRPCInFlight()
		defer c.metrics.DecRPCInFlight()
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var block *Block
	err := c.call.CallContext(callCtx, &block, method, hexutil.EncodeUint64(number), c.fullTxs)
	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("%s %d: %w", method, number, err)
	}
	if block == nil {
		return nil, nil
	}
	if err := block.validate(number); err != nil {
		return nil, err
	}
	return block, nil
}

func (c *client) BlockRange(ctx context.Context, from, to uint64) ([]*Block, error) {
	if to < from {
		return nil, fmt.Errorf("invalid range: %d-%d", from, to)
	}

	out := make([]*Block, 0, to-from+1)
	for n := from; n <= to; n++ {
		block, err := c.BlockByNumber(ctx, n)
		if err != nil {
			return nil, err
		}
		if block == nil {
			return nil, fmt.Errorf("block %d missing inside range %d-%d", n, from, to)
		}
		out = append(out, block)
	}
	return out, nil
}

func (c *client) BlockSet(ctx context.Context, heights []uint64, concurrency int64) ([]*Block, error) {
	if concurrency <= 0 {
		return nil, errors.New("invalid concurrency: must be greater than 0")
	}

	sem := semaphore.NewWeighted(concurrency)
	var (
		mu  sync.Mutex
		out []*Block
		wg  sync.WaitGroup

		errMu   sync.Mutex
		lastErr error
	)

	for _, h := range heights {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(h uint64) {
			defer wg.Done()
			defer sem.Release(1)
			block, err := c.BlockByNumber(ctx, h)
			if err != nil {
				errMu.Lock()
				lastErr = err
				errMu.Unlock()
				return
			}
			if block == nil {
				return
			}
			mu.Lock()
			out = append(out, block)
			mu.Unlock()
		}(h)
	}
	wg.Wait()

	if lastErr != nil {
		return nil, lastErr
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NumberUint64() < out[j].NumberUint64() })
	return out, nil
}

func (c *client) Healthy(ctx context.Context) bool {
	_, err := c.headHeight(ctx)
	return err == nil
}

func (c *client) Close() {
	c.closeOnce.Do(func() {
		if c.httpRPC != nil {
			c.httpRPC.Close()
		}
		if c.wsRPC != nil {
			c.wsRPC.Close()
		}
	})
}

// backoff returns the sleep before retry k+1: 2^k seconds.
func backoff(k int) time.Duration {
	return time.Duration(1<<uint(k)) * time.Second
}
