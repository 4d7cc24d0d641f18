package indexer

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/pulsescan/indexer/pkg/chain"
	"github.com/pulsescan/indexer/pkg/data/postgres/blocks"
)

// wireBlock builds a minimal valid wire block. tag disambiguates hashes of
// competing chains at the same height.
func wireBlock(n uint64, tag byte) *chain.Block {
	hash := common.Hash{tag, byte(n >> 8), byte(n)}
	parent := common.Hash{tag, byte((n - 1) >> 8), byte(n - 1)}
	miner := common.Address{0xaa}
	num := hexutil.Big(*new(big.Int).SetUint64(n))
	gas := hexutil.Big(*big.NewInt(30_000_000))
	return &chain.Block{
		Number:       &num,
		Hash:         &hash,
		ParentHash:   &parent,
		Miner:        &miner,
		Timestamp:    hexutil.Uint64(1_700_000_000 + n),
		GasLimit:     &gas,
		GasUsed:      &gas,
		Transactions: nil,
	}
}

// fakeChain is a scripted chain.Client. Heights are served from the block
// map; ranges listed in failing always error.
type fakeChain struct {
	mu      sync.Mutex
	head    uint64
	blocks  map[uint64]*chain.Block
	failing map[string]error

	rangeCalls int
	blockCalls int
	headCalls  int
	closed     int

	delay       time.Duration
	inflight    atomic.Int64
	maxInflight atomic.Int64
}

var _ chain.Client = (*fakeChain)(nil)

func newFakeChain(head uint64) *fakeChain {
	fc := &fakeChain{
		head:    head,
		blocks:  make(map[uint64]*chain.Block),
		failing: make(map[string]error),
	}
	for n := uint64(0); n <= head; n++ {
		fc.blocks[n] = wireBlock(n, 0x01)
	}
	return fc
}

func (f *fakeChain) setHead(h uint64, tag byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for n := f.head + 1; n <= h; n++ {
		f.blocks[n] = wireBlock(n, tag)
	}
	f.head = h
}

// rewriteFrom replaces the canonical chain from height n up with new
// hashes, as a reorg would.
func (f *fakeChain) rewriteFrom(n uint64, tag byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for h := n; h <= f.head; h++ {
		f.blocks[h] = wireBlock(h, tag)
	}
}

func (f *fakeChain) HeadHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headCalls++
	return f.head, nil
}

func (f *fakeChain) BlockByNumber(ctx context.Context, number uint64) (*chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockCalls++
	return f.blocks[number], nil
}

func (f *fakeChain) BlockRange(ctx context.Context, from, to uint64) ([]*chain.Block, error) {
	cur := f.inflight.Add(1)
	for {
		prev := f.maxInflight.Load()
		if cur <= prev || f.maxInflight.CompareAndSwap(prev, cur) {
			break
		}
	}
	defer f.inflight.Add(-1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.rangeCalls++

	if err, ok := f.failing[fmt.Sprintf("%d-%d", from, to)]; ok {
		return nil, err
	}

	out := make([]*chain.Block, 0, to-from+1)
	for n := from; n <= to; n++ {
		b, ok := f.blocks[n]
		if !ok {
			return nil, fmt.Errorf("block %d missing inside range %d-%d", n, from, to)
		}
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeChain) BlockSet(ctx context.Context, heights []uint64, concurrency int64) ([]*chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*chain.Block
	for _, h := range heights {
		if b, ok := f.blocks[h]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeChain) Healthy(ctx context.Context) bool { return true }

func (f *fakeChain) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func (f *fakeChain) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChain) fetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rangeCalls + f.blockCalls
}

// fakeStore is an in-memory blocks.Repository with the same conflict and
// atomicity semantics as the SQL implementation.
type fakeStore struct {
	mu       sync.Mutex
	byNumber map[uint64]*blocks.BlockRow
	byHash   map[string]struct{}

	insertBatchErr error
	batchCommits   int
}

var _ blocks.Repository = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		byNumber: make(map[uint64]*blocks.BlockRow),
		byHash:   make(map[string]struct{}),
	}
}

func (s *fakeStore) CreateTableIfNotExists(ctx context.Context) error { return nil }

// insertLocked mimics INSERT ... ON CONFLICT (hash) DO NOTHING: a known
// hash is silently skipped, while a different hash at a stored number
// violates the number-unique constraint.
func (s *fakeStore) insertLocked(row *blocks.BlockRow) (bool, error) {
	key := string(row.Hash)
	if _, ok := s.byHash[key]; ok {
		return false, nil
	}
	if _, ok := s.byNumber[row.Number]; ok {
		return false, fmt.Errorf("duplicate key value violates unique constraint at number %d", row.Number)
	}
	s.byHash[key] = struct{}{}
	s.byNumber[row.Number] = row
	return true, nil
}

func (s *fakeStore) Insert(ctx context.Context, row *blocks.BlockRow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(row)
}

func (s *fakeStore) InsertBatch(ctx context.Context, rows []*blocks.BlockRow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertBatchErr != nil {
		return 0, s.insertBatchErr
	}

	// Stage onto copies so a failing row leaves nothing behind, like a
	// rolled-back transaction.
	stagedNumbers := make(map[uint64]*blocks.BlockRow, len(s.byNumber))
	for n, r := range s.byNumber {
		stagedNumbers[n] = r
	}
	stagedHashes := make(map[string]struct{}, len(s.byHash))
	for h := range s.byHash {
		stagedHashes[h] = struct{}{}
	}

	var inserted int64
	for _, row := range rows {
		key := string(row.Hash)
		if _, ok := stagedHashes[key]; ok {
			continue
		}
		if _, ok := stagedNumbers[row.Number]; ok {
			return 0, fmt.Errorf("duplicate key value violates unique constraint at number %d", row.Number)
		}
		stagedHashes[key] = struct{}{}
		stagedNumbers[row.Number] = row
		inserted++
	}

	s.byNumber = stagedNumbers
	s.byHash = stagedHashes
	s.batchCommits++
	return inserted, nil
}

func (s *fakeStore) Exists(ctx context.Context, number uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byNumber[number]
	return ok, nil
}

func (s *fakeStore) GetByNumber(ctx context.Context, number uint64) (*blocks.BlockRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byNumber[number], nil
}

func (s *fakeStore) HighestNumber(ctx context.Context) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.byNumber) == 0 {
		return 0, false, nil
	}
	var highest uint64
	for n := range s.byNumber {
		if n > highest {
			highest = n
		}
	}
	return highest, true, nil
}

func (s *fakeStore) Count(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.byNumber)), nil
}

func (s *fakeStore) DeleteFrom(ctx context.Context, number uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for n, row := range s.byNumber {
		if n >= number {
			delete(s.byNumber, n)
			delete(s.byHash, string(row.Hash))
			deleted++
		}
	}
	return deleted, nil
}

func (s *fakeStore) Stats(ctx context.Context) (*blocks.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &blocks.Stats{TotalGasUsed: "0", AvgGasPerBlock: "0"}
	if len(s.byNumber) == 0 {
		return st, nil
	}

	numbers := make([]uint64, 0, len(s.byNumber))
	for n := range s.byNumber {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	st.TotalBlocks = uint64(len(numbers))
	st.FirstBlock = numbers[0]
	st.LastBlock = numbers[len(numbers)-1]
	for _, n := range numbers {
		st.TotalTransactions += uint64(s.byNumber[n].TransactionCount)
	}
	st.AvgTxPerBlock = float64(st.TotalTransactions) / float64(st.TotalBlocks)
	return st, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byNumber)
}
