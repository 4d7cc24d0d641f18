//go:build integration
// +build integration

package blocks

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsescan/indexer/pkg/postgres"
)

var testRepo Repository
var testClient postgres.Client

// TestMain sets up the repository against a live PostgreSQL instance.
// Integration tests require a reachable database; configuration comes from
// the environment (optionally a .env.test file in this directory).
func TestMain(m *testing.M) {
	ctx := context.Background()

	if err := godotenv.Load(".env.test"); err != nil {
		log.Printf("integration: no .env.test file, using environment defaults")
	}

	cfg, err := postgres.Load()
	if err != nil {
		log.Fatalf("integration: failed to load postgres config: %v", err)
	}

	sugar := zap.NewNop().Sugar()
	testClient, err = postgres.New(ctx, cfg, sugar)
	if err != nil {
		log.Fatalf("integration: failed to connect to postgres: %v", err)
	}

	testRepo, err = NewRepository(ctx, testClient, sugar)
	if err != nil {
		log.Fatalf("integration: failed to create repository: %v", err)
	}

	code := m.Run()
	testClient.Close()
	os.Exit(code)
}

func truncate(t *testing.T) {
	t.Helper()
	_, err := testClient.Pool().Exec(context.Background(), "TRUNCATE blocks")
	require.NoError(t, err)
}

func testRow(number uint64, tag byte) *BlockRow {
	hash := make([]byte, 32)
	hash[0] = tag
	hash[31] = byte(number)
	parent := make([]byte, 32)
	parent[0] = tag
	parent[31] = byte(number - 1)
	miner := make([]byte, 20)
	miner[0] = 0xaa

	baseFee := "7"
	return &BlockRow{
		Hash:             hash,
		Number:           number,
		ParentHash:       parent,
		Miner:            miner,
		Timestamp:        time.Unix(1700000000+int64(number), 0).UTC(),
		GasLimit:         "30000000",
		GasUsed:          "12345678",
		BaseFeePerGas:    &baseFee,
		TransactionsRoot: make([]byte, 32),
		StateRoot:        make([]byte, 32),
		ReceiptsRoot:     make([]byte, 32),
		Nonce:            []byte{},
		Size:             100,
		TransactionCount: 5,
	}
}

func TestInsert_Idempotent(t *testing.T) {
	truncate(t)
	ctx := context.Background()

	row := testRow(1, 0x01)

	inserted, err := testRepo.Insert(ctx, row)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Re-inserting the identical hash is a silent no-op.
	inserted, err = testRepo.Insert(ctx, row)
	require.NoError(t, err)
	assert.False(t, inserted)

	count, err := testRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestInsertBatch_CountsOnlyNewRows(t *testing.T) {
	truncate(t)
	ctx := context.Background()

	_, err := testRepo.Insert(ctx, testRow(1, 0x01))
	require.NoError(t, err)

	inserted, err := testRepo.InsertBatch(ctx, []*BlockRow{
		testRow(1, 0x01), // conflict, skipped
		testRow(2, 0x02),
		testRow(3, 0x03),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)
}

func TestInsertBatch_Atomicity(t *testing.T) {
	truncate(t)
	ctx := context.Background()

	// Two different hashes at the same number violate the unique
	// constraint; the whole batch must roll back.
	bad := testRow(2, 0xff)
	bad.Number = 1

	_, err := testRepo.InsertBatch(ctx, []*BlockRow{
		testRow(1, 0x01),
		bad,
	})
	require.Error(t, err)

	count, err := testRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count, "a failed batch must leave no rows behind")
}

func TestGetByNumber_RoundTrip(t *testing.T) {
	truncate(t)
	ctx := context.Background()

	row := testRow(42, 0x42)
	extra := []byte{0xde, 0xad}
	row.ExtraData = extra
	row.Nonce = []byte{0, 0, 0, 0, 0, 0, 0, 0x42}

	_, err := testRepo.Insert(ctx, row)
	require.NoError(t, err)

	got, err := testRepo.GetByNumber(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, row.Hash, got.Hash)
	assert.Equal(t, row.Number, got.Number)
	assert.Equal(t, row.ParentHash, got.ParentHash)
	assert.Equal(t, row.Miner, got.Miner)
	assert.True(t, row.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, row.GasLimit, got.GasLimit)
	assert.Equal(t, row.GasUsed, got.GasUsed)
	require.NotNil(t, got.BaseFeePerGas)
	assert.Equal(t, *row.BaseFeePerGas, *got.BaseFeePerGas)
	assert.Nil(t, got.Difficulty)
	assert.Equal(t, extra, got.ExtraData)
	assert.Equal(t, row.Nonce, got.Nonce)
	assert.Equal(t, row.Size, got.Size)
	assert.Equal(t, row.TransactionCount, got.TransactionCount)
}

func TestGetByNumber_AbsentIsNil(t *testing.T) {
	truncate(t)

	got, err := testRepo.GetByNumber(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExists(t *testing.T) {
	truncate(t)
	ctx := context.Background()

	_, err := testRepo.Insert(ctx, testRow(5, 0x05))
	require.NoError(t, err)

	exists, err := testRepo.Exists(ctx, 5)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = testRepo.Exists(ctx, 6)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHighestNumber(t *testing.T) {
	truncate(t)
	ctx := context.Background()

	_, ok, err := testRepo.HighestNumber(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "empty table has no highest block")

	for n := uint64(1); n <= 3; n++ {
		_, err := testRepo.Insert(ctx, testRow(n, byte(n)))
		require.NoError(t, err)
	}

	highest, ok, err := testRepo.HighestNumber(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), highest)
}

func TestDeleteFrom(t *testing.T) {
	truncate(t)
	ctx := context.Background()

	for n := uint64(1); n <= 10; n++ {
		_, err := testRepo.Insert(ctx, testRow(n, byte(n)))
		require.NoError(t, err)
	}

	deleted, err := testRepo.DeleteFrom(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)

	highest, ok, err := testRepo.HighestNumber(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), highest)
}

func TestStats(t *testing.T) {
	truncate(t)
	ctx := context.Background()

	for n := uint64(1); n <= 4; n++ {
		row := testRow(n, byte(n))
		row.TransactionCount = int32(n)
		row.GasUsed = "1000"
		_, err := testRepo.Insert(ctx, row)
		require.NoError(t, err)
	}

	stats, err := testRepo.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(4), stats.TotalBlocks)
	assert.Equal(t, uint64(1), stats.FirstBlock)
	assert.Equal(t, uint64(4), stats.LastBlock)
	assert.Equal(t, uint64(10), stats.TotalTransactions)
	assert.InDelta(t, 2.5, stats.AvgTxPerBlock, 0.001)
	assert.Equal(t, "4000", stats.TotalGasUsed)
	assert.Equal(t, "1000", stats.AvgGasPerBlock)
}
