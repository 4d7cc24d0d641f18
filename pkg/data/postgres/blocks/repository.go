package blocks

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/pulsescan/indexer/pkg/postgres"
)

// Repository owns the blocks table: the exact SQL contract for writes,
// lookups, and reorg repair. It never retries internally; retry policy
// belongs to the caller so fetch and write are retried together.
type Repository interface {
	// CreateTableIfNotExists initializes the blocks table. Idempotent.
	CreateTableIfNotExists(ctx context.Context) error
	// Insert writes one row; a conflict on hash is a silent no-op.
	// Reports whether a new row was inserted.
	Insert(ctx context.Context, row *BlockRow) (bool, error)
	// InsertBatch writes all rows in one transaction, skipping hash
	// conflicts, and returns the count of newly inserted rows. On any
	// error the transaction is rolled back and nothing is written.
	InsertBatch(ctx context.Context, rows []*BlockRow) (int64, error)
	// Exists reports whether a row with the given number is stored.
	Exists(ctx context.Context, number uint64) (bool, error)
	// GetByNumber returns the row at the given number, or nil when absent.
	GetByNumber(ctx context.Context, number uint64) (*BlockRow, error)
	// HighestNumber returns the maximum stored number; ok is false when
	// the table is empty.
	HighestNumber(ctx context.Context) (uint64, bool, error)
	// Count returns the total number of stored rows.
	Count(ctx context.Context) (uint64, error)
	// DeleteFrom removes every row with number >= the given height and
	// returns the delete count. Used only by reorg repair.
	DeleteFrom(ctx context.Context, number uint64) (int64, error)
	// Stats summarizes the stored block set.
	Stats(ctx context.Context) (*Stats, error)
}

type repository struct {
	client postgres.Client
	log    *zap.SugaredLogger
}

// NewRepository creates the blocks repository and initializes the table.
func NewRepository(ctx context.Context, client postgres.Client, sugar *zap.SugaredLogger) (Repository, error) {
	if client == nil {
		return nil, errors.New("invalid postgres client: must not be nil")
	}
	if sugar == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}

	r := &repository{client: client, log: sugar}
	if err := r.CreateTableIfNotExists(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize blocks table: %w", err)
	}
	return r, nil
}

func (r *repository) CreateTableIfNotExists(ctx context.Context) error {
	if _, err := r.client.Pool().Exec(ctx, createTableQuery); err != nil {
		return fmt.Errorf("failed to create blocks table: %w", err)
	}
	return nil
}

func insertArgs(row *BlockRow) []interface{} {
	return []interface{}{
		row.Hash,
		row.Number,
		row.ParentHash,
		row.Miner,
		row.Timestamp,
		row.GasLimit,
		row.GasUsed,
		row.BaseFeePerGas,
		row.TransactionsRoot,
		row.StateRoot,
		row.ReceiptsRoot,
		row.Difficulty,
		row.Nonce,
		row.ExtraData,
		row.Size,
		row.TransactionCount,
	}
}

func (r *repository) Insert(ctx context.Context, row *BlockRow) (bool, error) {
	tag, err := r.client.Pool().Exec(ctx, insertQuery, insertArgs(row)...)
	if err != nil {
		return false, fmt.Errorf("failed to insert block %d: %w", row.Number, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repository) InsertBatch(ctx context.Context, rows []*BlockRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.client.Pool().Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var inserted int64
	for _, row := range rows {
		tag, err := tx.Exec(ctx, insertQuery, insertArgs(row)...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert block %d in batch: %w", row.Number, err)
		}
		inserted += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}
	return inserted, nil
}

func (r *repository) Exists(ctx context.Context, number uint64) (bool, error) {
	var exists bool
	if err := r.client.Pool().QueryRow(ctx, existsQuery, number).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check block %d: %w", number, err)
	}
	return exists, nil
}

func (r *repository) GetByNumber(ctx context.Context, number uint64) (*BlockRow, error) {
	var row BlockRow
	err := r.client.Pool().QueryRow(ctx, getByNumberQuery, number).Scan(
		&row.Hash,
		&row.Number,
		&row.ParentHash,
		&row.Miner,
		&row.Timestamp,
		&row.GasLimit,
		&row.GasUsed,
		&row.BaseFeePerGas,
		&row.TransactionsRoot,
		&row.StateRoot,
		&row.ReceiptsRoot,
		&row.Difficulty,
		&row.Nonce,
		&row.ExtraData,
		&row.Size,
		&row.TransactionCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", number, err)
	}
	return &row, nil
}

func (r *repository) HighestNumber(ctx context.Context) (uint64, bool, error) {
	var highest *int64
	if err := r.client.Pool().QueryRow(ctx, highestQuery).Scan(&highest); err != nil {
		return 0, false, fmt.Errorf("failed to get highest block: %w", err)
	}
	if highest == nil {
		return 0, false, nil
	}
	return uint64(*highest), true, nil
}

func (r *repository) Count(ctx context.Context) (uint64, error) {
	var count uint64
	if err := r.client.Pool().QueryRow(ctx, countQuery).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count blocks: %w", err)
	}
	return count, nil
}

func (r *repository) DeleteFrom(ctx context.Context, number uint64) (int64, error) {
	tag, err := r.client.Pool().Exec(ctx, deleteFromQuery, number)
	if err != nil {
		return 0, fmt.Errorf("failed to delete blocks from %d: %w", number, err)
	}
	deleted := tag.RowsAffected()
	if deleted > 0 {
		r.log.Infow("deleted blocks", "fromHeight", number, "count", deleted)
	}
	return deleted, nil
}

func (r *repository) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := r.client.Pool().QueryRow(ctx, statsQuery).Scan(
		&s.TotalBlocks,
		&s.FirstBlock,
		&s.LastBlock,
		&s.TotalTransactions,
		&s.AvgTxPerBlock,
		&s.TotalGasUsed,
		&s.AvgGasPerBlock,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query block stats: %w", err)
	}
	return &s, nil
}
