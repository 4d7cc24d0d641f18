package indexer

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/pulsescan/indexer/pkg/data/postgres/blocks"
)

// checkForReorgs compares each fetched block against the stored row at the
// same height. On the first divergence every row from that height up is
// deleted and the cursor rewinds to just below it; the caller's batch then
// writes the new canonical blocks over the vacated range. Checks are
// serialized so a sibling batch cannot undo a repair in progress.
func (ix *Indexer) checkForReorgs(ctx context.Context, rows []*blocks.BlockRow) error {
	ix.reorgMu.Lock()
	defer ix.reorgMu.Unlock()

	for _, row := range rows {
		if row.Number == 0 {
			continue
		}

		stored, err := ix.store.GetByNumber(ctx, row.Number)
		if err != nil {
			return fmt.Errorf("reorg check at %d: %w", row.Number, err)
		}
		if stored == nil || bytes.Equal(stored.Hash, row.Hash) {
			continue
		}

		ix.log.Warnw("chain reorganization detected",
			"height", row.Number,
			"storedHash", hex.EncodeToString(stored.Hash),
			"chainHash", hex.EncodeToString(row.Hash),
		)

		deleted, err := ix.store.DeleteFrom(ctx, row.Number)
		if err != nil {
			return fmt.Errorf("reorg repair at %d: %w", row.Number, err)
		}
		ix.current.Store(int64(row.Number) - 1)
		if ix.metrics != nil {
			ix.metrics.IncReorgsDetected()
		}

		ix.log.Infow("reorg repaired",
			"fromHeight", row.Number,
			"deletedBlocks", deleted,
			"currentBlock", ix.current.Load(),
		)
		// The first diverging height wins; everything above it is already
		// wiped by DeleteFrom.
		break
	}
	return nil
}
