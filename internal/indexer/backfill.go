package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsescan/indexer/pkg/data/postgres/blocks"
)

type batchRange struct {
	from, to uint64
}

func (b batchRange) String() string {
	return fmt.Sprintf("%d-%d", b.from, b.to)
}

type batchResult struct {
	batch batchRange
	err   error
}

type failedBatch struct {
	Batch batchRange
	Err   error
}

type backfillSummary struct {
	Completed int
	Failed    []failedBatch
}

func (s *backfillSummary) failedRanges() []string {
	out := make([]string, 0, len(s.Failed))
	for _, f := range s.Failed {
		out = append(out, f.Batch.String())
	}
	return out
}

// partition splits [from, to] into contiguous ranges of at most size
// heights, preserving order. The last range may be shorter.
func partition(from, to, size uint64) []batchRange {
	var batches []batchRange
	for start := from; start <= to; start += size {
		end := start + size - 1
		if end > to || end < start {
			end = to
		}
		batches = append(batches, batchRange{from: start, to: end})
		if end == to {
			break
		}
	}
	return batches
}

// backfill indexes [from, to]: batches run in chunks of ParallelBatches,
// the cursor advances to the maximum committed batch end, and failed
// batches are recorded without aborting the sync — a later run re-fetches
// the holes. The stop flag is honored between chunks; in-flight batches
// complete naturally.
func (ix *Indexer) backfill(ctx context.Context, from, to uint64) *backfillSummary {
	batches := partition(from, to, ix.opts.BatchSize)
	summary := &backfillSummary{}

	ix.log.Infow("backfill starting",
		"from", from,
		"to", to,
		"batches", len(batches),
		"parallelBatches", ix.opts.ParallelBatches,
	)

	for start := 0; start < len(batches); start += ix.opts.ParallelBatches {
		if start > 0 && ix.opts.BlockDelayMs > 0 {
			ix.sleep(ix.opts.BlockDelay())
		}
		if ctx.Err() != nil || !ix.running.Load() {
			ix.log.Infow("backfill interrupted", "completedBatches", summary.Completed)
			break
		}

		chunk := batches[start:min(start+ix.opts.ParallelBatches, len(batches))]
		results := make(chan batchResult, len(chunk))

		ix.chunkWG.Add(len(chunk))
		for _, b := range chunk {
			go func(b batchRange) {
				defer ix.chunkWG.Done()
				results <- batchResult{batch: b, err: ix.fetchAndCommitWithRetry(ctx, b)}
			}(b)
		}

		for range chunk {
			res := <-results
			if res.err != nil {
				ix.log.Errorw("batch failed after retries", "range", res.batch.String(), "error", res.err)
				summary.Failed = append(summary.Failed, failedBatch{Batch: res.batch, Err: res.err})
				if ix.metrics != nil {
					ix.metrics.IncBatchesFailed()
				}
				continue
			}
			summary.Completed++
			ix.advanceCurrent(int64(res.batch.to))
		}
	}

	ix.log.Infow("backfill complete",
		"completedBatches", summary.Completed,
		"failedBatches", len(summary.Failed),
		"failedRanges", summary.failedRanges(),
		"currentBlock", ix.current.Load(),
	)
	return summary
}

// fetchAndCommitWithRetry runs fetch, reorg check, and commit as one unit,
// retrying the whole unit with exponential backoff (2s, 4s, 8s, ...).
// Batches retry independently; budgets are not shared.
func (ix *Indexer) fetchAndCommitWithRetry(ctx context.Context, b batchRange) error {
	var lastErr error
	for attempt := 0; attempt <= ix.opts.RPCRetries; attempt++ {
		if attempt > 0 {
			ix.sleep(time.Duration(1<<uint(attempt)) * time.Second)
		}
		if err := ix.processBatch(ctx, b); err != nil {
			lastErr = err
			ix.log.Warnw("batch attempt failed",
				"range", b.String(),
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}
		return nil
	}
	return lastErr
}

func (ix *Indexer) processBatch(ctx context.Context, b batchRange) error {
	wire, err := ix.chain.BlockRange(ctx, b.from, b.to)
	if err != nil {
		return err
	}

	rows := make([]*blocks.BlockRow, 0, len(wire))
	for _, wb := range wire {
		row, err := blocks.FromChainBlock(wb)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	if ix.opts.EnableReorgCheck {
		if err := ix.checkForReorgs(ctx, rows); err != nil {
			return err
		}
	}

	start := time.Now()
	inserted, err := ix.store.InsertBatch(ctx, rows)
	if err != nil {
		return err
	}
	if ix.metrics != nil {
		ix.metrics.ObserveBatchCommit(time.Since(start).Seconds())
		ix.metrics.AddBlocksIndexed(int(inserted))
	}

	ix.log.Debugw("batch committed", "range", b.String(), "inserted", inserted)
	return nil
}
