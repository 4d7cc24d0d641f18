package indexer

import (
	"context"
	"time"
)

// tail polls the chain head at the chain's nominal block interval and
// backfills the delta. Transient head errors are logged and swallowed;
// the loop ends on Stop or context cancellation.
func (ix *Indexer) tail(ctx context.Context) {
	ix.log.Infow("entering tail mode", "pollInterval", ix.opts.PollInterval())

	for ix.running.Load() && ctx.Err() == nil {
		head, err := ix.chain.HeadHeight(ctx)
		if err != nil {
			ix.log.Warnw("failed to poll chain head", "error", err)
		} else {
			if ix.metrics != nil {
				ix.metrics.SetChainHeight(head)
			}
			if cur := ix.current.Load(); int64(head) > cur {
				ix.backfill(ctx, uint64(cur+1), head)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ix.stopCh:
			return
		case <-time.After(ix.opts.PollInterval()):
		}
	}
}
