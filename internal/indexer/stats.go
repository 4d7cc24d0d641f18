package indexer

import (
	"context"
	"fmt"
)

// Progress reports how far the store is behind the chain head.
type Progress struct {
	ChainHeight       uint64
	Indexed           uint64
	Behind            uint64
	ProgressPct       string
	FirstBlock        uint64
	LastBlock         uint64
	TotalTransactions uint64
}

// Stats reads the chain head and the store summary and derives progress.
func (ix *Indexer) Stats(ctx context.Context) (*Progress, error) {
	head, err := ix.chain.HeadHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}

	st, err := ix.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}

	p := &Progress{
		ChainHeight:       head,
		Indexed:           st.TotalBlocks,
		FirstBlock:        st.FirstBlock,
		LastBlock:         st.LastBlock,
		TotalTransactions: st.TotalTransactions,
	}

	if st.TotalBlocks == 0 || head == 0 {
		p.ProgressPct = "0%"
		p.Behind = head
		return p, nil
	}

	p.ProgressPct = fmt.Sprintf("%.2f%%", float64(st.LastBlock)/float64(head)*100)
	if head > st.LastBlock {
		p.Behind = head - st.LastBlock
	}
	return p, nil
}
