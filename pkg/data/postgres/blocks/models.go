package blocks

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulsescan/indexer/pkg/chain"
)

// ErrTransform reports a wire block that cannot be converted into a row.
// Batches fail on it and are retried like any other batch fault.
var ErrTransform = errors.New("block transform")

// zeroRoot substitutes a missing Merkle root; roots are NOT NULL in the
// schema, absent values are written as 32 zero bytes.
var zeroRoot = make([]byte, 32)

// BlockRow is the persistent shape of one block. Byte fields hold raw
// decoded bytes; wide integers travel as decimal strings so NUMERIC(78,0)
// columns never lose precision.
type BlockRow struct {
	Hash             []byte
	Number           uint64
	ParentHash       []byte
	Miner            []byte
	Timestamp        time.Time
	GasLimit         string
	GasUsed          string
	BaseFeePerGas    *string
	TransactionsRoot []byte
	StateRoot        []byte
	ReceiptsRoot     []byte
	Difficulty       *string
	Nonce            []byte
	ExtraData        []byte
	Size             int32
	TransactionCount int32
}

// FromChainBlock converts a wire block into its row shape.
func FromChainBlock(b *chain.Block) (*BlockRow, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil block", ErrTransform)
	}
	switch {
	case b.Number == nil:
		return nil, fmt.Errorf("%w: missing number", ErrTransform)
	case b.Hash == nil:
		return nil, fmt.Errorf("%w: block %s: missing hash", ErrTransform, b.Number.String())
	case b.ParentHash == nil:
		return nil, fmt.Errorf("%w: block %s: missing parent hash", ErrTransform, b.Number.String())
	case b.Miner == nil:
		return nil, fmt.Errorf("%w: block %s: missing miner", ErrTransform, b.Number.String())
	case b.GasLimit == nil:
		return nil, fmt.Errorf("%w: block %s: missing gas limit", ErrTransform, b.Number.String())
	case b.GasUsed == nil:
		return nil, fmt.Errorf("%w: block %s: missing gas used", ErrTransform, b.Number.String())
	}

	row := &BlockRow{
		Hash:             b.Hash.Bytes(),
		Number:           b.NumberUint64(),
		ParentHash:       b.ParentHash.Bytes(),
		Miner:            b.Miner.Bytes(),
		Timestamp:        time.Unix(int64(b.Timestamp), 0).UTC(),
		GasLimit:         b.GasLimit.ToInt().String(),
		GasUsed:          b.GasUsed.ToInt().String(),
		TransactionsRoot: rootBytes(b.TransactionsRoot),
		StateRoot:        rootBytes(b.StateRoot),
		ReceiptsRoot:     rootBytes(b.ReceiptsRoot),
		Nonce:            []byte{},
		TransactionCount: int32(b.TxCount()),
	}

	if b.BaseFeePerGas != nil {
		s := b.BaseFeePerGas.ToInt().String()
		row.BaseFeePerGas = &s
	}
	if b.Difficulty != nil {
		s := b.Difficulty.ToInt().String()
		row.Difficulty = &s
	}
	if len(b.Nonce) > 0 {
		row.Nonce = []byte(b.Nonce)
	}
	if b.ExtraData != nil {
		row.ExtraData = []byte(b.ExtraData)
	}
	// Size is best-effort: not every endpoint reports it.
	if uint64(b.Size) <= math.MaxInt32 {
		row.Size = int32(b.Size)
	}

	return row, nil
}

func rootBytes(h *common.Hash) []byte {
	if h == nil {
		return zeroRoot
	}
	return h.Bytes()
}

// Stats summarizes the stored block set.
type Stats struct {
	TotalBlocks       uint64
	FirstBlock        uint64
	LastBlock         uint64
	TotalTransactions uint64
	AvgTxPerBlock     float64
	TotalGasUsed      string
	AvgGasPerBlock    string
}
