package chain

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Block is the JSON-RPC wire representation of a block header plus its
// transaction list. Transactions are kept raw: depending on the fetch mode
// they are hash strings or full objects, and the indexer only needs the
// count. Pointer fields distinguish a missing field from a zero value.
type Block struct {
	Number           *hexutil.Big      `json:"number"`
	Hash             *common.Hash      `json:"hash"`
	ParentHash       *common.Hash      `json:"parentHash"`
	Miner            *common.Address   `json:"miner"`
	Timestamp        hexutil.Uint64    `json:"timestamp"`
	GasLimit         *hexutil.Big      `json:"gasLimit"`
	GasUsed          *hexutil.Big      `json:"gasUsed"`
	BaseFeePerGas    *hexutil.Big      `json:"baseFeePerGas"`
	Difficulty       *hexutil.Big      `json:"difficulty"`
	Nonce            hexutil.Bytes     `json:"nonce"`
	ExtraData        hexutil.Bytes     `json:"extraData"`
	Size             hexutil.Uint64    `json:"size"`
	TransactionsRoot *common.Hash      `json:"transactionsRoot"`
	StateRoot        *common.Hash      `json:"stateRoot"`
	ReceiptsRoot     *common.Hash      `json:"receiptsRoot"`
	Transactions     []json.RawMessage `json:"transactions"`
}

// NumberUint64 returns the block height. The block must have passed
// validation, so Number is never nil here.
func (b *Block) NumberUint64() uint64 {
	return b.Number.ToInt().Uint64()
}

// TxCount returns the length of the transaction list, irrespective of
// whether the elements are hashes or full objects.
func (b *Block) TxCount() int {
	return len(b.Transactions)
}

// validate checks the mandatory fields and that the endpoint answered for
// the height that was asked. Violations are reported as schema mismatches,
// which callers treat like transport errors (retried).
func (b *Block) validate(requested uint64) error {
	switch {
	case b.Number == nil:
		return fmt.Errorf("%w: block %d: missing number", ErrSchemaMismatch, requested)
	case b.Hash == nil:
		return fmt.Errorf("%w: block %d: missing hash", ErrSchemaMismatch, requested)
	case b.ParentHash == nil:
		return fmt.Errorf("%w: block %d: missing parent hash", ErrSchemaMismatch, requested)
	case b.Miner == nil:
		return fmt.Errorf("%w: block %d: missing miner", ErrSchemaMismatch, requested)
	}
	if got := b.NumberUint64(); got != requested {
		return fmt.Errorf("%w: requested block %d, endpoint returned %d", ErrSchemaMismatch, requested, got)
	}
	return nil
}
