// Package chain is the read-only view of an EVM chain used by the tracker,
// parser and watcher, plus the per-chain connection pool behind it.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Tx is the subset of a transaction the copy-trading core looks at.
type Tx struct {
	Hash    common.Hash     `json:"hash"`
	From    common.Address  `json:"from"`
	To      *common.Address `json:"to,omitempty"`
	Value   *big.Int        `json:"value"`
	Input   []byte          `json:"input"`
	Nonce   uint64          `json:"nonce"`
	Pending bool            `json:"pending"`
}

// Client reports absent transactions and receipts as (nil, nil).
type Client interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*Tx, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type BlockReader interface {
	BlockTransactions(ctx context.Context, number uint64) ([]*Tx, error)
}

// Caller matches ethclient's eth_call signature.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Conn is one pooled connection.
type Conn interface {
	Client
	BlockReader
	Caller
	Close()
}
