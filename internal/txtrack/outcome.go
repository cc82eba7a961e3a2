// Package txtrack follows a transaction hash from submission to a final,
// confirmed outcome.
package txtrack

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"dex-gocopy/internal/chain"
)

type Status int

const (
	StatusUnknown Status = iota
	StatusPending
	StatusSuccessful
	StatusReverted
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccessful:
		return "successful"
	case StatusReverted:
		return "reverted"
	case StatusNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Outcome is the mutable tracking record for one hash. Only Tracker.Update
// changes it after construction.
//
// Status is Successful only with a receipt whose status is success, and
// Pending only when the transaction is known but not mined.
type Outcome struct {
	Hash    common.Hash
	Tx      *chain.Tx
	Receipt *types.Receipt
	Status  Status
}

func NewOutcome(hash common.Hash) *Outcome {
	return &Outcome{Hash: hash, Status: StatusUnknown}
}

// Ready freezes a Successful outcome.
func (o *Outcome) Ready() (*Ready, error) {
	if o.Status != StatusSuccessful {
		return nil, fmt.Errorf("tx %s is %s, not successful", o.Hash.Hex(), o.Status)
	}
	if o.Tx == nil || o.Receipt == nil {
		return nil, fmt.Errorf("tx %s: successful outcome without transaction or receipt", o.Hash.Hex())
	}
	tx := *o.Tx
	tx.Input = common.CopyBytes(o.Tx.Input)
	return &Ready{hash: o.Hash, tx: tx, receipt: o.Receipt}, nil
}

// Ready is a successful transaction with its receipt. It cannot be changed
// once built; callers must not mutate the returned receipt.
type Ready struct {
	hash    common.Hash
	tx      chain.Tx
	receipt *types.Receipt
}

func (r *Ready) Hash() common.Hash { return r.hash }

// Tx returns a copy of the transaction.
func (r *Ready) Tx() chain.Tx {
	tx := r.tx
	tx.Input = common.CopyBytes(r.tx.Input)
	return tx
}

func (r *Ready) Receipt() *types.Receipt { return r.receipt }

func (r *Ready) Logs() []*types.Log { return r.receipt.Logs }

func (r *Ready) BlockNumber() uint64 { return receiptBlock(r.receipt) }

func receiptBlock(r *types.Receipt) uint64 {
	if r == nil || r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}
