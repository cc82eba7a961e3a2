// Package chaintest provides a scripted in-memory chain for tests.
package chaintest

import (
	"context"
	"encoding/hex"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"dex-gocopy/internal/chain"
)

const (
	MethodTx      = "eth_getTransactionByHash"
	MethodReceipt = "eth_getTransactionReceipt"
	MethodHead    = "eth_blockNumber"
	MethodBlock   = "eth_getBlockByNumber"
	MethodCall    = "eth_call"
)

// Fake implements chain.Conn. Hooks run after the call is counted and
// before it is answered, without the lock held, so they may mutate the fake.
type Fake struct {
	mu       sync.Mutex
	head     uint64
	autoMine uint64
	txs      map[common.Hash]*chain.Tx
	receipts map[common.Hash]*types.Receipt
	blocks   map[uint64][]*chain.Tx
	calls    map[string][]byte
	failures map[string][]error
	counts   map[string]int
	hooks    map[string]func(call int)
	closed   bool
}

var _ chain.Conn = (*Fake)(nil)

func New(head uint64) *Fake {
	return &Fake{
		head:     head,
		txs:      make(map[common.Hash]*chain.Tx),
		receipts: make(map[common.Hash]*types.Receipt),
		blocks:   make(map[uint64][]*chain.Tx),
		calls:    make(map[string][]byte),
		failures: make(map[string][]error),
		counts:   make(map[string]int),
		hooks:    make(map[string]func(int)),
	}
}

func (f *Fake) SetHead(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = n
}

// AutoMine advances the head by step after every BlockNumber call.
func (f *Fake) AutoMine(step uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoMine = step
}

func (f *Fake) AddTx(tx *chain.Tx) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[tx.Hash] = tx
}

func (f *Fake) AddReceipt(r *types.Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[r.TxHash] = r
	if tx, ok := f.txs[r.TxHash]; ok {
		tx.Pending = false
	}
}

func (f *Fake) RemoveReceipt(hash common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.receipts, hash)
}

func (f *Fake) AddBlock(number uint64, txs ...*chain.Tx) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[number] = append(f.blocks[number], txs...)
}

// SetCall answers eth_call to `to` with exactly this calldata.
func (f *Fake) SetCall(to common.Address, data, out []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[callKey(to, data)] = out
}

// FailNext queues errors returned by the next calls of method, in order.
func (f *Fake) FailNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = append(f.failures[method], errs...)
}

func (f *Fake) OnCall(method string, fn func(call int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[method] = fn
}

func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[method]
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) enter(method string) error {
	f.mu.Lock()
	f.counts[method]++
	call := f.counts[method]
	hook := f.hooks[method]
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.failures[method]; len(q) > 0 {
		err := q[0]
		f.failures[method] = q[1:]
		return err
	}
	return nil
}

func (f *Fake) TransactionByHash(ctx context.Context, hash common.Hash) (*chain.Tx, error) {
	if err := f.enter(MethodTx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[hash]
	if !ok {
		return nil, nil
	}
	cp := *tx
	return &cp, nil
}

func (f *Fake) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := f.enter(MethodReceipt); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[hash]
	if !ok {
		return nil, nil
	}
	return r, nil
}

func (f *Fake) BlockNumber(ctx context.Context) (uint64, error) {
	if err := f.enter(MethodHead); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.head
	f.head += f.autoMine
	return n, nil
}

func (f *Fake) BlockTransactions(ctx context.Context, number uint64) ([]*chain.Tx, error) {
	if err := f.enter(MethodBlock); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*chain.Tx(nil), f.blocks[number]...), nil
}

func (f *Fake) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := f.enter(MethodCall); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.To == nil {
		return nil, nil
	}
	return f.calls[callKey(*msg.To, msg.Data)], nil
}

func (f *Fake) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func callKey(to common.Address, data []byte) string {
	return to.Hex() + ":" + hex.EncodeToString(data)
}
