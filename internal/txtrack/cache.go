package txtrack

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"dex-gocopy/internal/chain"
)

// OutcomeCache remembers successful outcomes together with the deepest
// confirmation count they were verified at.
type OutcomeCache interface {
	Get(hash common.Hash) (ready *Ready, confirmations uint64, ok bool, err error)
	Put(ready *Ready, confirmations uint64) error
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[common.Hash]memoryEntry
}

type memoryEntry struct {
	ready         *Ready
	confirmations uint64
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[common.Hash]memoryEntry)}
}

func (c *MemoryCache) Get(hash common.Hash) (*Ready, uint64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[hash]
	return e.ready, e.confirmations, ok, nil
}

func (c *MemoryCache) Put(ready *Ready, confirmations uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[ready.hash]; ok && e.confirmations > confirmations {
		confirmations = e.confirmations
	}
	c.entries[ready.hash] = memoryEntry{ready: ready, confirmations: confirmations}
	return nil
}

// BadgerCache persists outcomes across restarts.
type BadgerCache struct {
	db *badger.DB
}

// OpenBadgerCache opens (or creates) a cache under dir. A blank dir keeps
// the cache in memory.
func OpenBadgerCache(dir string) (*BadgerCache, error) {
	dir = strings.TrimSpace(dir)
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open outcome cache: %w", err)
	}
	return &BadgerCache{db: db}, nil
}

func (c *BadgerCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func cacheKey(hash common.Hash) []byte {
	return append([]byte("outcome/"), hash.Bytes()...)
}

func (c *BadgerCache) Get(hash common.Hash) (*Ready, uint64, bool, error) {
	var rec cachedOutcome
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(hash))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil || !found {
		return nil, 0, false, err
	}
	return rec.ready(), rec.Confirmations, true, nil
}

func (c *BadgerCache) Put(ready *Ready, confirmations uint64) error {
	return c.db.Update(func(txn *badger.Txn) error {
		key := cacheKey(ready.hash)
		if item, err := txn.Get(key); err == nil {
			var prev cachedOutcome
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &prev) }); err == nil &&
				prev.Confirmations > confirmations {
				confirmations = prev.Confirmations
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		b, err := json.Marshal(newCachedOutcome(ready, confirmations))
		if err != nil {
			return err
		}
		return txn.Set(key, b)
	})
}

type cachedOutcome struct {
	Hash          common.Hash   `json:"hash"`
	Confirmations uint64        `json:"confirmations"`
	Tx            chain.Tx      `json:"tx"`
	Receipt       cachedReceipt `json:"receipt"`
}

// cachedReceipt keeps the receipt fields the parser and tracker read.
type cachedReceipt struct {
	TxHash            common.Hash    `json:"tx_hash"`
	Status            uint64         `json:"status"`
	BlockNumber       uint64         `json:"block_number"`
	BlockHash         common.Hash    `json:"block_hash"`
	TransactionIndex  uint           `json:"transaction_index"`
	GasUsed           uint64         `json:"gas_used"`
	CumulativeGasUsed uint64         `json:"cumulative_gas_used"`
	EffectiveGasPrice *big.Int       `json:"effective_gas_price,omitempty"`
	ContractAddress   common.Address `json:"contract_address"`
	Logs              []cachedLog    `json:"logs"`
}

type cachedLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
	Index   uint           `json:"index"`
}

func newCachedOutcome(r *Ready, confirmations uint64) cachedOutcome {
	rc := r.receipt
	out := cachedOutcome{
		Hash:          r.hash,
		Confirmations: confirmations,
		Tx:            r.Tx(),
		Receipt: cachedReceipt{
			TxHash:            rc.TxHash,
			Status:            rc.Status,
			BlockNumber:       receiptBlock(rc),
			BlockHash:         rc.BlockHash,
			TransactionIndex:  rc.TransactionIndex,
			GasUsed:           rc.GasUsed,
			CumulativeGasUsed: rc.CumulativeGasUsed,
			EffectiveGasPrice: rc.EffectiveGasPrice,
			ContractAddress:   rc.ContractAddress,
			Logs:              make([]cachedLog, 0, len(rc.Logs)),
		},
	}
	for _, lg := range rc.Logs {
		if lg == nil {
			continue
		}
		out.Receipt.Logs = append(out.Receipt.Logs, cachedLog{
			Address: lg.Address,
			Topics:  lg.Topics,
			Data:    lg.Data,
			Index:   lg.Index,
		})
	}
	return out
}

func (c cachedOutcome) ready() *Ready {
	rc := c.Receipt
	receipt := &types.Receipt{
		TxHash:            rc.TxHash,
		Status:            rc.Status,
		BlockNumber:       new(big.Int).SetUint64(rc.BlockNumber),
		BlockHash:         rc.BlockHash,
		TransactionIndex:  rc.TransactionIndex,
		GasUsed:           rc.GasUsed,
		CumulativeGasUsed: rc.CumulativeGasUsed,
		EffectiveGasPrice: rc.EffectiveGasPrice,
		ContractAddress:   rc.ContractAddress,
		Logs:              make([]*types.Log, 0, len(rc.Logs)),
	}
	for _, lg := range rc.Logs {
		receipt.Logs = append(receipt.Logs, &types.Log{
			Address:     lg.Address,
			Topics:      lg.Topics,
			Data:        lg.Data,
			Index:       lg.Index,
			TxHash:      rc.TxHash,
			TxIndex:     rc.TransactionIndex,
			BlockNumber: rc.BlockNumber,
			BlockHash:   rc.BlockHash,
		})
	}
	return &Ready{hash: c.Hash, tx: c.Tx, receipt: receipt}
}
