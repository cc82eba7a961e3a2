package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"dex-gocopy/internal/faults"
	"dex-gocopy/internal/observability"
)

var ErrPoolClosed = fmt.Errorf("chain: pool closed")

type DialFunc func(ctx context.Context) (Conn, error)

// Pool hands out at most Size connections to one chain. Connections are
// dialed lazily and reused; RPC calls never run under the pool lock.
type Pool struct {
	chainID uint64
	dial    DialFunc
	metrics *observability.Metrics

	slots chan struct{}
	idle  chan Conn

	mu     sync.Mutex
	open   int
	closed bool
}

func NewPool(chainID uint64, size int, dial DialFunc, metrics *observability.Metrics) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{
		chainID: chainID,
		dial:    dial,
		metrics: metrics,
		slots:   make(chan struct{}, size),
		idle:    make(chan Conn, size),
	}
}

func (p *Pool) ChainID() uint64 { return p.chainID }

// Open reports how many connections are currently dialed.
func (p *Pool) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Checkout blocks until a connection is available or ctx ends.
func (p *Pool) Checkout(ctx context.Context) (*Lease, error) {
	start := time.Now()
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.metrics.ObservePoolWait(time.Since(start).Seconds())

	select {
	case conn := <-p.idle:
		return &Lease{pool: p, conn: conn}, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, ErrPoolClosed
	}
	p.open++
	p.mu.Unlock()

	conn, err := p.dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.open--
		p.mu.Unlock()
		<-p.slots
		return nil, faults.Wrap(faults.Provider, fmt.Sprintf("dial chain %d", p.chainID), err)
	}
	return &Lease{pool: p, conn: conn}, nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// put parks conn under the lock so Close either sees it in idle or put sees
// closed. idle holds Size entries and never blocks here.
func (p *Pool) put(conn Conn) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.drop(conn)
		return
	}
	p.idle <- conn
	p.mu.Unlock()
	<-p.slots
}

func (p *Pool) drop(conn Conn) {
	conn.Close()
	p.mu.Lock()
	p.open--
	p.mu.Unlock()
	<-p.slots
}

// Close closes idle connections; leased ones are closed when returned.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case conn := <-p.idle:
			conn.Close()
			p.mu.Lock()
			p.open--
			p.mu.Unlock()
		default:
			return
		}
	}
}

// Lease is a checked-out connection. Release or Discard it exactly once;
// further calls are ignored.
type Lease struct {
	pool *Pool
	conn Conn
	once sync.Once
}

func (l *Lease) Conn() Conn { return l.conn }

func (l *Lease) Release() {
	l.once.Do(func() { l.pool.put(l.conn) })
}

// Discard closes a connection that is no longer trustworthy.
func (l *Lease) Discard() {
	l.once.Do(func() { l.pool.drop(l.conn) })
}

// Client returns a Conn-shaped view of the pool that checks out a connection
// per call. Connections that fail with a provider fault are discarded.
func (p *Pool) Client() *PooledClient {
	return &PooledClient{pool: p}
}

type PooledClient struct {
	pool *Pool
}

func (c *PooledClient) with(ctx context.Context, fn func(Conn) error) error {
	lease, err := c.pool.Checkout(ctx)
	if err != nil {
		return err
	}
	err = fn(lease.Conn())
	if faults.Retryable(err) {
		lease.Discard()
	} else {
		lease.Release()
	}
	return err
}

func (c *PooledClient) TransactionByHash(ctx context.Context, hash common.Hash) (tx *Tx, err error) {
	err = c.with(ctx, func(conn Conn) error {
		tx, err = conn.TransactionByHash(ctx, hash)
		return err
	})
	return tx, err
}

func (c *PooledClient) TransactionReceipt(ctx context.Context, hash common.Hash) (r *types.Receipt, err error) {
	err = c.with(ctx, func(conn Conn) error {
		r, err = conn.TransactionReceipt(ctx, hash)
		return err
	})
	return r, err
}

func (c *PooledClient) BlockNumber(ctx context.Context) (n uint64, err error) {
	err = c.with(ctx, func(conn Conn) error {
		n, err = conn.BlockNumber(ctx)
		return err
	})
	return n, err
}

func (c *PooledClient) BlockTransactions(ctx context.Context, number uint64) (txs []*Tx, err error) {
	err = c.with(ctx, func(conn Conn) error {
		txs, err = conn.BlockTransactions(ctx, number)
		return err
	})
	return txs, err
}

func (c *PooledClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) (out []byte, err error) {
	err = c.with(ctx, func(conn Conn) error {
		out, err = conn.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

// Pools keys one Pool per chain id.
type Pools struct {
	mu      sync.RWMutex
	byChain map[uint64]*Pool
}

func NewPools() *Pools {
	return &Pools{byChain: make(map[uint64]*Pool)}
}

func (ps *Pools) Register(p *Pool) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if _, ok := ps.byChain[p.chainID]; ok {
		return fmt.Errorf("chain %d already has a pool", p.chainID)
	}
	ps.byChain[p.chainID] = p
	return nil
}

func (ps *Pools) Get(chainID uint64) (*Pool, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.byChain[chainID]
	return p, ok
}

func (ps *Pools) Close() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for id, p := range ps.byChain {
		p.Close()
		delete(ps.byChain, id)
	}
}
