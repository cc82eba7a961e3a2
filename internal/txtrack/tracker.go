package txtrack

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"dex-gocopy/internal/chain"
	"dex-gocopy/internal/faults"
	"dex-gocopy/internal/logging"
	"dex-gocopy/internal/observability"
)

// Tracker is safe for concurrent use; it holds no per-hash state outside
// the optional cache.
type Tracker struct {
	client         chain.Client
	cache          OutcomeCache
	log            logrus.FieldLogger
	metrics        *observability.Metrics
	readRetries    int
	readRetryDelay time.Duration
}

type Option func(*Tracker)

// WithCache remembers confirmed outcomes so repeated tracking of a settled
// hash needs no RPC.
func WithCache(c OutcomeCache) Option {
	return func(t *Tracker) { t.cache = c }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(t *Tracker) { t.log = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithReadRetries retries provider faults on read-only calls, backing off
// from delay.
func WithReadRetries(n int, delay time.Duration) Option {
	return func(t *Tracker) {
		t.readRetries = n
		t.readRetryDelay = delay
	}
}

// New returns a tracker reading from client. Without WithCache every call
// goes to the chain.
func New(client chain.Client, opts ...Option) *Tracker {
	t := &Tracker{
		client:         client,
		readRetries:    2,
		readRetryDelay: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = logging.OrStandard(t.log)
	if t.readRetries < 0 {
		t.readRetries = 0
	}
	return t
}

// Track fetches the current outcome of hash.
func (t *Tracker) Track(ctx context.Context, hash common.Hash) (*Outcome, error) {
	if ready, _, ok := t.cached(hash); ok {
		tx := ready.Tx()
		return &Outcome{Hash: hash, Tx: &tx, Receipt: ready.receipt, Status: StatusSuccessful}, nil
	}
	o := NewOutcome(hash)
	if err := t.Update(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Update refreshes o in place from the chain.
func (t *Tracker) Update(ctx context.Context, o *Outcome) error {
	tx, err := retryRead(ctx, t, "eth_getTransactionByHash", func() (*chain.Tx, error) {
		return t.client.TransactionByHash(ctx, o.Hash)
	})
	if err != nil {
		return err
	}

	switch {
	case tx == nil:
		o.Tx, o.Receipt, o.Status = nil, nil, StatusNotFound
	case tx.Pending:
		o.Tx, o.Receipt, o.Status = tx, nil, StatusPending
	default:
		receipt, err := retryRead(ctx, t, "eth_getTransactionReceipt", func() (*types.Receipt, error) {
			return t.client.TransactionReceipt(ctx, o.Hash)
		})
		if err != nil {
			return err
		}
		o.Tx, o.Receipt = tx, receipt
		switch {
		case receipt == nil:
			o.Status = StatusPending
		case receipt.Status == types.ReceiptStatusSuccessful:
			o.Status = StatusSuccessful
		default:
			o.Status = StatusReverted
		}
	}
	t.metrics.TrackPoll(o.Status.String())
	return nil
}

func (t *Tracker) head(ctx context.Context) (uint64, error) {
	return retryRead(ctx, t, "eth_blockNumber", func() (uint64, error) {
		return t.client.BlockNumber(ctx)
	})
}

func (t *Tracker) cached(hash common.Hash) (*Ready, uint64, bool) {
	if t.cache == nil {
		return nil, 0, false
	}
	ready, depth, ok, err := t.cache.Get(hash)
	if err != nil {
		t.log.WithError(err).WithField("tx", hash.Hex()).Warn("outcome cache read failed")
		return nil, 0, false
	}
	return ready, depth, ok
}

func (t *Tracker) remember(ready *Ready, confirmations uint64) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Put(ready, confirmations); err != nil {
		t.log.WithError(err).WithField("tx", ready.hash.Hex()).Warn("outcome cache write failed")
	}
}

func retryRead[T any](ctx context.Context, t *Tracker, op string, fn func() (T, error)) (T, error) {
	delay := t.readRetryDelay
	for attempt := 0; ; attempt++ {
		v, err := fn()
		if err == nil || !faults.Retryable(err) || attempt >= t.readRetries {
			return v, err
		}
		wait := chain.Jitter(delay)
		t.log.WithError(err).WithFields(logrus.Fields{"op": op, "attempt": attempt + 1}).
			Debugf("read failed, retrying in %s", wait)
		if err := chain.SleepWithContext(ctx, wait); err != nil {
			var zero T
			return zero, err
		}
		delay *= 2
	}
}
