// Package watch follows donor wallets block by block and reports the swaps
// they make through the router.
package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"dex-gocopy/internal/audit"
	"dex-gocopy/internal/chain"
	"dex-gocopy/internal/ethutil"
	"dex-gocopy/internal/faults"
	"dex-gocopy/internal/logging"
	"dex-gocopy/internal/observability"
	"dex-gocopy/internal/state"
	"dex-gocopy/internal/swapparse"
	"dex-gocopy/internal/txtrack"
)

// Chain is what the watcher reads: transactions, receipts and block bodies.
type Chain interface {
	chain.Client
	chain.BlockReader
}

// Handler receives each confirmed donor swap once per successful block
// pass. A handler error stops the pass; the block is scanned again on the
// next poll.
type Handler func(ctx context.Context, res *swapparse.Result) error

type Config struct {
	ChainID       uint64
	Router        common.Address
	Donors        []common.Address
	Confirmations uint64
	// StartBlock is the first block scanned when no usable checkpoint
	// exists; zero starts at the confirmed head.
	StartBlock     uint64
	CheckpointFile string
	Interval       time.Duration
	// MaxBlocksPerPoll bounds one Poll; zero means unbounded.
	MaxBlocksPerPoll uint64
	// AwaitAttempts bounds the confirmation check of each donor tx.
	AwaitAttempts int
}

type Watcher struct {
	cfg     Config
	client  Chain
	tracker *txtrack.Tracker
	parser  *swapparse.Parser
	handle  Handler
	audit   *audit.Writer
	log     logrus.FieldLogger
	metrics *observability.Metrics
	heads   <-chan uint64

	donors  map[common.Address]struct{}
	ckpt    state.Checkpoint
	cursor  uint64
	started bool
}

type Option func(*Watcher)

func WithLogger(l logrus.FieldLogger) Option { return func(w *Watcher) { w.log = l } }

func WithMetrics(m *observability.Metrics) Option { return func(w *Watcher) { w.metrics = m } }

// WithAudit appends every reported swap to a.
func WithAudit(a *audit.Writer) Option { return func(w *Watcher) { w.audit = a } }

// WithHeads polls as soon as a new head arrives instead of waiting for the
// next interval tick.
func WithHeads(ch <-chan uint64) Option { return func(w *Watcher) { w.heads = ch } }

func New(cfg Config, client Chain, tracker *txtrack.Tracker, parser *swapparse.Parser, handle Handler, opts ...Option) (*Watcher, error) {
	if len(cfg.Donors) == 0 {
		return nil, errors.New("watch: no donor addresses")
	}
	if cfg.Router == (common.Address{}) {
		return nil, errors.New("watch: router address required")
	}
	if client == nil || tracker == nil || parser == nil || handle == nil {
		return nil, errors.New("watch: client, tracker, parser and handler are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 4 * time.Second
	}
	if cfg.AwaitAttempts <= 0 {
		cfg.AwaitAttempts = 3
	}
	w := &Watcher{
		cfg:     cfg,
		client:  client,
		tracker: tracker,
		parser:  parser,
		handle:  handle,
		donors:  ethutil.AddressSet(cfg.Donors),
	}
	for _, o := range opts {
		o(w)
	}
	w.log = logging.OrStandard(w.log).WithField("chain_id", cfg.ChainID)
	return w, nil
}

// Cursor is the last fully processed block.
func (w *Watcher) Cursor() uint64 { return w.cursor }

func (w *Watcher) confirmedHead(ctx context.Context) (uint64, error) {
	head, err := w.client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if head < w.cfg.Confirmations {
		return 0, nil
	}
	return head - w.cfg.Confirmations, nil
}

// start picks the resume point: a compatible checkpoint, then StartBlock,
// then the confirmed head.
func (w *Watcher) start(ctx context.Context) error {
	ready, err := w.confirmedHead(ctx)
	if err != nil {
		return err
	}
	want := state.NewCheckpoint(w.cfg.ChainID, w.cfg.Router, w.cfg.Donors)
	ckpt, ok, err := state.Load(w.cfg.CheckpointFile)
	if err != nil {
		return err
	}

	switch {
	case ok && !ckpt.Compatible(want):
		w.log.WithField("file", w.cfg.CheckpointFile).Warn("checkpoint is for another chain, router or donor set; ignoring it")
		ok = false
	case ok && ckpt.LastProcessedBlock > ready:
		w.log.WithFields(logrus.Fields{"block": ckpt.LastProcessedBlock, "head": ready}).
			Warn("checkpoint is ahead of the confirmed head; ignoring it")
		ok = false
	}

	switch {
	case ok:
		w.cursor = ckpt.LastProcessedBlock
	case w.cfg.StartBlock > 0:
		w.cursor = w.cfg.StartBlock - 1
	default:
		w.cursor = ready
	}
	w.ckpt = want
	w.ckpt.LastProcessedBlock = w.cursor
	w.started = true
	w.log.WithFields(logrus.Fields{"cursor": w.cursor, "head": ready, "resumed": ok}).Info("watcher starting")
	return nil
}

// Poll scans every newly confirmed block once and returns how many blocks
// it completed.
func (w *Watcher) Poll(ctx context.Context) (int, error) {
	if !w.started {
		if err := w.start(ctx); err != nil {
			return 0, err
		}
	}
	ready, err := w.confirmedHead(ctx)
	if err != nil {
		return 0, err
	}

	done := 0
	for b := w.cursor + 1; b <= ready; b++ {
		if w.cfg.MaxBlocksPerPoll > 0 && uint64(done) >= w.cfg.MaxBlocksPerPoll {
			break
		}
		if err := w.scanBlock(ctx, b); err != nil {
			return done, fmt.Errorf("block %d: %w", b, err)
		}
		w.cursor = b
		w.ckpt.LastProcessedBlock = b
		if err := state.Save(w.cfg.CheckpointFile, w.ckpt); err != nil {
			return done, fmt.Errorf("save checkpoint: %w", err)
		}
		w.metrics.BlockProcessed(b)
		done++
	}
	return done, nil
}

func (w *Watcher) scanBlock(ctx context.Context, number uint64) error {
	txs, err := w.client.BlockTransactions(ctx, number)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if tx == nil || tx.To == nil || *tx.To != w.cfg.Router {
			continue
		}
		if _, ok := w.donors[tx.From]; !ok {
			continue
		}
		if err := w.processTx(ctx, tx.Hash); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) processTx(ctx context.Context, hash common.Hash) error {
	log := w.log.WithField("tx", hash.Hex())

	_, err := w.tracker.AwaitConfirmations(ctx, hash, w.cfg.Confirmations, w.cfg.Interval, w.cfg.AwaitAttempts)
	switch {
	case errors.Is(err, txtrack.ErrReverted):
		log.Info("donor tx reverted, skipping")
		return nil
	case errors.Is(err, txtrack.ErrNotFound):
		log.Warn("donor tx vanished from its block, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	outcome, err := w.tracker.Track(ctx, hash)
	if err != nil {
		return err
	}
	ready, err := outcome.Ready()
	if err != nil {
		return faults.Wrap(faults.Data, "watch", err)
	}

	res, err := w.parser.Parse(ready)
	if faults.Is(err, faults.Data) {
		log.WithError(err).Warn("donor tx is not a parseable swap, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"donor":     res.Caller.Hex(),
		"token_in":  res.TokenIn.Hex(),
		"token_out": res.TokenOut.Hex(),
		"swaps":     len(res.Swaps),
	}).Info("donor swap")
	if _, err := w.audit.Write(audit.KindSwap, res); err != nil {
		log.WithError(err).Warn("audit write failed")
	}
	return w.handle(ctx, res)
}

// Run polls until ctx ends. Provider faults and spent confirmation budgets
// are logged and retried on the next tick; any other error stops the
// watcher.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		n, err := w.Poll(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil && (faults.Retryable(err) || faults.Is(err, faults.Exhaustion)):
			w.log.WithError(err).Warn("poll failed, retrying")
		case err != nil:
			return err
		case n > 0:
			w.log.WithFields(logrus.Fields{"blocks": n, "cursor": w.cursor}).Debug("poll done")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case _, ok := <-w.heads:
			if !ok {
				w.heads = nil
			}
		}
	}
}
