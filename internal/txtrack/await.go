package txtrack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"dex-gocopy/internal/chain"
	"dex-gocopy/internal/faults"
)

var (
	ErrReverted  = errors.New("transaction reverted")
	ErrNotFound  = errors.New("transaction not found")
	ErrExhausted = errors.New("confirmation budget exhausted")
)

// ConfirmationError reports how a confirmation wait ended when it did not
// confirm. It unwraps to ErrReverted, ErrNotFound or ErrExhausted.
type ConfirmationError struct {
	Hash     common.Hash
	Phase    Phase
	Attempts int
	// Receipt is set when a receipt was observed.
	Receipt *types.Receipt
	err     error
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("tx %s: %v (%s after %d polls)", e.Hash.Hex(), e.err, e.Phase, e.Attempts)
}

func (e *ConfirmationError) Unwrap() error { return e.err }

// watch is one run of the confirmation state machine.
type watch struct {
	hash     common.Hash
	phase    Phase
	tx       *chain.Tx
	receipt  *types.Receipt
	attempts int
	// notFound is set only when the latest poll got a definitive answer
	// that the node does not know the transaction.
	notFound bool
	log      logrus.FieldLogger
}

func newWatch(hash common.Hash, log logrus.FieldLogger) *watch {
	return &watch{hash: hash, phase: PhaseSubmitted, log: log.WithField("tx", hash.Hex())}
}

func (w *watch) fire(ev Event) error {
	next, err := w.phase.Next(ev)
	if err != nil {
		return err
	}
	if next != w.phase {
		w.log.WithFields(logrus.Fields{"from": w.phase.String(), "to": next.String(), "event": ev.String()}).
			Debug("confirmation phase changed")
	}
	w.phase = next
	return nil
}

// restart points the watch at a resubmitted transaction.
func (w *watch) restart(hash common.Hash) error {
	if err := w.fire(EventResubmitted); err != nil {
		return err
	}
	w.hash = hash
	w.tx = nil
	w.receipt = nil
	w.attempts = 0
	w.notFound = false
	w.log = w.log.WithField("tx", hash.Hex())
	return nil
}

func (w *watch) failure() error {
	ce := &ConfirmationError{Hash: w.hash, Phase: w.phase, Attempts: w.attempts, Receipt: w.receipt}
	switch {
	case w.phase == PhaseReverted && w.receipt != nil:
		ce.err = faults.Wrap(faults.Data, "await confirmations", ErrReverted)
	case w.phase == PhaseReverted:
		ce.err = faults.Wrap(faults.Data, "await confirmations", ErrNotFound)
	default:
		ce.err = faults.Wrap(faults.Exhaustion, "await confirmations", ErrExhausted)
	}
	return ce
}

// AwaitConfirmations polls hash until its receipt is buried under at least
// confirmations blocks, sleeping pollInterval between polls and giving up
// after maxAttempts polls.
//
// Confirmations are counted only once a receipt has been seen. If the
// receipt moves to another block or disappears, counting starts over.
func (t *Tracker) AwaitConfirmations(ctx context.Context, hash common.Hash, confirmations uint64, pollInterval time.Duration, maxAttempts int) (*types.Receipt, error) {
	if ready, depth, ok := t.cached(hash); ok && depth >= confirmations {
		return ready.receipt, nil
	}
	w := newWatch(hash, t.log)
	if err := t.await(ctx, w, confirmations, pollInterval, maxAttempts); err != nil {
		return nil, err
	}
	if w.phase != PhaseConfirmed {
		return nil, w.failure()
	}
	return w.receipt, nil
}

func (t *Tracker) await(ctx context.Context, w *watch, confirmations uint64, pollInterval time.Duration, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	defer func() { t.metrics.ObserveConfirmationAttempts(w.attempts) }()

	for w.attempts < maxAttempts {
		w.attempts++
		if err := t.poll(ctx, w, confirmations); err != nil {
			w.notFound = false
			if !faults.Retryable(err) {
				return err
			}
			w.log.WithError(err).WithField("attempt", w.attempts).Warn("confirmation poll failed")
		}
		if w.phase.Terminal() {
			return nil
		}
		if w.attempts < maxAttempts {
			if err := chain.SleepWithContext(ctx, pollInterval); err != nil {
				return err
			}
		}
	}

	// Dropped needs the node to have answered "unknown" on the last poll.
	if w.phase == PhaseSubmitted && w.tx == nil && w.notFound {
		return w.fire(EventDropped)
	}
	return w.fire(EventBudgetSpent)
}

func (t *Tracker) poll(ctx context.Context, w *watch, confirmations uint64) error {
	o := NewOutcome(w.hash)
	if err := t.Update(ctx, o); err != nil {
		return err
	}
	if o.Tx != nil {
		w.tx = o.Tx
	}
	w.notFound = o.Status == StatusNotFound

	if o.Receipt == nil {
		if w.phase == PhaseAwaitingConfirmations {
			w.log.WithField("status", o.Status.String()).Warn("receipt disappeared, chain reorganized")
			w.receipt = nil
			return w.fire(EventReorged)
		}
		if o.Status == StatusNotFound {
			return w.fire(EventNotFound)
		}
		return w.fire(EventPending)
	}

	if w.phase == PhaseAwaitingConfirmations && w.receipt.BlockHash != o.Receipt.BlockHash {
		w.log.WithFields(logrus.Fields{
			"old_block": receiptBlock(w.receipt),
			"new_block": receiptBlock(o.Receipt),
		}).Warn("receipt moved to another block, recounting confirmations")
		if err := w.fire(EventReorged); err != nil {
			return err
		}
	}
	if w.phase == PhaseSubmitted {
		if err := w.fire(EventReceiptSeen); err != nil {
			return err
		}
	}
	w.receipt = o.Receipt

	head, err := t.head(ctx)
	if err != nil {
		return err
	}
	mined := receiptBlock(o.Receipt)
	if head < mined || head-mined < confirmations {
		return w.fire(EventWaiting)
	}

	if o.Status != StatusSuccessful {
		return w.fire(EventRevertConfirmed)
	}
	if err := w.fire(EventConfirmed); err != nil {
		return err
	}
	if ready, err := o.Ready(); err == nil {
		t.remember(ready, confirmations)
	}
	return nil
}
