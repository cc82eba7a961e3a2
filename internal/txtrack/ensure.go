package txtrack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"dex-gocopy/internal/faults"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// Submitter sends (or re-sends) the underlying operation and returns the new
// transaction hash. attempt starts at 0.
type Submitter func(ctx context.Context, attempt int) (common.Hash, error)

type Policy struct {
	Confirmations uint64
	PollInterval  time.Duration
	MaxAttempts   int
	// MaxRetries bounds resubmissions after the first attempt.
	MaxRetries int
}

// EnsureSuccess submits, waits for confirmations and resubmits when the
// transaction reverted or was dropped. A wait that runs out of polls while
// the transaction is still pending is returned as is: resubmitting then
// could execute the operation twice.
func (t *Tracker) EnsureSuccess(ctx context.Context, submit Submitter, p Policy) (*Ready, error) {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}

	var w *watch
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			t.metrics.Resubmitted()
			t.log.WithError(lastErr).WithField("attempt", attempt).Warn("resubmitting")
		}

		hash, err := submit(ctx, attempt)
		if err != nil {
			if !faults.Retryable(err) {
				return nil, fmt.Errorf("submit attempt %d: %w", attempt, err)
			}
			lastErr = err
			continue
		}

		switch {
		case w == nil:
			w = newWatch(hash, t.log)
		case w.phase == PhaseReverted:
			if err := w.restart(hash); err != nil {
				return nil, err
			}
		default:
			w = newWatch(hash, t.log)
		}
		w.log = w.log.WithFields(logrus.Fields{"attempt": attempt})

		if err := t.await(ctx, w, p.Confirmations, p.PollInterval, p.MaxAttempts); err != nil {
			return nil, err
		}

		switch w.phase {
		case PhaseConfirmed:
			o := &Outcome{Hash: w.hash, Tx: w.tx, Receipt: w.receipt, Status: StatusSuccessful}
			return o.Ready()
		case PhaseExhausted:
			return nil, w.failure()
		default:
			lastErr = w.failure()
		}
	}
	return nil, faults.Wrap(faults.Exhaustion, "ensure success",
		fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, p.MaxRetries+1, lastErr))
}
