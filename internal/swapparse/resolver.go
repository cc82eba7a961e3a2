package swapparse

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dex-gocopy/internal/faults"
	"dex-gocopy/internal/swappath"
	"dex-gocopy/internal/txtrack"
)

// RouteResolver re-derives routes stored as transaction references by
// fetching the transaction and parsing its swaps. With Confirmations set,
// the receipt must first be buried that deep.
type RouteResolver struct {
	Tracker       *txtrack.Tracker
	Parser        *Parser
	Confirmations uint64
	PollInterval  time.Duration
	MaxAttempts   int
}

var _ swappath.TxRouteResolver = (*RouteResolver)(nil)

// RouteFromTx returns the route of the swapIndex-th swap in hash.
func (r *RouteResolver) RouteFromTx(ctx context.Context, hash common.Hash, swapIndex int) (swappath.Route, error) {
	if r.Confirmations > 0 {
		if _, err := r.Tracker.AwaitConfirmations(ctx, hash, r.Confirmations, r.PollInterval, r.MaxAttempts); err != nil {
			return nil, err
		}
	}
	outcome, err := r.Tracker.Track(ctx, hash)
	if err != nil {
		return nil, err
	}
	ready, err := outcome.Ready()
	if err != nil {
		return nil, faults.Wrap(faults.Data, "route from tx", err)
	}
	res, err := r.Parser.Parse(ready)
	if err != nil {
		return nil, err
	}
	if swapIndex >= len(res.Swaps) {
		return nil, faults.Wrap(faults.Data, "route from tx",
			fmt.Errorf("swap index %d out of range: tx has %d swaps", swapIndex, len(res.Swaps)))
	}
	return res.Swaps[swapIndex].Route, nil
}
