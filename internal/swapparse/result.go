package swapparse

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dex-gocopy/internal/swappath"
)

// Swap is one fully resolved swap: both amounts come from calldata or from
// the receipt's Transfer logs, never from estimates.
type Swap struct {
	Method    Method         `json:"method"`
	Version   Version        `json:"version"`
	Recipient common.Address `json:"recipient"`
	TokenIn   common.Address `json:"token_in"`
	TokenOut  common.Address `json:"token_out"`
	AmountIn  *big.Int       `json:"amount_in"`
	AmountOut *big.Int       `json:"amount_out"`
	Route     swappath.Route `json:"route"`
}

// Result lists a transaction's swaps in calldata order.
type Result struct {
	Hash     common.Hash    `json:"hash"`
	Caller   common.Address `json:"caller"`
	Router   common.Address `json:"router"`
	TokenIn  common.Address `json:"token_in"`
	TokenOut common.Address `json:"token_out"`
	Swaps    []Swap         `json:"swaps"`
}

// Route joins the swaps into one multi-hop route when they are all
// concentrated-liquidity legs that connect; a lone swap returns its own route.
func (r *Result) Route() (swappath.Route, error) {
	if len(r.Swaps) == 1 {
		return r.Swaps[0].Route, nil
	}
	routes := make([]swappath.Route, len(r.Swaps))
	for i, s := range r.Swaps {
		routes[i] = s.Route
	}
	return swappath.Chain(routes...)
}
