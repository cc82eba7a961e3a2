// Package copyplan computes the trades that bring a follower portfolio's
// value shares in line with a donor's.
package copyplan

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Balances are raw token amounts in base units.
type Balances map[common.Address]*big.Int

// Prices are USD prices per whole token.
type Prices map[common.Address]decimal.Decimal

// Decimals are ERC-20 decimals per token.
type Decimals map[common.Address]uint8

// Entry is one trade: sell AmountIn of TokenIn for about AmountOut of
// TokenOut. AmountOut assumes spot-price execution; it is an estimate, not a
// minimum.
type Entry struct {
	TokenIn   common.Address  `json:"token_in"`
	TokenOut  common.Address  `json:"token_out"`
	AmountIn  *big.Int        `json:"amount_in"`
	AmountOut *big.Int        `json:"amount_out"`
	Ratio     decimal.Decimal `json:"ratio"`
}

// Plan is the ordered list of trades that moves a follower toward the donor's
// allocation. Values are the USD totals at the prices the plan was built on.
type Plan struct {
	ID            string          `json:"id"`
	DonorValue    decimal.Decimal `json:"donor_value"`
	FollowerValue decimal.Decimal `json:"follower_value"`
	Entries       []Entry         `json:"entries"`
}

func (p *Plan) Empty() bool { return p == nil || len(p.Entries) == 0 }

// Apply returns the follower balances the plan would leave behind if every
// entry executed at its estimated amounts. The input map is not modified.
func Apply(follower Balances, plan *Plan) (Balances, error) {
	out := make(Balances, len(follower))
	for token, amount := range follower {
		out[token] = new(big.Int).Set(amount)
	}
	if plan == nil {
		return out, nil
	}
	for i, e := range plan.Entries {
		have := out[e.TokenIn]
		if have == nil || have.Cmp(e.AmountIn) < 0 {
			return nil, fmt.Errorf("entry %d: %s balance %v below amount in %v", i, e.TokenIn.Hex(), have, e.AmountIn)
		}
		have.Sub(have, e.AmountIn)
		if out[e.TokenOut] == nil {
			out[e.TokenOut] = new(big.Int)
		}
		out[e.TokenOut].Add(out[e.TokenOut], e.AmountOut)
	}
	return out, nil
}
