package swapparse

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dex-gocopy/internal/chain"
)

// resolve fills in the amounts calldata left open, walking legs in calldata
// order so each leg claims its own Transfer logs.
func (p *Parser) resolve(legs []leg, tx chain.Tx, router common.Address, ledger *transferLedger) ([]Swap, error) {
	swaps := make([]Swap, 0, len(legs))
	var prevRecipient common.Address
	var prevOut common.Address

	for i, l := range legs {
		recipient := resolveRecipient(l.recipient, tx.From, router)
		sender := tx.From
		switch {
		case p.paysNative(tx, l):
			sender = router
		case i > 0 && prevRecipient == router && prevOut == l.tokenIn:
			sender = router
		case l.method.ExactIn() && l.amountIn == nil:
			sender = router
		}

		amountIn, amountOut := l.amountIn, l.amountOut
		if amountIn == nil {
			v, ok := ledger.paid(l.tokenIn, sender)
			if !ok {
				return nil, missingTransfer(i, l.tokenIn, "from", sender)
			}
			amountIn = v
		} else {
			ledger.paid(l.tokenIn, sender)
		}
		if amountOut == nil {
			v, ok := ledger.received(l.tokenOut, recipient)
			if !ok {
				return nil, missingTransfer(i, l.tokenOut, "to", recipient)
			}
			amountOut = v
		} else {
			ledger.received(l.tokenOut, recipient)
		}

		swaps = append(swaps, Swap{
			Method:    l.method,
			Version:   l.method.Version(),
			Recipient: recipient,
			TokenIn:   l.tokenIn,
			TokenOut:  l.tokenOut,
			AmountIn:  new(big.Int).Set(amountIn),
			AmountOut: new(big.Int).Set(amountOut),
			Route:     l.route,
		})
		prevRecipient, prevOut = recipient, l.tokenOut
	}
	return swaps, nil
}

// paysNative reports whether the router wrapped the transaction's value to
// pay for this leg.
func (p *Parser) paysNative(tx chain.Tx, l leg) bool {
	if p.wrappedNative == (common.Address{}) || tx.Value == nil || tx.Value.Sign() <= 0 {
		return false
	}
	return l.tokenIn == p.wrappedNative
}

func missingTransfer(index int, token common.Address, dir string, who common.Address) error {
	return dataFault(ErrTransferNotFound, "swap %d: no transfer of %s %s %s", index, token.Hex(), dir, who.Hex())
}
