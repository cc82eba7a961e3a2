// Package swapparse reconstructs the swaps a router transaction performed
// from its calldata and the Transfer logs of its receipt.
package swapparse

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"dex-gocopy/internal/chain"
	"dex-gocopy/internal/faults"
	"dex-gocopy/internal/logging"
	"dex-gocopy/internal/observability"
	"dex-gocopy/internal/swappath"
	"dex-gocopy/internal/txtrack"
)

var (
	ErrNoSwapFound       = errors.New("no swap found")
	ErrMalformedCalldata = errors.New("malformed calldata")
	ErrTransferNotFound  = errors.New("transfer log not found")
)

type Config struct {
	// Router, when set, is the only contract whose transactions are parsed.
	Router common.Address
	// WrappedNative is the chain's wrapped native token (WETH, WMATIC, ...).
	WrappedNative common.Address
	Logger        logrus.FieldLogger
	Metrics       *observability.Metrics
}

// Parser is immutable after construction and safe to share.
type Parser struct {
	abi           abi.ABI
	router        common.Address
	wrappedNative common.Address
	log           logrus.FieldLogger
	metrics       *observability.Metrics
}

// NewParser parses the router ABI once. A zero Router accepts calls to any
// address; WrappedNative is needed only for calls that pay with native value.
func NewParser(cfg Config) (*Parser, error) {
	parsed, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	return &Parser{
		abi:           parsed,
		router:        cfg.Router,
		wrappedNative: cfg.WrappedNative,
		log:           logging.OrStandard(cfg.Logger),
		metrics:       cfg.Metrics,
	}, nil
}

// leg is a swap decoded from calldata. Exactly one amount is known at this
// point, or neither when the router spends its whole balance.
type leg struct {
	method    Method
	route     swappath.Route
	tokenIn   common.Address
	tokenOut  common.Address
	recipient common.Address
	amountIn  *big.Int
	amountOut *big.Int
}

// Parse decodes the swaps of a confirmed transaction.
func (p *Parser) Parse(ready *txtrack.Ready) (*Result, error) {
	return p.ParseTx(ready.Tx(), ready.Receipt())
}

// ParseTx is Parse over a transaction and its receipt fetched elsewhere.
func (p *Parser) ParseTx(tx chain.Tx, receipt *types.Receipt) (*Result, error) {
	res, err := p.parse(tx, receipt)
	if err != nil {
		p.metrics.ParseFailed(failureReason(err))
		return nil, err
	}
	for _, s := range res.Swaps {
		p.metrics.SwapParsed(s.Method.String())
	}
	return res, nil
}

func (p *Parser) parse(tx chain.Tx, receipt *types.Receipt) (*Result, error) {
	if tx.To == nil {
		return nil, dataFault(ErrNoSwapFound, "contract creation")
	}
	router := *tx.To
	if p.router != (common.Address{}) && router != p.router {
		return nil, dataFault(ErrNoSwapFound, "sent to %s, not the router", router.Hex())
	}
	if receipt == nil {
		return nil, faults.New(faults.Internal, "parse swaps", "receipt required")
	}

	legs, err := p.decodeCalls(tx.Input)
	if err != nil {
		return nil, err
	}
	if len(legs) == 0 {
		return nil, dataFault(ErrNoSwapFound, "no swap calls in calldata")
	}

	swaps, err := p.resolve(legs, tx, router, newTransferLedger(receipt.Logs))
	if err != nil {
		return nil, err
	}
	return &Result{
		Hash:     tx.Hash,
		Caller:   tx.From,
		Router:   router,
		TokenIn:  swaps[0].TokenIn,
		TokenOut: swaps[len(swaps)-1].TokenOut,
		Swaps:    swaps,
	}, nil
}

// decodeCalls returns the swap legs of input in calldata order. A multicall
// is opened one level deep; anything inside it that is not a swap is skipped.
func (p *Parser) decodeCalls(input []byte) ([]leg, error) {
	method, m, ok := p.lookup(input)
	if !ok || !(m.IsSwap() || m == MethodMulticall) {
		return nil, dataFault(ErrNoSwapFound, "selector %s is not a swap", selectorHex(input))
	}

	if m != MethodMulticall {
		l, err := p.decodeLeg(method, m, input[4:])
		if err != nil {
			return nil, err
		}
		return []leg{l}, nil
	}

	var args multicallArgs
	if err := unpackArgs(method.Inputs, &args, input[4:]); err != nil {
		return nil, dataFault(ErrMalformedCalldata, "%s: %v", method.Sig, err)
	}
	legs := make([]leg, 0, len(args.Data))
	for i, inner := range args.Data {
		innerMethod, im, ok := p.lookup(inner)
		if !ok || !im.IsSwap() {
			p.log.WithFields(logrus.Fields{"index": i, "selector": selectorHex(inner), "method": methodName(innerMethod)}).
				Debug("skipping non-swap call in multicall")
			continue
		}
		l, err := p.decodeLeg(innerMethod, im, inner[4:])
		if err != nil {
			return nil, fmt.Errorf("multicall item %d: %w", i, err)
		}
		legs = append(legs, l)
	}
	return legs, nil
}

func (p *Parser) lookup(input []byte) (*abi.Method, Method, bool) {
	if len(input) < 4 {
		return nil, MethodUnknown, false
	}
	method, err := p.abi.MethodById(input[:4])
	if err != nil {
		return nil, MethodUnknown, false
	}
	m, ok := MethodFromName(method.RawName)
	return method, m, ok
}

func (p *Parser) decodeLeg(method *abi.Method, m Method, data []byte) (leg, error) {
	malformed := func(err error) (leg, error) {
		return leg{}, dataFault(ErrMalformedCalldata, "%s: %v", method.Sig, err)
	}

	switch m {
	case MethodSwapExactTokensForTokens:
		var args swapExactTokensForTokensArgs
		if err := unpackArgs(method.Inputs, &args, data); err != nil {
			return malformed(err)
		}
		return v2Leg(m, args.Path, args.To, balanceOrAmount(args.AmountIn), nil)

	case MethodSwapTokensForExactTokens:
		var args swapTokensForExactTokensArgs
		if err := unpackArgs(method.Inputs, &args, data); err != nil {
			return malformed(err)
		}
		return v2Leg(m, args.Path, args.To, nil, args.AmountOut)

	case MethodExactInputSingle:
		var args struct{ Params exactInputSingleParams }
		if err := unpackArgs(method.Inputs, &args, data); err != nil {
			return malformed(err)
		}
		prm := args.Params
		return v3SingleLeg(m, prm.TokenIn, prm.TokenOut, prm.Fee, prm.Recipient, balanceOrAmount(prm.AmountIn), nil)

	case MethodExactOutputSingle:
		var args struct{ Params exactOutputSingleParams }
		if err := unpackArgs(method.Inputs, &args, data); err != nil {
			return malformed(err)
		}
		prm := args.Params
		return v3SingleLeg(m, prm.TokenIn, prm.TokenOut, prm.Fee, prm.Recipient, nil, prm.AmountOut)

	case MethodExactInput:
		var args struct{ Params exactInputParams }
		if err := unpackArgs(method.Inputs, &args, data); err != nil {
			return malformed(err)
		}
		route, err := swappath.UnpackPath(args.Params.Path)
		if err != nil {
			return malformed(err)
		}
		return multiHopLeg(m, route, args.Params.Recipient, balanceOrAmount(args.Params.AmountIn), nil), nil

	case MethodExactOutput:
		var args struct{ Params exactOutputParams }
		if err := unpackArgs(method.Inputs, &args, data); err != nil {
			return malformed(err)
		}
		route, err := swappath.UnpackPath(args.Params.Path)
		if err != nil {
			return malformed(err)
		}
		// Exact-output paths are written output-first.
		return multiHopLeg(m, swappath.Invert(route), args.Params.Recipient, nil, args.Params.AmountOut), nil
	}
	return leg{}, dataFault(ErrNoSwapFound, "%s is not a swap", m)
}

func v2Leg(m Method, path []common.Address, to common.Address, amountIn, amountOut *big.Int) (leg, error) {
	route := swappath.SinglePoolV2{Path: path}
	if err := route.Validate(); err != nil {
		return leg{}, dataFault(ErrMalformedCalldata, "%s: %v", m, err)
	}
	return leg{
		method:    m,
		route:     route,
		tokenIn:   route.Input(),
		tokenOut:  route.Output(),
		recipient: to,
		amountIn:  amountIn,
		amountOut: amountOut,
	}, nil
}

func v3SingleLeg(m Method, tokenIn, tokenOut common.Address, fee *big.Int, recipient common.Address, amountIn, amountOut *big.Int) (leg, error) {
	if fee == nil || !fee.IsUint64() || fee.Uint64() > uint64(swappath.MaxFee) {
		return leg{}, dataFault(ErrMalformedCalldata, "%s: fee %v out of range", m, fee)
	}
	return leg{
		method:    m,
		route:     swappath.SinglePoolV3{In: tokenIn, Out: tokenOut, Fee: uint32(fee.Uint64())},
		tokenIn:   tokenIn,
		tokenOut:  tokenOut,
		recipient: recipient,
		amountIn:  amountIn,
		amountOut: amountOut,
	}, nil
}

func multiHopLeg(m Method, route swappath.MultiHopV3, recipient common.Address, amountIn, amountOut *big.Int) leg {
	return leg{
		method:    m,
		route:     route,
		tokenIn:   route.Input(),
		tokenOut:  route.Output(),
		recipient: recipient,
		amountIn:  amountIn,
		amountOut: amountOut,
	}
}

// balanceOrAmount treats a zero exact-input amount as the router's
// "spend my whole balance" marker: the real amount is only in the logs.
func balanceOrAmount(amountIn *big.Int) *big.Int {
	if amountIn == nil || amountIn.Sign() == 0 {
		return nil
	}
	return amountIn
}

func dataFault(sentinel error, format string, args ...any) error {
	return faults.Wrap(faults.Data, "parse swaps", fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNoSwapFound):
		return "no_swap"
	case errors.Is(err, ErrMalformedCalldata):
		return "malformed"
	case errors.Is(err, ErrTransferNotFound):
		return "transfer_not_found"
	default:
		return "other"
	}
}

func selectorHex(input []byte) string {
	if len(input) < 4 {
		return "0x" + hex.EncodeToString(input)
	}
	return "0x" + hex.EncodeToString(input[:4])
}

func methodName(m *abi.Method) string {
	if m == nil {
		return "unknown"
	}
	return m.RawName
}
