package swappath

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Form names how a persisted route is written down.
type Form string

const (
	FormJSON Form = "json"
	FormHex  Form = "hex"
	// FormTx stores a transaction hash; the route is re-derived by parsing it.
	FormTx Form = "tx"
)

var ErrNoResolver = errors.New("route stored as a transaction reference but no resolver was given")

type Stored struct {
	Form      Form   `json:"form"`
	Value     string `json:"value"`
	SwapIndex int    `json:"swap_index,omitempty"`
}

// TxRouteResolver re-derives a route from the swapIndex-th swap of a
// confirmed transaction.
type TxRouteResolver interface {
	RouteFromTx(ctx context.Context, hash common.Hash, swapIndex int) (Route, error)
}

// Store renders r in a self-contained form (json or hex).
func Store(r Route, form Form) (Stored, error) {
	switch form {
	case FormJSON:
		b, err := MarshalRoute(r)
		if err != nil {
			return Stored{}, err
		}
		return Stored{Form: FormJSON, Value: string(b)}, nil
	case FormHex:
		s, err := EncodeHex(r)
		if err != nil {
			return Stored{}, err
		}
		return Stored{Form: FormHex, Value: s}, nil
	default:
		return Stored{}, fmt.Errorf("cannot store a route as %q", form)
	}
}

// StoreTx references the swapIndex-th swap of a transaction.
func StoreTx(hash common.Hash, swapIndex int) Stored {
	return Stored{Form: FormTx, Value: hash.Hex(), SwapIndex: swapIndex}
}

func Load(ctx context.Context, s Stored, resolver TxRouteResolver) (Route, error) {
	switch s.Form {
	case FormJSON:
		return UnmarshalRoute([]byte(s.Value))
	case FormHex:
		return DecodeHex(s.Value)
	case FormTx:
		hash, err := parseTxHash(s.Value)
		if err != nil {
			return nil, err
		}
		if resolver == nil {
			return nil, ErrNoResolver
		}
		if s.SwapIndex < 0 {
			return nil, fmt.Errorf("negative swap index %d", s.SwapIndex)
		}
		r, err := resolver.RouteFromTx(ctx, hash, s.SwapIndex)
		if err != nil {
			return nil, fmt.Errorf("resolve route from %s: %w", hash.Hex(), err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown stored route form %q", s.Form)
	}
}

func parseTxHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q: %w", s, err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q: %d bytes", s, len(b))
	}
	return common.BytesToHash(b), nil
}
