// Package swappath models swap routes and their byte encodings.
//
// The exchange-native packed path (PackPath/UnpackPath) is the format
// Uniswap-V3 style routers take in exactInput/exactOutput calldata. Encode
// and Decode wrap it in a one-byte tag so every Route kind round-trips.
package swappath

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type Kind string

const (
	KindSinglePoolV2 Kind = "single_pool_v2"
	KindSinglePoolV3 Kind = "single_pool_v3"
	KindMultiHopV3   Kind = "multi_hop_v3"
)

// MaxFee is the largest fee that fits the 3-byte packed field.
const MaxFee uint32 = 1<<24 - 1

// Route is one of SinglePoolV2, SinglePoolV3 or MultiHopV3.
type Route interface {
	Kind() Kind
	Input() common.Address
	Output() common.Address
	Validate() error
	isRoute()
}

// SinglePoolV2 is a constant-product route through consecutive pairs.
type SinglePoolV2 struct {
	Path []common.Address
}

type SinglePoolV3 struct {
	In  common.Address
	Out common.Address
	Fee uint32
}

// Hop is one concentrated-liquidity pool on a multi-hop route.
type Hop struct {
	First  common.Address
	Fee    uint32
	Second common.Address
}

// MultiHopV3 hops must chain: each hop starts where the previous one ended.
type MultiHopV3 struct {
	Hops []Hop
}

func (SinglePoolV2) isRoute() {}
func (SinglePoolV3) isRoute() {}
func (MultiHopV3) isRoute()   {}

func (SinglePoolV2) Kind() Kind { return KindSinglePoolV2 }
func (SinglePoolV3) Kind() Kind { return KindSinglePoolV3 }
func (MultiHopV3) Kind() Kind   { return KindMultiHopV3 }

func (r SinglePoolV2) Input() common.Address {
	if len(r.Path) == 0 {
		return common.Address{}
	}
	return r.Path[0]
}

func (r SinglePoolV2) Output() common.Address {
	if len(r.Path) == 0 {
		return common.Address{}
	}
	return r.Path[len(r.Path)-1]
}

func (r SinglePoolV3) Input() common.Address  { return r.In }
func (r SinglePoolV3) Output() common.Address { return r.Out }

func (r MultiHopV3) Input() common.Address {
	if len(r.Hops) == 0 {
		return common.Address{}
	}
	return r.Hops[0].First
}

func (r MultiHopV3) Output() common.Address {
	if len(r.Hops) == 0 {
		return common.Address{}
	}
	return r.Hops[len(r.Hops)-1].Second
}

func (r SinglePoolV2) Validate() error {
	if len(r.Path) < 2 {
		return fmt.Errorf("%w: v2 path needs at least 2 tokens, got %d", ErrInvalidRoute, len(r.Path))
	}
	return nil
}

func (r SinglePoolV3) Validate() error {
	if r.Fee > MaxFee {
		return fmt.Errorf("%w: fee %d exceeds %d", ErrInvalidRoute, r.Fee, MaxFee)
	}
	return nil
}

func (r MultiHopV3) Validate() error {
	if len(r.Hops) == 0 {
		return fmt.Errorf("%w: multi-hop route has no hops", ErrInvalidRoute)
	}
	for i, h := range r.Hops {
		if h.Fee > MaxFee {
			return fmt.Errorf("%w: hop %d fee %d exceeds %d", ErrInvalidRoute, i, h.Fee, MaxFee)
		}
		if i > 0 && r.Hops[i-1].Second != h.First {
			return fmt.Errorf("%w: hop %d starts at %s, previous hop ended at %s",
				ErrInvalidRoute, i, h.First.Hex(), r.Hops[i-1].Second.Hex())
		}
	}
	return nil
}

// Tokens lists every token the route touches, input first.
func Tokens(r Route) []common.Address {
	switch r := r.(type) {
	case SinglePoolV2:
		return append([]common.Address(nil), r.Path...)
	case SinglePoolV3:
		return []common.Address{r.In, r.Out}
	case MultiHopV3:
		if len(r.Hops) == 0 {
			return nil
		}
		out := []common.Address{r.Hops[0].First}
		for _, h := range r.Hops {
			out = append(out, h.Second)
		}
		return out
	default:
		return nil
	}
}

// Invert reverses hop order and swaps each hop's tokens. Exact-output calls
// carry their path output-first, so this turns them into input order.
func Invert(r MultiHopV3) MultiHopV3 {
	out := MultiHopV3{Hops: make([]Hop, len(r.Hops))}
	for i, h := range r.Hops {
		out.Hops[len(r.Hops)-1-i] = Hop{First: h.Second, Fee: h.Fee, Second: h.First}
	}
	return out
}

// Equal reports whether a and b are the same kind of route over the same
// tokens and fees.
func Equal(a, b Route) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch a := a.(type) {
	case SinglePoolV2:
		bb := b.(SinglePoolV2)
		if len(a.Path) != len(bb.Path) {
			return false
		}
		for i := range a.Path {
			if a.Path[i] != bb.Path[i] {
				return false
			}
		}
		return true
	case SinglePoolV3:
		return a == b.(SinglePoolV3)
	case MultiHopV3:
		bb := b.(MultiHopV3)
		if len(a.Hops) != len(bb.Hops) {
			return false
		}
		for i := range a.Hops {
			if a.Hops[i] != bb.Hops[i] {
				return false
			}
		}
		return true
	}
	return false
}

// Chain joins consecutive concentrated-liquidity legs into one MultiHopV3.
// It fails on a V2 leg or on legs that do not connect.
func Chain(routes ...Route) (MultiHopV3, error) {
	var out MultiHopV3
	for i, r := range routes {
		switch r := r.(type) {
		case SinglePoolV3:
			out.Hops = append(out.Hops, Hop{First: r.In, Fee: r.Fee, Second: r.Out})
		case MultiHopV3:
			out.Hops = append(out.Hops, r.Hops...)
		default:
			return MultiHopV3{}, fmt.Errorf("%w: leg %d is %s, only v3 legs chain", ErrInvalidRoute, i, kindOf(r))
		}
	}
	if err := out.Validate(); err != nil {
		return MultiHopV3{}, err
	}
	return out, nil
}

func kindOf(r Route) Kind {
	if r == nil {
		return "nil"
	}
	return r.Kind()
}
