package swappath

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type routeJSON struct {
	Kind     Kind             `json:"kind"`
	Path     []common.Address `json:"path,omitempty"`
	TokenIn  *common.Address  `json:"token_in,omitempty"`
	TokenOut *common.Address  `json:"token_out,omitempty"`
	Fee      *uint32          `json:"fee,omitempty"`
	Hops     []hopJSON        `json:"hops,omitempty"`
}

type hopJSON struct {
	First  common.Address `json:"first_token"`
	Fee    uint32         `json:"fee"`
	Second common.Address `json:"second_token"`
}

func (r SinglePoolV2) MarshalJSON() ([]byte, error) { return MarshalRoute(r) }
func (r SinglePoolV3) MarshalJSON() ([]byte, error) { return MarshalRoute(r) }
func (r MultiHopV3) MarshalJSON() ([]byte, error)   { return MarshalRoute(r) }

// MarshalRoute writes the tagged JSON form, e.g.
// {"kind":"single_pool_v3","token_in":"0x..","token_out":"0x..","fee":500}.
func MarshalRoute(r Route) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil route", ErrInvalidRoute)
	}
	out := routeJSON{Kind: r.Kind()}
	switch r := r.(type) {
	case SinglePoolV2:
		out.Path = r.Path
	case SinglePoolV3:
		in, outTok, fee := r.In, r.Out, r.Fee
		out.TokenIn, out.TokenOut, out.Fee = &in, &outTok, &fee
	case MultiHopV3:
		out.Hops = make([]hopJSON, len(r.Hops))
		for i, h := range r.Hops {
			out.Hops[i] = hopJSON(h)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported route type %T", ErrInvalidRoute, r)
	}
	return json.Marshal(out)
}

func UnmarshalRoute(b []byte) (Route, error) {
	var in routeJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoute, err)
	}

	var r Route
	switch in.Kind {
	case KindSinglePoolV2:
		r = SinglePoolV2{Path: in.Path}
	case KindSinglePoolV3:
		if in.TokenIn == nil || in.TokenOut == nil || in.Fee == nil {
			return nil, fmt.Errorf("%w: single_pool_v3 needs token_in, token_out and fee", ErrInvalidRoute)
		}
		r = SinglePoolV3{In: *in.TokenIn, Out: *in.TokenOut, Fee: *in.Fee}
	case KindMultiHopV3:
		hops := make([]Hop, len(in.Hops))
		for i, h := range in.Hops {
			hops[i] = Hop(h)
		}
		r = MultiHopV3{Hops: hops}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRoute, in.Kind)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
