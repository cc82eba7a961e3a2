package swappath

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	addrLen = common.AddressLength
	feeLen  = 3
	// hopLen is one fee+token window after the leading token.
	hopLen = feeLen + addrLen
	// MinPathLen is one full hop: token, fee, token.
	MinPathLen = addrLen + hopLen
)

const (
	tagSinglePoolV2 byte = 0x01
	tagSinglePoolV3 byte = 0x02
	tagMultiHopV3   byte = 0x03
)

var (
	ErrInvalidRoute = errors.New("invalid swap route")
	ErrInvalidPath  = errors.New("invalid packed path")
)

// PackPath writes hops as token(20) || fee(3, big-endian) || token(20) ...,
// with each shared boundary token written once.
func PackPath(hops []Hop) ([]byte, error) {
	r := MultiHopV3{Hops: hops}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, 0, addrLen+hopLen*len(hops))
	out = append(out, hops[0].First.Bytes()...)
	for _, h := range hops {
		out = append(out, byte(h.Fee>>16), byte(h.Fee>>8), byte(h.Fee))
		out = append(out, h.Second.Bytes()...)
	}
	return out, nil
}

// UnpackPath reads a packed path in the order it is written. Exact-output
// calldata is output-first; pass the result through Invert for input order.
func UnpackPath(b []byte) (MultiHopV3, error) {
	if len(b) < MinPathLen {
		return MultiHopV3{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidPath, len(b), MinPathLen)
	}
	if (len(b)-addrLen)%hopLen != 0 {
		return MultiHopV3{}, fmt.Errorf("%w: %d bytes leaves a partial hop", ErrInvalidPath, len(b))
	}

	n := (len(b) - addrLen) / hopLen
	hops := make([]Hop, 0, n)
	first := common.BytesToAddress(b[:addrLen])
	for off := addrLen; off < len(b); off += hopLen {
		fee := uint32(b[off])<<16 | uint32(b[off+1])<<8 | uint32(b[off+2])
		second := common.BytesToAddress(b[off+feeLen : off+hopLen])
		hops = append(hops, Hop{First: first, Fee: fee, Second: second})
		first = second
	}
	return MultiHopV3{Hops: hops}, nil
}

// Encode validates r and serializes it with a leading kind tag.
func Encode(r Route) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil route", ErrInvalidRoute)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	switch r := r.(type) {
	case SinglePoolV2:
		out := make([]byte, 0, 1+addrLen*len(r.Path))
		out = append(out, tagSinglePoolV2)
		for _, a := range r.Path {
			out = append(out, a.Bytes()...)
		}
		return out, nil
	case SinglePoolV3:
		packed, err := PackPath([]Hop{{First: r.In, Fee: r.Fee, Second: r.Out}})
		if err != nil {
			return nil, err
		}
		return append([]byte{tagSinglePoolV3}, packed...), nil
	case MultiHopV3:
		packed, err := PackPath(r.Hops)
		if err != nil {
			return nil, err
		}
		return append([]byte{tagMultiHopV3}, packed...), nil
	default:
		return nil, fmt.Errorf("%w: unsupported route type %T", ErrInvalidRoute, r)
	}
}

// Decode reverses Encode and validates the result. It expects the tagged
// envelope, not a router calldata path; use UnpackPath for those.
func Decode(b []byte) (Route, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidPath)
	}
	tag, body := b[0], b[1:]

	var r Route
	switch tag {
	case tagSinglePoolV2:
		if len(body)%addrLen != 0 {
			return nil, fmt.Errorf("%w: v2 path of %d bytes is not a list of addresses", ErrInvalidPath, len(body))
		}
		path := make([]common.Address, 0, len(body)/addrLen)
		for off := 0; off < len(body); off += addrLen {
			path = append(path, common.BytesToAddress(body[off:off+addrLen]))
		}
		r = SinglePoolV2{Path: path}
	case tagSinglePoolV3:
		if len(body) != MinPathLen {
			return nil, fmt.Errorf("%w: single pool route must be %d bytes, got %d", ErrInvalidPath, MinPathLen, len(body))
		}
		m, err := UnpackPath(body)
		if err != nil {
			return nil, err
		}
		h := m.Hops[0]
		r = SinglePoolV3{In: h.First, Out: h.Second, Fee: h.Fee}
	case tagMultiHopV3:
		m, err := UnpackPath(body)
		if err != nil {
			return nil, err
		}
		r = m
	default:
		return nil, fmt.Errorf("%w: unknown route tag 0x%02x", ErrInvalidPath, tag)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// EncodeHex is Encode as 0x-prefixed hex text.
func EncodeHex(r Route) (string, error) {
	b, err := Encode(r)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b), nil
}

// DecodeHex is Decode over hex text, with or without the 0x prefix.
func DecodeHex(s string) (Route, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return Decode(b)
}
