package ethutil

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddressList parses donor, router or token lists written as one string.
//
// Commas, semicolons and whitespace separate entries. Repeated addresses are
// dropped, the first occurrence keeps its position. A blank string yields
// (nil, nil).
func ParseAddressList(raw string) ([]common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	parts := strings.FieldsFunc(trimmed, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\n', '\r', '\t':
			return true
		default:
			return false
		}
	})

	out := make([]common.Address, 0, len(parts))
	seen := make(map[common.Address]struct{}, len(parts))
	for _, part := range parts {
		addr, err := ParseAddress(part)
		if err != nil {
			return nil, fmt.Errorf("%w in %q", err, raw)
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}

// ParseAddress accepts a single 0x-prefixed or bare 40-digit hex address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid hex address %q", s)
	}
	return common.HexToAddress(s), nil
}

func AddressSet(addrs []common.Address) map[common.Address]struct{} {
	out := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		out[a] = struct{}{}
	}
	return out
}

// CompareAddresses orders addresses by their raw bytes.
func CompareAddresses(a, b common.Address) int {
	return bytes.Compare(a[:], b[:])
}

func SortedAddresses(addrs []common.Address) []common.Address {
	out := append([]common.Address(nil), addrs...)
	sort.Slice(out, func(i, j int) bool {
		return CompareAddresses(out[i], out[j]) < 0
	})
	return out
}

// AddressToTopic left-pads an address into an indexed event topic.
func AddressToTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

// TopicToAddress keeps the low 20 bytes of an indexed address topic.
func TopicToAddress(h common.Hash) common.Address {
	return common.BytesToAddress(h.Bytes())
}

func JoinHex(addrs []common.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.Hex())
	}
	return strings.Join(parts, ",")
}
