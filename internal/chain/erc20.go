package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"dex-gocopy/internal/faults"
)

const erc20ABIJSON = `[
  {"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	return parsed
}

func BalanceOf(ctx context.Context, c Caller, token, owner common.Address) (*big.Int, error) {
	vals, err := callERC20(ctx, c, token, "balanceOf", owner)
	if err != nil {
		return nil, errors.Wrapf(err, "balanceOf(%s) on %s", owner.Hex(), token.Hex())
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, faults.New(faults.Data, "balanceOf", fmt.Sprintf("unexpected result type %T", vals[0]))
	}
	return bal, nil
}

func Decimals(ctx context.Context, c Caller, token common.Address) (uint8, error) {
	vals, err := callERC20(ctx, c, token, "decimals")
	if err != nil {
		return 0, errors.Wrapf(err, "decimals() on %s", token.Hex())
	}
	dec, ok := vals[0].(uint8)
	if !ok {
		return 0, faults.New(faults.Data, "decimals", fmt.Sprintf("unexpected result type %T", vals[0]))
	}
	return dec, nil
}

// Balances reads owner's raw balance of every token.
func Balances(ctx context.Context, c Caller, owner common.Address, tokens []common.Address) (map[common.Address]*big.Int, error) {
	out := make(map[common.Address]*big.Int, len(tokens))
	for _, token := range tokens {
		if _, ok := out[token]; ok {
			continue
		}
		bal, err := BalanceOf(ctx, c, token, owner)
		if err != nil {
			return nil, err
		}
		out[token] = bal
	}
	return out, nil
}

func callERC20(ctx context.Context, c Caller, token common.Address, method string, args ...any) ([]any, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, faults.Wrap(faults.Internal, "pack "+method, err)
	}
	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, faults.New(faults.Data, method, "empty result (not a token contract?)")
	}
	vals, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return nil, faults.Wrap(faults.Data, "unpack "+method, err)
	}
	if len(vals) == 0 {
		return nil, faults.New(faults.Data, method, "no return values")
	}
	return vals, nil
}
