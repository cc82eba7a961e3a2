package chain_test

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-gocopy/internal/chain"
	"dex-gocopy/internal/chain/chaintest"
	"dex-gocopy/internal/faults"
)

const testERC20ABI = `[
  {"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

func TestERC20Reads(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(testERC20ABI))
	require.NoError(t, err)

	token := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	other := common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	f := chaintest.New(1)
	balData, err := parsed.Pack("balanceOf", owner)
	require.NoError(t, err)
	balOut, err := parsed.Methods["balanceOf"].Outputs.Pack(big.NewInt(1_500_000))
	require.NoError(t, err)
	f.SetCall(token, balData, balOut)

	decData, err := parsed.Pack("decimals")
	require.NoError(t, err)
	decOut, err := parsed.Methods["decimals"].Outputs.Pack(uint8(6))
	require.NoError(t, err)
	f.SetCall(token, decData, decOut)

	ctx := context.Background()
	bal, err := chain.BalanceOf(ctx, f, token, owner)
	require.NoError(t, err)
	assert.Equal(t, "1500000", bal.String())

	dec, err := chain.Decimals(ctx, f, token)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), dec)

	balances, err := chain.Balances(ctx, f, owner, []common.Address{token, token})
	require.NoError(t, err)
	assert.Len(t, balances, 1)

	_, err = chain.Decimals(ctx, f, other)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.Data) || strings.Contains(err.Error(), "empty result"))
}
