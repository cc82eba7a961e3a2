package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-gocopy/internal/chain/chaintest"
	"dex-gocopy/internal/faults"
)

var (
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

func testClient(url string) *Client {
	return New(Config{BaseURL: url, Platform: "ethereum", APIKey: "k", Timeout: 2 * time.Second, RetryCount: 2}, nil)
}

func TestPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/token_price/ethereum", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		assert.Equal(t, "k", r.Header.Get(apiKeyHeader))
		addrs := strings.Split(r.URL.Query().Get("contract_addresses"), ",")
		assert.Len(t, addrs, 2)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"` + strings.ToLower(usdc.Hex()) + `":{"usd":0.9998},"` + strings.ToLower(weth.Hex()) + `":{"eur":3000}}`))
	}))
	defer srv.Close()

	prices, err := testClient(srv.URL).Prices(context.Background(), []common.Address{usdc, weth})
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.True(t, prices[usdc].Equal(decimal.RequireFromString("0.9998")))
}

func TestPricesRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"` + strings.ToLower(usdc.Hex()) + `":{"usd":1}}`))
	}))
	defer srv.Close()

	prices, err := testClient(srv.URL).Prices(context.Background(), []common.Address{usdc})
	require.NoError(t, err)
	assert.True(t, prices[usdc].Equal(decimal.NewFromInt(1)))
	assert.Equal(t, int32(2), calls.Load())
}

func TestPricesStatusFaults(t *testing.T) {
	cases := []struct {
		status int
		kind   faults.Kind
	}{
		{http.StatusBadRequest, faults.Internal},
		{http.StatusServiceUnavailable, faults.Provider},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))
		_, err := testClient(srv.URL).Prices(context.Background(), []common.Address{usdc})
		srv.Close()
		require.Error(t, err)
		assert.Equal(t, tc.kind, faults.KindOf(err), "status %d", tc.status)
	}
}

func TestSnapshotReadsDecimals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"` + strings.ToLower(usdc.Hex()) + `":{"usd":"1.0001"}}`))
	}))
	defer srv.Close()

	f := chaintest.New(1)
	f.SetCall(usdc, crypto.Keccak256([]byte("decimals()"))[:4], common.LeftPadBytes([]byte{6}, 32))

	prices, decimals, err := testClient(srv.URL).Snapshot(context.Background(), f, []common.Address{usdc})
	require.NoError(t, err)
	assert.True(t, prices[usdc].Equal(decimal.RequireFromString("1.0001")))
	assert.Equal(t, uint8(6), decimals[usdc])
}

func TestParsePrices(t *testing.T) {
	prices, err := ParsePrices([]byte(`{"` + usdc.Hex() + `": "1", "` + strings.ToLower(weth.Hex()) + `": 2500.5}`))
	require.NoError(t, err)
	assert.True(t, prices[usdc].Equal(decimal.NewFromInt(1)))
	assert.True(t, prices[weth].Equal(decimal.RequireFromString("2500.5")))

	_, err = ParsePrices([]byte(`{"not-an-address": 1}`))
	assert.Error(t, err)
}
