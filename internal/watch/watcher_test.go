package watch

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-gocopy/internal/chain"
	"dex-gocopy/internal/chain/chaintest"
	"dex-gocopy/internal/ethutil"
	"dex-gocopy/internal/faults"
	"dex-gocopy/internal/state"
	"dex-gocopy/internal/swapparse"
	"dex-gocopy/internal/txtrack"
)

const exactInputSingleABI = `[{"inputs":[{"components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}],"name":"params","type":"tuple"}],"name":"exactInputSingle","outputs":[{"name":"amountOut","type":"uint256"}],"stateMutability":"payable","type":"function"}]`

var (
	router   = common.HexToAddress("0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45")
	donor    = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	tokenA   = common.HexToAddress("0x000000000000000000000000000000000000000a")
	tokenB   = common.HexToAddress("0x000000000000000000000000000000000000000b")
	pool     = common.HexToAddress("0x00000000000000000000000000000000000000e1")

	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

func swapInput(t *testing.T) []byte {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(exactInputSingleABI))
	require.NoError(t, err)
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{tokenA, tokenB, big.NewInt(500), donor, big.NewInt(100), big.NewInt(0), big.NewInt(0)}
	data, err := parsed.Pack("exactInputSingle", params)
	require.NoError(t, err)
	return data
}

func addTx(f *chaintest.Fake, block uint64, seed byte, from, to common.Address, input []byte, status uint64, logs ...*types.Log) common.Hash {
	hash := common.BytesToHash([]byte{0xfe, seed})
	dest := to
	tx := &chain.Tx{Hash: hash, From: from, To: &dest, Value: big.NewInt(0), Input: input}
	f.AddTx(tx)
	f.AddBlock(block, tx)
	f.AddReceipt(&types.Receipt{
		TxHash:      hash,
		Status:      status,
		BlockNumber: new(big.Int).SetUint64(block),
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(block + 500)),
		Logs:        logs,
	})
	return hash
}

func transfer(token, from, to common.Address, amount int64) *types.Log {
	return &types.Log{
		Address: token,
		Topics:  []common.Hash{transferTopic, ethutil.AddressToTopic(from), ethutil.AddressToTopic(to)},
		Data:    common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
	}
}

type harness struct {
	f       *chaintest.Fake
	cfg     Config
	tracker *txtrack.Tracker
	parser  *swapparse.Parser
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := chaintest.New(20)
	parser, err := swapparse.NewParser(swapparse.Config{Router: router})
	require.NoError(t, err)
	return &harness{
		f: f,
		cfg: Config{
			ChainID:        1,
			Router:         router,
			Donors:         []common.Address{donor},
			Confirmations:  2,
			StartBlock:     15,
			CheckpointFile: filepath.Join(t.TempDir(), "watch.json"),
			Interval:       time.Millisecond,
		},
		tracker: txtrack.New(f, txtrack.WithReadRetries(0, time.Millisecond)),
		parser:  parser,
	}
}

func (h *harness) watcher(t *testing.T, handle Handler) *Watcher {
	t.Helper()
	w, err := New(h.cfg, h.f, h.tracker, h.parser, handle)
	require.NoError(t, err)
	return w
}

func TestPollReportsDonorSwaps(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	input := swapInput(t)

	swapHash := addTx(h.f, 16, 1, donor, router, input, types.ReceiptStatusSuccessful,
		transfer(tokenB, pool, donor, 95), transfer(tokenA, donor, pool, 100))
	addTx(h.f, 16, 2, stranger, router, input, types.ReceiptStatusSuccessful)
	addTx(h.f, 16, 3, donor, tokenA, nil, types.ReceiptStatusSuccessful)
	addTx(h.f, 17, 4, donor, router, input, types.ReceiptStatusFailed)
	// Not yet confirmed deep enough.
	addTx(h.f, 19, 5, donor, router, input, types.ReceiptStatusSuccessful,
		transfer(tokenB, pool, donor, 1))

	var got []*swapparse.Result
	w := h.watcher(t, func(_ context.Context, res *swapparse.Result) error {
		got = append(got, res)
		return nil
	})

	n, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, uint64(18), w.Cursor())
	require.Len(t, got, 1)
	assert.Equal(t, swapHash, got[0].Hash)
	assert.Equal(t, int64(95), got[0].Swaps[0].AmountOut.Int64())

	ckpt, ok, err := state.Load(h.cfg.CheckpointFile)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(18), ckpt.LastProcessedBlock)

	// Nothing new until the head moves.
	n, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.f.SetHead(21)
	n, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, got, 2)
}

func TestResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ckpt := state.NewCheckpoint(1, router, []common.Address{donor})
	ckpt.LastProcessedBlock = 17
	require.NoError(t, state.Save(h.cfg.CheckpointFile, ckpt))

	addTx(h.f, 16, 1, donor, router, swapInput(t), types.ReceiptStatusSuccessful,
		transfer(tokenB, pool, donor, 95))

	calls := 0
	w := h.watcher(t, func(context.Context, *swapparse.Result) error { calls++; return nil })
	n, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, calls)
}

func TestIgnoresCheckpointForOtherDonors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ckpt := state.NewCheckpoint(1, router, []common.Address{stranger})
	ckpt.LastProcessedBlock = 18
	require.NoError(t, state.Save(h.cfg.CheckpointFile, ckpt))

	w := h.watcher(t, func(context.Context, *swapparse.Result) error { return nil })
	n, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestHandlerErrorRescansBlock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.cfg.StartBlock = 0
	h.f.SetHead(15)
	w := h.watcher(t, func(context.Context, *swapparse.Result) error { return nil })
	_, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(13), w.Cursor())

	addTx(h.f, 14, 1, donor, router, swapInput(t), types.ReceiptStatusSuccessful,
		transfer(tokenB, pool, donor, 95))
	h.f.SetHead(16)

	calls := 0
	w.handle = func(context.Context, *swapparse.Result) error {
		calls++
		if calls == 1 {
			return errors.New("executor busy")
		}
		return nil
	}
	_, err = w.Poll(ctx)
	require.Error(t, err)
	assert.Equal(t, uint64(13), w.Cursor())

	n, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, calls)
}

func TestProviderOutageRescansBlock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.cfg.StartBlock = 16
	swapHash := addTx(h.f, 16, 1, donor, router, swapInput(t), types.ReceiptStatusSuccessful,
		transfer(tokenB, pool, donor, 95), transfer(tokenA, donor, pool, 100))
	h.f.FailNext(chaintest.MethodTx, faults.Wrap(faults.Provider, "rpc", errors.New("502 bad gateway")))

	var got []common.Hash
	w := h.watcher(t, func(_ context.Context, res *swapparse.Result) error {
		got = append(got, res.Hash)
		return nil
	})
	_, err := w.Poll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, txtrack.ErrExhausted)
	assert.Equal(t, uint64(15), w.Cursor())
	assert.Empty(t, got)

	_, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(18), w.Cursor())
	assert.Equal(t, []common.Hash{swapHash}, got)
}

func TestSkipsUnparseableDonorTx(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	addTx(h.f, 16, 1, donor, router, []byte{0xde, 0xad, 0xbe, 0xef}, types.ReceiptStatusSuccessful)

	w := h.watcher(t, func(context.Context, *swapparse.Result) error {
		t.Fatal("handler must not run")
		return nil
	})
	n, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestRunStopsOnContext(t *testing.T) {
	h := newHarness(t)
	h.f.FailNext(chaintest.MethodHead, faults.Wrap(faults.Provider, "rpc", errors.New("timeout")))
	w := h.watcher(t, func(context.Context, *swapparse.Result) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, uint64(18), w.Cursor())
}

func TestRunPollsOnNewHead(t *testing.T) {
	h := newHarness(t)
	h.cfg.Interval = time.Hour
	swapHash := addTx(h.f, 20, 1, donor, router, swapInput(t), types.ReceiptStatusSuccessful,
		transfer(tokenB, pool, donor, 95), transfer(tokenA, donor, pool, 100))

	heads := make(chan uint64, 1)
	seen := make(chan common.Hash, 1)
	w, err := New(h.cfg, h.f, h.tracker, h.parser, func(_ context.Context, res *swapparse.Result) error {
		seen <- res.Hash
		return nil
	}, WithHeads(heads))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	h.f.SetHead(22)
	heads <- 22
	select {
	case got := <-seen:
		assert.Equal(t, swapHash, got)
	case <-ctx.Done():
		t.Fatal("new head did not trigger a poll")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestNewValidates(t *testing.T) {
	h := newHarness(t)
	noop := func(context.Context, *swapparse.Result) error { return nil }

	cfg := h.cfg
	cfg.Donors = nil
	_, err := New(cfg, h.f, h.tracker, h.parser, noop)
	assert.Error(t, err)

	cfg = h.cfg
	cfg.Router = common.Address{}
	_, err = New(cfg, h.f, h.tracker, h.parser, noop)
	assert.Error(t, err)

	_, err = New(h.cfg, h.f, h.tracker, h.parser, nil)
	assert.Error(t, err)
}
