package txtrack

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-gocopy/internal/chain"
	"dex-gocopy/internal/chain/chaintest"
	"dex-gocopy/internal/faults"
)

var (
	hashA  = common.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000000001")
	hashB  = common.HexToHash("0xbbbb000000000000000000000000000000000000000000000000000000000002")
	sender = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	router = common.HexToAddress("0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45")
)

func mkTx(hash common.Hash, pending bool) *chain.Tx {
	to := router
	return &chain.Tx{Hash: hash, From: sender, To: &to, Value: big.NewInt(0), Input: []byte{0x01, 0x02}, Pending: pending}
}

func mkReceipt(hash common.Hash, block uint64, status uint64) *types.Receipt {
	return &types.Receipt{
		TxHash:      hash,
		Status:      status,
		BlockNumber: new(big.Int).SetUint64(block),
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(block + 1_000_000)),
		Logs:        []*types.Log{},
	}
}

func providerFault() error {
	return faults.Wrap(faults.Provider, "rpc", errors.New("502 bad gateway"))
}

func newTestTracker(f *chaintest.Fake, opts ...Option) *Tracker {
	opts = append([]Option{WithReadRetries(2, time.Millisecond)}, opts...)
	return New(f, opts...)
}

func TestTrackWithoutCacheReadsChain(t *testing.T) {
	ctx := context.Background()
	f := chaintest.New(100)
	f.AddTx(mkTx(hashA, false))
	f.AddReceipt(mkReceipt(hashA, 10, types.ReceiptStatusSuccessful))
	tr := newTestTracker(f)

	for i := 0; i < 2; i++ {
		o, err := tr.Track(ctx, hashA)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccessful, o.Status)
	}
	assert.Equal(t, 2, f.Calls(chaintest.MethodTx))
}

func TestTrackStatuses(t *testing.T) {
	ctx := context.Background()
	f := chaintest.New(100)
	tr := newTestTracker(f)

	o, err := tr.Track(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, o.Status)
	assert.Nil(t, o.Tx)

	f.AddTx(mkTx(hashA, true))
	o, err = tr.Track(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status)
	assert.Nil(t, o.Receipt)

	f.AddTx(mkTx(hashA, false))
	o, err = tr.Track(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status, "mined flag without receipt stays pending")

	f.AddReceipt(mkReceipt(hashA, 99, types.ReceiptStatusSuccessful))
	o, err = tr.Track(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccessful, o.Status)
	require.NotNil(t, o.Receipt)

	f.AddTx(mkTx(hashB, false))
	f.AddReceipt(mkReceipt(hashB, 99, types.ReceiptStatusFailed))
	o, err = tr.Track(ctx, hashB)
	require.NoError(t, err)
	assert.Equal(t, StatusReverted, o.Status)
	_, err = o.Ready()
	assert.Error(t, err)
}

func TestUpdateMutatesInPlace(t *testing.T) {
	ctx := context.Background()
	f := chaintest.New(100)
	tr := newTestTracker(f)

	o := NewOutcome(hashA)
	assert.Equal(t, StatusUnknown, o.Status)
	f.AddTx(mkTx(hashA, true))
	require.NoError(t, tr.Update(ctx, o))
	assert.Equal(t, StatusPending, o.Status)

	f.AddReceipt(mkReceipt(hashA, 100, types.ReceiptStatusSuccessful))
	require.NoError(t, tr.Update(ctx, o))
	assert.Equal(t, StatusSuccessful, o.Status)
}

func TestReadRetries(t *testing.T) {
	ctx := context.Background()
	f := chaintest.New(100)
	f.AddTx(mkTx(hashA, false))
	f.AddReceipt(mkReceipt(hashA, 100, types.ReceiptStatusSuccessful))
	tr := newTestTracker(f)

	f.FailNext(chaintest.MethodTx, providerFault(), providerFault())
	o, err := tr.Track(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccessful, o.Status)
	assert.Equal(t, 3, f.Calls(chaintest.MethodTx))

	f.FailNext(chaintest.MethodTx, providerFault(), providerFault(), providerFault())
	_, err = tr.Track(ctx, hashA)
	assert.True(t, faults.Retryable(err))

	internal := faults.New(faults.Internal, "eth_getTransactionByHash", "invalid params")
	f.FailNext(chaintest.MethodReceipt, internal)
	before := f.Calls(chaintest.MethodReceipt)
	_, err = tr.Track(ctx, hashA)
	assert.ErrorIs(t, err, internal)
	assert.Equal(t, before+1, f.Calls(chaintest.MethodReceipt), "internal faults are not retried")
}

func TestAwaitConfirmations(t *testing.T) {
	ctx := context.Background()
	f := chaintest.New(100)
	f.AutoMine(1)
	f.AddTx(mkTx(hashA, false))
	f.AddReceipt(mkReceipt(hashA, 100, types.ReceiptStatusSuccessful))
	tr := newTestTracker(f)

	r, err := tr.AwaitConfirmations(ctx, hashA, 3, time.Millisecond, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), r.BlockNumber.Uint64())
	assert.Equal(t, 4, f.Calls(chaintest.MethodHead))
}

func TestAwaitConfirmationsZeroDepth(t *testing.T) {
	f := chaintest.New(100)
	f.AddTx(mkTx(hashA, false))
	f.AddReceipt(mkReceipt(hashA, 100, types.ReceiptStatusSuccessful))
	tr := newTestTracker(f)

	_, err := tr.AwaitConfirmations(context.Background(), hashA, 0, time.Hour, 1)
	require.NoError(t, err)
}

func TestAwaitConfirmationsWaitsForReceipt(t *testing.T) {
	ctx := context.Background()
	f := chaintest.New(100)
	f.AutoMine(1)
	f.AddTx(mkTx(hashA, true))
	f.OnCall(chaintest.MethodTx, func(call int) {
		if call == 3 {
			f.AddReceipt(mkReceipt(hashA, 100, types.ReceiptStatusSuccessful))
		}
	})
	tr := newTestTracker(f)

	_, err := tr.AwaitConfirmations(ctx, hashA, 1, time.Millisecond, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, f.Calls(chaintest.MethodTx))
	// The head is only read once a receipt exists.
	assert.Equal(t, 2, f.Calls(chaintest.MethodHead))
}

func TestAwaitConfirmationsReverted(t *testing.T) {
	f := chaintest.New(200)
	f.AddTx(mkTx(hashA, false))
	f.AddReceipt(mkReceipt(hashA, 150, types.ReceiptStatusFailed))
	tr := newTestTracker(f)

	_, err := tr.AwaitConfirmations(context.Background(), hashA, 2, time.Millisecond, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReverted)

	var ce *ConfirmationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, PhaseReverted, ce.Phase)
	assert.Equal(t, 1, ce.Attempts)
	require.NotNil(t, ce.Receipt)
	assert.Equal(t, types.ReceiptStatusFailed, ce.Receipt.Status)
}

func TestAwaitConfirmationsNotFound(t *testing.T) {
	f := chaintest.New(200)
	tr := newTestTracker(f)

	_, err := tr.AwaitConfirmations(context.Background(), hashA, 2, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 3, f.Calls(chaintest.MethodTx))
}

func TestAwaitConfirmationsOutageIsExhaustion(t *testing.T) {
	f := chaintest.New(200)
	f.AddTx(mkTx(hashA, false))
	f.AddReceipt(mkReceipt(hashA, 150, types.ReceiptStatusSuccessful))
	outage := make([]error, 100)
	for i := range outage {
		outage[i] = providerFault()
	}
	f.FailNext(chaintest.MethodTx, outage...)
	tr := newTestTracker(f)

	_, err := tr.AwaitConfirmations(context.Background(), hashA, 1, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, faults.Exhaustion, faults.KindOf(err))
}

func TestAwaitConfirmationsExhausted(t *testing.T) {
	f := chaintest.New(200)
	f.AddTx(mkTx(hashA, true))
	tr := newTestTracker(f)

	_, err := tr.AwaitConfirmations(context.Background(), hashA, 2, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, faults.Exhaustion, faults.KindOf(err))

	f.AddReceipt(mkReceipt(hashA, 200, types.ReceiptStatusSuccessful))
	_, err = tr.AwaitConfirmations(context.Background(), hashA, 5, time.Millisecond, 2)
	var ce *ConfirmationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, PhaseExhausted, ce.Phase)
	assert.NotNil(t, ce.Receipt)
}

func TestAwaitConfirmationsRecountsAfterReorg(t *testing.T) {
	f := chaintest.New(100)
	f.AutoMine(1)
	f.AddTx(mkTx(hashA, false))
	f.AddReceipt(mkReceipt(hashA, 100, types.ReceiptStatusSuccessful))
	f.OnCall(chaintest.MethodReceipt, func(call int) {
		if call == 2 {
			f.AddReceipt(mkReceipt(hashA, 102, types.ReceiptStatusSuccessful))
		}
	})
	tr := newTestTracker(f)

	r, err := tr.AwaitConfirmations(context.Background(), hashA, 2, time.Millisecond, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(102), r.BlockNumber.Uint64())
	assert.Equal(t, 5, f.Calls(chaintest.MethodHead))
}

func TestAwaitConfirmationsReceiptDisappears(t *testing.T) {
	f := chaintest.New(100)
	f.AutoMine(1)
	f.AddTx(mkTx(hashA, false))
	f.AddReceipt(mkReceipt(hashA, 100, types.ReceiptStatusSuccessful))
	f.OnCall(chaintest.MethodReceipt, func(call int) {
		switch call {
		case 2:
			f.RemoveReceipt(hashA)
		case 3:
			f.AddReceipt(mkReceipt(hashA, 104, types.ReceiptStatusSuccessful))
		}
	})
	tr := newTestTracker(f)

	r, err := tr.AwaitConfirmations(context.Background(), hashA, 1, time.Millisecond, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(104), r.BlockNumber.Uint64())
}

func TestAwaitConfirmationsHonorsContext(t *testing.T) {
	f := chaintest.New(100)
	f.AddTx(mkTx(hashA, true))
	tr := newTestTracker(f)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := tr.AwaitConfirmations(ctx, hashA, 1, time.Hour, 100)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAwaitSurvivesTransientPollFailure(t *testing.T) {
	f := chaintest.New(100)
	f.AddTx(mkTx(hashA, false))
	f.AddReceipt(mkReceipt(hashA, 90, types.ReceiptStatusSuccessful))
	f.FailNext(chaintest.MethodTx, providerFault(), providerFault(), providerFault())
	tr := newTestTracker(f)

	_, err := tr.AwaitConfirmations(context.Background(), hashA, 1, time.Millisecond, 3)
	require.NoError(t, err)
}

func TestConfirmedOutcomeStaysSuccessful(t *testing.T) {
	badgerCache, err := OpenBadgerCache("")
	require.NoError(t, err)
	defer badgerCache.Close()

	for name, cache := range map[string]OutcomeCache{"memory": NewMemoryCache(), "badger": badgerCache} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := chaintest.New(110)
			f.AddTx(mkTx(hashA, false))
			f.AddReceipt(mkReceipt(hashA, 100, types.ReceiptStatusSuccessful))
			tr := newTestTracker(f, WithCache(cache))

			_, err := tr.AwaitConfirmations(ctx, hashA, 5, time.Millisecond, 3)
			require.NoError(t, err)

			// The node loses the transaction; the confirmed outcome must not regress.
			f.RemoveReceipt(hashA)
			for _, depth := range []uint64{0, 3, 5} {
				r, err := tr.AwaitConfirmations(ctx, hashA, depth, time.Millisecond, 1)
				require.NoError(t, err)
				assert.Equal(t, uint64(100), r.BlockNumber.Uint64())
			}
			o, err := tr.Track(ctx, hashA)
			require.NoError(t, err)
			assert.Equal(t, StatusSuccessful, o.Status)
			ready, err := o.Ready()
			require.NoError(t, err)
			assert.Equal(t, hashA, ready.Hash())
			assert.Equal(t, sender, ready.Tx().From)
		})
	}
}

func TestReadyIsACopy(t *testing.T) {
	o := &Outcome{Hash: hashA, Tx: mkTx(hashA, false), Receipt: mkReceipt(hashA, 1, types.ReceiptStatusSuccessful), Status: StatusSuccessful}
	ready, err := o.Ready()
	require.NoError(t, err)

	o.Tx.Input[0] = 0xff
	tx := ready.Tx()
	assert.Equal(t, byte(0x01), tx.Input[0])
	tx.Input[1] = 0xff
	assert.Equal(t, byte(0x02), ready.Tx().Input[1])
	assert.Equal(t, uint64(1), ready.BlockNumber())
	assert.Empty(t, ready.Logs())

	_, err = (&Outcome{Hash: hashA, Status: StatusSuccessful}).Ready()
	assert.Error(t, err)
}
