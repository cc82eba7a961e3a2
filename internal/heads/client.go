// Package heads streams new block numbers from a node's websocket
// endpoint using eth_subscribe("newHeads").
package heads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"

	"dex-gocopy/internal/chain"
)

const DefaultPingInterval = 15 * time.Second

type Options struct {
	PingInterval time.Duration

	BackoffMin time.Duration
	BackoffMax time.Duration

	OutBuffer int
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 15 * time.Second
	}
	if o.OutBuffer <= 0 {
		o.OutBuffer = 16
	}
	return o
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// frame covers both the subscribe response and eth_subscription notices.
type frame struct {
	ID     *int            `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Params *struct {
		Subscription string `json:"subscription"`
		Result       struct {
			Number hexutil.Uint64 `json:"number"`
		} `json:"result"`
	} `json:"params,omitempty"`
}

// Start subscribes to new heads at url and emits their block numbers,
// reconnecting with backoff until ctx is done. Numbers are dropped when
// the consumer falls behind; a later head covers the gap.
func Start(ctx context.Context, url string, opts Options) (<-chan uint64, <-chan error) {
	opts = opts.withDefaults()
	out := make(chan uint64, opts.OutBuffer)
	errs := make(chan error, 16)

	go func() {
		defer close(out)
		defer close(errs)

		backoff := opts.BackoffMin
		for {
			if ctx.Err() != nil {
				return
			}
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				emitErrNonBlocking(errs, fmt.Errorf("heads dial: %w", err))
				_ = chain.SleepWithContext(ctx, chain.Jitter(backoff))
				backoff = nextBackoff(backoff, opts.BackoffMax)
				continue
			}
			backoff = opts.BackoffMin

			if err := runSession(ctx, conn, opts.PingInterval, out); err != nil && ctx.Err() == nil {
				emitErrNonBlocking(errs, err)
			}
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			_ = chain.SleepWithContext(ctx, chain.Jitter(backoff))
			backoff = nextBackoff(backoff, opts.BackoffMax)
		}
	}()
	return out, errs
}

func runSession(ctx context.Context, conn *websocket.Conn, pingInterval time.Duration, out chan<- uint64) error {
	req, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: "eth_subscribe", Params: []any{"newHeads"}})
	if err != nil {
		return fmt.Errorf("heads subscribe marshal: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return fmt.Errorf("heads subscribe write: %w", err)
	}

	var writeMu sync.Mutex
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() { stopOnce.Do(func() { close(stop) }) }
	defer stopAll()

	go func() {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-stop:
				return
			case <-t.C:
				writeMu.Lock()
				werr := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(3*time.Second))
				writeMu.Unlock()
				if werr != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	var subID string
	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("heads read: %w", err)
		}
		if typ != websocket.TextMessage || len(msg) == 0 {
			continue
		}
		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			return fmt.Errorf("heads decode: %w", err)
		}
		switch {
		case f.Error != nil:
			return fmt.Errorf("heads subscribe: %s (code %d)", f.Error.Message, f.Error.Code)
		case f.ID != nil:
			if err := json.Unmarshal(f.Result, &subID); err != nil {
				return fmt.Errorf("heads subscribe result: %w", err)
			}
		case f.Method == "eth_subscription" && f.Params != nil:
			if subID != "" && f.Params.Subscription != subID {
				continue
			}
			select {
			case out <- uint64(f.Params.Result.Number):
			default:
			}
		}
	}
}

func emitErrNonBlocking(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
