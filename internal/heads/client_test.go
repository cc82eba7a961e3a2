package heads

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHeadServer(t *testing.T, notices ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req rpcRequest
		if json.Unmarshal(msg, &req) != nil || req.Method != "eth_subscribe" {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"result":"0xabc"}`))
		for _, n := range notices {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(n))
		}
		// Hold the session open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func notice(sub, number string) string {
	return `{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"` + sub + `","result":{"number":"` + number + `"}}}`
}

func TestStart_EmitsHeadNumbers(t *testing.T) {
	srv := newHeadServer(t,
		notice("0xabc", "0x10"),
		notice("0xother", "0x99"),
		notice("0xabc", "0x11"),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, _ := Start(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), Options{})

	var got []uint64
	for len(got) < 2 {
		select {
		case n := <-out:
			got = append(got, n)
		case <-ctx.Done():
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []uint64{0x10, 0x11}, got)

	cancel()
	for range out {
	}
}

func TestStart_ReportsDialErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, errs := Start(ctx, "ws://127.0.0.1:1", Options{BackoffMin: 10 * time.Millisecond, BackoffMax: 20 * time.Millisecond})
	select {
	case err := <-errs:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "heads dial")
	case <-ctx.Done():
		t.Fatal("no dial error reported")
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	o := (Options{}).withDefaults()
	assert.Equal(t, DefaultPingInterval, o.PingInterval)
	assert.Positive(t, o.BackoffMin)
	assert.Positive(t, o.BackoffMax)
	assert.Positive(t, o.OutBuffer)
}

func TestNextBackoff_CapsAtMax(t *testing.T) {
	assert.Equal(t, 3*time.Second, nextBackoff(2*time.Second, 3*time.Second))
	assert.Equal(t, 500*time.Millisecond, nextBackoff(250*time.Millisecond, 3*time.Second))
}
