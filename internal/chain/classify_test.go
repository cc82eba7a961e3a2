package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"

	"dex-gocopy/internal/faults"
)

type jsonRPCError struct {
	code int
	msg  string
}

func (e jsonRPCError) Error() string  { return e.msg }
func (e jsonRPCError) ErrorCode() int { return e.code }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want faults.Kind
	}{
		{"parse error", jsonRPCError{-32700, "parse error"}, faults.Protocol},
		{"invalid request", jsonRPCError{-32600, "invalid request"}, faults.Internal},
		{"method not found", jsonRPCError{-32601, "the method does not exist"}, faults.Internal},
		{"invalid params", jsonRPCError{-32602, "invalid argument 0"}, faults.Internal},
		{"internal error", jsonRPCError{-32603, "internal error"}, faults.Provider},
		{"limit exceeded", jsonRPCError{-32005, "limit exceeded"}, faults.Provider},
		{"rate limited code", jsonRPCError{429, "too many requests"}, faults.Provider},
		{"execution reverted", jsonRPCError{3, "execution reverted"}, faults.Protocol},
		{"http 429", rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, faults.Provider},
		{"http 502", rpc.HTTPError{StatusCode: 502, Status: "502 Bad Gateway"}, faults.Provider},
		{"http 401", rpc.HTTPError{StatusCode: 401, Status: "401 Unauthorized"}, faults.Internal},
		{"net timeout", fmt.Errorf("post: %w", timeoutErr{}), faults.Provider},
		{"eof", fmt.Errorf("read: %w", io.EOF), faults.Provider},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), faults.Provider},
		{"bad json", &json.SyntaxError{Offset: 3}, faults.Protocol},
		{"unknown", errors.New("something odd"), faults.Protocol},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify("eth_call", tc.err)
			assert.Equal(t, tc.want, faults.KindOf(err))
			// HTTPError carries a body slice, so it is not comparable.
			if want, ok := tc.err.(rpc.HTTPError); ok {
				var got rpc.HTTPError
				if assert.ErrorAs(t, err, &got) {
					assert.Equal(t, want.StatusCode, got.StatusCode)
				}
				return
			}
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestClassifyPassesThroughCancellation(t *testing.T) {
	assert.NoError(t, Classify("x", nil))
	assert.Same(t, context.Canceled, Classify("x", context.Canceled))
	wrapped := fmt.Errorf("post: %w", context.DeadlineExceeded)
	assert.Equal(t, wrapped, Classify("x", wrapped))
	assert.Equal(t, "canceled", resultLabel(wrapped))
	assert.Equal(t, "ok", resultLabel(nil))
}
