package chain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"

	"dex-gocopy/internal/faults"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeServerErrorMin = -32099
	codeServerErrorMax = -32000
)

// Classify attaches a fault kind to an RPC error. Context cancellation is
// returned untouched so callers can tell shutdown apart from provider trouble.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return faults.Wrap(kindOf(err), op, err)
}

func kindOf(err error) faults.Kind {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch code := rpcErr.ErrorCode(); {
		case code == codeParseError:
			return faults.Protocol
		case code == codeInvalidRequest, code == codeMethodNotFound, code == codeInvalidParams:
			return faults.Internal
		case code == codeInternalError:
			return faults.Provider
		case code >= codeServerErrorMin && code <= codeServerErrorMax:
			return faults.Provider
		case code == http.StatusTooManyRequests:
			return faults.Provider
		default:
			return faults.Protocol
		}
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests, httpErr.StatusCode >= 500:
			return faults.Provider
		case httpErr.StatusCode >= 400:
			return faults.Internal
		default:
			return faults.Protocol
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return faults.Provider
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, rpc.ErrClientQuit) {
		return faults.Provider
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return faults.Protocol
	}
	return faults.Protocol
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if k := faults.KindOf(err); k != faults.KindUnknown {
		return k.String()
	}
	return "canceled"
}
