// Package faults classifies errors that cross subsystem boundaries.
//
// Callers decide what to do with an error by its Kind: only Provider faults
// are worth retrying, everything else is surfaced as-is.
package faults

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// Provider: transient upstream trouble (rate limits, timeouts, dropped connections).
	Provider
	// Internal: a malformed request on our side.
	Internal
	// Protocol: decode or transport errors inherent to the wire protocol.
	Protocol
	// Data: on-chain data that does not have the expected shape.
	Data
	// Economic: inputs that make a trade plan impossible to compute.
	Economic
	// Exhaustion: a retry or polling budget ran out.
	Exhaustion
)

func (k Kind) String() string {
	switch k {
	case Provider:
		return "provider"
	case Internal:
		return "internal"
	case Protocol:
		return "protocol"
	case Data:
		return "data"
	case Economic:
		return "economic"
	case Exhaustion:
		return "exhaustion"
	default:
		return "unknown"
	}
}

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s fault: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s fault: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap returns nil when err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the outermost Kind attached to err, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func Retryable(err error) bool {
	return Is(err, Provider)
}
