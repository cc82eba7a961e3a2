package txtrack

import (
	"fmt"

	"dex-gocopy/internal/faults"
)

// Phase is where a confirmation wait stands.
type Phase int

const (
	PhaseSubmitted Phase = iota
	PhaseAwaitingConfirmations
	PhaseConfirmed
	PhaseReverted
	PhaseExhausted
)

func (p Phase) String() string {
	switch p {
	case PhaseSubmitted:
		return "submitted"
	case PhaseAwaitingConfirmations:
		return "awaiting_confirmations"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseReverted:
		return "reverted"
	case PhaseExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal phases end a wait. Reverted may still be left through a resubmission.
func (p Phase) Terminal() bool {
	return p == PhaseConfirmed || p == PhaseReverted || p == PhaseExhausted
}

type Event int

const (
	EventNotFound Event = iota
	EventPending
	EventReceiptSeen
	EventWaiting
	EventReorged
	EventConfirmed
	EventRevertConfirmed
	EventDropped
	EventBudgetSpent
	EventResubmitted
)

func (e Event) String() string {
	switch e {
	case EventNotFound:
		return "not_found"
	case EventPending:
		return "pending"
	case EventReceiptSeen:
		return "receipt_seen"
	case EventWaiting:
		return "waiting"
	case EventReorged:
		return "reorged"
	case EventConfirmed:
		return "confirmed"
	case EventRevertConfirmed:
		return "revert_confirmed"
	case EventDropped:
		return "dropped"
	case EventBudgetSpent:
		return "budget_spent"
	case EventResubmitted:
		return "resubmitted"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

var transitions = map[Phase]map[Event]Phase{
	PhaseSubmitted: {
		EventNotFound:    PhaseSubmitted,
		EventPending:     PhaseSubmitted,
		EventReceiptSeen: PhaseAwaitingConfirmations,
		EventDropped:     PhaseReverted,
		EventBudgetSpent: PhaseExhausted,
	},
	PhaseAwaitingConfirmations: {
		EventWaiting:         PhaseAwaitingConfirmations,
		EventReorged:         PhaseSubmitted,
		EventConfirmed:       PhaseConfirmed,
		EventRevertConfirmed: PhaseReverted,
		EventBudgetSpent:     PhaseExhausted,
	},
	PhaseReverted: {
		EventResubmitted: PhaseSubmitted,
	},
}

// Next returns the phase ev leads to, or an Internal fault when ev is not
// allowed in p.
func (p Phase) Next(ev Event) (Phase, error) {
	if next, ok := transitions[p][ev]; ok {
		return next, nil
	}
	return p, faults.New(faults.Internal, "confirmation state machine",
		fmt.Sprintf("event %s not allowed in phase %s", ev, p))
}
