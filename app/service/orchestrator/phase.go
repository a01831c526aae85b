package orchestrator

import (
	"fmt"
	"slices"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseAwaitingReply
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseAwaitingReply:
		return "awaiting_reply"
	case PhaseError:
		return "error"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// transitions lists the phases reachable from each phase. Error is not terminal: it
// always falls back to Idle once the fallback reply is surfaced.
var transitions = map[Phase][]Phase{
	PhaseIdle:          {PhaseListening},
	PhaseListening:     {PhaseAwaitingReply, PhaseIdle},
	PhaseAwaitingReply: {PhaseIdle, PhaseError},
	PhaseError:         {PhaseIdle},
}

func canTransition(from, to Phase) bool {
	return slices.Contains(transitions[from], to)
}
