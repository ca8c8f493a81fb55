package conversation

import "fmt"

// TerminationReason records why a conversation stopped.
type TerminationReason string

const (
	TerminationAgentStop     TerminationReason = "agent_stop"
	TerminationUserStop      TerminationReason = "user_stop"
	TerminationMaxSteps      TerminationReason = "max_steps"
	TerminationTooManyErrors TerminationReason = "too_many_errors"
)

// Stop tokens recognised by the reference parties.
const (
	StopToken       = "###STOP###"
	TransferToken   = "###TRANSFER###"
	OutOfScopeToken = "###OUT-OF-SCOPE###"
)

func isKnownTerminationReason(reason TerminationReason) bool {
	switch reason {
	case TerminationAgentStop, TerminationUserStop, TerminationMaxSteps, TerminationTooManyErrors:
		return true
	default:
		return false
	}
}

// terminate marks the state done. Done is monotone and a reason is assigned at most once.
func terminate(state *State, reason TerminationReason) error {
	if !isKnownTerminationReason(reason) {
		return fmt.Errorf("%w: unknown reason %q", ErrTerminationInvalid, reason)
	}
	if state.Done {
		return fmt.Errorf("%w: %s -> %s", ErrTerminationInvalid, state.TerminationReason, reason)
	}
	state.Done = true
	state.TerminationReason = reason
	return nil
}
