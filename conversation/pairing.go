package conversation

import (
	"errors"
	"fmt"
)

// ErrMessageKindNotAllowed is returned when a trajectory holds a variant that never appears in one.
var ErrMessageKindNotAllowed = errors.New("message kind not allowed in trajectory")

// ValidateTurnPairing checks that every assistant or user message with k tool
// calls is followed by exactly k tool messages answering that requestor before
// the next assistant or user message. Calls still pending at the end of the
// sequence are allowed: a run may stop right after a tool-call turn.
func ValidateTurnPairing(messages []Message) error {
	_, err := scanTurnPairing(messages)
	return err
}

// scanTurnPairing validates the sequence and returns the number of tool
// messages still owed at its end.
func scanTurnPairing(messages []Message) (int, error) {
	pending := 0
	var requestor Requestor
	for i := range messages {
		message := messages[i]
		switch message.Kind {
		case KindAssistant, KindUser:
			if err := message.Validate(); err != nil {
				return 0, atIndex(err, i)
			}
			if pending > 0 {
				return 0, protocolError("", "", i, message.Kind, fmt.Errorf(
					"%w: count=%d got=%s",
					ErrMissingToolMessages,
					pending,
					message.Role,
				))
			}
			if message.IsToolCall() {
				pending = len(message.ToolCalls)
				requestor, _ = message.Role.requestor()
			} else {
				pending = 0
				requestor = ""
			}
		case KindTool:
			if err := message.Validate(); err != nil {
				return 0, atIndex(err, i)
			}
			if pending == 0 || requestor == "" {
				return 0, protocolError("", "", i, message.Kind, fmt.Errorf(
					"%w: id=%q requestor=%s",
					ErrUnexpectedToolMessage,
					message.ID,
					message.Requestor,
				))
			}
			if message.Requestor != requestor {
				return 0, protocolError("", "", i, message.Kind, fmt.Errorf(
					"%w: got=%s want=%s id=%q",
					ErrToolRequestorMismatch,
					message.Requestor,
					requestor,
					message.ID,
				))
			}
			pending--
		case KindSystem, KindMultiTool:
			return 0, protocolError("", "", i, message.Kind, ErrMessageKindNotAllowed)
		default:
			return 0, protocolError("", "", i, message.Kind, fmt.Errorf("%w: %q", ErrUnknownMessageKind, message.Kind))
		}
	}
	return pending, nil
}

// atIndex records the trajectory position on a protocol error produced by Validate.
func atIndex(err error, index int) error {
	var protocolErr *ProtocolError
	if errors.As(err, &protocolErr) {
		located := *protocolErr
		located.Index = index
		return &located
	}
	return err
}

// withRolePair records the transition being executed on a protocol error.
func withRolePair(err error, from, to Party, index int) error {
	var protocolErr *ProtocolError
	if errors.As(err, &protocolErr) {
		located := *protocolErr
		located.From = from
		located.To = to
		located.Index = index
		return &located
	}
	return protocolError(from, to, index, "", err)
}
