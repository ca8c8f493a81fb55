package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol is the root of every message-sequencing failure. It is fatal to the run.
	ErrProtocol = errors.New("conversation protocol violation")

	// ErrEmptyMessage is returned when a participant message has neither content nor tool calls.
	ErrEmptyMessage = errors.New("message has neither content nor tool calls")
	// ErrUnknownMessageKind is returned when a message carries a kind outside the closed set.
	ErrUnknownMessageKind = errors.New("unknown message kind")
	// ErrToolCallInvalid is returned when a tool call has an invalid shape.
	ErrToolCallInvalid = errors.New("tool call is invalid")
	// ErrIllegalTransition is returned when the (from, to) party pair matches no step transition.
	ErrIllegalTransition = errors.New("illegal role transition")
	// ErrNonToolCallToEnvironment is returned when a non tool-call message is handed to the environment.
	ErrNonToolCallToEnvironment = errors.New("non tool-call message sent to environment")
	// ErrToolResponseMismatch is returned when the environment answers a call with another call's ID.
	ErrToolResponseMismatch = errors.New("tool response does not answer the tool call")
	// ErrUnexpectedToolMessage is returned when a tool message appears without a pending call.
	ErrUnexpectedToolMessage = errors.New("unexpected tool message")
	// ErrMissingToolMessages is returned when a participant speaks before its pending calls are answered.
	ErrMissingToolMessages = errors.New("tool messages are missing")
	// ErrToolRequestorMismatch is returned when a tool message answers a different requestor.
	ErrToolRequestorMismatch = errors.New("tool message requestor mismatch")
	// ErrInvalidHistoryTail is returned when a resumed history ends with a message that cannot be resumed.
	ErrInvalidHistoryTail = errors.New("invalid last message in history")
	// ErrUnexpectedMessageKind is returned when a party produces a variant it does not own.
	ErrUnexpectedMessageKind = errors.New("unexpected message kind")
	// ErrInvalidRequestor is returned when a tool message names no known requestor.
	ErrInvalidRequestor = errors.New("invalid tool requestor")

	// ErrConversationDone is returned by Step once the conversation has terminated.
	ErrConversationDone = errors.New("conversation is done")
	// ErrNotInitialized is returned when Step or Trajectory is called before Initialize.
	ErrNotInitialized = errors.New("conversation is not initialized")
	// ErrAlreadyInitialized is returned when Initialize is called twice.
	ErrAlreadyInitialized = errors.New("conversation is already initialized")
	// ErrTerminationInvalid is returned when a second termination reason is assigned.
	ErrTerminationInvalid = errors.New("invalid termination transition")
	// ErrSoloModeMismatch is returned when the parties disagree about solo mode.
	ErrSoloModeMismatch = errors.New("solo mode mismatch")

	// ErrMissingAgent is returned when New is called without an agent.
	ErrMissingAgent = errors.New("missing agent")
	// ErrMissingUser is returned when New is called without a user.
	ErrMissingUser = errors.New("missing user")
	// ErrMissingEnvironment is returned when New is called without an environment.
	ErrMissingEnvironment = errors.New("missing environment")
	// ErrConfigInvalid is returned when a Config fails validation.
	ErrConfigInvalid = errors.New("config is invalid")
	// ErrEventInvalid is returned when an event fails payload validation.
	ErrEventInvalid = errors.New("event is invalid")
	// ErrEventPublish wraps event sink failures.
	ErrEventPublish = errors.New("event publish failed")
	// ErrContextNil is returned when a nil context is passed to a blocking operation.
	ErrContextNil = errors.New("context is nil")
)

// ProtocolError reports a sequencing failure together with the role pair and
// message position that caused it.
type ProtocolError struct {
	From  Party
	To    Party
	Index int
	Kind  MessageKind
	Err   error
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return ErrProtocol.Error()
	}
	message := ErrProtocol.Error()
	if e.From != "" || e.To != "" {
		message += fmt.Sprintf(": from=%s to=%s", e.From, e.To)
	}
	if e.Index >= 0 {
		message += fmt.Sprintf(" index=%d", e.Index)
	}
	if e.Kind != "" {
		message += fmt.Sprintf(" kind=%s", e.Kind)
	}
	if e.Err != nil {
		return message + ": " + e.Err.Error()
	}
	return message
}

func (e *ProtocolError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{ErrProtocol}
	}
	return []error{ErrProtocol, e.Err}
}

func protocolError(from, to Party, index int, kind MessageKind, err error) error {
	return &ProtocolError{
		From:  from,
		To:    to,
		Index: index,
		Kind:  kind,
		Err:   err,
	}
}

// PartyError wraps a failure raised by an Agent, User, or Environment implementation.
type PartyError struct {
	Party Party
	Op    string
	Err   error
}

func (e *PartyError) Error() string {
	if e == nil {
		return "party error"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s %s failed", e.Party, e.Op)
	}
	return fmt.Sprintf("%s %s: %v", e.Party, e.Op, e.Err)
}

func (e *PartyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func partyError(party Party, op string, err error) error {
	if err == nil {
		return nil
	}
	return &PartyError{Party: party, Op: op, Err: err}
}
