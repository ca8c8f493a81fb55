package conversation

import "context"

// AgentState is the opaque per-run state owned by an Agent implementation.
// The orchestrator stores it and hands it back on the next call; it never inspects it.
type AgentState any

// UserState is the opaque per-run state owned by a User implementation.
type UserState any

// Agent answers user and tool messages with assistant messages.
type Agent interface {
	// InitState builds the agent state from the messages the agent is allowed to see.
	InitState(ctx context.Context, history []Message) (AgentState, error)
	// GenerateNextMessage produces the next assistant message. incoming is nil only
	// for the first turn of a solo run.
	GenerateNextMessage(ctx context.Context, incoming *Message, state AgentState) (Message, AgentState, error)
	IsStop(message Message) bool
	SetSeed(seed int64)
}

// User answers assistant and tool messages with user messages.
type User interface {
	InitState(ctx context.Context, history []Message) (UserState, error)
	GenerateNextMessage(ctx context.Context, incoming Message, state UserState) (Message, UserState, error)
	IsStop(message Message) bool
	SetSeed(seed int64)
}

// Environment executes tool calls against the sandboxed domain backend.
//
// GetResponse reports tool-level failures as data: the returned tool message
// has Error set. A non-nil error means the environment itself failed and aborts
// the run.
type Environment interface {
	SetState(ctx context.Context, state InitialState) error
	GetResponse(ctx context.Context, call ToolCall) (Message, error)
	SyncTools(ctx context.Context) error
	SoloMode() bool
}

// IsAgentHistoryMessage reports whether an agent may see m in its seed history:
// assistant messages, user messages without tool calls, and tool messages
// answering the assistant.
func IsAgentHistoryMessage(m Message) bool {
	switch m.Kind {
	case KindAssistant:
		return true
	case KindUser:
		return !m.IsToolCall()
	case KindTool:
		return m.Requestor == RequestorAssistant
	case KindSystem, KindMultiTool:
		return false
	default:
		return false
	}
}

// IsUserHistoryMessage is the mirror of IsAgentHistoryMessage for the user.
func IsUserHistoryMessage(m Message) bool {
	switch m.Kind {
	case KindUser:
		return true
	case KindAssistant:
		return !m.IsToolCall()
	case KindTool:
		return m.Requestor == RequestorUser
	case KindSystem, KindMultiTool:
		return false
	default:
		return false
	}
}

func filterHistory(history []Message, keep func(Message) bool) []Message {
	out := make([]Message, 0, len(history))
	for i := range history {
		if keep(history[i]) {
			out = append(out, CloneMessage(history[i]))
		}
	}
	return out
}
