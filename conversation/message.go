package conversation

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// MessageKind discriminates the closed set of message variants.
type MessageKind string

const (
	KindSystem    MessageKind = "system"
	KindUser      MessageKind = "user"
	KindAssistant MessageKind = "assistant"
	KindTool      MessageKind = "tool"
	KindMultiTool MessageKind = "multi_tool"
)

// MessageKinds lists every variant of the union. Switches over MessageKind must handle all of them.
func MessageKinds() []MessageKind {
	return []MessageKind{KindSystem, KindUser, KindAssistant, KindTool, KindMultiTool}
}

// Role returns the wire role for the variant.
func (k MessageKind) Role() (Role, error) {
	switch k {
	case KindSystem:
		return RoleSystem, nil
	case KindUser:
		return RoleUser, nil
	case KindAssistant:
		return RoleAssistant, nil
	case KindTool, KindMultiTool:
		return RoleTool, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMessageKind, k)
	}
}

// Message is one unit of conversation.
//
// Fields are populated per Kind:
//   - system: Content.
//   - user, assistant: Content and/or ToolCalls, Cost, Usage.
//   - tool: ID (the answered call), Content, Requestor, Error.
//   - multi_tool: ToolMessages, each of kind tool.
//
// TurnIdx is assigned only when the trajectory is finalized.
type Message struct {
	Kind         MessageKind    `json:"kind" yaml:"kind"`
	Role         Role           `json:"role" yaml:"role"`
	Content      string         `json:"content,omitempty" yaml:"content,omitempty"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	ID           string         `json:"id,omitempty" yaml:"id,omitempty"`
	Requestor    Requestor      `json:"requestor,omitempty" yaml:"requestor,omitempty"`
	Error        bool           `json:"error,omitempty" yaml:"error,omitempty"`
	ToolMessages []Message      `json:"tool_messages,omitempty" yaml:"tool_messages,omitempty"`
	Timestamp    time.Time      `json:"timestamp" yaml:"timestamp,omitempty"`
	TurnIdx      *int           `json:"turn_idx,omitempty" yaml:"turn_idx,omitempty"`
	Cost         *float64       `json:"cost,omitempty" yaml:"cost,omitempty"`
	Usage        map[string]int `json:"usage,omitempty" yaml:"usage,omitempty"`
}

func NewSystemMessage(content string) Message {
	return Message{Kind: KindSystem, Role: RoleSystem, Content: content}
}

func NewAssistantMessage(content string) Message {
	return Message{Kind: KindAssistant, Role: RoleAssistant, Content: content}
}

// NewAssistantToolCallMessage builds an assistant turn that only issues tool calls.
func NewAssistantToolCallMessage(calls ...ToolCall) Message {
	return Message{
		Kind:      KindAssistant,
		Role:      RoleAssistant,
		ToolCalls: stampRequestor(calls, RequestorAssistant),
	}
}

func NewUserMessage(content string) Message {
	return Message{Kind: KindUser, Role: RoleUser, Content: content}
}

// NewUserToolCallMessage builds a user turn that only issues tool calls.
func NewUserToolCallMessage(calls ...ToolCall) Message {
	return Message{
		Kind:      KindUser,
		Role:      RoleUser,
		ToolCalls: stampRequestor(calls, RequestorUser),
	}
}

// NewToolMessage builds the environment's answer to the call identified by id.
func NewToolMessage(id, content string, requestor Requestor, failed bool) Message {
	return Message{
		Kind:      KindTool,
		Role:      RoleTool,
		ID:        id,
		Content:   content,
		Requestor: requestor,
		Error:     failed,
	}
}

// NewMultiToolMessage packages the tool messages of one multi-call turn into a single routable unit.
func NewMultiToolMessage(toolMessages []Message) Message {
	return Message{
		Kind:         KindMultiTool,
		Role:         RoleTool,
		ToolMessages: CloneMessages(toolMessages),
	}
}

func stampRequestor(calls []ToolCall, requestor Requestor) []ToolCall {
	out := CloneToolCalls(calls)
	for i := range out {
		out[i].Requestor = requestor
	}
	return out
}

// IsToolCall reports whether a participant message carries at least one tool call.
func (m Message) IsToolCall() bool {
	switch m.Kind {
	case KindUser, KindAssistant:
		return len(m.ToolCalls) > 0
	default:
		return false
	}
}

// HasTextContent reports whether the message carries non-blank content.
func (m Message) HasTextContent() bool {
	return strings.TrimSpace(m.Content) != ""
}

// Validate checks the structural invariants of the message variant.
// A participant message must carry either content or tool calls; when both are
// present the turn is dispatched as a tool call.
func (m Message) Validate() error {
	var err error
	switch m.Kind {
	case KindSystem:
		err = expectRole(m, RoleSystem)
	case KindUser, KindAssistant:
		err = validateParticipantMessage(m)
	case KindTool:
		err = validateToolMessage(m)
	case KindMultiTool:
		err = validateMultiToolMessage(m)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownMessageKind, m.Kind)
	}
	if err != nil {
		return protocolError("", "", -1, m.Kind, err)
	}
	return nil
}

func expectRole(m Message, want Role) error {
	if m.Role != want {
		return fmt.Errorf("%w: field=role reason=mismatch kind=%s value=%q", ErrUnknownMessageKind, m.Kind, m.Role)
	}
	return nil
}

func validateParticipantMessage(m Message) error {
	want, _ := m.Kind.Role()
	if err := expectRole(m, want); err != nil {
		return err
	}
	if !m.HasTextContent() && !m.IsToolCall() {
		return fmt.Errorf("%w: role=%s", ErrEmptyMessage, m.Role)
	}
	requestor, _ := m.Role.requestor()
	for i := range m.ToolCalls {
		call := m.ToolCalls[i]
		if err := validateToolCall(call); err != nil {
			return err
		}
		if call.Requestor != "" && call.Requestor != requestor {
			return fmt.Errorf(
				"%w: field=requestor reason=mismatch value=%q role=%s id=%q",
				ErrToolCallInvalid,
				call.Requestor,
				m.Role,
				call.ID,
			)
		}
	}
	return nil
}

func validateToolMessage(m Message) error {
	if err := expectRole(m, RoleTool); err != nil {
		return err
	}
	if _, ok := requestorParty(m.Requestor); !ok {
		return fmt.Errorf("%w: value=%q id=%q", ErrInvalidRequestor, m.Requestor, m.ID)
	}
	return nil
}

func validateMultiToolMessage(m Message) error {
	if err := expectRole(m, RoleTool); err != nil {
		return err
	}
	if len(m.ToolMessages) == 0 {
		return fmt.Errorf("%w: field=tool_messages reason=empty", ErrUnexpectedToolMessage)
	}
	for i := range m.ToolMessages {
		if m.ToolMessages[i].Kind != KindTool {
			return fmt.Errorf(
				"%w: field=tool_messages[%d] reason=kind value=%s",
				ErrUnexpectedToolMessage,
				i,
				m.ToolMessages[i].Kind,
			)
		}
		if err := validateToolMessage(m.ToolMessages[i]); err != nil {
			return err
		}
	}
	return nil
}

// Flatten returns the trajectory-level messages carried by m: the packaged
// tool messages of a multi-tool message, or m itself.
func (m Message) Flatten() []Message {
	if m.Kind == KindMultiTool {
		return CloneMessages(m.ToolMessages)
	}
	return []Message{CloneMessage(m)}
}

// CloneMessage returns a deep copy suitable for isolation across component boundaries.
func CloneMessage(in Message) Message {
	out := in
	out.ToolCalls = CloneToolCalls(in.ToolCalls)
	if in.ToolMessages != nil {
		out.ToolMessages = CloneMessages(in.ToolMessages)
	}
	if in.TurnIdx != nil {
		turnIdx := *in.TurnIdx
		out.TurnIdx = &turnIdx
	}
	if in.Cost != nil {
		cost := *in.Cost
		out.Cost = &cost
	}
	out.Usage = maps.Clone(in.Usage)
	return out
}

// CloneMessages returns deep copies of all messages.
func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i := range in {
		out[i] = CloneMessage(in[i])
	}
	return out
}
