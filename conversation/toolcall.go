package conversation

import "fmt"

// ToolCall is a structured request from the agent or the user asking the
// environment to execute a named operation. It is treated as immutable once
// created; every boundary crossing works on a CloneToolCall copy.
type ToolCall struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Requestor Requestor      `json:"requestor,omitempty" yaml:"requestor,omitempty"`
}

// NewToolCall builds a tool call issued by the assistant.
func NewToolCall(id, name string, arguments map[string]any) ToolCall {
	return ToolCall{
		ID:        id,
		Name:      name,
		Arguments: cloneArguments(arguments),
		Requestor: RequestorAssistant,
	}
}

// CloneToolCall returns a deep copy of a tool call, including nested argument values.
func CloneToolCall(in ToolCall) ToolCall {
	out := in
	out.Arguments = cloneArguments(in.Arguments)
	return out
}

// CloneToolCalls returns deep copies of all tool calls.
func CloneToolCalls(in []ToolCall) []ToolCall {
	if in == nil {
		return nil
	}
	out := make([]ToolCall, len(in))
	for i := range in {
		out[i] = CloneToolCall(in[i])
	}
	return out
}

func validateToolCall(call ToolCall) error {
	if call.Name == "" {
		return fmt.Errorf("%w: field=name reason=empty id=%q", ErrToolCallInvalid, call.ID)
	}
	switch call.Requestor {
	case "", RequestorAssistant, RequestorUser:
	default:
		return fmt.Errorf(
			"%w: field=requestor reason=unknown value=%q id=%q",
			ErrToolCallInvalid,
			call.Requestor,
			call.ID,
		)
	}
	return nil
}

func cloneArguments(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(in any) any {
	switch value := in.(type) {
	case map[string]any:
		return cloneArguments(value)
	case []any:
		out := make([]any, len(value))
		for i := range value {
			out[i] = cloneValue(value[i])
		}
		return out
	case []string:
		return append([]string(nil), value...)
	default:
		return value
	}
}
