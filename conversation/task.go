package conversation

// EnvType selects which toolkit an environment function runs against.
type EnvType string

const (
	EnvTypeAssistant EnvType = "assistant"
	EnvTypeUser      EnvType = "user"
)

// EnvFunctionCall is an environment function applied while setting up a task.
type EnvFunctionCall struct {
	EnvType   EnvType        `json:"env_type" yaml:"env_type"`
	FuncName  string         `json:"func_name" yaml:"func_name"`
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// InitializationData seeds the agent-side and user-side databases of an environment.
type InitializationData struct {
	AgentData map[string]any `json:"agent_data,omitempty" yaml:"agent_data,omitempty"`
	UserData  map[string]any `json:"user_data,omitempty" yaml:"user_data,omitempty"`
}

// InitialState describes where a task starts: environment seed data and an
// optional partial message history to resume from.
type InitialState struct {
	InitializationData    *InitializationData `json:"initialization_data,omitempty" yaml:"initialization_data,omitempty"`
	InitializationActions []EnvFunctionCall   `json:"initialization_actions,omitempty" yaml:"initialization_actions,omitempty"`
	MessageHistory        []Message           `json:"message_history,omitempty" yaml:"message_history,omitempty"`
}

// Task is the unit a simulation runs against.
type Task struct {
	ID           string        `json:"id" yaml:"id"`
	InitialState *InitialState `json:"initial_state,omitempty" yaml:"initial_state,omitempty"`
}

// CloneInitialState returns a deep copy of s.
func CloneInitialState(s InitialState) InitialState {
	out := s
	if s.InitializationData != nil {
		data := InitializationData{
			AgentData: cloneArguments(s.InitializationData.AgentData),
			UserData:  cloneArguments(s.InitializationData.UserData),
		}
		out.InitializationData = &data
	}
	if s.InitializationActions != nil {
		out.InitializationActions = make([]EnvFunctionCall, len(s.InitializationActions))
		for i := range s.InitializationActions {
			action := s.InitializationActions[i]
			action.Arguments = cloneArguments(action.Arguments)
			out.InitializationActions[i] = action
		}
	}
	out.MessageHistory = CloneMessages(s.MessageHistory)
	return out
}
