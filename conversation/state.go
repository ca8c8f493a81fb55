package conversation

// State is the mutable record of one conversation.
//
// The Initializer creates it, Step is the only mutator afterwards, and the
// Finalizer reads it. The trajectory is append-only during a run.
type State struct {
	From              Party             `json:"from"`
	To                Party             `json:"to"`
	Current           *Message          `json:"current,omitempty"`
	Trajectory        []Message         `json:"trajectory"`
	AgentState        AgentState        `json:"-"`
	UserState         UserState         `json:"-"`
	StepCount         int               `json:"step_count"`
	NumErrors         int               `json:"num_errors"`
	Done              bool              `json:"done"`
	TerminationReason TerminationReason `json:"termination_reason,omitempty"`
}

// CloneState returns a deep copy of the conversation record. Party states are
// opaque and are copied by reference.
func CloneState(in State) State {
	out := in
	if in.Current != nil {
		current := CloneMessage(*in.Current)
		out.Current = &current
	}
	out.Trajectory = CloneMessages(in.Trajectory)
	return out
}

// countToolErrors counts tool messages flagged as failed.
func countToolErrors(trajectory []Message) int {
	count := 0
	for i := range trajectory {
		if trajectory[i].Kind == KindTool && trajectory[i].Error {
			count++
		}
	}
	return count
}
