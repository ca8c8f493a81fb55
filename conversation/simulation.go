package conversation

import (
	"maps"
	"time"
)

// SimulationRun is the immutable record of one finished conversation.
type SimulationRun struct {
	ID                string            `json:"id" yaml:"id"`
	TaskID            string            `json:"task_id" yaml:"task_id"`
	Timestamp         time.Time         `json:"timestamp" yaml:"timestamp"`
	StartTime         time.Time         `json:"start_time" yaml:"start_time"`
	EndTime           time.Time         `json:"end_time" yaml:"end_time"`
	Duration          float64           `json:"duration" yaml:"duration"`
	TerminationReason TerminationReason `json:"termination_reason" yaml:"termination_reason"`
	AgentCost         *float64          `json:"agent_cost,omitempty" yaml:"agent_cost,omitempty"`
	UserCost          *float64          `json:"user_cost,omitempty" yaml:"user_cost,omitempty"`
	Usage             map[string]int    `json:"usage,omitempty" yaml:"usage,omitempty"`
	Messages          []Message         `json:"messages" yaml:"messages"`
	Trial             int               `json:"trial" yaml:"trial"`
	Seed              *int64            `json:"seed,omitempty" yaml:"seed,omitempty"`
}

func newSimulationRun(
	id string,
	taskID string,
	startTime time.Time,
	endTime time.Time,
	reason TerminationReason,
	messages []Message,
	seed *int64,
) SimulationRun {
	agentCost, userCost := sumCosts(messages)
	run := SimulationRun{
		ID:                id,
		TaskID:            taskID,
		Timestamp:         endTime,
		StartTime:         startTime,
		EndTime:           endTime,
		Duration:          endTime.Sub(startTime).Seconds(),
		TerminationReason: reason,
		AgentCost:         agentCost,
		UserCost:          userCost,
		Usage:             sumUsage(messages),
		Messages:          messages,
	}
	if seed != nil {
		value := *seed
		run.Seed = &value
	}
	return run
}

// sumCosts totals the cost reported on assistant and user messages. Both
// totals are nil when any participant message did not report a cost.
func sumCosts(messages []Message) (*float64, *float64) {
	var agentCost, userCost float64
	for i := range messages {
		message := messages[i]
		switch message.Kind {
		case KindAssistant, KindUser:
		default:
			continue
		}
		if message.Cost == nil {
			return nil, nil
		}
		if message.Kind == KindAssistant {
			agentCost += *message.Cost
		} else {
			userCost += *message.Cost
		}
	}
	return &agentCost, &userCost
}

// sumUsage totals the token usage counters reported in the trajectory.
func sumUsage(messages []Message) map[string]int {
	var usage map[string]int
	for i := range messages {
		if len(messages[i].Usage) == 0 {
			continue
		}
		if usage == nil {
			usage = make(map[string]int, len(messages[i].Usage))
		}
		for key, value := range messages[i].Usage {
			usage[key] += value
		}
	}
	return usage
}

// CloneSimulationRun returns a deep copy of run.
func CloneSimulationRun(in SimulationRun) SimulationRun {
	out := in
	out.Messages = CloneMessages(in.Messages)
	out.Usage = maps.Clone(in.Usage)
	if in.AgentCost != nil {
		cost := *in.AgentCost
		out.AgentCost = &cost
	}
	if in.UserCost != nil {
		cost := *in.UserCost
		out.UserCost = &cost
	}
	if in.Seed != nil {
		seed := *in.Seed
		out.Seed = &seed
	}
	return out
}
