package conversation

import (
	"slices"
	"time"
)

// Trajectory returns the finalized message sequence: a deep copy of the
// recorded trajectory, stably ordered by timestamp, with TurnIdx assigned
// 0..n-1. The whole sequence is checked for tool-call pairing.
func (o *Orchestrator) Trajectory() ([]Message, error) {
	if !o.initialized {
		return nil, ErrNotInitialized
	}
	return finalizeTrajectory(o.state.Trajectory)
}

// Finalize builds the output record for the run. It may be called before
// the conversation is done, in which case the termination reason is empty.
func (o *Orchestrator) Finalize(startTime, endTime time.Time) (SimulationRun, error) {
	messages, err := o.Trajectory()
	if err != nil {
		return SimulationRun{}, err
	}
	return newSimulationRun(
		o.runID,
		o.task.ID,
		startTime,
		endTime,
		o.state.TerminationReason,
		messages,
		o.cfg.Seed,
	), nil
}

func finalizeTrajectory(trajectory []Message) ([]Message, error) {
	messages := CloneMessages(trajectory)
	if messages == nil {
		messages = []Message{}
	}
	slices.SortStableFunc(messages, func(a, b Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	for i := range messages {
		turnIdx := i
		messages[i].TurnIdx = &turnIdx
	}
	if err := ValidateTurnPairing(messages); err != nil {
		return nil, err
	}
	return messages, nil
}
