package conversation

import (
	"context"
	"errors"
	"fmt"
)

// EventType is emitted by the orchestrator for observability and streaming.
type EventType string

const (
	EventTypeSimulationStarted    EventType = "simulation_started"
	EventTypeMessage              EventType = "message"
	EventTypeToolResult           EventType = "tool_result"
	EventTypeSimulationTerminated EventType = "simulation_terminated"
	EventTypeSimulationFailed     EventType = "simulation_failed"
	EventTypeSimulationFinalized  EventType = "simulation_finalized"
)

// Event is intentionally compact so adapters can map it to logs, metrics, or streams.
type Event struct {
	RunID             string            `json:"run_id"`
	TaskID            string            `json:"task_id,omitempty"`
	Step              int               `json:"step"`
	Type              EventType         `json:"type"`
	From              Party             `json:"from,omitempty"`
	To                Party             `json:"to,omitempty"`
	Message           *Message          `json:"message,omitempty"`
	TerminationReason TerminationReason `json:"termination_reason,omitempty"`
	Description       string            `json:"description,omitempty"`
}

// CloneEvent returns a deep copy of an event.
func CloneEvent(in Event) Event {
	out := in
	if in.Message != nil {
		message := CloneMessage(*in.Message)
		out.Message = &message
	}
	return out
}

// ValidateEvent checks event payload invariants before publish boundaries.
func ValidateEvent(event Event) error {
	if event.Type == "" {
		return fmt.Errorf("%w: field=type reason=empty", ErrEventInvalid)
	}
	if event.RunID == "" {
		return fmt.Errorf("%w: field=run_id reason=empty type=%s", ErrEventInvalid, event.Type)
	}
	if event.Step < 0 {
		return fmt.Errorf(
			"%w: field=step reason=negative value=%d type=%s run_id=%q",
			ErrEventInvalid,
			event.Step,
			event.Type,
			event.RunID,
		)
	}

	switch event.Type {
	case EventTypeMessage:
		if event.Message == nil {
			return fmt.Errorf(
				"%w: field=message reason=nil type=%s run_id=%q step=%d",
				ErrEventInvalid,
				event.Type,
				event.RunID,
				event.Step,
			)
		}
	case EventTypeToolResult:
		if event.Message == nil {
			return fmt.Errorf(
				"%w: field=message reason=nil type=%s run_id=%q step=%d",
				ErrEventInvalid,
				event.Type,
				event.RunID,
				event.Step,
			)
		}
		if event.Message.Kind != KindTool {
			return fmt.Errorf(
				"%w: field=message.kind reason=not_tool value=%s type=%s run_id=%q step=%d",
				ErrEventInvalid,
				event.Message.Kind,
				event.Type,
				event.RunID,
				event.Step,
			)
		}
	case EventTypeSimulationTerminated:
		if !isKnownTerminationReason(event.TerminationReason) {
			return fmt.Errorf(
				"%w: field=termination_reason reason=unknown value=%q type=%s run_id=%q step=%d",
				ErrEventInvalid,
				event.TerminationReason,
				event.Type,
				event.RunID,
				event.Step,
			)
		}
	}

	return nil
}

func publishEvent(ctx context.Context, sink EventSink, event Event) error {
	if err := sink.Publish(ctx, event); err != nil {
		return errors.Join(
			ErrEventPublish,
			fmt.Errorf(
				"type=%s run_id=%s step=%d: %w",
				event.Type,
				event.RunID,
				event.Step,
				err,
			),
		)
	}
	return nil
}
