package conversation

import "context"

// IDGenerator creates simulation run IDs at the orchestrator boundary.
type IDGenerator interface {
	NewRunID(ctx context.Context) (string, error)
}

// EventSink receives normalized conversation events.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

type noopEventSink struct{}

func (noopEventSink) Publish(context.Context, Event) error {
	return nil
}
