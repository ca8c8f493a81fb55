package inmem

import (
	"context"
	"sync"

	"github.com/Gurpartap/convosim/conversation"
)

// Sink captures conversation events in memory and exposes deterministic snapshots.
type Sink struct {
	mu     sync.RWMutex
	events []conversation.Event
}

var _ conversation.EventSink = (*Sink)(nil)

func New() *Sink {
	return &Sink{events: make([]conversation.Event, 0)}
}

func (s *Sink) Publish(ctx context.Context, event conversation.Event) error {
	if ctx == nil {
		return conversation.ErrContextNil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err := conversation.ValidateEvent(event); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, conversation.CloneEvent(event))
	return nil
}

func (s *Sink) Events() []conversation.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]conversation.Event, len(s.events))
	for i := range s.events {
		out[i] = conversation.CloneEvent(s.events[i])
	}
	return out
}

// EventsForRun returns the events of one run in publish order.
func (s *Sink) EventsForRun(runID string) []conversation.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]conversation.Event, 0)
	for i := range s.events {
		if s.events[i].RunID == runID {
			out = append(out, conversation.CloneEvent(s.events[i]))
		}
	}
	return out
}
