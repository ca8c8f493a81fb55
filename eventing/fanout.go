// Package eventing composes conversation event sinks.
package eventing

import (
	"context"
	"errors"

	"github.com/Gurpartap/convosim/conversation"
)

// Fanout publishes every event to each sink in order and joins their failures.
type Fanout struct {
	sinks []conversation.EventSink
}

var _ conversation.EventSink = Fanout{}

func NewFanout(sinks ...conversation.EventSink) Fanout {
	filtered := make([]conversation.EventSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return Fanout{sinks: filtered}
}

func (s Fanout) Publish(ctx context.Context, event conversation.Event) error {
	var result error
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			result = errors.Join(result, err)
		}
	}
	return result
}
