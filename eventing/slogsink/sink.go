// Package slogsink writes conversation events as structured debug logs.
package slogsink

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Gurpartap/convosim/conversation"
	"github.com/Gurpartap/convosim/internal/config"
)

type Sink struct {
	logger    *slog.Logger
	logFormat config.LogFormat
}

var _ conversation.EventSink = Sink{}

// New returns a sink that logs through logger. JSON handlers receive the event
// as a structured attribute; text handlers receive it pre-encoded.
func New(logger *slog.Logger, logFormat config.LogFormat) conversation.EventSink {
	if logger == nil {
		return nil
	}
	if logFormat == "" {
		logFormat = config.LogFormatText
	}
	return Sink{
		logger:    logger,
		logFormat: logFormat,
	}
}

func (s Sink) Publish(ctx context.Context, event conversation.Event) error {
	if ctx == nil {
		return conversation.ErrContextNil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if s.logFormat == config.LogFormatJSON {
		s.logger.Debug("conversation event", slog.Any("event", event))
		return nil
	}

	eventPayload, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		return marshalErr
	}

	s.logger.Debug("conversation event", slog.String("event", string(eventPayload)))
	return nil
}
