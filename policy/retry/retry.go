package retry

import (
	"context"
	"errors"

	"github.com/Gurpartap/convosim/conversation"
)

// Config controls retry behavior for wrapped party calls and whole simulations.
type Config struct {
	MaxAttempts int
	ShouldRetry func(error) bool
}

// WrapAgent wraps an agent with deterministic, error-only retries of GenerateNextMessage.
// Every attempt receives the same incoming message and state.
func WrapAgent(agent conversation.Agent, cfg Config) conversation.Agent {
	if agent == nil {
		return nil
	}
	return &agentWrapper{
		Agent: agent,
		cfg:   cfg,
	}
}

type agentWrapper struct {
	conversation.Agent
	cfg Config
}

func (w *agentWrapper) GenerateNextMessage(
	ctx context.Context,
	incoming *conversation.Message,
	state conversation.AgentState,
) (conversation.Message, conversation.AgentState, error) {
	if ctx == nil {
		return conversation.Message{}, state, conversation.ErrContextNil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return conversation.Message{}, state, ctxErr
	}

	attempts := normalizedAttempts(w.cfg.MaxAttempts)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		var in *conversation.Message
		if incoming != nil {
			message := conversation.CloneMessage(*incoming)
			in = &message
		}
		msg, next, err := w.Agent.GenerateNextMessage(ctx, in, state)
		if err == nil {
			return msg, next, nil
		}
		lastErr = err
		if attempt == attempts || !shouldRetry(ctx, w.cfg, err) {
			break
		}
	}
	return conversation.Message{}, state, lastErr
}

// WrapUser wraps a user with deterministic, error-only retries of GenerateNextMessage.
// A DummyUser is returned unchanged: it never takes turns.
func WrapUser(user conversation.User, cfg Config) conversation.User {
	switch user.(type) {
	case nil:
		return nil
	case conversation.DummyUser, *conversation.DummyUser:
		return user
	}
	return &userWrapper{
		User: user,
		cfg:  cfg,
	}
}

type userWrapper struct {
	conversation.User
	cfg Config
}

func (w *userWrapper) GenerateNextMessage(
	ctx context.Context,
	incoming conversation.Message,
	state conversation.UserState,
) (conversation.Message, conversation.UserState, error) {
	if ctx == nil {
		return conversation.Message{}, state, conversation.ErrContextNil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return conversation.Message{}, state, ctxErr
	}

	attempts := normalizedAttempts(w.cfg.MaxAttempts)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		msg, next, err := w.User.GenerateNextMessage(ctx, conversation.CloneMessage(incoming), state)
		if err == nil {
			return msg, next, nil
		}
		lastErr = err
		if attempt == attempts || !shouldRetry(ctx, w.cfg, err) {
			break
		}
	}
	return conversation.Message{}, state, lastErr
}

// Do runs fn until it succeeds, the attempts are exhausted, or the error is not
// retryable. attempt starts at 1.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context, attempt int) error) error {
	if ctx == nil {
		return conversation.ErrContextNil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	attempts := normalizedAttempts(cfg.MaxAttempts)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == attempts || !shouldRetry(ctx, cfg, err) {
			break
		}
	}
	return lastErr
}

func normalizedAttempts(maxAttempts int) int {
	if maxAttempts < 1 {
		return 1
	}
	return maxAttempts
}

// shouldRetry never retries cancellation or protocol violations.
func shouldRetry(ctx context.Context, cfg Config, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, conversation.ErrProtocol) {
		return false
	}
	if cfg.ShouldRetry == nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return true
	}
	return cfg.ShouldRetry(err)
}
