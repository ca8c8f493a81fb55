package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/Gurpartap/convosim/conversation"
)

var (
	ErrToolUnregistered = errors.New("tool is not registered")
	ErrNilHandler       = errors.New("tool handler is nil")
	ErrToolNameEmpty    = errors.New("tool name is empty")
)

// Handler executes one tool call using parsed arguments. A string result is
// used verbatim as tool content; any other result is JSON-encoded.
type Handler func(ctx context.Context, arguments map[string]any) (any, error)

// Toolkit stores handlers by tool name and executes tool calls.
type Toolkit struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func New(initial map[string]Handler) *Toolkit {
	handlers := make(map[string]Handler, len(initial))
	maps.Copy(handlers, initial)
	return &Toolkit{handlers: handlers}
}

func (t *Toolkit) Register(name string, handler Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[name] = handler
}

// Names returns the registered tool names in lexical order.
func (t *Toolkit) Names() []string {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Has reports whether name is registered.
func (t *Toolkit) Has(name string) bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.handlers[name]
	return ok
}

// Execute runs the named handler and returns its encoded content.
func (t *Toolkit) Execute(ctx context.Context, call conversation.ToolCall) (string, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if call.Name == "" {
		return "", fmt.Errorf("%w: call %q", ErrToolNameEmpty, call.ID)
	}
	if t == nil {
		return "", fmt.Errorf("%w: %q", ErrToolUnregistered, call.Name)
	}

	t.mu.RLock()
	handler, ok := t.handlers[call.Name]
	t.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrToolUnregistered, call.Name)
	}
	if handler == nil {
		return "", fmt.Errorf("%w: %q", ErrNilHandler, call.Name)
	}

	result, err := handler(ctx, call.Arguments)
	if err != nil {
		return "", err
	}
	return encodeContent(result)
}

func encodeContent(result any) (string, error) {
	if text, ok := result.(string); ok {
		return text, nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(payload), nil
}
