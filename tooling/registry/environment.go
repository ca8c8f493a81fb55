package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/Gurpartap/convosim/conversation"
)

var (
	// ErrToolNameCollision is returned when a solo environment exposes the same tool name twice.
	ErrToolNameCollision = errors.New("tool name registered for both assistant and user")
	// ErrReplayMismatch is returned when replaying a resumed history does not reproduce it.
	ErrReplayMismatch = errors.New("replayed tool response does not match history")
	// ErrEnvFunctionUnknown is returned when an initialization action names no known function.
	ErrEnvFunctionUnknown = errors.New("environment function is not registered")
	// ErrSoloUserMessage is returned when a solo environment is given a history with user messages.
	ErrSoloUserMessage = errors.New("user messages are not allowed in solo mode")
	// ErrDataLoaderMissing is returned when initialization data is given but nothing can load it.
	ErrDataLoaderMissing = errors.New("initialization data given without a data loader")
)

// Options configures an Environment.
type Options struct {
	AssistantTools *Toolkit
	UserTools      *Toolkit
	// Functions holds helpers reachable by initialization actions but not
	// exposed as tools. Tools of the same env type are reachable as well.
	Functions map[conversation.EnvType]*Toolkit
	// LoadData applies initialization data to the backing databases.
	LoadData func(ctx context.Context, data conversation.InitializationData) error
	// Sync reconciles tool state after every step.
	Sync func(ctx context.Context) error
	Solo bool
}

// Environment executes tool calls against in-process toolkits: one for the
// assistant and one for the user. Tool failures are returned as tool
// messages flagged with Error.
type Environment struct {
	opts Options
}

var _ conversation.Environment = (*Environment)(nil)

func NewEnvironment(opts Options) (*Environment, error) {
	if opts.Solo {
		for _, name := range opts.AssistantTools.Names() {
			if opts.UserTools.Has(name) {
				return nil, fmt.Errorf("%w: %q", ErrToolNameCollision, name)
			}
		}
	}
	return &Environment{opts: opts}, nil
}

func (e *Environment) SoloMode() bool {
	return e.opts.Solo
}

func (e *Environment) GetResponse(ctx context.Context, call conversation.ToolCall) (conversation.Message, error) {
	if ctx == nil {
		return conversation.Message{}, conversation.ErrContextNil
	}
	toolkit, err := e.toolkitFor(call)
	if err != nil {
		return conversation.Message{}, err
	}

	content, err := toolkit.Execute(ctx, call)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return conversation.Message{}, err
		}
		return conversation.NewToolMessage(call.ID, "Error: "+err.Error(), call.Requestor, true), nil
	}
	return conversation.NewToolMessage(call.ID, content, call.Requestor, false), nil
}

func (e *Environment) toolkitFor(call conversation.ToolCall) (*Toolkit, error) {
	switch call.Requestor {
	case conversation.RequestorAssistant:
		if e.opts.Solo && !e.opts.AssistantTools.Has(call.Name) && e.opts.UserTools.Has(call.Name) {
			return e.opts.UserTools, nil
		}
		return e.opts.AssistantTools, nil
	case conversation.RequestorUser:
		return e.opts.UserTools, nil
	default:
		return nil, fmt.Errorf("route tool %q: unknown requestor %q", call.Name, call.Requestor)
	}
}

func (e *Environment) SyncTools(ctx context.Context) error {
	if e.opts.Sync == nil {
		return nil
	}
	return e.opts.Sync(ctx)
}

// SetState loads initialization data, applies initialization actions, and
// replays the tool calls of a resumed history, checking every response
// against the recorded one.
func (e *Environment) SetState(ctx context.Context, state conversation.InitialState) error {
	if ctx == nil {
		return conversation.ErrContextNil
	}
	if e.opts.Solo {
		for i := range state.MessageHistory {
			if state.MessageHistory[i].Kind == conversation.KindUser {
				return fmt.Errorf("%w: index=%d", ErrSoloUserMessage, i)
			}
		}
	}
	if state.InitializationData != nil {
		if e.opts.LoadData == nil {
			return ErrDataLoaderMissing
		}
		if err := e.opts.LoadData(ctx, *state.InitializationData); err != nil {
			return fmt.Errorf("load initialization data: %w", err)
		}
	}
	for i := range state.InitializationActions {
		if err := e.RunEnvFunction(ctx, state.InitializationActions[i]); err != nil {
			return fmt.Errorf("initialization action %d: %w", i, err)
		}
	}

	replays, err := replayPairs(state.MessageHistory)
	if err != nil {
		return err
	}
	for _, replay := range replays {
		response, err := e.GetResponse(ctx, replay.call)
		if err != nil {
			return fmt.Errorf("replay tool %q: %w", replay.call.Name, err)
		}
		if !sameContent(response.Content, replay.recorded.Content) {
			return fmt.Errorf(
				"%w: tool=%s id=%q got=%s want=%s",
				ErrReplayMismatch,
				replay.call.Name,
				replay.call.ID,
				response.Content,
				replay.recorded.Content,
			)
		}
	}
	return nil
}

// RunEnvFunction applies one initialization action. Helper functions take
// precedence over tools of the same env type.
func (e *Environment) RunEnvFunction(ctx context.Context, action conversation.EnvFunctionCall) error {
	call := conversation.ToolCall{Name: action.FuncName, Arguments: action.Arguments}

	var tools *Toolkit
	switch action.EnvType {
	case conversation.EnvTypeAssistant:
		tools = e.opts.AssistantTools
	case conversation.EnvTypeUser:
		tools = e.opts.UserTools
	default:
		return fmt.Errorf("%w: env_type=%q func=%q", ErrEnvFunctionUnknown, action.EnvType, action.FuncName)
	}

	toolkit := e.opts.Functions[action.EnvType]
	if !toolkit.Has(action.FuncName) {
		toolkit = tools
	}
	if !toolkit.Has(action.FuncName) {
		return fmt.Errorf("%w: env_type=%s func=%q", ErrEnvFunctionUnknown, action.EnvType, action.FuncName)
	}
	_, err := toolkit.Execute(ctx, call)
	return err
}

type replayPair struct {
	call     conversation.ToolCall
	recorded conversation.Message
}

// replayPairs matches every tool call in history with the tool message that
// answered it. Calls still pending at the end of history are not replayed.
func replayPairs(history []conversation.Message) ([]replayPair, error) {
	pairs := make([]replayPair, 0)
	for i := 0; i < len(history); i++ {
		message := history[i]
		if message.Kind == conversation.KindTool {
			return nil, fmt.Errorf("%w: index=%d tool message does not follow a tool call", ErrReplayMismatch, i)
		}
		if !message.IsToolCall() {
			continue
		}
		requestor := conversation.RequestorAssistant
		if message.Kind == conversation.KindUser {
			requestor = conversation.RequestorUser
		}
		for _, call := range message.ToolCalls {
			if i+1 >= len(history) {
				return pairs, nil
			}
			i++
			recorded := history[i]
			if recorded.Kind != conversation.KindTool {
				return nil, fmt.Errorf("%w: index=%d tool call %q is not followed by a tool message", ErrReplayMismatch, i, call.ID)
			}
			if recorded.ID != call.ID {
				return nil, fmt.Errorf("%w: index=%d id mismatch got=%q want=%q", ErrReplayMismatch, i, recorded.ID, call.ID)
			}
			call = conversation.CloneToolCall(call)
			if call.Requestor == "" {
				call.Requestor = requestor
			}
			pairs = append(pairs, replayPair{call: call, recorded: recorded})
		}
	}
	return pairs, nil
}

// sameContent compares tool contents as JSON values when both decode, and as text otherwise.
func sameContent(got, want string) bool {
	var gotValue, wantValue any
	if json.Unmarshal([]byte(got), &gotValue) != nil || json.Unmarshal([]byte(want), &wantValue) != nil {
		return got == want
	}
	return reflect.DeepEqual(gotValue, wantValue)
}
