package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gurpartap/convosim/adapters/partytest"
	"github.com/Gurpartap/convosim/conversation"
	eventinginmem "github.com/Gurpartap/convosim/eventing/inmem"
)

type counterIDGenerator struct {
	prefix  string
	counter atomic.Uint64
}

func newCounterIDGenerator(prefix string) *counterIDGenerator {
	if prefix == "" {
		prefix = "run"
	}
	return &counterIDGenerator{prefix: prefix}
}

func (g *counterIDGenerator) NewRunID(_ context.Context) (string, error) {
	next := g.counter.Add(1)
	return fmt.Sprintf("%s-%06d", g.prefix, next), nil
}

// tickingClock advances one second on every reading.
type tickingClock struct {
	now time.Time
}

func newTickingClock() *tickingClock {
	return &tickingClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *tickingClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type envSpy struct {
	solo          bool
	setStateFn    func(context.Context, conversation.InitialState) error
	getResponseFn func(context.Context, conversation.ToolCall) (conversation.Message, error)
	syncToolsFn   func(context.Context) error

	states    []conversation.InitialState
	calls     []conversation.ToolCall
	syncCalls int
}

var _ conversation.Environment = (*envSpy)(nil)

func (e *envSpy) SetState(ctx context.Context, state conversation.InitialState) error {
	e.states = append(e.states, conversation.CloneInitialState(state))
	if e.setStateFn != nil {
		return e.setStateFn(ctx, state)
	}
	return nil
}

func (e *envSpy) GetResponse(ctx context.Context, call conversation.ToolCall) (conversation.Message, error) {
	e.calls = append(e.calls, conversation.CloneToolCall(call))
	if e.getResponseFn != nil {
		return e.getResponseFn(ctx, call)
	}
	return conversation.NewToolMessage(call.ID, `{"status":"ok"}`, call.Requestor, false), nil
}

func (e *envSpy) SyncTools(ctx context.Context) error {
	e.syncCalls++
	if e.syncToolsFn != nil {
		return e.syncToolsFn(ctx)
	}
	return nil
}

func (e *envSpy) SoloMode() bool {
	return e.solo
}

type failingSink struct {
	err   error
	calls int
}

func (s *failingSink) Publish(context.Context, conversation.Event) error {
	s.calls++
	return s.err
}

type agentSpy struct {
	generateFn func(context.Context, *conversation.Message, conversation.AgentState) (conversation.Message, conversation.AgentState, error)
	isStopFn   func(conversation.Message) bool
}

func (a *agentSpy) InitState(context.Context, []conversation.Message) (conversation.AgentState, error) {
	return 0, nil
}

func (a *agentSpy) GenerateNextMessage(
	ctx context.Context,
	incoming *conversation.Message,
	state conversation.AgentState,
) (conversation.Message, conversation.AgentState, error) {
	if a.generateFn == nil {
		return conversation.Message{}, state, errors.New("unexpected agent turn")
	}
	return a.generateFn(ctx, incoming, state)
}

func (a *agentSpy) IsStop(message conversation.Message) bool {
	if a.isStopFn != nil {
		return a.isStopFn(message)
	}
	return false
}

func (a *agentSpy) SetSeed(int64) {}

type fixture struct {
	agent  *partytest.ScriptedAgent
	user   *partytest.ScriptedUser
	env    *envSpy
	events *eventinginmem.Sink
	clock  *tickingClock
}

func newFixture(agentTurns []partytest.Turn, userTurns []partytest.Turn) *fixture {
	return &fixture{
		agent:  partytest.NewScriptedAgent(agentTurns...),
		user:   partytest.NewScriptedUser(userTurns...),
		env:    &envSpy{},
		events: eventinginmem.New(),
		clock:  newTickingClock(),
	}
}

func (f *fixture) config(mutate func(*conversation.Config)) conversation.Config {
	cfg := conversation.DefaultConfig()
	cfg.Now = f.clock.Now
	if mutate != nil {
		mutate(&cfg)
	}
	return cfg
}

func (f *fixture) orchestrator(t *testing.T, task conversation.Task, cfg conversation.Config) *conversation.Orchestrator {
	t.Helper()

	orchestrator, err := conversation.New(conversation.Dependencies{
		Agent:       f.agent,
		User:        f.user,
		Environment: f.env,
		IDGenerator: newCounterIDGenerator("run"),
		EventSink:   f.events,
	}, task, cfg)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orchestrator
}

func historyTask(id string, history ...conversation.Message) conversation.Task {
	return conversation.Task{
		ID:           id,
		InitialState: &conversation.InitialState{MessageHistory: history},
	}
}

func agentSays(content string) partytest.Turn {
	return partytest.Turn{Message: conversation.NewAssistantMessage(content)}
}

func agentCalls(calls ...conversation.ToolCall) partytest.Turn {
	return partytest.Turn{Message: conversation.NewAssistantToolCallMessage(calls...)}
}

func userSays(content string) partytest.Turn {
	return partytest.Turn{Message: conversation.NewUserMessage(content)}
}

func mustStep(t *testing.T, o *conversation.Orchestrator, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		if err := o.Step(context.Background()); err != nil {
			t.Fatalf("step %d: %v", i+1, err)
		}
	}
}

func assertTransition(t *testing.T, state conversation.State, from, to conversation.Party) {
	t.Helper()

	if state.From != from || state.To != to {
		t.Fatalf("unexpected transition: got=%s->%s want=%s->%s", state.From, state.To, from, to)
	}
}
