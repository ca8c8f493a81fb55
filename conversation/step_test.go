package conversation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Gurpartap/convosim/adapters/partytest"
	"github.com/Gurpartap/convosim/conversation"
)

func TestStep_ToolCallRoundTripReturnsControlToAgent(t *testing.T) {
	t.Parallel()

	call := conversation.NewToolCall("call-1", "cancel_pending_order", map[string]any{
		"order_id": "#W0000000",
		"reason":   "no longer needed",
	})
	f := newFixture(
		[]partytest.Turn{agentCalls(call)},
		[]partytest.Turn{userSays("I need to cancel order #W0000000")},
	)
	o := f.orchestrator(t, conversation.Task{ID: "task-1"}, f.config(nil))
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	assertTransition(t, o.State(), conversation.PartyAgent, conversation.PartyUser)

	mustStep(t, o, 1)
	assertTransition(t, o.State(), conversation.PartyUser, conversation.PartyAgent)
	mustStep(t, o, 1)
	assertTransition(t, o.State(), conversation.PartyAgent, conversation.PartyEnv)
	mustStep(t, o, 1)

	state := o.State()
	assertTransition(t, state, conversation.PartyEnv, conversation.PartyAgent)
	if state.StepCount != 3 {
		t.Fatalf("unexpected step count: got=%d want=3", state.StepCount)
	}
	if len(state.Trajectory) != 4 {
		t.Fatalf("unexpected trajectory length: got=%d want=4", len(state.Trajectory))
	}
	if state.Trajectory[0].Content != conversation.DefaultOpeningMessage {
		t.Fatalf("unexpected opener: %q", state.Trajectory[0].Content)
	}
	tool := state.Trajectory[3]
	if tool.Kind != conversation.KindTool || tool.Error {
		t.Fatalf("unexpected tool message: %+v", tool)
	}
	if tool.ID != "call-1" || tool.Requestor != conversation.RequestorAssistant {
		t.Fatalf("unexpected tool routing: id=%q requestor=%s", tool.ID, tool.Requestor)
	}
	if state.Current == nil || state.Current.Kind != conversation.KindTool {
		t.Fatalf("unexpected current message: %+v", state.Current)
	}
	if len(f.env.calls) != 1 || f.env.calls[0].Name != "cancel_pending_order" {
		t.Fatalf("unexpected environment calls: %+v", f.env.calls)
	}
	if f.env.calls[0].Arguments["order_id"] != "#W0000000" {
		t.Fatalf("unexpected call arguments: %+v", f.env.calls[0].Arguments)
	}
	if f.env.syncCalls != 4 {
		t.Fatalf("unexpected sync count: got=%d want=4", f.env.syncCalls)
	}
	if state.Done {
		t.Fatalf("conversation unexpectedly done: %s", state.TerminationReason)
	}
}

func TestStep_MultipleToolCallsArePackagedAsOneUnit(t *testing.T) {
	t.Parallel()

	f := newFixture(
		[]partytest.Turn{
			agentCalls(
				conversation.NewToolCall("call-1", "get_order_details", map[string]any{"order_id": "#W1"}),
				conversation.NewToolCall("call-2", "get_user_details", map[string]any{"user_id": "u1"}),
			),
			agentSays("Both lookups are done."),
		},
		[]partytest.Turn{userSays("Check my order and my account.")},
	)
	o := f.orchestrator(t, conversation.Task{ID: "task-1"}, f.config(nil))
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	mustStep(t, o, 3)

	state := o.State()
	assertTransition(t, state, conversation.PartyEnv, conversation.PartyAgent)
	if len(state.Trajectory) != 5 {
		t.Fatalf("unexpected trajectory length: got=%d want=5", len(state.Trajectory))
	}
	for i, wantID := range []string{"call-1", "call-2"} {
		message := state.Trajectory[3+i]
		if message.Kind != conversation.KindTool || message.ID != wantID {
			t.Fatalf("trajectory[%d] mismatch: kind=%s id=%q want id=%q", 3+i, message.Kind, message.ID, wantID)
		}
	}
	if state.Current == nil || state.Current.Kind != conversation.KindMultiTool {
		t.Fatalf("unexpected current message: %+v", state.Current)
	}
	if len(state.Current.ToolMessages) != 2 {
		t.Fatalf("unexpected packaged count: got=%d want=2", len(state.Current.ToolMessages))
	}

	mustStep(t, o, 1)
	incoming := f.agent.Incoming()
	last := incoming[len(incoming)-1]
	if last.Kind != conversation.KindMultiTool || len(last.ToolMessages) != 2 {
		t.Fatalf("agent did not receive one packaged unit: %+v", last)
	}
	assertTransition(t, o.State(), conversation.PartyAgent, conversation.PartyUser)
}

func TestStep_UserToolCallIsAnsweredToUser(t *testing.T) {
	t.Parallel()

	call := conversation.ToolCall{ID: "u-call-1", Name: "toggle_airplane_mode"}
	f := newFixture(nil, []partytest.Turn{
		{Message: conversation.NewUserToolCallMessage(call)},
	})
	o := f.orchestrator(t, conversation.Task{ID: "task-1"}, f.config(nil))
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	mustStep(t, o, 1)
	assertTransition(t, o.State(), conversation.PartyUser, conversation.PartyEnv)
	mustStep(t, o, 1)

	state := o.State()
	assertTransition(t, state, conversation.PartyEnv, conversation.PartyUser)
	if f.env.calls[0].Requestor != conversation.RequestorUser {
		t.Fatalf("unexpected call requestor: %s", f.env.calls[0].Requestor)
	}
	if state.Trajectory[2].Requestor != conversation.RequestorUser {
		t.Fatalf("unexpected tool requestor: %s", state.Trajectory[2].Requestor)
	}
}

func TestStep_ToolFailuresAreCountedNotReturned(t *testing.T) {
	t.Parallel()

	f := newFixture(
		[]partytest.Turn{agentCalls(conversation.NewToolCall("call-1", "cancel_pending_order", nil))},
		[]partytest.Turn{userSays("cancel it")},
	)
	f.env.getResponseFn = func(_ context.Context, call conversation.ToolCall) (conversation.Message, error) {
		return conversation.NewToolMessage(call.ID, "Error: order not found", call.Requestor, true), nil
	}
	o := f.orchestrator(t, conversation.Task{ID: "task-1"}, f.config(nil))
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	mustStep(t, o, 3)

	state := o.State()
	if state.NumErrors != 1 {
		t.Fatalf("unexpected error count: got=%d want=1", state.NumErrors)
	}
	if state.Done {
		t.Fatalf("step must not apply budgets: %s", state.TerminationReason)
	}
}

func TestStep_StopSignals(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		agentTurns []partytest.Turn
		userTurns  []partytest.Turn
		steps      int
		wantReason conversation.TerminationReason
	}{
		{
			name:       "user stop token",
			userTurns:  []partytest.Turn{userSays("Thanks, that is all. " + conversation.StopToken)},
			steps:      1,
			wantReason: conversation.TerminationUserStop,
		},
		{
			name:       "user transfer token",
			userTurns:  []partytest.Turn{userSays(conversation.TransferToken)},
			steps:      1,
			wantReason: conversation.TerminationUserStop,
		},
		{
			name:       "agent stop token",
			agentTurns: []partytest.Turn{agentSays("Goodbye " + conversation.StopToken)},
			userTurns:  []partytest.Turn{userSays("bye")},
			steps:      2,
			wantReason: conversation.TerminationAgentStop,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(tc.agentTurns, tc.userTurns)
			o := f.orchestrator(t, conversation.Task{ID: "task-1"}, f.config(nil))
			if err := o.Initialize(context.Background()); err != nil {
				t.Fatalf("initialize: %v", err)
			}
			mustStep(t, o, tc.steps)

			state := o.State()
			if !state.Done || state.TerminationReason != tc.wantReason {
				t.Fatalf("unexpected termination: done=%t reason=%s want=%s", state.Done, state.TerminationReason, tc.wantReason)
			}
			if len(state.Trajectory) != tc.steps+1 {
				t.Fatalf("stop message must be recorded: got=%d want=%d", len(state.Trajectory), tc.steps+1)
			}

			err := o.Step(context.Background())
			if !errors.Is(err, conversation.ErrConversationDone) {
				t.Fatalf("unexpected step error after stop: %v", err)
			}
		})
	}
}

func TestStep_NonToolCallToEnvironmentIsProtocolError(t *testing.T) {
	t.Parallel()

	f := newFixture([]partytest.Turn{agentSays("I will just talk.")}, nil)
	f.env.solo = true
	o, err := conversation.New(conversation.Dependencies{
		Agent:       f.agent,
		User:        conversation.DummyUser{},
		Environment: f.env,
		IDGenerator: newCounterIDGenerator("solo"),
	}, conversation.Task{ID: "task-1"}, f.config(func(cfg *conversation.Config) {
		cfg.SoloMode = true
	}))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	assertTransition(t, o.State(), conversation.PartyAgent, conversation.PartyEnv)

	err = o.Step(context.Background())
	if !errors.Is(err, conversation.ErrNonToolCallToEnvironment) {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(err, conversation.ErrProtocol) {
		t.Fatalf("expected protocol error: %v", err)
	}
	var protocolErr *conversation.ProtocolError
	if !errors.As(err, &protocolErr) {
		t.Fatalf("expected *ProtocolError, got %T", err)
	}
	if protocolErr.From != conversation.PartyAgent || protocolErr.To != conversation.PartyEnv || protocolErr.Index != 0 {
		t.Fatalf("unexpected error location: %+v", protocolErr)
	}
	if len(f.env.calls) != 0 {
		t.Fatalf("environment must not be called: %+v", f.env.calls)
	}
}

func TestStep_RejectsInvalidPartyOutput(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		reply     conversation.Message
		wantErr   error
		wantIndex int
	}{
		{
			name:      "wrong kind",
			reply:     conversation.NewUserMessage("impersonating the user"),
			wantErr:   conversation.ErrUnexpectedMessageKind,
			wantIndex: 2,
		},
		{
			name:      "empty message",
			reply:     conversation.NewAssistantMessage("   "),
			wantErr:   conversation.ErrEmptyMessage,
			wantIndex: 2,
		},
		{
			name: "tool call without name",
			reply: conversation.NewAssistantToolCallMessage(conversation.ToolCall{
				ID: "call-1",
			}),
			wantErr:   conversation.ErrToolCallInvalid,
			wantIndex: 2,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture([]partytest.Turn{{Message: tc.reply}}, []partytest.Turn{userSays("hello")})
			o := f.orchestrator(t, conversation.Task{ID: "task-1"}, f.config(nil))
			if err := o.Initialize(context.Background()); err != nil {
				t.Fatalf("initialize: %v", err)
			}
			mustStep(t, o, 1)

			err := o.Step(context.Background())
			if !errors.Is(err, tc.wantErr) || !errors.Is(err, conversation.ErrProtocol) {
				t.Fatalf("unexpected error: got=%v want=%v", err, tc.wantErr)
			}
			var protocolErr *conversation.ProtocolError
			if !errors.As(err, &protocolErr) {
				t.Fatalf("expected *ProtocolError, got %T", err)
			}
			if protocolErr.From != conversation.PartyUser || protocolErr.To != conversation.PartyAgent {
				t.Fatalf("unexpected role pair: %s->%s", protocolErr.From, protocolErr.To)
			}
			if protocolErr.Index != tc.wantIndex {
				t.Fatalf("unexpected index: got=%d want=%d", protocolErr.Index, tc.wantIndex)
			}
			if got := len(o.State().Trajectory); got != 2 {
				t.Fatalf("rejected message must not be recorded: trajectory=%d", got)
			}
		})
	}
}

func TestStep_EnvironmentResponseChecks(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		respond func(conversation.ToolCall) (conversation.Message, error)
		check   func(*testing.T, error)
	}{
		{
			name: "requestor mismatch",
			respond: func(call conversation.ToolCall) (conversation.Message, error) {
				return conversation.NewToolMessage(call.ID, "ok", conversation.RequestorUser, false), nil
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, conversation.ErrToolRequestorMismatch) {
					t.Fatalf("unexpected error: %v", err)
				}
			},
		},
		{
			name: "answers another call",
			respond: func(conversation.ToolCall) (conversation.Message, error) {
				return conversation.NewToolMessage("call-9", "ok", conversation.RequestorAssistant, false), nil
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, conversation.ErrToolResponseMismatch) || !errors.Is(err, conversation.ErrProtocol) {
					t.Fatalf("unexpected error: %v", err)
				}
			},
		},
		{
			name: "non tool response",
			respond: func(conversation.ToolCall) (conversation.Message, error) {
				return conversation.NewAssistantMessage("not a tool message"), nil
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, conversation.ErrUnexpectedMessageKind) {
					t.Fatalf("unexpected error: %v", err)
				}
			},
		},
		{
			name: "environment failure",
			respond: func(conversation.ToolCall) (conversation.Message, error) {
				return conversation.Message{}, errors.New("database offline")
			},
			check: func(t *testing.T, err error) {
				var partyErr *conversation.PartyError
				if !errors.As(err, &partyErr) {
					t.Fatalf("expected *PartyError, got %T: %v", err, err)
				}
				if partyErr.Party != conversation.PartyEnv || partyErr.Op != "get_response" {
					t.Fatalf("unexpected party error: %+v", partyErr)
				}
				if errors.Is(err, conversation.ErrProtocol) {
					t.Fatalf("party failure must not be a protocol error: %v", err)
				}
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(
				[]partytest.Turn{agentCalls(conversation.NewToolCall("call-1", "lookup", nil))},
				[]partytest.Turn{userSays("look it up")},
			)
			f.env.getResponseFn = func(_ context.Context, call conversation.ToolCall) (conversation.Message, error) {
				return tc.respond(call)
			}
			o := f.orchestrator(t, conversation.Task{ID: "task-1"}, f.config(nil))
			if err := o.Initialize(context.Background()); err != nil {
				t.Fatalf("initialize: %v", err)
			}
			mustStep(t, o, 2)

			tc.check(t, o.Step(context.Background()))
		})
	}
}

func TestStep_FillsMissingToolMessageRouting(t *testing.T) {
	t.Parallel()

	f := newFixture(
		[]partytest.Turn{agentCalls(conversation.NewToolCall("call-7", "lookup", nil))},
		[]partytest.Turn{userSays("look it up")},
	)
	f.env.getResponseFn = func(context.Context, conversation.ToolCall) (conversation.Message, error) {
		return conversation.Message{Kind: conversation.KindTool, Role: conversation.RoleTool, Content: "found"}, nil
	}
	o := f.orchestrator(t, conversation.Task{ID: "task-1"}, f.config(nil))
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	mustStep(t, o, 3)

	tool := o.State().Trajectory[3]
	if tool.ID != "call-7" || tool.Requestor != conversation.RequestorAssistant {
		t.Fatalf("unexpected routing fields: id=%q requestor=%s", tool.ID, tool.Requestor)
	}
	if tool.Timestamp.IsZero() {
		t.Fatalf("tool message was not stamped")
	}
}

func TestStep_PartyFailurePropagatesUnchanged(t *testing.T) {
	t.Parallel()

	boom := errors.New("model unavailable")
	f := newFixture(nil, []partytest.Turn{{Err: boom}})
	o := f.orchestrator(t, conversation.Task{ID: "task-1"}, f.config(nil))
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	err := o.Step(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("unexpected error: %v", err)
	}
	var partyErr *conversation.PartyError
	if !errors.As(err, &partyErr) || partyErr.Party != conversation.PartyUser {
		t.Fatalf("unexpected party error: %v", err)
	}
	if o.State().StepCount != 0 {
		t.Fatalf("failed step must not be counted: %d", o.State().StepCount)
	}
}

func TestStep_ThreadsPartyStateExplicitly(t *testing.T) {
	t.Parallel()

	var seen []conversation.AgentState
	agent := &agentSpy{
		generateFn: func(_ context.Context, _ *conversation.Message, state conversation.AgentState) (conversation.Message, conversation.AgentState, error) {
			seen = append(seen, state)
			return conversation.NewAssistantMessage("ok"), state.(int) + 1, nil
		},
	}
	user := partytest.NewScriptedUser(userSays("one"), userSays("two"))
	o, err := conversation.New(conversation.Dependencies{
		Agent:       agent,
		User:        user,
		Environment: &envSpy{},
		IDGenerator: newCounterIDGenerator("run"),
	}, conversation.Task{ID: "task-1"}, conversation.DefaultConfig())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	mustStep(t, o, 4)

	if len(seen) != 2 || seen[0] != 0 || seen[1] != 1 {
		t.Fatalf("unexpected threaded states: %v", seen)
	}
	if o.State().AgentState != 2 {
		t.Fatalf("unexpected final agent state: %v", o.State().AgentState)
	}
}

func TestStep_BeforeInitializeFails(t *testing.T) {
	t.Parallel()

	f := newFixture(nil, nil)
	o := f.orchestrator(t, conversation.Task{ID: "task-1"}, f.config(nil))
	if err := o.Step(context.Background()); !errors.Is(err, conversation.ErrNotInitialized) {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := o.Trajectory(); !errors.Is(err, conversation.ErrNotInitialized) {
		t.Fatalf("unexpected trajectory error: %v", err)
	}
}
