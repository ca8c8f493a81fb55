package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Initialize builds the conversation state, either from the canned opener or
// by resuming the task's message history, and synchronizes the environment once.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if ctx == nil {
		return ErrContextNil
	}
	err := o.initialize(ctx)
	return errors.Join(err, o.takeEventErr())
}

func (o *Orchestrator) initialize(ctx context.Context) error {
	if o.initialized {
		return ErrAlreadyInitialized
	}

	var initialState InitialState
	if o.task.InitialState != nil {
		initialState = CloneInitialState(*o.task.InitialState)
	}
	history := initialState.MessageHistory
	for i := range history {
		history[i].TurnIdx = nil
	}
	history = stampHistory(history, o.cfg.Now())
	initialState.MessageHistory = history

	// A resumed history must be well formed before any party sees it.
	if err := checkResumable(history); err != nil {
		return err
	}

	if o.cfg.SoloMode {
		if !o.env.SoloMode() {
			return fmt.Errorf("%w: environment is not in solo mode", ErrSoloModeMismatch)
		}
		if !isDummyUser(o.user) {
			return fmt.Errorf("%w: solo runs require a dummy user, got %T", ErrSoloModeMismatch, o.user)
		}
	}

	if err := o.env.SetState(ctx, CloneInitialState(initialState)); err != nil {
		return partyError(PartyEnv, "set_state", err)
	}

	if o.cfg.Seed != nil {
		o.agent.SetSeed(*o.cfg.Seed)
		o.user.SetSeed(*o.cfg.Seed)
	}

	runID, err := o.idGen.NewRunID(ctx)
	if err != nil {
		return fmt.Errorf("new run id: %w", err)
	}
	if runID == "" {
		return errors.New("new run id: generator returned empty id")
	}
	o.runID = runID

	var state State
	if len(history) > 0 {
		state, err = o.resumeState(ctx, history)
	} else {
		state, err = o.freshState(ctx)
	}
	if err != nil {
		return err
	}
	state.NumErrors = countToolErrors(state.Trajectory)
	o.state = state
	o.initialized = true

	if err := o.env.SyncTools(ctx); err != nil {
		return partyError(PartyEnv, "sync_tools", err)
	}

	o.logger.Debug(
		"conversation initialized",
		slog.String("run_id", o.runID),
		slog.Int("history", len(history)),
		slog.String("from", o.state.From.String()),
		slog.String("to", o.state.To.String()),
		slog.Bool("done", o.state.Done),
	)
	o.publish(ctx, Event{
		RunID:       o.runID,
		TaskID:      o.task.ID,
		Step:        0,
		Type:        EventTypeSimulationStarted,
		From:        o.state.From,
		To:          o.state.To,
		Description: fmt.Sprintf("conversation initialized with %d messages", len(o.state.Trajectory)),
	})
	return nil
}

// resumeState infers whose turn is next from the last message of a partial history.
func (o *Orchestrator) resumeState(ctx context.Context, history []Message) (State, error) {
	last := history[len(history)-1]
	lastIndex := len(history) - 1
	state := State{
		Trajectory: history,
	}

	// The recipient of the pending message must not see it in its seed history:
	// it is delivered by the next step.
	var agentSeed, userSeed []Message
	switch last.Kind {
	case KindAssistant:
		state.From = PartyAgent
		state.To = PartyUser
		if last.IsToolCall() {
			state.To = PartyEnv
		}
		agentSeed = filterHistory(history, IsAgentHistoryMessage)
		userSeed = filterHistory(history[:lastIndex], IsUserHistoryMessage)
	case KindUser:
		state.From = PartyUser
		state.To = PartyAgent
		if last.IsToolCall() {
			state.To = PartyEnv
		}
		userSeed = filterHistory(history, IsUserHistoryMessage)
		agentSeed = filterHistory(history[:lastIndex], IsAgentHistoryMessage)
	case KindTool:
		to, ok := requestorParty(last.Requestor)
		if !ok {
			return State{}, protocolError(PartyEnv, "", lastIndex, last.Kind, fmt.Errorf(
				"%w: value=%q",
				ErrInvalidRequestor,
				last.Requestor,
			))
		}
		state.From = PartyEnv
		state.To = to
		if to == PartyAgent {
			agentSeed = filterHistory(history[:lastIndex], IsAgentHistoryMessage)
			userSeed = filterHistory(history, IsUserHistoryMessage)
		} else {
			agentSeed = filterHistory(history, IsAgentHistoryMessage)
			userSeed = filterHistory(history[:lastIndex], IsUserHistoryMessage)
		}
	case KindSystem, KindMultiTool:
		return State{}, protocolError("", "", lastIndex, last.Kind, ErrInvalidHistoryTail)
	default:
		return State{}, protocolError("", "", lastIndex, last.Kind, fmt.Errorf("%w: %w", ErrInvalidHistoryTail, ErrUnknownMessageKind))
	}

	agentState, err := o.agent.InitState(ctx, agentSeed)
	if err != nil {
		return State{}, partyError(PartyAgent, "init_state", err)
	}
	userState, err := o.user.InitState(ctx, userSeed)
	if err != nil {
		return State{}, partyError(PartyUser, "init_state", err)
	}
	state.AgentState = agentState
	state.UserState = userState

	current := CloneMessage(last)
	state.Current = &current

	switch {
	case last.Kind == KindAssistant && o.agent.IsStop(last):
		if err := terminate(&state, TerminationAgentStop); err != nil {
			return State{}, err
		}
	case last.Kind == KindUser && o.user.IsStop(last):
		if err := terminate(&state, TerminationUserStop); err != nil {
			return State{}, err
		}
	}
	return state, nil
}

// checkResumable validates turn pairing of a resumed history. A history may end
// on a tool-call turn but not partway through its tool responses.
func checkResumable(history []Message) error {
	if len(history) == 0 {
		return nil
	}
	pending, err := scanTurnPairing(history)
	if err != nil {
		return err
	}
	lastIndex := len(history) - 1
	last := history[lastIndex]
	if last.Kind == KindTool && pending > 0 {
		return protocolError(PartyEnv, "", lastIndex, last.Kind, fmt.Errorf(
			"%w: count=%d at end of history",
			ErrMissingToolMessages,
			pending,
		))
	}
	return nil
}

// freshState starts an empty conversation: the canned opener from the agent to
// the user, or in solo mode the agent's own first message to the environment.
func (o *Orchestrator) freshState(ctx context.Context) (State, error) {
	agentState, err := o.agent.InitState(ctx, nil)
	if err != nil {
		return State{}, partyError(PartyAgent, "init_state", err)
	}
	userState, err := o.user.InitState(ctx, nil)
	if err != nil {
		return State{}, partyError(PartyUser, "init_state", err)
	}
	state := State{
		AgentState: agentState,
		UserState:  userState,
		From:       PartyAgent,
	}

	if !o.cfg.SoloMode {
		opener := NewAssistantMessage(o.cfg.OpeningMessage)
		opener.Timestamp = o.cfg.Now()
		openerCost := 0.0
		opener.Cost = &openerCost
		state.To = PartyUser
		state.Trajectory = []Message{opener}
		current := CloneMessage(opener)
		state.Current = &current
		return state, nil
	}

	first, nextAgentState, err := o.agent.GenerateNextMessage(ctx, nil, agentState)
	if err != nil {
		return State{}, partyError(PartyAgent, "generate_next_message", err)
	}
	first = o.stamp(first)
	if err := expectKind(first, KindAssistant); err != nil {
		return State{}, withRolePair(err, "", PartyAgent, 0)
	}
	if err := first.Validate(); err != nil {
		return State{}, withRolePair(err, "", PartyAgent, 0)
	}
	state.AgentState = nextAgentState
	state.To = PartyEnv
	state.Trajectory = []Message{first}
	current := CloneMessage(first)
	state.Current = &current
	if o.agent.IsStop(first) {
		if err := terminate(&state, TerminationAgentStop); err != nil {
			return State{}, err
		}
	}
	return state, nil
}

// stampHistory assigns synthetic timestamps one second apart, ending at now,
// preserving the order of the resumed messages.
func stampHistory(history []Message, now time.Time) []Message {
	n := len(history)
	for i := range history {
		history[i].Timestamp = now.Add(-time.Duration(n-1-i) * time.Second)
		for j := range history[i].ToolMessages {
			history[i].ToolMessages[j].Timestamp = history[i].Timestamp
		}
	}
	return history
}
