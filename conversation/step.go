package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Step executes exactly one transition of the conversation and synchronizes
// the environment afterwards. It never applies step or error budgets; Run does.
func (o *Orchestrator) Step(ctx context.Context) error {
	if ctx == nil {
		return ErrContextNil
	}
	err := o.step(ctx)
	return errors.Join(err, o.takeEventErr())
}

func (o *Orchestrator) step(ctx context.Context) error {
	if !o.initialized {
		return ErrNotInitialized
	}
	if o.state.Done {
		return fmt.Errorf("%w: termination_reason=%s", ErrConversationDone, o.state.TerminationReason)
	}
	from, to := o.state.From, o.state.To
	if o.state.Current == nil {
		return protocolError(from, to, -1, "", errors.New("no current message"))
	}

	appendedFrom := len(o.state.Trajectory)
	var err error
	switch {
	case to == PartyUser && (from == PartyAgent || from == PartyEnv):
		err = o.userTurn(ctx)
	case to == PartyAgent && (from == PartyUser || from == PartyEnv):
		err = o.agentTurn(ctx)
	case to == PartyEnv && (from == PartyAgent || from == PartyUser):
		err = o.envTurn(ctx)
	default:
		err = protocolError(from, to, -1, o.state.Current.Kind, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to))
	}
	if err != nil {
		return err
	}

	o.state.StepCount++
	o.state.NumErrors = countToolErrors(o.state.Trajectory)
	if err := o.env.SyncTools(ctx); err != nil {
		return partyError(PartyEnv, "sync_tools", err)
	}

	o.logger.Debug(
		"step",
		slog.String("run_id", o.runID),
		slog.Int("step", o.state.StepCount),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("message_kind", string(o.state.Current.Kind)),
		slog.Int("num_errors", o.state.NumErrors),
	)
	for i := appendedFrom; i < len(o.state.Trajectory); i++ {
		message := CloneMessage(o.state.Trajectory[i])
		eventType := EventTypeMessage
		if message.Kind == KindTool {
			eventType = EventTypeToolResult
		}
		o.publish(ctx, Event{
			RunID:   o.runID,
			TaskID:  o.task.ID,
			Step:    o.state.StepCount,
			Type:    eventType,
			From:    from,
			To:      to,
			Message: &message,
		})
	}
	return nil
}

// userTurn delivers the current message to the user and records the reply.
func (o *Orchestrator) userTurn(ctx context.Context) error {
	from := o.state.From
	index := len(o.state.Trajectory)
	reply, userState, err := o.user.GenerateNextMessage(ctx, CloneMessage(*o.state.Current), o.state.UserState)
	if err != nil {
		return partyError(PartyUser, "generate_next_message", err)
	}
	reply = o.stamp(reply)
	if err := expectKind(reply, KindUser); err != nil {
		return withRolePair(err, from, PartyUser, index)
	}
	if err := reply.Validate(); err != nil {
		return withRolePair(err, from, PartyUser, index)
	}

	o.state.UserState = userState
	o.record(reply, PartyUser, PartyAgent)
	if o.user.IsStop(reply) {
		return terminate(&o.state, TerminationUserStop)
	}
	return nil
}

// agentTurn delivers the current message to the agent and records the reply.
func (o *Orchestrator) agentTurn(ctx context.Context) error {
	from := o.state.From
	index := len(o.state.Trajectory)
	incoming := CloneMessage(*o.state.Current)
	reply, agentState, err := o.agent.GenerateNextMessage(ctx, &incoming, o.state.AgentState)
	if err != nil {
		return partyError(PartyAgent, "generate_next_message", err)
	}
	reply = o.stamp(reply)
	if err := expectKind(reply, KindAssistant); err != nil {
		return withRolePair(err, from, PartyAgent, index)
	}
	if err := reply.Validate(); err != nil {
		return withRolePair(err, from, PartyAgent, index)
	}

	o.state.AgentState = agentState
	o.record(reply, PartyAgent, PartyUser)
	if o.agent.IsStop(reply) {
		return terminate(&o.state, TerminationAgentStop)
	}
	return nil
}

// envTurn executes every tool call of the current message in order and routes
// the responses back to the caller as one logical unit.
func (o *Orchestrator) envTurn(ctx context.Context) error {
	caller := o.state.From
	current := *o.state.Current
	callIndex := len(o.state.Trajectory) - 1
	if !current.IsToolCall() {
		return protocolError(caller, PartyEnv, callIndex, current.Kind, fmt.Errorf(
			"%w: kind=%s",
			ErrNonToolCallToEnvironment,
			current.Kind,
		))
	}
	requestor, ok := current.Role.requestor()
	if !ok {
		return protocolError(caller, PartyEnv, callIndex, current.Kind, fmt.Errorf("%w: role=%s", ErrInvalidRequestor, current.Role))
	}

	responses := make([]Message, 0, len(current.ToolCalls))
	for i := range current.ToolCalls {
		call := CloneToolCall(current.ToolCalls[i])
		if call.Requestor == "" {
			call.Requestor = requestor
		}
		index := len(o.state.Trajectory) + len(responses)
		response, err := o.env.GetResponse(ctx, call)
		if err != nil {
			return partyError(PartyEnv, "get_response", fmt.Errorf("tool=%s id=%q: %w", call.Name, call.ID, err))
		}
		response = o.stamp(response)
		if response.ID == "" {
			response.ID = call.ID
		}
		if response.Requestor == "" {
			response.Requestor = requestor
		}
		if err := expectKind(response, KindTool); err != nil {
			return withRolePair(err, caller, PartyEnv, index)
		}
		if err := response.Validate(); err != nil {
			return withRolePair(err, caller, PartyEnv, index)
		}
		if response.ID != call.ID {
			return protocolError(caller, PartyEnv, index, response.Kind, fmt.Errorf(
				"%w: got=%q want=%q",
				ErrToolResponseMismatch,
				response.ID,
				call.ID,
			))
		}
		if response.Requestor != requestor {
			return protocolError(caller, PartyEnv, index, response.Kind, fmt.Errorf(
				"%w: got=%s want=%s id=%q",
				ErrToolRequestorMismatch,
				response.Requestor,
				requestor,
				response.ID,
			))
		}
		responses = append(responses, response)
	}

	next := responses[0]
	if len(responses) > 1 {
		next = NewMultiToolMessage(responses)
		next.Timestamp = responses[len(responses)-1].Timestamp
	}
	o.state.Trajectory = append(o.state.Trajectory, CloneMessages(responses)...)
	current = CloneMessage(next)
	o.state.Current = &current
	o.state.From = PartyEnv
	o.state.To = caller
	return nil
}

// record appends a participant reply and makes it the pending message.
// Tool-call replies are addressed to the environment, everything else to peer.
func (o *Orchestrator) record(reply Message, author, peer Party) {
	o.state.Trajectory = append(o.state.Trajectory, CloneMessage(reply))
	current := CloneMessage(reply)
	o.state.Current = &current
	o.state.From = author
	o.state.To = peer
	if reply.IsToolCall() {
		o.state.To = PartyEnv
	}
}

// stamp assigns the orchestrator clock to messages produced without a timestamp.
func (o *Orchestrator) stamp(message Message) Message {
	message = CloneMessage(message)
	if message.Timestamp.IsZero() {
		message.Timestamp = o.cfg.Now()
	}
	for i := range message.ToolMessages {
		if message.ToolMessages[i].Timestamp.IsZero() {
			message.ToolMessages[i].Timestamp = message.Timestamp
		}
	}
	return message
}

func expectKind(message Message, want MessageKind) error {
	if message.Kind != want {
		return protocolError("", "", -1, message.Kind, fmt.Errorf(
			"%w: got=%q want=%s",
			ErrUnexpectedMessageKind,
			message.Kind,
			want,
		))
	}
	return nil
}
