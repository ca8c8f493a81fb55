package partytest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Gurpartap/convosim/conversation"
)

// Turn configures one party turn in a scripted sequence.
type Turn struct {
	Message conversation.Message
	Err     error
}

// Memory is the party state threaded by the orchestrator: every message the
// party has seen or produced, in order.
type Memory struct {
	Messages []conversation.Message
}

// script replays turns in order and records what was delivered.
type script struct {
	mu       sync.Mutex
	index    int
	turns    []Turn
	seed     *int64
	history  []conversation.Message
	incoming []conversation.Message
}

func newScript(turns []Turn) *script {
	cloned := make([]Turn, len(turns))
	for i := range turns {
		cloned[i] = Turn{Message: conversation.CloneMessage(turns[i].Message), Err: turns[i].Err}
	}
	return &script{turns: cloned}
}

func (s *script) initState(history []conversation.Message) Memory {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = conversation.CloneMessages(history)
	return Memory{Messages: conversation.CloneMessages(history)}
}

func (s *script) next(incoming *conversation.Message, state any, kind conversation.MessageKind) (conversation.Message, Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	memory, ok := state.(Memory)
	if !ok && state != nil {
		return conversation.Message{}, Memory{}, fmt.Errorf("unexpected state type %T", state)
	}
	memory.Messages = conversation.CloneMessages(memory.Messages)
	if incoming != nil {
		s.incoming = append(s.incoming, conversation.CloneMessage(*incoming))
		memory.Messages = append(memory.Messages, incoming.Flatten()...)
	}

	if s.index >= len(s.turns) {
		return conversation.Message{}, Memory{}, fmt.Errorf("script exhausted at turn %d", s.index+1)
	}
	current := s.turns[s.index]
	s.index++
	if current.Err != nil {
		return conversation.Message{}, Memory{}, current.Err
	}
	msg := conversation.CloneMessage(current.Message)
	if msg.Kind == "" {
		msg.Kind = kind
	}
	if msg.Role == "" {
		msg.Role, _ = msg.Kind.Role()
	}
	memory.Messages = append(memory.Messages, conversation.CloneMessage(msg))
	return msg, memory, nil
}

func (s *script) setSeed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed = &seed
}

func (s *script) snapshot() ([]conversation.Message, []conversation.Message, *int64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var seed *int64
	if s.seed != nil {
		value := *s.seed
		seed = &value
	}
	return conversation.CloneMessages(s.history), conversation.CloneMessages(s.incoming), seed, s.index
}

// ScriptedAgent is a deterministic Agent for harness tests. It stops when an
// assistant message contains conversation.StopToken.
type ScriptedAgent struct {
	script *script
}

var _ conversation.Agent = (*ScriptedAgent)(nil)

func NewScriptedAgent(turns ...Turn) *ScriptedAgent {
	return &ScriptedAgent{script: newScript(turns)}
}

func (a *ScriptedAgent) InitState(_ context.Context, history []conversation.Message) (conversation.AgentState, error) {
	return a.script.initState(history), nil
}

func (a *ScriptedAgent) GenerateNextMessage(
	_ context.Context,
	incoming *conversation.Message,
	state conversation.AgentState,
) (conversation.Message, conversation.AgentState, error) {
	return a.script.next(incoming, state, conversation.KindAssistant)
}

func (a *ScriptedAgent) IsStop(message conversation.Message) bool {
	return strings.Contains(message.Content, conversation.StopToken)
}

func (a *ScriptedAgent) SetSeed(seed int64) {
	a.script.setSeed(seed)
}

// History returns the seed history passed to InitState.
func (a *ScriptedAgent) History() []conversation.Message {
	history, _, _, _ := a.script.snapshot()
	return history
}

// Incoming returns every message delivered to the agent, in order.
func (a *ScriptedAgent) Incoming() []conversation.Message {
	_, incoming, _, _ := a.script.snapshot()
	return incoming
}

// Seed returns the last seed set, or nil.
func (a *ScriptedAgent) Seed() *int64 {
	_, _, seed, _ := a.script.snapshot()
	return seed
}

// Calls returns how many turns were consumed.
func (a *ScriptedAgent) Calls() int {
	_, _, _, calls := a.script.snapshot()
	return calls
}

// ScriptedUser is a deterministic User for harness tests. It stops when a
// user message without tool calls contains a stop, transfer, or out-of-scope token.
type ScriptedUser struct {
	script *script
}

var _ conversation.User = (*ScriptedUser)(nil)

func NewScriptedUser(turns ...Turn) *ScriptedUser {
	return &ScriptedUser{script: newScript(turns)}
}

func (u *ScriptedUser) InitState(_ context.Context, history []conversation.Message) (conversation.UserState, error) {
	return u.script.initState(history), nil
}

func (u *ScriptedUser) GenerateNextMessage(
	_ context.Context,
	incoming conversation.Message,
	state conversation.UserState,
) (conversation.Message, conversation.UserState, error) {
	return u.script.next(&incoming, state, conversation.KindUser)
}

func (u *ScriptedUser) IsStop(message conversation.Message) bool {
	return IsUserStop(message)
}

func (u *ScriptedUser) SetSeed(seed int64) {
	u.script.setSeed(seed)
}

func (u *ScriptedUser) History() []conversation.Message {
	history, _, _, _ := u.script.snapshot()
	return history
}

func (u *ScriptedUser) Incoming() []conversation.Message {
	_, incoming, _, _ := u.script.snapshot()
	return incoming
}

func (u *ScriptedUser) Seed() *int64 {
	_, _, seed, _ := u.script.snapshot()
	return seed
}

func (u *ScriptedUser) Calls() int {
	_, _, _, calls := u.script.snapshot()
	return calls
}

// IsUserStop reports whether a user message ends the conversation.
func IsUserStop(message conversation.Message) bool {
	if message.IsToolCall() {
		return false
	}
	for _, token := range []string{
		conversation.StopToken,
		conversation.TransferToken,
		conversation.OutOfScopeToken,
	} {
		if strings.Contains(message.Content, token) {
			return true
		}
	}
	return false
}
