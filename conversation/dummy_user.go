package conversation

import (
	"context"
	"errors"
)

// ErrDummyUserTurn is returned when a solo run routes a turn to the DummyUser.
var ErrDummyUserTurn = errors.New("dummy user does not take turns")

// DummyUser stands in for the user in solo runs, where the agent talks only to the environment.
type DummyUser struct{}

var _ User = DummyUser{}

func (DummyUser) InitState(context.Context, []Message) (UserState, error) {
	return nil, nil
}

func (DummyUser) GenerateNextMessage(context.Context, Message, UserState) (Message, UserState, error) {
	return Message{}, nil, ErrDummyUserTurn
}

func (DummyUser) IsStop(Message) bool {
	return false
}

func (DummyUser) SetSeed(int64) {}

func isDummyUser(user User) bool {
	switch user.(type) {
	case DummyUser, *DummyUser:
		return true
	default:
		return false
	}
}
