package inmem

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Gurpartap/convosim/conversation"
)

// CounterIDGenerator provides deterministic in-process run IDs.
type CounterIDGenerator struct {
	prefix  string
	counter atomic.Uint64
}

var _ conversation.IDGenerator = (*CounterIDGenerator)(nil)

func NewCounterIDGenerator(prefix string) *CounterIDGenerator {
	if prefix == "" {
		prefix = "run"
	}
	return &CounterIDGenerator{
		prefix: prefix,
	}
}

func (g *CounterIDGenerator) NewRunID(_ context.Context) (string, error) {
	next := g.counter.Add(1)
	return fmt.Sprintf("%s-%06d", g.prefix, next), nil
}

// UUIDGenerator issues random version 4 run IDs, unique across processes.
type UUIDGenerator struct{}

var _ conversation.IDGenerator = UUIDGenerator{}

func (UUIDGenerator) NewRunID(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", conversation.ErrContextNil
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}
