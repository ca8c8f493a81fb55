package inmem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Gurpartap/convosim/conversation"
)

var (
	// ErrRunExists is returned when a run with the same ID was already saved.
	ErrRunExists = errors.New("simulation run already exists")
	// ErrRunNotFound is returned when no run with the requested ID was saved.
	ErrRunNotFound = errors.New("simulation run not found")
	// ErrRunInvalid is returned when a run cannot be stored.
	ErrRunInvalid = errors.New("simulation run is invalid")
)

// Store keeps finished simulation runs in memory. Runs are write-once.
type Store struct {
	mu    sync.RWMutex
	runs  map[string]conversation.SimulationRun
	order []string
}

func New() *Store {
	return &Store{runs: map[string]conversation.SimulationRun{}}
}

func (s *Store) Save(ctx context.Context, run conversation.SimulationRun) error {
	if ctx == nil {
		return conversation.ErrContextNil
	}
	if run.ID == "" {
		return fmt.Errorf("%w: field=id reason=empty task_id=%q", ErrRunInvalid, run.TaskID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("%w: run %q", ErrRunExists, run.ID)
	}
	s.runs[run.ID] = conversation.CloneSimulationRun(run)
	s.order = append(s.order, run.ID)
	return nil
}

func (s *Store) Load(ctx context.Context, runID string) (conversation.SimulationRun, error) {
	if ctx == nil {
		return conversation.SimulationRun{}, conversation.ErrContextNil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return conversation.SimulationRun{}, fmt.Errorf("%w: run %q", ErrRunNotFound, runID)
	}
	return conversation.CloneSimulationRun(run), nil
}

// List returns every saved run in insertion order.
func (s *Store) List(ctx context.Context) ([]conversation.SimulationRun, error) {
	if ctx == nil {
		return nil, conversation.ErrContextNil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]conversation.SimulationRun, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, conversation.CloneSimulationRun(s.runs[id]))
	}
	return out, nil
}
