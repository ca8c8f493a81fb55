package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrMissingIDGenerator is returned when New is called without an ID generator.
var ErrMissingIDGenerator = errors.New("missing id generator")

// Dependencies wires the three parties and the observability services into an Orchestrator.
// The orchestrator borrows the parties for one run; it never constructs them.
type Dependencies struct {
	Agent       Agent
	User        User
	Environment Environment
	IDGenerator IDGenerator
	EventSink   EventSink
	Logger      *slog.Logger
}

// Orchestrator routes messages between an Agent, a User, and an Environment
// for a single task. It is not safe for concurrent use: one run owns its
// Environment exclusively.
type Orchestrator struct {
	agent  Agent
	user   User
	env    Environment
	idGen  IDGenerator
	events EventSink
	logger *slog.Logger

	task        Task
	cfg         Config
	runID       string
	initialized bool
	state       State
	eventErr    error
}

func New(deps Dependencies, task Task, cfg Config) (*Orchestrator, error) {
	if deps.Agent == nil {
		return nil, fmt.Errorf("new orchestrator: %w", ErrMissingAgent)
	}
	if deps.User == nil {
		return nil, fmt.Errorf("new orchestrator: %w", ErrMissingUser)
	}
	if deps.Environment == nil {
		return nil, fmt.Errorf("new orchestrator: %w", ErrMissingEnvironment)
	}
	if deps.IDGenerator == nil {
		return nil, fmt.Errorf("new orchestrator: %w", ErrMissingIDGenerator)
	}
	if deps.EventSink == nil {
		deps.EventSink = noopEventSink{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new orchestrator: %w", err)
	}
	if task.InitialState != nil {
		initialState := CloneInitialState(*task.InitialState)
		task.InitialState = &initialState
	}
	return &Orchestrator{
		agent:  deps.Agent,
		user:   deps.User,
		env:    deps.Environment,
		idGen:  deps.IDGenerator,
		events: deps.EventSink,
		logger: deps.Logger.With(slog.String("task_id", task.ID)),
		task:   task,
		cfg:    cfg,
	}, nil
}

// State returns a snapshot of the conversation record.
func (o *Orchestrator) State() State {
	return CloneState(o.state)
}

// Done reports whether the conversation has terminated.
func (o *Orchestrator) Done() bool {
	return o.state.Done
}

// RunID returns the identifier assigned at initialization.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Run initializes the conversation, steps it until a party stops or a budget
// is exhausted, and returns the finalized record. Budget exhaustion is a
// normal termination. Protocol and party errors abort the run.
//
// Event publish failures do not abort the run; they are joined into the
// returned error next to a complete SimulationRun.
func (o *Orchestrator) Run(ctx context.Context) (SimulationRun, error) {
	if ctx == nil {
		return SimulationRun{}, ErrContextNil
	}
	startTime := o.cfg.Now()

	if err := o.initialize(ctx); err != nil {
		o.publishFailed(ctx, err)
		return SimulationRun{}, errors.Join(err, o.takeEventErr())
	}
	if o.state.Done {
		o.publishTerminated(ctx)
	}
	for !o.state.Done {
		if err := o.step(ctx); err != nil {
			o.publishFailed(ctx, err)
			return SimulationRun{}, errors.Join(err, o.takeEventErr())
		}
		if err := o.enforceBudgets(); err != nil {
			return SimulationRun{}, errors.Join(err, o.takeEventErr())
		}
		if o.state.Done {
			o.publishTerminated(ctx)
		}
	}

	run, err := o.Finalize(startTime, o.cfg.Now())
	if err != nil {
		o.publishFailed(ctx, err)
		return SimulationRun{}, errors.Join(err, o.takeEventErr())
	}
	o.logger.Info(
		"simulation finished",
		slog.String("run_id", o.runID),
		slog.String("termination_reason", string(run.TerminationReason)),
		slog.Int("steps", o.state.StepCount),
		slog.Int("messages", len(run.Messages)),
	)
	o.publish(ctx, Event{
		RunID:             o.runID,
		TaskID:            o.task.ID,
		Step:              o.state.StepCount,
		Type:              EventTypeSimulationFinalized,
		TerminationReason: run.TerminationReason,
		Description:       "trajectory finalized",
	})
	return run, o.takeEventErr()
}

// enforceBudgets applies the driver-level step and error budgets. It never
// overrides a termination decided by a party.
func (o *Orchestrator) enforceBudgets() error {
	if o.state.Done {
		return nil
	}
	if o.state.StepCount >= o.cfg.MaxSteps {
		return terminate(&o.state, TerminationMaxSteps)
	}
	if o.state.NumErrors >= o.cfg.MaxErrors {
		return terminate(&o.state, TerminationTooManyErrors)
	}
	return nil
}

func (o *Orchestrator) publishTerminated(ctx context.Context) {
	o.logger.Debug(
		"conversation terminated",
		slog.String("run_id", o.runID),
		slog.Int("step", o.state.StepCount),
		slog.String("termination_reason", string(o.state.TerminationReason)),
	)
	o.publish(ctx, Event{
		RunID:             o.runID,
		TaskID:            o.task.ID,
		Step:              o.state.StepCount,
		Type:              EventTypeSimulationTerminated,
		TerminationReason: o.state.TerminationReason,
		Description:       "conversation terminated",
	})
}

func (o *Orchestrator) publishFailed(ctx context.Context, runErr error) {
	o.logger.Error(
		"simulation failed",
		slog.String("run_id", o.runID),
		slog.Int("step", o.state.StepCount),
		slog.Any("error", runErr),
	)
	if o.runID == "" {
		return
	}
	o.publish(ctx, Event{
		RunID:       o.runID,
		TaskID:      o.task.ID,
		Step:        o.state.StepCount,
		Type:        EventTypeSimulationFailed,
		From:        o.state.From,
		To:          o.state.To,
		Description: runErr.Error(),
	})
}

// publish delivers an event and keeps any sink failure for the caller; it never alters state.
func (o *Orchestrator) publish(ctx context.Context, event Event) {
	o.eventErr = errors.Join(o.eventErr, publishEvent(ctx, o.events, event))
}

func (o *Orchestrator) takeEventErr() error {
	err := o.eventErr
	o.eventErr = nil
	return err
}
