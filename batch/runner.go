package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/Gurpartap/convosim/conversation"
	"github.com/Gurpartap/convosim/policy/retry"
	runstoreinmem "github.com/Gurpartap/convosim/runstore/inmem"
)

const (
	DefaultConcurrency = 4
	DefaultTrials      = 1

	// maxTrialSeed bounds the per-trial seeds drawn from the batch seed.
	maxTrialSeed = 1_000_000
)

var (
	ErrMissingPartyFactory = errors.New("missing party factory")
	ErrMissingStore        = errors.New("missing run store")
	ErrNoTasks             = errors.New("no tasks to run")
	ErrConfigInvalid       = errors.New("batch config is invalid")
)

// Parties is the triple one simulation runs against. A triple is never shared
// between simulations.
type Parties struct {
	Agent       conversation.Agent
	User        conversation.User
	Environment conversation.Environment
}

// PartyFactory builds a fresh party triple for every simulation attempt.
type PartyFactory interface {
	NewParties(ctx context.Context, task conversation.Task, trial int) (Parties, error)
}

// PartyFactoryFunc adapts a function to PartyFactory.
type PartyFactoryFunc func(ctx context.Context, task conversation.Task, trial int) (Parties, error)

func (f PartyFactoryFunc) NewParties(ctx context.Context, task conversation.Task, trial int) (Parties, error) {
	return f(ctx, task, trial)
}

type Config struct {
	Concurrency int
	Trials      int
	// Conversation is the per-run orchestrator config. When its Seed is set,
	// every trial gets its own seed derived from it.
	Conversation conversation.Config
	// Retry reruns a whole failed simulation with fresh parties.
	Retry retry.Config
	// PartyRetry retries a single failed agent or user turn in place.
	PartyRetry retry.Config
}

func DefaultConfig() Config {
	return Config{
		Concurrency:  DefaultConcurrency,
		Trials:       DefaultTrials,
		Conversation: conversation.DefaultConfig(),
		Retry:        retry.Config{MaxAttempts: 1},
		PartyRetry:   retry.Config{MaxAttempts: 1},
	}
}

func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: field=concurrency reason=non_positive value=%d", ErrConfigInvalid, c.Concurrency)
	}
	if c.Trials <= 0 {
		return fmt.Errorf("%w: field=trials reason=non_positive value=%d", ErrConfigInvalid, c.Trials)
	}
	if err := c.Conversation.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	return nil
}

type Dependencies struct {
	Parties     PartyFactory
	IDGenerator conversation.IDGenerator
	EventSink   conversation.EventSink
	Store       *runstoreinmem.Store
	Logger      *slog.Logger
}

// Failure records a simulation that did not produce a run.
type Failure struct {
	TaskID   string `json:"task_id"`
	Trial    int    `json:"trial"`
	Seed     *int64 `json:"seed,omitempty"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
	Err      error  `json:"-"`
}

// Results lists the finished runs ordered by trial, then by task order.
type Results struct {
	Runs     []conversation.SimulationRun `json:"simulations"`
	Failures []Failure                    `json:"failures,omitempty"`
	// Skipped counts simulations already present in the store.
	Skipped int `json:"skipped,omitempty"`
}

// Runner executes tasks times trials with bounded concurrency.
type Runner struct {
	parties PartyFactory
	idGen   conversation.IDGenerator
	events  conversation.EventSink
	store   *runstoreinmem.Store
	logger  *slog.Logger
	cfg     Config
}

func New(deps Dependencies, cfg Config) (*Runner, error) {
	if deps.Parties == nil {
		return nil, fmt.Errorf("new batch runner: %w", ErrMissingPartyFactory)
	}
	if deps.IDGenerator == nil {
		return nil, fmt.Errorf("new batch runner: %w", conversation.ErrMissingIDGenerator)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("new batch runner: %w", ErrMissingStore)
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new batch runner: %w", err)
	}
	return &Runner{
		parties: deps.Parties,
		idGen:   deps.IDGenerator,
		events:  deps.EventSink,
		store:   deps.Store,
		logger:  deps.Logger,
		cfg:     cfg,
	}, nil
}

type job struct {
	task  conversation.Task
	trial int
	seed  *int64
}

type outcome struct {
	run     *conversation.SimulationRun
	failure *Failure
	skipped bool
}

// Run executes every task for every trial. A failing simulation is recorded
// in Results and does not stop the others; only context cancellation or a
// store failure aborts the batch.
func (r *Runner) Run(ctx context.Context, tasks []conversation.Task) (Results, error) {
	if ctx == nil {
		return Results{}, conversation.ErrContextNil
	}
	if len(tasks) == 0 {
		return Results{}, ErrNoTasks
	}

	done, err := r.completed(ctx)
	if err != nil {
		return Results{}, err
	}

	jobs := r.jobs(tasks)
	outcomes := make([]outcome, len(jobs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.cfg.Concurrency)
	for i, j := range jobs {
		if _, ok := done[runKey(j.task.ID, j.trial, j.seed)]; ok {
			r.logger.Info("skipping finished simulation", slog.String("task_id", j.task.ID), slog.Int("trial", j.trial))
			outcomes[i] = outcome{skipped: true}
			continue
		}
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			result, err := r.runJob(groupCtx, j, i, len(jobs))
			outcomes[i] = result
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return Results{}, err
	}

	results := Results{Runs: []conversation.SimulationRun{}}
	for _, o := range outcomes {
		switch {
		case o.skipped:
			results.Skipped++
		case o.failure != nil:
			results.Failures = append(results.Failures, *o.failure)
		case o.run != nil:
			results.Runs = append(results.Runs, *o.run)
		}
	}
	r.logger.Info(
		"batch finished",
		slog.Int("simulations", len(results.Runs)),
		slog.Int("failures", len(results.Failures)),
		slog.Int("skipped", results.Skipped),
	)
	return results, nil
}

// runJob runs one simulation with retries. Only a context error or a store
// failure is returned as an error.
func (r *Runner) runJob(ctx context.Context, j job, position, total int) (outcome, error) {
	logger := r.logger.With(slog.String("task_id", j.task.ID), slog.Int("trial", j.trial))
	logger.Info("running simulation", slog.String("progress", fmt.Sprintf("%d/%d", position+1, total)))

	var (
		run      conversation.SimulationRun
		attempts int
	)
	err := retry.Do(ctx, r.cfg.Retry, func(ctx context.Context, attempt int) error {
		attempts = attempt
		var err error
		run, err = r.simulate(ctx, j, logger)
		if err != nil {
			logger.Warn("simulation attempt failed", slog.Int("attempt", attempt), slog.Any("error", err))
		}
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome{}, ctxErr
		}
		logger.Error("simulation failed", slog.Int("attempts", attempts), slog.Any("error", err))
		return outcome{failure: &Failure{
			TaskID:   j.task.ID,
			Trial:    j.trial,
			Seed:     cloneSeed(j.seed),
			Attempts: attempts,
			Error:    err.Error(),
			Err:      err,
		}}, nil
	}

	if err := r.store.Save(ctx, run); err != nil {
		return outcome{}, fmt.Errorf("save run %q: %w", run.ID, err)
	}
	return outcome{run: &run}, nil
}

func (r *Runner) simulate(ctx context.Context, j job, logger *slog.Logger) (conversation.SimulationRun, error) {
	parties, err := r.parties.NewParties(ctx, j.task, j.trial)
	if err != nil {
		return conversation.SimulationRun{}, fmt.Errorf("new parties: %w", err)
	}

	cfg := r.cfg.Conversation
	cfg.Seed = cloneSeed(j.seed)
	orchestrator, err := conversation.New(conversation.Dependencies{
		Agent:       retry.WrapAgent(parties.Agent, r.cfg.PartyRetry),
		User:        retry.WrapUser(parties.User, r.cfg.PartyRetry),
		Environment: parties.Environment,
		IDGenerator: r.idGen,
		EventSink:   r.events,
		Logger:      r.logger.With(slog.Int("trial", j.trial)),
	}, j.task, cfg)
	if err != nil {
		return conversation.SimulationRun{}, err
	}

	run, err := orchestrator.Run(ctx)
	if run.ID == "" {
		return conversation.SimulationRun{}, err
	}
	if err != nil {
		// Event delivery failed; the run itself is complete.
		logger.Warn("event publish failed", slog.String("run_id", run.ID), slog.Any("error", err))
	}
	run.Trial = j.trial
	return run, nil
}

// jobs expands tasks into trial-major order. With a batch seed, trial i of
// every task shares the i-th derived seed.
func (r *Runner) jobs(tasks []conversation.Task) []job {
	seeds := trialSeeds(r.cfg.Conversation.Seed, r.cfg.Trials)
	jobs := make([]job, 0, len(tasks)*r.cfg.Trials)
	for trial := 0; trial < r.cfg.Trials; trial++ {
		for _, task := range tasks {
			jobs = append(jobs, job{task: task, trial: trial, seed: seeds[trial]})
		}
	}
	return jobs
}

func trialSeeds(seed *int64, trials int) []*int64 {
	seeds := make([]*int64, trials)
	if seed == nil {
		return seeds
	}
	source := rand.New(rand.NewPCG(uint64(*seed), 0))
	for i := range seeds {
		value := int64(source.IntN(maxTrialSeed + 1))
		seeds[i] = &value
	}
	return seeds
}

func (r *Runner) completed(ctx context.Context) (map[string]struct{}, error) {
	runs, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list finished runs: %w", err)
	}
	done := make(map[string]struct{}, len(runs))
	for i := range runs {
		done[runKey(runs[i].TaskID, runs[i].Trial, runs[i].Seed)] = struct{}{}
	}
	return done, nil
}

func runKey(taskID string, trial int, seed *int64) string {
	if seed == nil {
		return fmt.Sprintf("%s/%d/-", taskID, trial)
	}
	return fmt.Sprintf("%s/%d/%d", taskID, trial, *seed)
}

func cloneSeed(seed *int64) *int64 {
	if seed == nil {
		return nil
	}
	value := *seed
	return &value
}
