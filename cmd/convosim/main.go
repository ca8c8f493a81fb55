package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Gurpartap/convosim/adapters/inmem"
	"github.com/Gurpartap/convosim/batch"
	"github.com/Gurpartap/convosim/conversation"
	"github.com/Gurpartap/convosim/eventing"
	"github.com/Gurpartap/convosim/eventing/slogsink"
	"github.com/Gurpartap/convosim/internal/config"
	"github.com/Gurpartap/convosim/policy/retry"
	runstoreinmem "github.com/Gurpartap/convosim/runstore/inmem"
	"github.com/Gurpartap/convosim/taskfile"
)

// Info describes the batch that produced an output file.
type Info struct {
	Trials        int    `json:"num_trials"`
	MaxSteps      int    `json:"max_steps"`
	MaxErrors     int    `json:"max_errors"`
	Seed          *int64 `json:"seed,omitempty"`
	Solo          bool   `json:"solo_mode"`
	RetryAttempts int    `json:"retry_attempts"`
	PartyRetries  int    `json:"party_retry_attempts"`
}

type Output struct {
	Info        Info                         `json:"info"`
	Tasks       []conversation.Task          `json:"tasks"`
	Simulations []conversation.SimulationRun `json:"simulations"`
	Failures    []batch.Failure              `json:"failures,omitempty"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(logOutput, cfg.LogLevel, cfg.LogFormat)
	if err := run(ctx, cfg, logger, os.Stdout); err != nil {
		logger.Error("convosim failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, stdout io.Writer) error {
	scenario, err := taskfile.Load(cfg.ScenarioPath)
	if err != nil {
		return err
	}

	batchCfg := batch.Config{
		Concurrency:  cfg.Concurrency,
		Trials:       cfg.Trials,
		Conversation: cfg.Conversation(),
		Retry:        retry.Config{MaxAttempts: cfg.RetryAttempts},
		PartyRetry:   retry.Config{MaxAttempts: cfg.PartyRetryAttempts},
	}
	batchCfg.Conversation.SoloMode = scenario.Solo

	runner, err := batch.New(batch.Dependencies{
		Parties:     scenario.PartyFactory(),
		IDGenerator: inmem.UUIDGenerator{},
		EventSink:   eventing.NewFanout(slogsink.New(logger, cfg.LogFormat)),
		Store:       runstoreinmem.New(),
		Logger:      logger,
	}, batchCfg)
	if err != nil {
		return err
	}

	tasks := scenario.ConversationTasks()
	logger.Info(
		"starting batch",
		slog.String("scenario", cfg.ScenarioPath),
		slog.Int("tasks", len(tasks)),
		slog.Int("trials", cfg.Trials),
		slog.Int("concurrency", cfg.Concurrency),
	)
	results, err := runner.Run(ctx, tasks)
	if err != nil {
		return fmt.Errorf("run batch: %w", err)
	}

	output := Output{
		Info: Info{
			Trials:        cfg.Trials,
			MaxSteps:      cfg.MaxSteps,
			MaxErrors:     cfg.MaxErrors,
			Seed:          cfg.Seed,
			Solo:          scenario.Solo,
			RetryAttempts: cfg.RetryAttempts,
			PartyRetries:  cfg.PartyRetryAttempts,
		},
		Tasks:       tasks,
		Simulations: results.Runs,
		Failures:    results.Failures,
	}
	return writeOutput(cfg.OutputPath, stdout, output)
}

func writeOutput(path string, stdout io.Writer, output Output) error {
	payload, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	payload = append(payload, '\n')

	if path == "" {
		_, err := stdout.Write(payload)
		return err
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
