// Package taskfile loads scenario files: tasks plus the scripted parties and
// canned tool outputs needed to simulate them deterministically.
package taskfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Gurpartap/convosim/adapters/partytest"
	"github.com/Gurpartap/convosim/batch"
	"github.com/Gurpartap/convosim/conversation"
	toolingregistry "github.com/Gurpartap/convosim/tooling/registry"
)

// ErrScenarioInvalid is returned when a scenario file fails validation.
var ErrScenarioInvalid = errors.New("scenario is invalid")

// Scenario is the decoded form of a scenario file. JSON files decode as well.
type Scenario struct {
	Solo  bool         `yaml:"solo"`
	Tools Tools        `yaml:"tools"`
	Tasks []TaskScript `yaml:"tasks"`
}

// Tools holds canned outputs per tool name for each toolkit.
type Tools struct {
	Assistant map[string]ToolOutput `yaml:"assistant"`
	User      map[string]ToolOutput `yaml:"user"`
}

// ToolOutput is what a tool returns on every call. A non-empty Error makes
// the call fail.
type ToolOutput struct {
	Result any    `yaml:"result"`
	Error  string `yaml:"error"`
}

type TaskScript struct {
	ID           string                     `yaml:"id"`
	InitialState *conversation.InitialState `yaml:"initial_state"`
	Agent        []Turn                     `yaml:"agent"`
	User         []Turn                     `yaml:"user"`
}

// Turn is one scripted party reply. Error scripts a failed generation.
type Turn struct {
	Content   string                  `yaml:"content"`
	ToolCalls []conversation.ToolCall `yaml:"tool_calls"`
	Cost      *float64                `yaml:"cost"`
	Usage     map[string]int          `yaml:"usage"`
	Error     string                  `yaml:"error"`
}

func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	scenario, err := Parse(data)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario %s: %w", path, err)
	}
	return scenario, nil
}

// Parse decodes exactly one scenario document and rejects unknown fields.
func Parse(data []byte) (Scenario, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var scenario Scenario
	if err := decoder.Decode(&scenario); err != nil {
		if errors.Is(err, io.EOF) {
			return Scenario{}, fmt.Errorf("%w: document is empty", ErrScenarioInvalid)
		}
		return Scenario{}, fmt.Errorf("%w: %v", ErrScenarioInvalid, err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Scenario{}, fmt.Errorf("%w: file must contain exactly one document", ErrScenarioInvalid)
	}
	if err := scenario.Validate(); err != nil {
		return Scenario{}, err
	}
	return scenario, nil
}

func (s Scenario) Validate() error {
	if len(s.Tasks) == 0 {
		return fmt.Errorf("%w: field=tasks reason=empty", ErrScenarioInvalid)
	}
	seen := make(map[string]struct{}, len(s.Tasks))
	for i, task := range s.Tasks {
		if task.ID == "" {
			return fmt.Errorf("%w: field=tasks[%d].id reason=empty", ErrScenarioInvalid, i)
		}
		if _, ok := seen[task.ID]; ok {
			return fmt.Errorf("%w: field=tasks[%d].id reason=duplicate value=%q", ErrScenarioInvalid, i, task.ID)
		}
		seen[task.ID] = struct{}{}
		if s.Solo && len(task.User) > 0 {
			return fmt.Errorf("%w: field=tasks[%d].user reason=solo_mode task=%q", ErrScenarioInvalid, i, task.ID)
		}
		for _, turns := range [][]Turn{task.Agent, task.User} {
			for j, turn := range turns {
				if turn.Error != "" && (turn.Content != "" || len(turn.ToolCalls) > 0) {
					return fmt.Errorf("%w: task=%q turn=%d reason=error_with_message", ErrScenarioInvalid, task.ID, j)
				}
			}
		}
	}
	if s.Solo {
		for name := range s.Tools.Assistant {
			if _, ok := s.Tools.User[name]; ok {
				return fmt.Errorf("%w: %w: %q", ErrScenarioInvalid, toolingregistry.ErrToolNameCollision, name)
			}
		}
	}
	return nil
}

// ConversationTasks returns the tasks in file order. Message history roles
// default from their kind.
func (s Scenario) ConversationTasks() []conversation.Task {
	tasks := make([]conversation.Task, 0, len(s.Tasks))
	for _, entry := range s.Tasks {
		task := conversation.Task{ID: entry.ID}
		if entry.InitialState != nil {
			state := conversation.CloneInitialState(*entry.InitialState)
			for i := range state.MessageHistory {
				if state.MessageHistory[i].Role == "" {
					state.MessageHistory[i].Role, _ = state.MessageHistory[i].Kind.Role()
				}
			}
			task.InitialState = &state
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// PartyFactory builds scripted parties and a canned-output tool environment
// for each simulation.
func (s Scenario) PartyFactory() batch.PartyFactory {
	byID := make(map[string]TaskScript, len(s.Tasks))
	for _, entry := range s.Tasks {
		byID[entry.ID] = entry
	}
	return batch.PartyFactoryFunc(func(_ context.Context, task conversation.Task, _ int) (batch.Parties, error) {
		entry, ok := byID[task.ID]
		if !ok {
			return batch.Parties{}, fmt.Errorf("unknown task %q", task.ID)
		}

		env, err := toolingregistry.NewEnvironment(toolingregistry.Options{
			AssistantTools: cannedToolkit(s.Tools.Assistant),
			UserTools:      cannedToolkit(s.Tools.User),
			LoadData:       func(context.Context, conversation.InitializationData) error { return nil },
			Solo:           s.Solo,
		})
		if err != nil {
			return batch.Parties{}, err
		}

		var user conversation.User = conversation.DummyUser{}
		if !s.Solo {
			user = partytest.NewScriptedUser(turns(entry.User, conversation.KindUser)...)
		}
		return batch.Parties{
			Agent:       partytest.NewScriptedAgent(turns(entry.Agent, conversation.KindAssistant)...),
			User:        user,
			Environment: env,
		}, nil
	})
}

func turns(scripted []Turn, kind conversation.MessageKind) []partytest.Turn {
	out := make([]partytest.Turn, 0, len(scripted))
	for _, entry := range scripted {
		if entry.Error != "" {
			out = append(out, partytest.Turn{Err: errors.New(entry.Error)})
			continue
		}
		role, _ := kind.Role()
		out = append(out, partytest.Turn{Message: conversation.Message{
			Kind:      kind,
			Role:      role,
			Content:   entry.Content,
			ToolCalls: conversation.CloneToolCalls(entry.ToolCalls),
			Cost:      entry.Cost,
			Usage:     entry.Usage,
		}})
	}
	return out
}

func cannedToolkit(outputs map[string]ToolOutput) *toolingregistry.Toolkit {
	toolkit := toolingregistry.New(nil)
	for name, output := range outputs {
		toolkit.Register(name, func(context.Context, map[string]any) (any, error) {
			if output.Error != "" {
				return nil, errors.New(output.Error)
			}
			return output.Result, nil
		})
	}
	return toolkit
}
