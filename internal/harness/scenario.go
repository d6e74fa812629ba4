package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a replica scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario demonstrates.
	Description string `yaml:"description"`

	// Replicas are created empty, in order, before the first step.
	Replicas []string `yaml:"replicas"`

	// StepMillis is the clock advance per reading (default 1000).
	StepMillis int64 `yaml:"step_ms,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action against the replicas. Which fields apply depends on
// Action.
type Step struct {
	Action string `yaml:"action"`

	// Replica acts (add, edit, sync, fork, reload) or authored the
	// change (broadcast).
	Replica string `yaml:"replica,omitempty"`

	User    string `yaml:"user,omitempty"`
	Content string `yaml:"content,omitempty"`

	// Label names the change produced by add or edit; for add it also
	// names the message.
	Label string `yaml:"label,omitempty"`

	// Message is the label of the message to edit.
	Message string `yaml:"message,omitempty"`

	// Change is the label of the change to deliver or broadcast.
	Change string   `yaml:"change,omitempty"`
	To     []string `yaml:"to,omitempty"`

	Peer      string `yaml:"peer,omitempty"`
	MaxRounds int    `yaml:"max_rounds,omitempty"`

	// Name is the new replica created by fork.
	Name string `yaml:"name,omitempty"`

	// ExpectError makes the step pass only if it fails.
	ExpectError bool `yaml:"expect_error,omitempty"`
}

// Step actions.
const (
	ActionAdd       = "add"
	ActionEdit      = "edit"
	ActionDeliver   = "deliver"
	ActionBroadcast = "broadcast"
	ActionSync      = "sync"
	ActionFork      = "fork"
	ActionReload    = "reload"
)

// Assertion validates the final replica state.
type Assertion struct {
	// Type is one of messages, message_count, pending, converged.
	Type string `yaml:"type"`

	Replica  string            `yaml:"replica,omitempty"`
	Replicas []string          `yaml:"replicas,omitempty"`
	Messages []ExpectedMessage `yaml:"messages,omitempty"`
	Count    int               `yaml:"count,omitempty"`
}

// ExpectedMessage matches one message. Edited is only checked when set.
type ExpectedMessage struct {
	User    string `yaml:"user"`
	Content string `yaml:"content"`
	Edited  *bool  `yaml:"edited,omitempty"`
}

// Assertion type constants.
const (
	AssertMessages     = "messages"
	AssertMessageCount = "message_count"
	AssertPending      = "pending"
	AssertConverged    = "converged"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is inconsistent.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and that every step refers to
// replicas and labels that exist at that point.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.StepMillis < 0 {
		return fmt.Errorf("step_ms must be non-negative")
	}

	known := make(map[string]bool)
	for _, name := range s.Replicas {
		if name == "" {
			return fmt.Errorf("replica names must be non-empty")
		}
		if known[name] {
			return fmt.Errorf("duplicate replica %q", name)
		}
		known[name] = true
	}

	changes := make(map[string]bool)
	messages := make(map[string]bool)
	replica := func(i int, field, name string) error {
		if name == "" {
			return fmt.Errorf("steps[%d]: %s is required for %s", i, field, s.Steps[i].Action)
		}
		if !known[name] {
			return fmt.Errorf("steps[%d]: unknown replica %q", i, name)
		}
		return nil
	}
	change := func(i int, label string) error {
		if label == "" {
			return fmt.Errorf("steps[%d]: change is required for %s", i, s.Steps[i].Action)
		}
		if !changes[label] {
			return fmt.Errorf("steps[%d]: unknown change label %q", i, label)
		}
		return nil
	}

	for i, step := range s.Steps {
		var err error
		switch step.Action {
		case ActionAdd:
			if err = replica(i, "replica", step.Replica); err == nil && step.User == "" {
				err = fmt.Errorf("steps[%d]: user is required for add", i)
			}
			if err == nil && step.Label != "" {
				changes[step.Label] = true
				messages[step.Label] = true
			}
		case ActionEdit:
			if err = replica(i, "replica", step.Replica); err == nil && !messages[step.Message] {
				err = fmt.Errorf("steps[%d]: unknown message label %q", i, step.Message)
			}
			if err == nil && step.Label != "" {
				changes[step.Label] = true
			}
		case ActionDeliver:
			if err = change(i, step.Change); err == nil && len(step.To) == 0 {
				err = fmt.Errorf("steps[%d]: to is required for deliver", i)
			}
			for _, name := range step.To {
				if err == nil {
					err = replica(i, "to", name)
				}
			}
		case ActionBroadcast:
			err = change(i, step.Change)
			if err == nil && step.Replica != "" {
				err = replica(i, "replica", step.Replica)
			}
			for _, name := range step.To {
				if err == nil {
					err = replica(i, "to", name)
				}
			}
		case ActionSync:
			if err = replica(i, "replica", step.Replica); err == nil {
				err = replica(i, "peer", step.Peer)
			}
			if err == nil && step.Peer == step.Replica {
				err = fmt.Errorf("steps[%d]: replica cannot sync with itself", i)
			}
		case ActionFork:
			if err = replica(i, "replica", step.Replica); err == nil {
				if step.Name == "" {
					err = fmt.Errorf("steps[%d]: name is required for fork", i)
				} else if known[step.Name] {
					err = fmt.Errorf("steps[%d]: replica %q already exists", i, step.Name)
				}
			}
			if err == nil {
				known[step.Name] = true
			}
		case ActionReload:
			err = replica(i, "replica", step.Replica)
		case "":
			err = fmt.Errorf("steps[%d]: action is required", i)
		default:
			err = fmt.Errorf("steps[%d]: unknown action %q", i, step.Action)
		}
		if err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, known); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, known map[string]bool) error {
	single := func() error {
		if a.Replica == "" {
			return fmt.Errorf("assertions[%d]: replica is required for %s", index, a.Type)
		}
		if !known[a.Replica] {
			return fmt.Errorf("assertions[%d]: unknown replica %q", index, a.Replica)
		}
		return nil
	}

	switch a.Type {
	case AssertMessages:
		return single()
	case AssertMessageCount, AssertPending:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
		return single()
	case AssertConverged:
		if len(a.Replicas) < 2 {
			return fmt.Errorf("assertions[%d]: converged needs at least two replicas", index)
		}
		for _, name := range a.Replicas {
			if !known[name] {
				return fmt.Errorf("assertions[%d]: unknown replica %q", index, name)
			}
		}
		return nil
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
}
