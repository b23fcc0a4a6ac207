package orchestration

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itsneelabh/workforce/core"
)

// descriptor is the document form of a strategy:
//
//	type: pipeline
//	agents: [planner, coder, reviewer]
//	options:
//	  stepTimeout: 90s
//	  maxIterations: 3
//
// JSON is accepted too. Single strategies name their worker with agent.
type descriptor struct {
	Type    string            `yaml:"type"`
	Agent   string            `yaml:"agent"`
	Agents  []string          `yaml:"agents"`
	Options descriptorOptions `yaml:"options"`
}

type descriptorOptions struct {
	Timeout       millis `yaml:"timeout"`
	StepTimeout   millis `yaml:"stepTimeout"`
	AgentTimeout  millis `yaml:"agentTimeout"`
	MaxIterations int    `yaml:"maxIterations"`
}

// millis decodes either an integer count of milliseconds or a Go duration
// string such as "90s".
type millis time.Duration

func (m *millis) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	v := strings.TrimSpace(node.Value)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		*m = millis(time.Duration(ms) * time.Millisecond)
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, v)
	}
	*m = millis(d)
	return nil
}

// ParseDescriptor decodes a YAML or JSON strategy descriptor. An
// unrecognized type yields ErrUnknownStrategy; a malformed document or a
// missing agent list yields ErrInvalidStrategy.
func ParseDescriptor(data []byte) (Strategy, error) {
	var d descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, &core.FrameworkError{
			Op:   "orchestration.ParseDescriptor",
			Kind: "strategy",
			Err:  fmt.Errorf("%v: %w", err, core.ErrInvalidStrategy),
		}
	}

	kind, err := ParseKind(d.Type)
	if err != nil {
		return nil, &core.FrameworkError{Op: "orchestration.ParseDescriptor", Kind: "strategy", ID: d.Type, Err: err}
	}

	agents := d.Agents
	if d.Agent != "" {
		agents = append([]string{d.Agent}, agents...)
	}

	s, err := NewStrategy(kind, agents, Options{
		Timeout:       time.Duration(d.Options.Timeout),
		StepTimeout:   time.Duration(d.Options.StepTimeout),
		AgentTimeout:  time.Duration(d.Options.AgentTimeout),
		MaxIterations: d.Options.MaxIterations,
	})
	if err != nil {
		return nil, &core.FrameworkError{Op: "orchestration.ParseDescriptor", Kind: "strategy", ID: string(kind), Err: err}
	}
	return s, nil
}
