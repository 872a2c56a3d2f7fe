package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrDuplicateStep = errors.New("duplicate step id")
	ErrInvalidStep   = errors.New("invalid step")
)

// Document is the stored scenario body.
type Document struct {
	Steps []Step `json:"steps"`
}

// Graph is a validated, id-indexed scenario.
type Graph struct {
	steps []Step
	byID  map[string]int
}

func NewGraph(steps []Step) (*Graph, error) {
	g := &Graph{steps: steps, byID: make(map[string]int, len(steps))}
	for i, st := range steps {
		if err := validateStep(st); err != nil {
			return nil, err
		}
		if st.ID == "" {
			continue
		}
		if _, dup := g.byID[st.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStep, st.ID)
		}
		g.byID[st.ID] = i
	}
	return g, nil
}

func validateStep(st Step) error {
	if !st.Kind.Valid() {
		return fmt.Errorf("%w %q: kind %q", ErrInvalidStep, st.ID, st.Kind)
	}
	for _, b := range st.Buttons {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%w %q: button %q: %v", ErrInvalidStep, st.ID, b.Text, err)
		}
	}
	for _, t := range st.Transitions {
		if strings.TrimSpace(t.OnCallback) == "" {
			return fmt.Errorf("%w %q: transition without on_callback", ErrInvalidStep, st.ID)
		}
	}
	if st.Delay < 0 {
		return fmt.Errorf("%w %q: negative delay", ErrInvalidStep, st.ID)
	}
	if st.Delay > 0 && st.ID == "" {
		return fmt.Errorf("%w: delayed step needs an id", ErrInvalidStep)
	}
	return nil
}

// Parse decodes and validates a stored {"steps": [...]} document.
func Parse(data []byte) (*Graph, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return NewGraph(doc.Steps)
}

// ParseYAML accepts the same shape written as YAML.
func ParseYAML(data []byte) (*Graph, error) {
	raw, err := yamlToJSON(data)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return out, nil
}

func (g *Graph) Len() int {
	return len(g.steps)
}

func (g *Graph) Step(id string) *Step {
	i, ok := g.byID[id]
	if !ok {
		return nil
	}
	return &g.steps[i]
}

// First is the positional first step, re-resolved by its id when it has one.
func (g *Graph) First() *Step {
	if len(g.steps) == 0 {
		return nil
	}
	if st := g.Step(g.steps[0].ID); st != nil {
		return st
	}
	return &g.steps[0]
}

// Next resolves the step after currentID. A transition matching trigger wins
// over the default next_step_id; a nil result ends the scenario.
func (g *Graph) Next(currentID, trigger string) *Step {
	current := g.Step(currentID)
	if current == nil {
		return nil
	}
	if trigger != "" {
		for _, t := range current.Transitions {
			if t.OnCallback == trigger {
				return g.Step(t.NextStepID)
			}
		}
	}
	return g.Step(current.NextStepID)
}
