package graphie

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Workflow is the authored definition of a step graph. Step inputs are
// written as structured YAML; they are serialized to the JSON wire form the
// STEP node carries.
type Workflow struct {
	ID    string         `yaml:"id"`
	Steps []WorkflowStep `yaml:"steps"`
	Edges []WorkflowEdge `yaml:"edges"`
}

type WorkflowStep struct {
	ID          string         `yaml:"id"`
	Function    string         `yaml:"function,omitempty"`
	Input       map[string]any `yaml:"input,omitempty"`
	Description string         `yaml:"description,omitempty"`
}

type WorkflowEdge struct {
	From       string         `yaml:"from"`
	To         string         `yaml:"to"`
	Operator   string         `yaml:"operator,omitempty"`
	Conditions []Condition    `yaml:"conditions,omitempty"`
	Function   string         `yaml:"function,omitempty"`
	Input      map[string]any `yaml:"input,omitempty"`
}

// LoadWorkflow reads a workflow definition from a YAML file.
func LoadWorkflow(path string) (Workflow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Workflow{}, fmt.Errorf("reading workflow file: %w", err)
	}

	var wf Workflow
	if err := yaml.Unmarshal(raw, &wf); err != nil {
		return Workflow{}, fmt.Errorf("unmarshalling workflow YAML: %w", err)
	}
	return wf, nil
}

// ImportWorkflow validates the definition against the registry and upserts
// its steps and edges into the store. Validation happens here, at load time,
// so a workflow referencing an unregistered function never reaches a running
// session.
func ImportWorkflow(ctx context.Context, store GraphStore, registry *Registry, wf Workflow) error {
	stepIDs := make(map[string]struct{}, len(wf.Steps))
	for _, step := range wf.Steps {
		if step.ID == "" {
			return fmt.Errorf("workflow %q: step with empty id", wf.ID)
		}
		if _, ok := stepIDs[step.ID]; ok {
			return fmt.Errorf("workflow %q: duplicate step id %q", wf.ID, step.ID)
		}
		stepIDs[step.ID] = struct{}{}

		if step.Function != "" {
			if err := registry.Validate(step.Function); err != nil {
				return fmt.Errorf("workflow %q: step %q: %w", wf.ID, step.ID, err)
			}
		}
	}

	for _, edge := range wf.Edges {
		if _, ok := stepIDs[edge.From]; !ok {
			return fmt.Errorf("workflow %q: edge from unknown step %q", wf.ID, edge.From)
		}
		if _, ok := stepIDs[edge.To]; !ok {
			return fmt.Errorf("workflow %q: edge to unknown step %q", wf.ID, edge.To)
		}
		if edge.Function != "" {
			if err := registry.Validate(edge.Function); err != nil {
				return fmt.Errorf("workflow %q: edge %s->%s: %w", wf.ID, edge.From, edge.To, err)
			}
		}
		if edge.Function != "" && len(edge.Conditions) > 0 {
			return fmt.Errorf("workflow %q: edge %s->%s mixes a condition function with a condition list", wf.ID, edge.From, edge.To)
		}
	}

	for _, step := range wf.Steps {
		input := ""
		if step.Input != nil {
			raw, err := json.Marshal(step.Input)
			if err != nil {
				return fmt.Errorf("workflow %q: step %q input: %w", wf.ID, step.ID, err)
			}
			input = string(raw)
		}
		node := Step{ID: step.ID, Function: step.Function, Input: input, Description: step.Description}
		if err := store.UpsertStep(ctx, node); err != nil {
			return fmt.Errorf("workflow %q: upserting step %q: %w", wf.ID, step.ID, err)
		}
	}

	for _, edge := range wf.Edges {
		input := ""
		if edge.Input != nil {
			raw, err := json.Marshal(edge.Input)
			if err != nil {
				return fmt.Errorf("workflow %q: edge %s->%s input: %w", wf.ID, edge.From, edge.To, err)
			}
			input = string(raw)
		}
		rel := Edge{
			From:       edge.From,
			To:         edge.To,
			Operator:   edge.Operator,
			Conditions: edge.Conditions,
			Function:   edge.Function,
			Input:      input,
		}
		if err := store.UpsertEdge(ctx, rel); err != nil {
			return fmt.Errorf("workflow %q: upserting edge %s->%s: %w", wf.ID, edge.From, edge.To, err)
		}
	}

	return nil
}
