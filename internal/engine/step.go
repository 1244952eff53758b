package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// StepFunc is one named unit of work. All observable side effects happen
// inside the body; the returned value is serialized into the step log and
// becomes visible to later steps.
type StepFunc func(ctx context.Context, sc *StepContext) (any, error)

// Step pairs a stable name with its body. The name is the memoization key
// within a run and must be unique in a definition.
type Step struct {
	Name string
	Fn   StepFunc
}

// Definition is an ordered step list bound to a workflow kind.
type Definition struct {
	Kind  string
	Steps []Step
}

// Validate checks that the definition is executable.
func (d Definition) Validate() error {
	if d.Kind == "" {
		return fmt.Errorf("workflow definition requires a kind")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", d.Kind)
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for _, step := range d.Steps {
		if step.Name == "" {
			return fmt.Errorf("workflow %s has an unnamed step", d.Kind)
		}
		if step.Fn == nil {
			return fmt.Errorf("workflow %s step %s has no body", d.Kind, step.Name)
		}
		if _, dup := seen[step.Name]; dup {
			return fmt.Errorf("workflow %s step %s is defined twice", d.Kind, step.Name)
		}
		seen[step.Name] = struct{}{}
	}
	return nil
}

// StepContext carries the event payload and the outputs of prior steps into
// a step body.
type StepContext struct {
	RunID   string
	Payload json.RawMessage

	outputs map[string]json.RawMessage
}

// Event decodes the triggering event payload into v.
func (sc *StepContext) Event(v any) error {
	if len(sc.Payload) == 0 {
		return fmt.Errorf("run %s has no event payload", sc.RunID)
	}
	if err := json.Unmarshal(sc.Payload, v); err != nil {
		return fmt.Errorf("decode event payload: %w", err)
	}
	return nil
}

// Output decodes the stored result of an earlier step into v.
func (sc *StepContext) Output(step string, v any) error {
	raw, ok := sc.outputs[step]
	if !ok {
		return fmt.Errorf("step %s has not produced an output", step)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode output of step %s: %w", step, err)
	}
	return nil
}

// RawOutput returns the stored result of an earlier step without decoding.
func (sc *StepContext) RawOutput(step string) (json.RawMessage, bool) {
	raw, ok := sc.outputs[step]
	return raw, ok
}

func (sc *StepContext) setOutput(step string, raw json.RawMessage) {
	if sc.outputs == nil {
		sc.outputs = make(map[string]json.RawMessage)
	}
	sc.outputs[step] = raw
}
