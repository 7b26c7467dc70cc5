package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Plan step types, the closed set the plan router dispatches on.
const (
	StepTypeSQL    = "sql"
	StepTypePython = "python"
)

// PlanStep is one step of a generated analysis plan.
type PlanStep struct {
	// Type is StepTypeSQL or StepTypePython.
	Type string `json:"type"`
	// Goal is what the step should achieve, fed into the generator prompt.
	Goal string `json:"goal"`
	// Description is the human-readable explanation shown in the report.
	Description string `json:"description,omitempty"`
}

// Plan is the model-generated analysis plan the run executes step by step.
type Plan struct {
	Thought string     `json:"thought,omitempty"`
	Steps   []PlanStep `json:"steps"`
}

// Summary renders a short human-readable description of the plan.
func (p *Plan) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysis plan (%d steps)", len(p.Steps))
	for i, step := range p.Steps {
		fmt.Fprintf(&b, "\n%d. [%s] %s", i+1, step.Type, step.Goal)
	}
	return b.String()
}

// ParsePlan extracts a Plan from raw model output. Models regularly emit
// fenced or slightly malformed JSON, so the payload is unfenced and run
// through jsonrepair before unmarshalling.
func ParsePlan(raw string) (*Plan, error) {
	payload := stripFences(raw)
	repaired, err := jsonrepair.JSONRepair(payload)
	if err != nil {
		return nil, fmt.Errorf("repair plan JSON: %w", err)
	}
	var plan Plan
	if err := json.Unmarshal([]byte(repaired), &plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}
	for i, step := range plan.Steps {
		switch step.Type {
		case StepTypeSQL, StepTypePython:
		default:
			return nil, fmt.Errorf("plan step %d has unknown type %q", i+1, step.Type)
		}
	}
	return &plan, nil
}

func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
