package llmrouter

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// SchemaSource exposes the argument requirements of registered tools so the
// router can validate plans without importing the registry package.
type SchemaSource interface {
	// RequiredFields returns the required argument names for a tool, and
	// whether the tool is known at all.
	RequiredFields(tool string) ([]string, bool)
}

var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ParsePlan decodes and validates a raw provider payload. Any violation is
// reported as an error; the router converts it into a malformed-output
// provider failure.
//
// Unknown tool names pass validation here: resolution failures are a
// per-step concern handled at dispatch time, not a plan-schema violation.
func ParsePlan(raw json.RawMessage, schemas SchemaSource) (*Plan, error) {
	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("plan payload is not valid JSON: %w", err)
	}

	if plan.ID == "" {
		plan.ID = NewPlanID()
	}

	seen := make(map[string]bool, len(plan.Steps))
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.ID == "" {
			step.ID = fmt.Sprintf("s%d", i+1)
		}
		if seen[step.ID] {
			return nil, fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = true

		if !toolNamePattern.MatchString(step.Tool) {
			return nil, fmt.Errorf("step %s: malformed tool identifier %q", step.ID, step.Tool)
		}
		if step.Args == nil {
			step.Args = map[string]any{}
		}

		if schemas != nil {
			if required, known := schemas.RequiredFields(step.Tool); known {
				for _, field := range required {
					if _, ok := step.Args[field]; !ok {
						return nil, fmt.Errorf("step %s: tool %s missing required argument %q", step.ID, step.Tool, field)
					}
				}
			}
		}
	}

	// Dependencies must point backwards at steps in the same plan.
	for _, step := range plan.Steps {
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return nil, fmt.Errorf("step %s depends on unknown step %q", step.ID, dep)
			}
		}
	}

	return &plan, nil
}
