package agentloop

import (
	"fmt"
	"strings"
	"time"

	"github.com/dstanton/tiller/llmrouter"
	"github.com/dstanton/tiller/safety"
)

// StepStatus is the terminal status of one executed plan step.
type StepStatus string

const (
	StatusSuccess StepStatus = "success"
	StatusFailure StepStatus = "failure"
	StatusSkipped StepStatus = "skipped"
)

// StepResult is the per-step record appended to the session report. Every
// step reaches exactly one terminal result; Detail is never empty for a
// failure or skip.
type StepResult struct {
	StepID string     `json:"step_id"`
	Tool   string     `json:"tool"`
	Status StepStatus `json:"status"`
	Output string     `json:"output,omitempty"`
	Detail string     `json:"detail,omitempty"`

	// CheckpointID is non-zero when a checkpoint guards this step.
	CheckpointID int `json:"checkpoint_id,omitempty"`

	// GateState is set for steps that passed through the safety gate.
	GateState safety.StepState `json:"gate_state,omitempty"`

	// SkipReason carries the gate's terminal skip reason verbatim, so
	// callers can compare it against the safety package's constants
	// instead of parsing Detail.
	SkipReason string `json:"skip_reason,omitempty"`

	AutoApproved bool `json:"auto_approved,omitempty"`
}

// Report aggregates one turn's outcome for the rendering collaborator.
type Report struct {
	SessionID   string       `json:"session_id"`
	UserInput   string       `json:"user_input"`
	PlanID      string       `json:"plan_id,omitempty"`
	PlanSummary string       `json:"plan_summary,omitempty"`
	Steps       []StepResult `json:"steps"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`

	// ReasoningFailed means every provider was exhausted; no plan ran.
	ReasoningFailed bool   `json:"reasoning_failed,omitempty"`
	FailureNotice   string `json:"failure_notice,omitempty"`

	// Aborted means a rollback failure ended the turn early.
	Aborted bool `json:"aborted,omitempty"`
}

// OutcomesSummary condenses the step results for the interaction log.
func (r Report) OutcomesSummary() string {
	if r.ReasoningFailed {
		return "reasoning unavailable"
	}
	var parts []string
	for _, s := range r.Steps {
		parts = append(parts, fmt.Sprintf("%s=%s", s.Tool, s.Status))
	}
	if r.Aborted {
		parts = append(parts, "turn aborted")
	}
	return strings.Join(parts, ", ")
}

// Counts returns how many steps finished in each status.
func (r Report) Counts() (succeeded, failed, skipped int) {
	for _, s := range r.Steps {
		switch s.Status {
		case StatusSuccess:
			succeeded++
		case StatusFailure:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return
}

func skippedResult(step llmrouter.PlanStep, reason string) StepResult {
	return StepResult{
		StepID: step.ID,
		Tool:   step.Tool,
		Status: StatusSkipped,
		Detail: reason,
	}
}

// resultFromGate maps a gate result onto a step result.
func resultFromGate(step llmrouter.PlanStep, gr safety.GateResult) StepResult {
	res := StepResult{
		StepID:       step.ID,
		Tool:         step.Tool,
		GateState:    gr.State,
		CheckpointID: gr.CheckpointID,
		AutoApproved: gr.AutoApproved,
	}

	switch gr.State {
	case safety.StateExecuted:
		res.Output = gr.Outcome.Output
		if gr.Outcome.Success {
			res.Status = StatusSuccess
		} else {
			res.Status = StatusFailure
			res.Detail = gr.Outcome.Error
		}
	case safety.StateSkipped:
		res.Status = StatusSkipped
		res.SkipReason = gr.SkipReason
		res.Detail = gr.SkipReason
	default:
		// The gate only terminates in Executed or Skipped; anything else
		// is a bug surfaced as a failure rather than hidden.
		res.Status = StatusFailure
		res.Detail = fmt.Sprintf("gate ended in unexpected state %s", gr.State)
	}
	return res
}
