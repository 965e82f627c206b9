package safety

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/dstanton/tiller/tools"
)

// StepState is the lifecycle of one mutating step inside the gate.
type StepState string

const (
	StatePending      StepState = "pending"
	StatePreviewed    StepState = "previewed"
	StateApproved     StepState = "approved"
	StateModified     StepState = "modified"
	StateRejected     StepState = "rejected"
	StateCheckpointed StepState = "checkpointed"
	StateExecuted     StepState = "executed"
	StateSkipped      StepState = "skipped"
)

// Terminal skip reasons callers key behavior on. Anything else in
// GateResult.SkipReason is descriptive text from the failing collaborator.
const (
	SkipReasonRejected        = "rejected"
	SkipReasonModifyExhausted = "modify retries exhausted"
)

// DecisionKind is the user's answer to a preview.
type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionModify  DecisionKind = "modify"
	DecisionReject  DecisionKind = "reject"
)

// Decision carries the user's choice. NewArgs is consulted only for modify.
type Decision struct {
	Kind    DecisionKind
	NewArgs map[string]any
}

// Decider solicits a decision from the user. Present blocks until a decision
// arrives; a context cancellation counts as reject.
type Decider interface {
	Present(ctx context.Context, p Preview) (Decision, error)
}

// DecisionMemory remembers past approve/reject outcomes per operation
// pattern. Implemented by the memory store; nil disables remembering.
type DecisionMemory interface {
	// DecisionScore returns the learned confidence and sample count for a
	// pattern key, and whether the pattern has been seen.
	DecisionScore(key string) (score float64, samples int, ok bool)

	// RecordDecision folds one approve (true) or reject (false) into the
	// pattern's score.
	RecordDecision(key string, approved bool)
}

// GateConfig tunes the gate.
type GateConfig struct {
	// ModifyRetries bounds how many times a modify decision may restart the
	// preview before the step is skipped.
	ModifyRetries int

	// AutoApprove enables skipping the prompt for low-risk operations whose
	// remembered approval confidence is at least AutoApproveThreshold over
	// at least AutoApproveMinSamples decisions.
	AutoApprove           bool
	AutoApproveThreshold  float64
	AutoApproveMinSamples int
}

// DefaultGateConfig returns the default gate configuration.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		ModifyRetries:         1,
		AutoApprove:           false,
		AutoApproveThreshold:  0.8,
		AutoApproveMinSamples: 3,
	}
}

// GateResult is the terminal record of one step's trip through the gate.
type GateResult struct {
	State        StepState
	Preview      Preview
	FinalArgs    map[string]any
	CheckpointID int
	Outcome      tools.Outcome

	// AutoApproved marks decisions made from remembered confidence rather
	// than an explicit prompt.
	AutoApproved bool

	// SkipReason is set when State is Skipped.
	SkipReason string
}

// Gate runs mutating steps through preview, decision, checkpoint, and
// execution. Non-mutating steps never enter the gate.
type Gate struct {
	reg     *tools.Registry
	ws      *tools.Workspace
	arena   *Arena
	decider Decider
	memory  DecisionMemory
	cfg     GateConfig
}

// NewGate wires the gate. memory may be nil.
func NewGate(reg *tools.Registry, ws *tools.Workspace, arena *Arena, decider Decider, memory DecisionMemory, cfg GateConfig) *Gate {
	if cfg.ModifyRetries < 0 {
		cfg.ModifyRetries = 0
	}
	return &Gate{reg: reg, ws: ws, arena: arena, decider: decider, memory: memory, cfg: cfg}
}

// PatternKey derives the remembered-decision key for an operation and its
// targets. The same operation on the same targets maps to the same key.
func PatternKey(tool string, targets []string) string {
	sum := sha256.Sum256([]byte(strings.Join(targets, "\x00")))
	return tool + ":" + hex.EncodeToString(sum[:8])
}

// RunStep drives one mutating step through the state machine
// Pending -> Previewed -> {Approved, Modified, Rejected} ->
// {Checkpointed -> Executed | Skipped}. A step reaches Executed only after an
// approval and a successful checkpoint. Returns a non-nil error only for
// RollbackFailed, which aborts the turn.
func (g *Gate) RunStep(ctx context.Context, d *tools.Descriptor, stepID string, args map[string]any) (GateResult, error) {
	res := GateResult{State: StatePending, FinalArgs: args}

	for attempt := 0; ; attempt++ {
		targets := g.reg.Targets(d, tools.Args(res.FinalArgs))
		res.Preview = BuildPreview(ctx, d, tools.Args(res.FinalArgs), g.ws, stepID, targets)
		res.State = StatePreviewed

		decision, auto, fromError := g.decide(ctx, res.Preview)
		switch decision.Kind {
		case DecisionReject:
			// No checkpoint exists yet; nothing to release. A reject
			// synthesized from a decider error is not the user's judgment
			// on this operation, so it leaves the pattern score alone.
			if !fromError {
				g.remember(res.Preview, false)
			}
			res.State = StateSkipped
			res.SkipReason = SkipReasonRejected
			return res, nil

		case DecisionModify:
			if attempt >= g.cfg.ModifyRetries {
				res.State = StateSkipped
				res.SkipReason = SkipReasonModifyExhausted
				return res, nil
			}
			res.State = StateModified
			if decision.NewArgs != nil {
				res.FinalArgs = decision.NewArgs
			}
			continue

		case DecisionApprove:
			res.State = StateApproved
			res.AutoApproved = auto
			g.remember(res.Preview, true)
			return g.execute(ctx, d, stepID, targets, res)
		}
	}
}

// decide consults remembered confidence before prompting. auto is true when
// the prompt was skipped; fromError is true when the reject was synthesized
// from a Present failure rather than chosen by the user.
func (g *Gate) decide(ctx context.Context, p Preview) (decision Decision, auto, fromError bool) {
	if g.cfg.AutoApprove && g.memory != nil && p.Risk == tools.RiskLow {
		key := PatternKey(p.Tool, p.Targets)
		if score, samples, ok := g.memory.DecisionScore(key); ok &&
			samples >= g.cfg.AutoApproveMinSamples && score >= g.cfg.AutoApproveThreshold {
			return Decision{Kind: DecisionApprove}, true, false
		}
	}

	decision, err := g.decider.Present(ctx, p)
	if err != nil {
		// Cancellation or collaborator failure counts as reject.
		return Decision{Kind: DecisionReject}, false, true
	}
	return decision, false, false
}

func (g *Gate) remember(p Preview, approved bool) {
	if g.memory == nil {
		return
	}
	g.memory.RecordDecision(PatternKey(p.Tool, p.Targets), approved)
}

// execute checkpoints then runs the approved step. A failed outcome triggers
// automatic rollback; a failed rollback is the only error path out.
func (g *Gate) execute(ctx context.Context, d *tools.Descriptor, stepID string, targets []string, res GateResult) (GateResult, error) {
	cpID, err := g.arena.Snapshot(ctx, stepID, targets)
	if err != nil {
		res.State = StateSkipped
		res.SkipReason = err.Error()
		return res, nil
	}
	res.State = StateCheckpointed
	res.CheckpointID = cpID

	outcome, err := g.reg.Invoke(ctx, d, res.FinalArgs)
	if err != nil {
		// Arguments went invalid between plan validation and execution
		// (a modify decision can do that). The checkpoint was never
		// needed; drop it.
		g.arena.Release(cpID)
		res.CheckpointID = 0
		res.State = StateSkipped
		res.SkipReason = err.Error()
		return res, nil
	}

	res.State = StateExecuted
	res.Outcome = outcome

	if !outcome.Success {
		if rbErr := g.arena.Restore(ctx, cpID); rbErr != nil {
			return res, rbErr
		}
	}
	return res, nil
}
