package agentloop

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dstanton/tiller/llmrouter"
	"github.com/dstanton/tiller/memstore"
	"github.com/dstanton/tiller/safety"
	"github.com/dstanton/tiller/tools"
)

// LoopState is the executor's position in the per-turn cycle.
type LoopState string

const (
	StateIdle        LoopState = "idle"
	StatePerceiving  LoopState = "perceiving"
	StateReasoning   LoopState = "reasoning"
	StateDispatching LoopState = "dispatching"
	StateGating      LoopState = "gating"
	StateExecuting   LoopState = "executing"
	StateDisplaying  LoopState = "displaying"
	StateLearning    LoopState = "learning"
)

// Reasoner produces plans. Implemented by the gateway router.
type Reasoner interface {
	Reason(ctx context.Context, pc llmrouter.PromptContext, history []llmrouter.PlanHistoryEntry) (*llmrouter.Plan, error)
}

// Gater runs mutating steps through preview, decision, and checkpoint.
// Implemented by the safety gate.
type Gater interface {
	RunStep(ctx context.Context, d *tools.Descriptor, stepID string, args map[string]any) (safety.GateResult, error)
}

// Memory is the durable store consulted before reasoning and updated by the
// learn phase. Implemented by the memory store.
type Memory interface {
	Preferences() (map[string]float64, error)
	RecentInteractions(n int) ([]memstore.InteractionEntry, error)
	Reinforce(key string, signal float64) error
	AppendInteraction(entry memstore.InteractionEntry) error
	RecordToolUsage(tool string, success bool)
	ToolEffectiveness(tool string) (memstore.ToolStats, error)
}

// Renderer receives the finished report. The displaying state is the only
// place the executor touches it.
type Renderer interface {
	RenderReport(r Report)
}

// Config tunes the executor.
type Config struct {
	// StrictMode aborts the remainder of a plan on the first step failure
	// or skip.
	StrictMode bool

	// HaltDependents skips steps whose declared dependencies failed.
	// Independent steps still run.
	HaltDependents bool

	// HistorySize bounds the recent-action ring in the snapshot.
	HistorySize int

	// PerceiveTimeout bounds each collaborator call during perception.
	PerceiveTimeout time.Duration

	// RepeatWindow is how many identical consecutive step signatures
	// trigger a repeated-step warning. 0 disables detection.
	RepeatWindow int

	// PlanHistoryDepth is how many prior interactions are replayed into the
	// reasoning prompt.
	PlanHistoryDepth int
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		StrictMode:       false,
		HaltDependents:   true,
		HistorySize:      20,
		PerceiveTimeout:  3 * time.Second,
		RepeatWindow:     3,
		PlanHistoryDepth: 5,
	}
}

// Executor drives the perceive, reason, act, learn cycle for one interactive
// session. A session is sequential: the phases of one turn never overlap.
type Executor struct {
	sessionID string
	ws        *tools.Workspace
	registry  *tools.Registry
	reasoner  Reasoner
	gate      Gater
	memory    Memory
	renderer  Renderer
	emitter   *EventEmitter
	cfg       Config

	mu         sync.Mutex
	state      LoopState
	ring       *actionRing
	recentSigs []string
}

// NewExecutor wires the loop. renderer may be nil.
func NewExecutor(ws *tools.Workspace, registry *tools.Registry, reasoner Reasoner, gate Gater, memory Memory, renderer Renderer, cfg Config) *Executor {
	sessionID := uuid.New().String()
	return &Executor{
		sessionID: sessionID,
		ws:        ws,
		registry:  registry,
		reasoner:  reasoner,
		gate:      gate,
		memory:    memory,
		renderer:  renderer,
		emitter:   NewEventEmitter(sessionID, 256),
		cfg:       cfg,
		state:     StateIdle,
		ring:      newActionRing(cfg.HistorySize),
	}
}

// SessionID returns the session identifier.
func (e *Executor) SessionID() string { return e.sessionID }

// State returns the executor's current loop state.
func (e *Executor) State() LoopState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Events returns the event channel for the host application.
func (e *Executor) Events() <-chan LoopEvent {
	return e.emitter.Events()
}

// Close releases the event channel.
func (e *Executor) Close() {
	e.emitter.Close()
}

func (e *Executor) setState(s LoopState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// RunTurn processes one user input through the full cycle and returns the
// turn's report. The error is non-nil only for turn-aborting conditions:
// context cancellation and rollback failure.
func (e *Executor) RunTurn(ctx context.Context, userInput string) (Report, error) {
	e.emitter.Emit(EventTurnStart, map[string]any{"input": userInput})
	defer func() {
		e.setState(StateIdle)
		e.emitter.Emit(EventTurnEnd, nil)
	}()

	report := Report{SessionID: e.sessionID, UserInput: userInput, StartedAt: time.Now()}

	// Perceive.
	e.setState(StatePerceiving)
	snap := perceive(ctx, e.ws, e.ring, e.cfg.PerceiveTimeout)
	e.emitter.Emit(EventPerceived, map[string]any{
		"branch":  snap.Branch,
		"partial": snap.Partial,
	})

	// Reason.
	e.setState(StateReasoning)
	plan, err := e.reason(ctx, userInput, snap)
	if err != nil {
		if llmrouter.IsReasoningUnavailable(err) {
			report.ReasoningFailed = true
			report.FailureNotice = err.Error()
			e.display(&report)
			return report, nil
		}
		e.emitter.Emit(EventError, map[string]any{"error": err.Error()})
		return report, err
	}
	report.PlanID = plan.ID
	report.PlanSummary = plan.Summary
	e.emitter.Emit(EventPlanReceived, map[string]any{
		"plan_id": plan.ID,
		"steps":   len(plan.Steps),
	})

	// Act.
	e.setState(StateDispatching)
	abort := e.dispatch(ctx, plan, &report)

	// Display.
	e.display(&report)
	if abort != nil {
		return report, abort
	}
	if ctx.Err() != nil {
		return report, ctx.Err()
	}

	// Learn.
	e.setState(StateLearning)
	e.learn(&report)

	return report, nil
}

// reason assembles the prompt context and asks the gateway for a plan.
func (e *Executor) reason(ctx context.Context, userInput string, snap Snapshot) (*llmrouter.Plan, error) {
	pc := llmrouter.PromptContext{
		UserInput:     userInput,
		WorkingDir:    snap.WorkingDir,
		Branch:        snap.Branch,
		DiffSummary:   snap.DiffSummary,
		ModifiedFiles: snap.ModifiedFiles,
		RecentActions: snap.RecentActions,
		Tools:         e.registry.Summaries(),
	}

	// Learned state biases planning but its absence never blocks a turn.
	if prefs, err := e.memory.Preferences(); err == nil && len(prefs) > 0 {
		pc.Preferences = prefs
	}
	for i := range pc.Tools {
		if stats, err := e.memory.ToolEffectiveness(pc.Tools[i].Name); err == nil && stats.UsageCount > 0 {
			pc.Tools[i].UsageCount = stats.UsageCount
			pc.Tools[i].SuccessRate = stats.SuccessRate()
		}
	}

	var history []llmrouter.PlanHistoryEntry
	if entries, err := e.memory.RecentInteractions(e.cfg.PlanHistoryDepth); err == nil {
		for i := len(entries) - 1; i >= 0; i-- {
			history = append(history, llmrouter.PlanHistoryEntry{
				Summary:  entries[i].PlanSummary,
				Outcomes: entries[i].OutcomesSummary,
			})
		}
	}

	return e.reasoner.Reason(ctx, pc, history)
}

// dispatch resolves and executes every plan step. The returned error is
// non-nil only when a rollback failure makes further execution unsafe;
// remaining steps are then marked skipped before returning.
func (e *Executor) dispatch(ctx context.Context, plan *llmrouter.Plan, report *Report) error {
	failed := make(map[string]bool)
	aborted := ""

	for _, step := range plan.Steps {
		if aborted != "" {
			report.Steps = append(report.Steps, skippedResult(step, aborted))
			continue
		}
		if ctx.Err() != nil {
			report.Steps = append(report.Steps, skippedResult(step, "turn cancelled"))
			continue
		}

		if dep := e.haltedDependency(step, failed); dep != "" {
			res := skippedResult(step, "dependency "+dep+" failed")
			report.Steps = append(report.Steps, res)
			e.noteStep(step, res)
			if e.cfg.StrictMode {
				aborted = "strict mode: dependency failure"
			}
			continue
		}

		res, rollbackErr := e.runStep(ctx, step)
		report.Steps = append(report.Steps, res)
		e.noteStep(step, res)

		if res.Status == StatusFailure {
			failed[step.ID] = true
		}
		if rollbackErr != nil {
			report.FailureNotice = rollbackErr.Error()
			report.Aborted = true
			e.emitter.Emit(EventError, map[string]any{"error": rollbackErr.Error()})
			aborted = "aborted: " + rollbackErr.Error()
			continue
		}
		if e.cfg.StrictMode && res.Status != StatusSuccess {
			aborted = "strict mode: prior step did not succeed"
		}
	}

	if report.Aborted {
		return fmt.Errorf("turn aborted: %s", report.FailureNotice)
	}
	return nil
}

// haltedDependency returns the id of a failed dependency that should halt
// this step, or empty.
func (e *Executor) haltedDependency(step llmrouter.PlanStep, failed map[string]bool) string {
	if !e.cfg.HaltDependents {
		return ""
	}
	for _, dep := range step.DependsOn {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

// runStep executes one step, routing mutating steps through the gate. The
// error is non-nil only on rollback failure.
func (e *Executor) runStep(ctx context.Context, step llmrouter.PlanStep) (StepResult, error) {
	e.emitter.Emit(EventStepStart, map[string]any{"step": step.ID, "tool": step.Tool})
	e.checkRepetition(step)

	d, err := e.registry.Resolve(step.Tool)
	if err != nil {
		return skippedResult(step, err.Error()), nil
	}

	var res StepResult
	if d.Mutating {
		e.setState(StateGating)
		gr, gateErr := e.gate.RunStep(ctx, d, step.ID, step.Args)
		e.setState(StateExecuting)
		res = resultFromGate(step, gr)
		if gateErr != nil {
			res.Status = StatusFailure
			res.Detail = gateErr.Error()
			e.emitStepEnd(res)
			return res, gateErr
		}
	} else {
		e.setState(StateExecuting)
		outcome, invErr := e.registry.Invoke(ctx, d, step.Args)
		switch {
		case invErr != nil:
			res = skippedResult(step, invErr.Error())
		case outcome.Success:
			res = StepResult{StepID: step.ID, Tool: step.Tool, Status: StatusSuccess, Output: outcome.Output}
		default:
			res = StepResult{StepID: step.ID, Tool: step.Tool, Status: StatusFailure, Output: outcome.Output, Detail: outcome.Error}
		}
	}

	e.setState(StateDispatching)
	e.emitStepEnd(res)
	return res, nil
}

func (e *Executor) emitStepEnd(res StepResult) {
	e.emitter.Emit(EventStepEnd, map[string]any{
		"step":   res.StepID,
		"tool":   res.Tool,
		"status": string(res.Status),
	})
}

// stepSignature is tool name plus a hash of the arguments, so identical
// retries are recognizable across turns.
func stepSignature(step llmrouter.PlanStep) string {
	data, _ := json.Marshal(step.Args)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%s:%x", step.Tool, h[:8])
}

// checkRepetition warns when the same step signature keeps recurring.
func (e *Executor) checkRepetition(step llmrouter.PlanStep) {
	if e.cfg.RepeatWindow <= 0 {
		return
	}
	sig := stepSignature(step)

	e.mu.Lock()
	e.recentSigs = append(e.recentSigs, sig)
	if len(e.recentSigs) > e.cfg.RepeatWindow {
		e.recentSigs = e.recentSigs[len(e.recentSigs)-e.cfg.RepeatWindow:]
	}
	repeated := len(e.recentSigs) == e.cfg.RepeatWindow
	for _, s := range e.recentSigs {
		if s != sig {
			repeated = false
			break
		}
	}
	e.mu.Unlock()

	if repeated {
		e.emitter.Emit(EventStepRepeated, map[string]any{
			"tool":  step.Tool,
			"count": e.cfg.RepeatWindow,
		})
	}
}

// noteStep folds a finished step into the recent-action ring.
func (e *Executor) noteStep(step llmrouter.PlanStep, res StepResult) {
	e.ring.Add(fmt.Sprintf("%s -> %s", step.Tool, res.Status))
}

// display hands the report to the rendering collaborator.
func (e *Executor) display(report *Report) {
	e.setState(StateDisplaying)
	report.FinishedAt = time.Now()
	e.emitter.Emit(EventReportReady, map[string]any{"plan_id": report.PlanID})
	if e.renderer != nil {
		e.renderer.RenderReport(*report)
	}
}

// learn folds the turn's outcomes back into the memory store. Updates are
// applied synchronously so the next turn's perceive phase sees them.
func (e *Executor) learn(report *Report) {
	for _, res := range report.Steps {
		switch res.Status {
		case StatusSuccess:
			e.memory.RecordToolUsage(res.Tool, true)
			_ = e.memory.Reinforce("tool:"+res.Tool, 1.0)
		case StatusFailure:
			e.memory.RecordToolUsage(res.Tool, false)
			_ = e.memory.Reinforce("tool:"+res.Tool, 0.0)
		case StatusSkipped:
			if res.GateState == safety.StateSkipped && res.SkipReason == safety.SkipReasonRejected {
				_ = e.memory.Reinforce("tool:"+res.Tool, 0.0)
			}
		}
	}

	if err := e.memory.AppendInteraction(memstore.InteractionEntry{
		Timestamp:       report.FinishedAt,
		PlanSummary:     report.PlanSummary,
		OutcomesSummary: report.OutcomesSummary(),
	}); err != nil {
		e.emitter.Emit(EventWarning, map[string]any{"warning": "interaction log write failed: " + err.Error()})
	}
	e.emitter.Emit(EventLearned, nil)
}
