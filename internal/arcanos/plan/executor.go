package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arcanos/arcanos/internal/arcanos/adapters/terminal"
	"github.com/arcanos/arcanos/internal/arcanos/governance"
	"github.com/arcanos/arcanos/internal/arcanos/metrics"
)

// PlanService is the backend surface the executor reports to.
type PlanService interface {
	Execute(ctx context.Context, planID string, result any) error
	Block(ctx context.Context, planID, reason string) error
}

// Runner is the governed execution pipeline wrapped around terminal actions.
type Runner interface {
	Execute(ctx context.Context, name string, payload map[string]any, requiresConfirmation bool, fn governance.Action) (any, error)
}

// Confirmer asks the operator to approve a plan. It must return false for
// any non-interactive origin.
type Confirmer func(summary string, actionCount int) bool

// Notifier renders operator-visible plan progress.
type Notifier func(text string)

// Executor walks a plan's actions serially and reports each outcome.
type Executor struct {
	Plans    PlanService
	Pipeline Runner
	Terminal terminal.Adapter
	Confirm  Confirmer
	Notify   Notifier

	now func() time.Time
}

// NewExecutor builds an Executor. Confirm and Notify may be nil: a nil
// Confirm rejects every confirmation, a nil Notify drops renders.
func NewExecutor(plans PlanService, pipeline Runner, term terminal.Adapter, confirm Confirmer, notify Notifier) *Executor {
	if confirm == nil {
		confirm = func(string, int) bool { return false }
	}
	if notify == nil {
		notify = func(string) {}
	}
	return &Executor{
		Plans:    plans,
		Pipeline: pipeline,
		Terminal: term,
		Confirm:  confirm,
		Notify:   notify,
		now:      time.Now,
	}
}

// Run parses and executes one plan payload.
func (e *Executor) Run(ctx context.Context, payload map[string]any) error {
	p, err := Parse(payload)
	if err != nil {
		e.Notify(fmt.Sprintf("Action plan rejected: %v", err))
		return err
	}

	if e.decision(p) == DecisionBlock {
		e.Notify(fmt.Sprintf("Action plan %s blocked by CLEAR 2.0 review; nothing was executed.", p.PlanID))
		e.submit(ctx, p.PlanID, ExecutionResult{
			ExecutionID: uuid.NewString(),
			PlanID:      p.PlanID,
			ActionID:    "*",
			Status:      StatusRejected,
			Error:       map[string]any{"reason": "CLEAR 2.0 blocked"},
			Timestamp:   e.now().UTC(),
		})
		if err := e.Plans.Block(ctx, p.PlanID, "CLEAR 2.0 blocked"); err != nil {
			slog.Warn("plan: block report failed", "plan_id", p.PlanID, "err", err)
		}
		metrics.PlanActionsTotal.WithLabelValues(StatusRejected).Inc()
		return nil
	}

	if p.ExpiresAt != nil && e.now().After(*p.ExpiresAt) {
		e.Notify(fmt.Sprintf("Action plan %s expired at %s; nothing was executed.", p.PlanID, p.ExpiresAt.Format(time.RFC3339)))
		return nil
	}

	if p.ClearScore != nil {
		e.Notify(renderClearScore(p.ClearScore, e.decision(p)))
	}

	if p.RequiresConfirmation || e.decision(p) == DecisionConfirm {
		if !e.Confirm(summarize(p), len(p.Actions)) {
			e.Notify(fmt.Sprintf("Action plan %s rejected by operator.", p.PlanID))
			return nil
		}
	}

	for _, action := range p.Actions {
		result := e.runAction(ctx, p.PlanID, action)
		metrics.PlanActionsTotal.WithLabelValues(result.Status).Inc()
		e.submit(ctx, p.PlanID, result)
	}

	e.Notify(fmt.Sprintf("Action plan %s completed (%d action(s)).", p.PlanID, len(p.Actions)))
	return nil
}

// decision resolves the effective CLEAR decision, preferring the top-level
// field over the score's.
func (e *Executor) decision(p *Plan) string {
	if p.ClearDecision != "" {
		return p.ClearDecision
	}
	if p.ClearScore != nil {
		return p.ClearScore.Decision
	}
	return ""
}

// runAction executes a single step and builds its ExecutionResult. Every
// attempt gets a fresh execution ID.
func (e *Executor) runAction(ctx context.Context, planID string, action ActionDef) ExecutionResult {
	result := ExecutionResult{
		ExecutionID: uuid.NewString(),
		PlanID:      planID,
		ActionID:    action.ActionID,
		AgentID:     action.AgentID,
		Timestamp:   e.now().UTC(),
	}

	if action.Capability != "terminal.run" {
		result.Status = StatusFailure
		result.Error = map[string]any{"reason": "unsupported capability: " + action.Capability}
		return result
	}

	command, _ := action.Params["command"].(string)
	if strings.TrimSpace(command) == "" {
		result.Status = StatusFailure
		result.Error = map[string]any{"reason": "missing command"}
		return result
	}

	timeout := terminal.DefaultTimeout
	if action.TimeoutMS > 0 {
		timeout = time.Duration(action.TimeoutMS) * time.Millisecond
	}

	out, err := e.Pipeline.Execute(ctx, "run", action.Params, true, func(ctx context.Context) (any, error) {
		return e.Terminal.Execute(ctx, command, terminal.Options{Timeout: timeout, CheckSafety: true})
	})

	switch {
	case err == nil:
		result.Status = StatusSuccess
		if term, ok := out.(*terminal.Result); ok {
			result.Output = map[string]any{
				"stdout":    term.Stdout,
				"stderr":    term.Stderr,
				"exit_code": term.ExitCode,
			}
			if term.ExitCode != 0 {
				result.Status = StatusFailure
				result.Error = map[string]any{"reason": fmt.Sprintf("exit code %d", term.ExitCode)}
			}
		}
	case isDuplicate(err):
		result.Status = StatusReplayed
		result.Error = map[string]any{"reason": "duplicate suppressed"}
	default:
		result.Status = StatusFailure
		result.Error = map[string]any{"reason": err.Error()}
	}
	return result
}

func isDuplicate(err error) bool {
	var dup *governance.DuplicateError
	return errors.As(err, &dup)
}

// submit reports one result; submission failures are logged and never stop
// the action loop.
func (e *Executor) submit(ctx context.Context, planID string, result ExecutionResult) {
	if err := e.Plans.Execute(ctx, planID, result); err != nil {
		slog.Warn("plan: result submission failed",
			"plan_id", planID, "action_id", result.ActionID, "err", err)
	}
}

func summarize(p *Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan %s (%d action(s))", p.PlanID, len(p.Actions))
	if p.CreatedBy != "" {
		fmt.Fprintf(&b, " from %s", p.CreatedBy)
	}
	for _, a := range p.Actions {
		fmt.Fprintf(&b, "\n  - %s: %s", a.ActionID, a.Capability)
		if cmd, ok := a.Params["command"].(string); ok && cmd != "" {
			fmt.Fprintf(&b, " %q", cmd)
		}
	}
	return b.String()
}

// renderClearScore formats the five CLEAR dimensions plus decision as a
// fixed-width table.
func renderClearScore(s *ClearScore, decision string) string {
	var b strings.Builder
	b.WriteString("CLEAR 2.0 review\n")
	rows := []struct {
		name  string
		value float64
	}{
		{"clarity", s.Clarity},
		{"leverage", s.Leverage},
		{"efficiency", s.Efficiency},
		{"alignment", s.Alignment},
		{"resilience", s.Resilience},
		{"overall", s.Overall},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "  %-11s %.2f\n", r.name, r.value)
	}
	fmt.Fprintf(&b, "  decision: %s", decision)
	if s.Notes != "" {
		fmt.Fprintf(&b, "\n  notes: %s", s.Notes)
	}
	return b.String()
}
