package plan

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arcanos/arcanos/internal/arcanos/adapters/terminal"
	"github.com/arcanos/arcanos/internal/arcanos/governance"
)

type fakePlans struct {
	mu       sync.Mutex
	executed []ExecutionResult
	blocked  []string
	execErr  error
}

func (f *fakePlans) Execute(ctx context.Context, planID string, result any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := result.(ExecutionResult); ok {
		f.executed = append(f.executed, r)
	}
	return f.execErr
}

func (f *fakePlans) Block(ctx context.Context, planID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = append(f.blocked, planID)
	return nil
}

// passthroughRunner invokes the callable directly, standing in for a
// pipeline at full trust.
type passthroughRunner struct{ err error }

func (r passthroughRunner) Execute(ctx context.Context, name string, payload map[string]any, requiresConfirmation bool, fn governance.Action) (any, error) {
	if r.err != nil {
		return nil, r.err
	}
	return fn(ctx)
}

type fakeTerminal struct {
	mu       sync.Mutex
	commands []string
	result   terminal.Result
}

func (f *fakeTerminal) Execute(ctx context.Context, command string, opts terminal.Options) (*terminal.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	r := f.result
	return &r, nil
}

func payloadFor(t *testing.T, p map[string]any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func basePlan() map[string]any {
	return map[string]any{
		"plan_id": "p1",
		"actions": []any{
			map[string]any{
				"action_id":  "a1",
				"capability": "terminal.run",
				"params":     map[string]any{"command": "echo hi"},
			},
		},
	}
}

func newExec(plans *fakePlans, term *fakeTerminal, confirm Confirmer) *Executor {
	return NewExecutor(plans, passthroughRunner{}, term, confirm, nil)
}

func TestParse_RejectsMissingPlanID(t *testing.T) {
	p := basePlan()
	delete(p, "plan_id")
	if _, err := Parse(payloadFor(t, p)); err == nil {
		t.Error("expected schema rejection for missing plan_id")
	}
}

func TestParse_RejectsBadDecision(t *testing.T) {
	p := basePlan()
	p["clear_decision"] = "maybe"
	if _, err := Parse(payloadFor(t, p)); err == nil {
		t.Error("expected schema rejection for unknown clear_decision")
	}
}

func TestRun_BlockedPlanNeverRunsTerminal(t *testing.T) {
	plans := &fakePlans{}
	term := &fakeTerminal{}
	e := newExec(plans, term, func(string, int) bool { return true })

	p := basePlan()
	p["clear_decision"] = "block"
	p["actions"] = []any{map[string]any{
		"action_id":  "a1",
		"capability": "terminal.run",
		"params":     map[string]any{"command": "rm -rf /"},
	}}

	if err := e.Run(context.Background(), payloadFor(t, p)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(term.commands) != 0 {
		t.Error("blocked plan must never reach the terminal")
	}
	if len(plans.executed) != 1 {
		t.Fatalf("executed results = %d, want 1 synthetic rejection", len(plans.executed))
	}
	r := plans.executed[0]
	if r.Status != StatusRejected || r.ActionID != "*" {
		t.Errorf("rejection result = %+v", r)
	}
	if r.Error["reason"] != "CLEAR 2.0 blocked" {
		t.Errorf("reason = %v", r.Error["reason"])
	}
	if len(plans.blocked) != 1 || plans.blocked[0] != "p1" {
		t.Errorf("blocked = %v, want [p1]", plans.blocked)
	}
}

func TestRun_ExpiredPlanMakesNoBackendCalls(t *testing.T) {
	plans := &fakePlans{}
	term := &fakeTerminal{}
	e := newExec(plans, term, nil)

	p := basePlan()
	p["expires_at"] = time.Now().Add(-time.Minute).Format(time.RFC3339)

	if err := e.Run(context.Background(), payloadFor(t, p)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(plans.executed) != 0 || len(plans.blocked) != 0 || len(term.commands) != 0 {
		t.Error("expired plan must make no backend or terminal calls")
	}
}

func TestRun_ConfirmationRejectedStops(t *testing.T) {
	plans := &fakePlans{}
	term := &fakeTerminal{}
	e := newExec(plans, term, func(string, int) bool { return false })

	p := basePlan()
	p["requires_confirmation"] = true

	if err := e.Run(context.Background(), payloadFor(t, p)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(term.commands) != 0 {
		t.Error("rejected confirmation must stop execution")
	}
}

func TestRun_ConfirmDecisionAsksOperator(t *testing.T) {
	plans := &fakePlans{}
	term := &fakeTerminal{}
	asked := false
	e := newExec(plans, term, func(summary string, count int) bool {
		asked = true
		if count != 1 || !strings.Contains(summary, "echo hi") {
			t.Errorf("summary = %q count = %d", summary, count)
		}
		return true
	})

	p := basePlan()
	p["clear_decision"] = "confirm"

	if err := e.Run(context.Background(), payloadFor(t, p)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !asked {
		t.Error("clear_decision=confirm must prompt the operator")
	}
	if len(term.commands) != 1 {
		t.Errorf("terminal invoked %d times, want 1", len(term.commands))
	}
}

func TestRun_SerialExecutionWithResults(t *testing.T) {
	plans := &fakePlans{}
	term := &fakeTerminal{result: terminal.Result{Stdout: "hi\n"}}
	e := newExec(plans, term, nil)

	p := basePlan()
	p["actions"] = []any{
		map[string]any{"action_id": "a1", "capability": "terminal.run", "params": map[string]any{"command": "echo one"}},
		map[string]any{"action_id": "a2", "capability": "terminal.run", "params": map[string]any{"command": "echo two"}},
	}

	if err := e.Run(context.Background(), payloadFor(t, p)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(term.commands) != 2 || term.commands[0] != "echo one" || term.commands[1] != "echo two" {
		t.Errorf("commands = %v, want plan order", term.commands)
	}
	if len(plans.executed) != 2 {
		t.Fatalf("results = %d, want 2", len(plans.executed))
	}
	if plans.executed[0].Status != StatusSuccess {
		t.Errorf("first result = %+v", plans.executed[0])
	}
	if plans.executed[0].ExecutionID == plans.executed[1].ExecutionID {
		t.Error("execution IDs must be fresh per attempt")
	}
	for _, r := range plans.executed {
		raw, _ := json.Marshal(r)
		if strings.Contains(string(raw), "signature") {
			t.Error("daemon must never populate a signature")
		}
	}
}

func TestRun_UnsupportedCapabilityFails(t *testing.T) {
	plans := &fakePlans{}
	term := &fakeTerminal{}
	e := newExec(plans, term, nil)

	p := basePlan()
	p["actions"] = []any{map[string]any{"action_id": "a1", "capability": "email.send", "params": map[string]any{}}}

	e.Run(context.Background(), payloadFor(t, p))
	if len(plans.executed) != 1 || plans.executed[0].Status != StatusFailure {
		t.Fatalf("results = %+v", plans.executed)
	}
	if reason, _ := plans.executed[0].Error["reason"].(string); !strings.Contains(reason, "unsupported capability") {
		t.Errorf("reason = %q", reason)
	}
	if len(term.commands) != 0 {
		t.Error("unsupported capability must not reach the terminal")
	}
}

func TestRun_MissingCommandFails(t *testing.T) {
	plans := &fakePlans{}
	e := newExec(plans, &fakeTerminal{}, nil)

	p := basePlan()
	p["actions"] = []any{map[string]any{"action_id": "a1", "capability": "terminal.run", "params": map[string]any{"command": "  "}}}

	e.Run(context.Background(), payloadFor(t, p))
	if len(plans.executed) != 1 {
		t.Fatal("expected one failure result")
	}
	if reason, _ := plans.executed[0].Error["reason"].(string); reason != "missing command" {
		t.Errorf("reason = %q", reason)
	}
}

func TestRun_DuplicateReportedAsReplayed(t *testing.T) {
	plans := &fakePlans{}
	e := NewExecutor(plans, passthroughRunner{err: &governance.DuplicateError{Action: "run"}}, &fakeTerminal{}, nil, nil)

	e.Run(context.Background(), payloadFor(t, basePlan()))
	if len(plans.executed) != 1 || plans.executed[0].Status != StatusReplayed {
		t.Errorf("results = %+v, want replayed", plans.executed)
	}
}

func TestRun_SubmissionErrorDoesNotStopLoop(t *testing.T) {
	plans := &fakePlans{execErr: errors.New("backend down")}
	term := &fakeTerminal{}
	e := newExec(plans, term, nil)

	p := basePlan()
	p["actions"] = []any{
		map[string]any{"action_id": "a1", "capability": "terminal.run", "params": map[string]any{"command": "echo one"}},
		map[string]any{"action_id": "a2", "capability": "terminal.run", "params": map[string]any{"command": "echo two"}},
	}

	if err := e.Run(context.Background(), payloadFor(t, p)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(term.commands) != 2 {
		t.Errorf("terminal invoked %d times; submission failures must not stop the loop", len(term.commands))
	}
}

func TestRun_NonZeroExitCodeIsFailure(t *testing.T) {
	plans := &fakePlans{}
	term := &fakeTerminal{result: terminal.Result{Stderr: "no such file", ExitCode: 2}}
	e := newExec(plans, term, nil)

	e.Run(context.Background(), payloadFor(t, basePlan()))
	if len(plans.executed) != 1 || plans.executed[0].Status != StatusFailure {
		t.Fatalf("results = %+v, want failure on non-zero exit", plans.executed)
	}
	if plans.executed[0].Output["exit_code"] != 2 {
		t.Errorf("output = %v", plans.executed[0].Output)
	}
}
