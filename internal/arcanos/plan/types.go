// Package plan parses and executes backend-issued ActionPlans: serial
// scripts of capability invocations gated by a CLEAR decision and an
// optional operator confirmation.
package plan

import "time"

// CLEAR decisions attached by the backend.
const (
	DecisionAllow   = "allow"
	DecisionConfirm = "confirm"
	DecisionBlock   = "block"
)

// Execution result statuses reported back to the backend.
const (
	StatusSuccess  = "success"
	StatusFailure  = "failure"
	StatusReplayed = "replayed"
	StatusRejected = "rejected"
)

// Plan is a backend-issued ActionPlan. Identifiers are opaque and chosen by
// the backend.
type Plan struct {
	PlanID               string      `json:"plan_id"`
	CreatedBy            string      `json:"created_by"`
	Origin               string      `json:"origin"`
	Status               string      `json:"status"`
	Confidence           float64     `json:"confidence"`
	RequiresConfirmation bool        `json:"requires_confirmation"`
	IdempotencyKey       string      `json:"idempotency_key"`
	ExpiresAt            *time.Time  `json:"expires_at,omitempty"`
	Actions              []ActionDef `json:"actions"`
	ClearScore           *ClearScore `json:"clear_score,omitempty"`
	ClearDecision        string      `json:"clear_decision,omitempty"`
}

// ActionDef is one step of a plan. RollbackAction is preserved for the
// backend to orchestrate; the daemon never executes it.
type ActionDef struct {
	ActionID       string         `json:"action_id"`
	AgentID        string         `json:"agent_id"`
	Capability     string         `json:"capability"`
	Params         map[string]any `json:"params"`
	TimeoutMS      int            `json:"timeout_ms"`
	RollbackAction map[string]any `json:"rollback_action,omitempty"`
}

// ClearScore is the backend's five-dimension rating of a plan.
type ClearScore struct {
	Clarity    float64 `json:"clarity"`
	Leverage   float64 `json:"leverage"`
	Efficiency float64 `json:"efficiency"`
	Alignment  float64 `json:"alignment"`
	Resilience float64 `json:"resilience"`
	Overall    float64 `json:"overall"`
	Decision   string  `json:"decision"`
	Notes      string  `json:"notes,omitempty"`
}

// ExecutionResult is the per-action outcome submitted to the backend. The
// signature field is intentionally absent: the backend signs results, the
// daemon never does.
type ExecutionResult struct {
	ExecutionID string         `json:"execution_id"`
	PlanID      string         `json:"plan_id"`
	ActionID    string         `json:"action_id"`
	AgentID     string         `json:"agent_id,omitempty"`
	Status      string         `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	Error       map[string]any `json:"error,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
