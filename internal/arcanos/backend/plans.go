package backend

import (
	"context"
	"fmt"
	"net/http"
)

// PlansClient wraps the ActionPlan lifecycle endpoints. Plans are fetched,
// approved before execution, reported on completion, and blocked when the
// daemon refuses to run them.
type PlansClient struct {
	c *Client
}

// Plans returns the ActionPlan endpoint group.
func (c *Client) Plans() *PlansClient { return &PlansClient{c: c} }

// Fetch retrieves a plan document by ID. The body is returned as-is; schema
// validation happens in the plan executor, not here.
func (p *PlansClient) Fetch(ctx context.Context, planID string) (map[string]any, error) {
	if planID == "" {
		return nil, validationError("plan fetch requires a plan ID")
	}
	return p.c.requestJSON(ctx, http.MethodGet, "/plans/"+planID, nil)
}

// Approve records the daemon's acceptance of a plan before execution begins.
func (p *PlansClient) Approve(ctx context.Context, planID string) error {
	if planID == "" {
		return validationError("plan approval requires a plan ID")
	}
	_, err := p.c.requestJSON(ctx, http.MethodPost, fmt.Sprintf("/plans/%s/approve", planID), map[string]any{})
	return err
}

// Execute reports per-action execution results back to the backend.
func (p *PlansClient) Execute(ctx context.Context, planID string, result any) error {
	if planID == "" {
		return validationError("plan execution report requires a plan ID")
	}
	_, err := p.c.requestJSON(ctx, http.MethodPost, fmt.Sprintf("/plans/%s/execute", planID), result)
	return err
}

// Block marks a plan as refused. The wire body is an empty object; the
// rejection reason stays in the local audit trail only.
func (p *PlansClient) Block(ctx context.Context, planID, reason string) error {
	if planID == "" {
		return validationError("plan block requires a plan ID")
	}
	p.c.audit.Record("plan_blocked", map[string]any{"plan_id": planID, "reason": reason})
	_, err := p.c.requestJSON(ctx, http.MethodPost, fmt.Sprintf("/plans/%s/block", planID), map[string]any{})
	return err
}
