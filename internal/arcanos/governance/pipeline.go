package governance

import (
	"context"
	"fmt"

	"github.com/arcanos/arcanos/internal/arcanos/audit"
	"github.com/arcanos/arcanos/internal/arcanos/guard"
	"github.com/arcanos/arcanos/internal/arcanos/metrics"
	"github.com/arcanos/arcanos/internal/arcanos/trust"
)

// Action is the callable wrapped by the pipeline.
type Action func(ctx context.Context) (any, error)

// Pipeline composes the idempotency guard, the trust recomputation, the
// governance gate, and the audit trail around a privileged callable. Only
// side-effecting calls (shell execution, confirmation-required backend
// actions) go through it.
type Pipeline struct {
	Guard *guard.Guard
	Trust *trust.Manager
	Audit audit.Recorder
}

// NewPipeline builds a Pipeline. A nil audit sink defaults to the log sink.
func NewPipeline(g *guard.Guard, t *trust.Manager, sink audit.Recorder) *Pipeline {
	if sink == nil {
		sink = audit.LogSink{}
	}
	return &Pipeline{Guard: g, Trust: t, Audit: sink}
}

// Execute runs fn under governance. The audit sequence is fixed:
// execute_attempt, retry_check, then exactly one of retry_duplicate_rejected,
// governance_denial, execute_failure, or execute_success.
func (p *Pipeline) Execute(ctx context.Context, name string, payload map[string]any, requiresConfirmation bool, fn Action) (any, error) {
	p.Audit.Record("execute_attempt", map[string]any{
		"command": name,
		"payload": payload,
	})

	fp, err := guard.Fingerprint(name, payload)
	if err != nil {
		return nil, fmt.Errorf("fingerprint %q: %w", name, err)
	}
	p.Audit.Record("retry_check", map[string]any{"command": name, "fingerprint": fp})
	if !p.Guard.CheckAndRecord(fp) {
		p.Audit.Record("retry_duplicate_rejected", map[string]any{"command": name, "fingerprint": fp})
		metrics.DuplicateRejections.WithLabelValues(name).Inc()
		return nil, &DuplicateError{Action: name, Fingerprint: fp}
	}

	state := p.Trust.Recompute()

	if denial := AssertAllowed(name, state, requiresConfirmation); denial != nil {
		p.Audit.Record("governance_denial", map[string]any{
			"command": name,
			"trust":   string(state),
			"reason":  denial.Reason,
		})
		metrics.GovernanceDenials.WithLabelValues(name).Inc()
		p.Trust.Set(trust.Unsafe)
		return nil, denial
	}

	result, err := fn(ctx)
	if err != nil {
		p.Audit.Record("execute_failure", map[string]any{
			"command":    name,
			"error_type": fmt.Sprintf("%T", err),
			"error":      err.Error(),
		})
		return nil, err
	}

	p.Audit.Record("execute_success", map[string]any{"command": name})
	return result, nil
}
