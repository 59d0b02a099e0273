package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arcanos/arcanos/internal/arcanos/metrics"
)

// Command is one backend-issued instruction from the poll queue.
type Command struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Payload  map[string]any `json:"payload"`
	IssuedAt string         `json:"issuedAt"`
}

// Handlers are the orchestrator callbacks the dispatcher fans out to. Nil
// handlers make the corresponding command an unsupported one.
type Handlers struct {
	// Notify displays a backend message to the operator.
	Notify func(message string)
	// Run executes a shell command through the governed pipeline.
	Run func(ctx context.Context, payload map[string]any) error
	// See performs one vision capture and analysis.
	See func(ctx context.Context, camera bool) error
	// ActionPlan executes a structured plan payload.
	ActionPlan func(ctx context.Context, payload map[string]any) error
}

// Dispatcher routes polled commands to their handlers.
type Dispatcher struct {
	handlers Handlers
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(h Handlers) *Dispatcher {
	return &Dispatcher{handlers: h}
}

// Dispatch handles one command. A nil error means the command may be acked.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) error {
	outcome := "ok"
	err := d.dispatch(ctx, cmd)
	if err != nil {
		outcome = "error"
	}
	metrics.CommandsDispatched.WithLabelValues(cmd.Name, outcome).Inc()
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Name {
	case "ping", "get_status", "get_stats":
		return nil

	case "notify":
		if msg, ok := cmd.Payload["message"].(string); ok && msg != "" && d.handlers.Notify != nil {
			d.handlers.Notify(msg)
		}
		return nil

	case "run":
		command, _ := cmd.Payload["command"].(string)
		if strings.TrimSpace(command) == "" {
			return fmt.Errorf("run command %s has no command payload", cmd.ID)
		}
		if d.handlers.Run == nil {
			return fmt.Errorf("run handler not configured")
		}
		return d.handlers.Run(ctx, cmd.Payload)

	case "see":
		if d.handlers.See == nil {
			return fmt.Errorf("see handler not configured")
		}
		camera, _ := cmd.Payload["camera"].(bool)
		return d.handlers.See(ctx, camera)

	case "action_plan":
		if d.handlers.ActionPlan == nil {
			return fmt.Errorf("action_plan handler not configured")
		}
		return d.handlers.ActionPlan(ctx, cmd.Payload)

	default:
		slog.Warn("daemon: unsupported command", "name", cmd.Name, "id", cmd.ID)
		return nil
	}
}
