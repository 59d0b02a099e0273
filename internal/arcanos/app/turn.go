package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arcanos/arcanos/common/trace"
	"github.com/arcanos/arcanos/internal/arcanos/backend"
	"github.com/arcanos/arcanos/internal/arcanos/llm"
	"github.com/arcanos/arcanos/internal/arcanos/metrics"
	"github.com/arcanos/arcanos/internal/arcanos/observability"
	"github.com/arcanos/arcanos/internal/arcanos/router"
	"github.com/arcanos/arcanos/internal/arcanos/trust"
)

const basePrompt = `You are ARCANOS, a workstation agent. Be direct and
practical. You can run shell commands, capture the screen or camera, and
reach a remote backend for deep reasoning when one is configured.`

// TurnOptions adjust one conversation turn.
type TurnOptions struct {
	// FromDebug marks turns arriving over the debug transport. Such turns
	// can never approve a confirmation challenge.
	FromDebug bool
	// ForceRoute overrides routing for this turn ("local" or "backend").
	ForceRoute string
	// Interactive marks turns where the operator can answer prompts.
	Interactive bool
}

// HandleTurn processes one operator message and returns the reply text.
func (a *App) HandleTurn(ctx context.Context, message string, opts TurnOptions) (string, error) {
	traceID := trace.GenerateID()
	ctx = trace.WithTraceID(ctx, traceID)
	a.audit.Record("execute_attempt", map[string]any{"command": "ask", "from_debug": opts.FromDebug, "trace_id": traceID})

	source := "repl"
	if opts.FromDebug {
		source = "debug"
	}
	if !a.limiter.Allow(source) {
		metrics.RateLimitRejections.WithLabelValues("ask").Inc()
		return "Rate limit exceeded; please slow down.", nil
	}

	decision := router.Decide(message, a.cfg.RoutingMode, a.cfg.DeepPrefixes)
	switch opts.ForceRoute {
	case string(router.RouteLocal):
		decision.Route = router.RouteLocal
	case string(router.RouteBackend):
		decision.Route = router.RouteBackend
	}

	// Confidence gate: only for implicitly backend-routed turns, and only
	// when a threshold was configured. Strictly-below downgrades.
	if decision.Route == router.RouteBackend && decision.UsedPrefix == "" && opts.ForceRoute == "" &&
		a.cfg.ConfidenceThresholdSet &&
		router.Confidence(decision.Message) < a.cfg.ConfidenceThreshold {
		decision.Route = router.RouteLocal
	}

	if a.backend == nil && decision.Route == router.RouteBackend {
		decision.Route = router.RouteLocal
	}

	start := time.Now()
	var reply *llm.Reply
	var err error
	if decision.Route == router.RouteBackend {
		reply, err = a.backendConversation(ctx, decision, opts)
	} else {
		reply, err = a.localConversation(ctx, decision.Message, opts)
	}
	metrics.TurnDuration.WithLabelValues(string(decision.Route)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.TurnsTotal.WithLabelValues(string(decision.Route), "error").Inc()
		a.audit.Record("execute_failure", map[string]any{"command": "ask", "error": err.Error()})
		return "", err
	}
	metrics.TurnsTotal.WithLabelValues(string(decision.Route), "ok").Inc()

	a.session.advance()
	if err := a.deps.Memory.AddConversation(decision.Message, reply.Text, reply.Tokens, reply.Cost); err != nil {
		slog.Warn("app: persist conversation failed", "err", err)
	}
	_ = a.deps.Memory.IncrementStat("turns", 1)
	if reply.Tokens > 0 {
		_ = a.deps.Memory.IncrementStat("tokens", reply.Tokens)
	}
	a.activity.add("ask", decision.Message)
	a.audit.Record("execute_success", map[string]any{"command": "ask", "route": string(decision.Route)})

	return reply.Text, nil
}

// backendConversation sends the turn to the control plane, handling the
// auth-retry, confirmation, and local-fallback policies.
func (a *App) backendConversation(ctx context.Context, decision router.Decision, opts TurnOptions) (*llm.Reply, error) {
	a.hydrateSessionState(ctx)

	result, err := a.askBackend(ctx, decision)
	if err != nil {
		re, ok := backend.AsRequestError(err)
		if !ok {
			return nil, err
		}
		switch re.Kind {
		case backend.KindAuth:
			if a.refreshCredentials() {
				result, err = a.askBackend(ctx, decision)
				if err == nil {
					break
				}
			}
			return a.maybeFallback(ctx, decision.Message, opts, err)

		case backend.KindConfirmation:
			return a.handleConfirmation(ctx, re, opts)

		default:
			return a.maybeFallback(ctx, decision.Message, opts, err)
		}
	}

	a.submitUsage(ctx, result)
	return &llm.Reply{Text: result.Text, Tokens: result.Tokens, Cost: result.Cost}, nil
}

func (a *App) askBackend(ctx context.Context, decision router.Decision) (*backend.ChatResult, error) {
	history := a.deps.Memory.GetRecentConversations(a.cfg.HistoryLimit)
	if len(history) == 0 {
		if domain := router.DomainHint(decision.Message); domain != "" {
			return a.backend.AskWithDomain(ctx, decision.Message, domain, a.turnMetadata())
		}
	}

	messages := make([]backend.ChatMessage, 0, 2*len(history)+2)
	messages = append(messages, backend.ChatMessage{Role: "system", Content: a.systemPrompt()})
	for _, c := range history {
		messages = append(messages, backend.ChatMessage{Role: "user", Content: c.User})
		messages = append(messages, backend.ChatMessage{Role: "assistant", Content: c.AI})
	}
	messages = append(messages, backend.ChatMessage{Role: "user", Content: decision.Message})
	return a.backend.ChatCompletion(ctx, messages, 0, "", a.turnMetadata())
}

// systemPrompt assembles the base prompt plus exactly one capability block:
// the registry-derived one when the cache is valid, the fallback otherwise.
func (a *App) systemPrompt() string {
	return basePrompt + "\n\n" + a.trust.PromptBlock()
}

func (a *App) turnMetadata() map[string]any {
	return map[string]any{
		"instanceId": a.instanceID,
		"sessionId":  a.session.SessionID,
		"turn":       a.session.TurnCount,
	}
}

// handleConfirmation resolves a CONFIRMATION_REQUIRED challenge. The debug
// transport always rejects; otherwise the operator is prompted only when the
// turn is interactive, confirmation is enabled, and trust is FULL.
func (a *App) handleConfirmation(ctx context.Context, re *backend.RequestError, opts TurnOptions) (*llm.Reply, error) {
	deny := func(reason string) (*llm.Reply, error) {
		a.audit.Record("governance_denial", map[string]any{
			"command":   "confirm_actions",
			"challenge": re.ChallengeID,
			"reason":    reason,
		})
		return &llm.Reply{Text: "The backend requested confirmation for pending actions; the request was rejected (" + reason + ")."}, nil
	}

	if opts.FromDebug {
		return deny("debug transport cannot approve actions")
	}
	if state := a.trust.State(); state != trust.Full {
		return deny("trust is " + string(state))
	}
	if !a.cfg.ConfirmSensitiveActions || !opts.Interactive || a.deps.ConfirmPrompt == nil {
		return deny("no interactive confirmation available")
	}

	summary := fmt.Sprintf("The backend wants to queue %d action(s).", len(re.PendingActions))
	if !a.deps.ConfirmPrompt(summary, re.PendingActions) {
		return deny("operator declined")
	}

	queued, err := a.backend.ConfirmDaemonActions(ctx, re.ChallengeID, a.instanceID)
	if err != nil {
		return nil, fmt.Errorf("confirm actions: %w", err)
	}
	a.audit.Record("execute_success", map[string]any{"command": "confirm_actions", "queued": queued})
	return &llm.Reply{Text: fmt.Sprintf("Queued %d action(s).", queued)}, nil
}

// maybeFallback degrades to the local model when the fallback policy allows,
// marking trust DEGRADED for the session.
func (a *App) maybeFallback(ctx context.Context, message string, opts TurnOptions, cause error) (*llm.Reply, error) {
	if !a.cfg.FallbackToLocal {
		return nil, cause
	}
	observability.WithTrace(ctx).Warn("app: backend turn failed, falling back to local",
		"err", observability.RedactSecrets(cause.Error(), a.currentToken()))
	a.trust.Set(trust.Degraded)
	return a.localConversation(ctx, message, opts)
}

func (a *App) localConversation(ctx context.Context, message string, opts TurnOptions) (*llm.Reply, error) {
	history := make([]llm.Message, 0, 2*a.cfg.HistoryLimit)
	for _, c := range a.deps.Memory.GetRecentConversations(a.cfg.HistoryLimit) {
		history = append(history, llm.Message{Role: llm.RoleUser, Content: c.User})
		history = append(history, llm.Message{Role: llm.RoleAssistant, Content: c.AI})
	}

	if a.cfg.LLM.Stream && opts.Interactive && !opts.FromDebug {
		return a.deps.LLM.AskStream(ctx, message, a.systemPrompt(), history, func(chunk string) {
			a.deps.Output(chunk)
		})
	}
	return a.deps.LLM.Ask(ctx, message, a.systemPrompt(), history)
}

// hydrateSessionState asks the backend for its view of the session and maps
// it onto the local record. Best-effort; any failure leaves the session
// untouched.
func (a *App) hydrateSessionState(ctx context.Context) {
	if a.backend == nil {
		return
	}
	// Re-sync every few turns, not on every request.
	if a.session.TurnCount == 0 || a.session.TurnCount%5 != 0 {
		return
	}
	resp, err := a.backend.MakeRequest(ctx, http.MethodPost, "/api/ask", map[string]any{
		"message":  "",
		"metadata": map[string]any{"mode": "system_state", "instanceId": a.instanceID},
	})
	if err != nil || resp.StatusCode != http.StatusOK {
		return
	}

	var state struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Phase      string  `json:"phase"`
		Goal       string  `json:"goal"`
	}
	if err := json.Unmarshal(resp.Body, &state); err != nil {
		return
	}
	if state.Intent != "" {
		a.session.CurrentIntent = state.Intent
		a.session.IntentConfidence = state.Confidence
	}
	if state.Goal != "" {
		a.session.ConversationGoal = state.Goal
	}
	switch strings.ToLower(state.Phase) {
	case PhaseInit, PhaseActive, PhaseRefining, PhaseReview:
		a.session.Phase = strings.ToLower(state.Phase)
	}
}

// submitUsage reports turn usage to the backend; failures are logged only.
func (a *App) submitUsage(ctx context.Context, result *backend.ChatResult) {
	ok, err := a.backend.SubmitUpdateEvent(ctx, "conversation_usage", map[string]any{
		"tokens": result.Tokens,
		"cost":   result.Cost,
		"model":  result.Model,
	}, a.turnMetadata())
	if err != nil || !ok {
		slog.Debug("app: usage submission failed", "err", err)
	}
}
