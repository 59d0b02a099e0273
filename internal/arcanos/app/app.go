// Package app hosts the orchestrator: the long-lived object that owns the
// daemon's state (session, trust, schedulers, adapters) and drives every
// conversation turn and backend command through the governed pipeline.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcanos/arcanos/common/retry"
	"github.com/arcanos/arcanos/internal/arcanos/adapters/audio"
	"github.com/arcanos/arcanos/internal/arcanos/adapters/terminal"
	"github.com/arcanos/arcanos/internal/arcanos/adapters/vision"
	"github.com/arcanos/arcanos/internal/arcanos/audit"
	"github.com/arcanos/arcanos/internal/arcanos/backend"
	"github.com/arcanos/arcanos/internal/arcanos/config"
	"github.com/arcanos/arcanos/internal/arcanos/daemon"
	"github.com/arcanos/arcanos/internal/arcanos/governance"
	"github.com/arcanos/arcanos/internal/arcanos/guard"
	"github.com/arcanos/arcanos/internal/arcanos/llm"
	"github.com/arcanos/arcanos/internal/arcanos/memory"
	"github.com/arcanos/arcanos/internal/arcanos/plan"
	"github.com/arcanos/arcanos/internal/arcanos/trust"
)

// Deps are the injected adapters. LLM and Memory are required; the rest may
// be nil and the corresponding features degrade with a clear error.
type Deps struct {
	LLM      llm.Provider
	Terminal terminal.Adapter
	Vision   vision.Adapter
	Audio    audio.Adapter
	Memory   *memory.Store
	Audit    audit.Recorder

	// Output renders operator-visible text; defaults to stdout.
	Output func(text string)
	// ConfirmPrompt asks the operator to approve pending backend actions.
	// Nil rejects every confirmation.
	ConfirmPrompt func(summary string, pending []string) bool
}

// App is the orchestrator.
type App struct {
	cfg   *config.Config
	deps  Deps
	audit audit.Recorder

	backend   *backend.Client // nil when unconfigured
	trust     *trust.Manager
	guard     *guard.Guard
	pipeline  *governance.Pipeline
	planExec  *plan.Executor
	scheduler *daemon.Scheduler
	limiter   *RateLimiter
	activity  activityLog

	instanceID string
	session    *Session
	startedAt  time.Time

	tokenMu sync.Mutex
	token   string
}

// New wires the orchestrator. The backend client is built here so its token
// provider tracks credential refreshes.
func New(cfg *config.Config, deps Deps) (*App, error) {
	if deps.LLM == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if deps.Memory == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if deps.Audit == nil {
		deps.Audit = audit.LogSink{}
	}
	if deps.Output == nil {
		deps.Output = func(text string) { fmt.Println(text) }
	}

	a := &App{
		cfg:       cfg,
		deps:      deps,
		audit:     deps.Audit,
		guard:     guard.New(guard.DefaultWindow),
		limiter:   NewRateLimiter(cfg.AskRateLimit, time.Minute),
		startedAt: time.Now(),
		token:     cfg.BackendToken,
	}

	id, err := a.loadOrCreateInstanceID()
	if err != nil {
		return nil, err
	}
	a.instanceID = id
	a.session = newSession(id)

	if cfg.BackendConfigured() {
		client, err := backend.New(backend.Config{
			BaseURL:   cfg.BackendURL,
			AllowHTTP: cfg.BackendAllowHTTP,
			Token:     a.currentToken,
			Timeout:   cfg.RequestTimeout,
			Audit:     a.audit,
		})
		if err != nil {
			return nil, fmt.Errorf("backend client: %w", err)
		}
		a.backend = client
	}

	var fetcher trust.RegistryFetcher
	if a.backend != nil {
		fetcher = a.backend
	}
	a.trust = trust.NewManager(fetcher, a.audit, cfg.RegistryCacheTTL, a.backend != nil)
	a.pipeline = governance.NewPipeline(a.guard, a.trust, a.audit)

	var plans plan.PlanService = noopPlans{}
	if a.backend != nil {
		plans = a.backend.Plans()
	}
	a.planExec = plan.NewExecutor(plans, a.pipeline, deps.Terminal,
		func(summary string, count int) bool {
			if deps.ConfirmPrompt == nil || !cfg.ConfirmSensitiveActions {
				return false
			}
			return deps.ConfirmPrompt(summary, []string{fmt.Sprintf("%d action(s)", count)})
		},
		deps.Output,
	)

	a.scheduler = daemon.New(daemon.Config{
		Transport:         a.backend,
		Dispatcher:        daemon.NewDispatcher(a.commandHandlers()),
		ClientID:          cfg.ClientID,
		InstanceID:        a.instanceID,
		Token:             cfg.BackendToken,
		BackendConfigured: a.backend != nil,
		HeartbeatInterval: cfg.HeartbeatInterval,
		PollInterval:      cfg.CommandPollInterval,
		Stats:             a.heartbeatStats,
	})

	return a, nil
}

// Start refreshes the registry best-effort, computes initial trust, and
// launches the background scheduler when eligible.
func (a *App) Start(ctx context.Context) {
	if a.backend != nil {
		err := retry.Do(ctx, retry.Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second,
			ShouldRetry: func(err error) bool {
				return backend.IsKind(err, backend.KindNetwork) || backend.IsKind(err, backend.KindTimeout)
			},
		}, func() error {
			return a.trust.RefreshRegistry(ctx)
		})
		if err != nil {
			slog.Warn("app: initial registry fetch failed", "err", err)
		}
	}
	a.trust.Recompute()
	a.scheduler.Start()
}

// Stop joins the scheduler.
func (a *App) Stop() {
	a.scheduler.Stop()
}

// Status is the summary served by /debug/status and the REPL.
type Status struct {
	InstanceID        string          `json:"instance_id"`
	UptimeSeconds     int             `json:"uptime_seconds"`
	BackendConfigured bool            `json:"backend_configured"`
	Trust             string          `json:"trust"`
	RoutingMode       string          `json:"routing_mode"`
	TurnCount         int             `json:"turn_count"`
	RecentActivity    []ActivityEntry `json:"recent_activity"`
}

// CurrentStatus snapshots the daemon state.
func (a *App) CurrentStatus() Status {
	return Status{
		InstanceID:        a.instanceID,
		UptimeSeconds:     int(time.Since(a.startedAt).Seconds()),
		BackendConfigured: a.backend != nil,
		Trust:             string(a.trust.State()),
		RoutingMode:       a.cfg.RoutingMode,
		TurnCount:         a.session.TurnCount,
		RecentActivity:    a.activity.recent(10),
	}
}

// InstanceID returns the persisted installation identifier.
func (a *App) InstanceID() string { return a.instanceID }

// Ready reports per-subsystem readiness for /debug/ready.
func (a *App) Ready() map[string]bool {
	checks := map[string]bool{
		"memory": a.deps.Memory != nil,
		"llm":    a.deps.LLM != nil,
	}
	if a.backend != nil {
		checks["registry"] = a.trust.IsValid()
	}
	return checks
}

func (a *App) currentToken() string {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()
	return a.token
}

// refreshCredentials re-reads the backend token from the environment. It is
// idempotent and returns true when the token changed.
func (a *App) refreshCredentials() bool {
	fresh := os.Getenv("BACKEND_TOKEN")
	if fresh == "" {
		return false
	}
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()
	if fresh == a.token {
		return false
	}
	a.token = fresh
	slog.Info("app: backend credentials refreshed")
	return true
}

func (a *App) loadOrCreateInstanceID() (string, error) {
	if v, ok := a.deps.Memory.GetSetting("instance_id"); ok {
		if id, ok := v.(string); ok && id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	if err := a.deps.Memory.SetSetting("instance_id", id); err != nil {
		return "", fmt.Errorf("persist instance id: %w", err)
	}
	if _, ok := a.deps.Memory.GetSetting("first_run"); !ok {
		_ = a.deps.Memory.SetSetting("first_run", time.Now().UTC().Format(time.RFC3339))
		_ = a.deps.Memory.SetSetting("telemetry_consent", false)
	}
	return id, nil
}

func (a *App) heartbeatStats() map[string]any {
	stats := a.deps.Memory.GetStatistics()
	out := make(map[string]any, len(stats))
	for k, v := range stats {
		out[k] = v
	}
	return out
}

// commandHandlers builds the dispatcher callbacks for backend commands.
func (a *App) commandHandlers() daemon.Handlers {
	return daemon.Handlers{
		Notify: func(message string) {
			a.activity.add("notify", message)
			a.deps.Output("Backend: " + message)
		},
		Run: func(ctx context.Context, payload map[string]any) error {
			_, err := a.RunShell(ctx, payload)
			return err
		},
		See: func(ctx context.Context, camera bool) error {
			return a.see(ctx, camera)
		},
		ActionPlan: func(ctx context.Context, payload map[string]any) error {
			a.activity.add("action_plan", "plan received")
			return a.planExec.Run(ctx, payload)
		},
	}
}

// RunShell executes a shell command payload through the governed pipeline.
// Used by backend `run` commands and the debug transport.
func (a *App) RunShell(ctx context.Context, payload map[string]any) (*terminal.Result, error) {
	if a.deps.Terminal == nil {
		return nil, fmt.Errorf("terminal adapter not configured")
	}
	command, _ := payload["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("run payload has no command")
	}

	out, err := a.pipeline.Execute(ctx, "run", payload, true, func(ctx context.Context) (any, error) {
		return a.deps.Terminal.Execute(ctx, command, terminal.Options{
			CheckSafety: true,
			Elevated:    a.cfg.RunElevated,
		})
	})
	if err != nil {
		a.activity.add("run", fmt.Sprintf("refused: %v", err))
		return nil, err
	}
	res, _ := out.(*terminal.Result)
	a.activity.add("run", command)
	return res, nil
}

func (a *App) see(ctx context.Context, camera bool) error {
	if a.deps.Vision == nil {
		return fmt.Errorf("vision adapter not configured")
	}
	var analysis *vision.Analysis
	var err error
	if camera {
		analysis, err = a.deps.Vision.SeeCamera(ctx)
	} else {
		analysis, err = a.deps.Vision.SeeScreen(ctx)
	}
	if err != nil {
		return err
	}
	a.activity.add("see", analysis.Text)
	a.deps.Output(analysis.Text)
	return nil
}

// See performs one vision analysis for the debug transport.
func (a *App) See(ctx context.Context, camera bool) error {
	return a.see(ctx, camera)
}

// VoiceTurn captures one utterance, transcribes it, and runs the transcript
// as a normal interactive turn. Empty transcript means nothing was heard.
// The reply is spoken back when speak is true; playback failures are logged
// only.
func (a *App) VoiceTurn(ctx context.Context, speak bool) (transcript, reply string, err error) {
	if a.deps.Audio == nil {
		return "", "", fmt.Errorf("audio adapter not configured")
	}

	raw, err := a.deps.Audio.CaptureMicrophone(ctx, 15, 10)
	if err != nil {
		return "", "", fmt.Errorf("capture microphone: %w", err)
	}
	if len(raw) == 0 {
		return "", "", nil
	}
	wav, err := a.deps.Audio.ExtractAudioBytes(raw)
	if err != nil {
		return "", "", fmt.Errorf("convert audio: %w", err)
	}

	transcript, err = a.deps.LLM.Transcribe(ctx, wav, "utterance.wav")
	if err != nil {
		return "", "", fmt.Errorf("transcribe: %w", err)
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", "", nil
	}

	reply, err = a.HandleTurn(ctx, transcript, TurnOptions{Interactive: true})
	if err != nil {
		return transcript, "", err
	}
	if speak {
		if err := a.deps.Audio.Speak(ctx, reply, false); err != nil {
			slog.Warn("app: speech playback failed", "err", err)
		}
	}
	return transcript, reply, nil
}

// noopPlans satisfies plan.PlanService when no backend is configured.
type noopPlans struct{}

func (noopPlans) Execute(ctx context.Context, planID string, result any) error { return nil }
func (noopPlans) Block(ctx context.Context, planID, reason string) error       { return nil }
