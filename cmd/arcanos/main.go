// ARCANOS is a workstation agent daemon.
//
// It runs an operator REPL backed by a local model, optionally connected to a
// remote backend for deep reasoning and remote command dispatch. Every
// privileged action flows through a governed pipeline (idempotency guard,
// trust gate, audit trail).
//
// Configuration is layered: packaged defaults, the per-user fallback dot-env,
// the install-directory dot-env, the process environment, then the -env
// override file. Key variables:
//
//	BACKEND_URL              - control plane base URL (empty: local-only)
//	BACKEND_TOKEN            - bearer token for the control plane
//	BACKEND_ROUTING_MODE     - "local", "backend", or "hybrid" (default)
//	LLM_API_KEY              - API key for the local model provider
//	LLM_BASE_URL             - override model API base URL (e.g. Ollama)
//	LLM_MODEL                - model name (default "gpt-4o-mini")
//	RUN_SANDBOX              - "none" (default) or "docker"
//	DEBUG_SERVER_ENABLED     - expose the loopback debug transport
//	DEBUG_SERVER_TOKEN       - token required by the debug transport
//	LOG_LEVEL / LOG_FORMAT   - slog level and handler ("text" or "json")
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arcanos/arcanos/common/version"
	"github.com/arcanos/arcanos/internal/arcanos/adapters/audio"
	"github.com/arcanos/arcanos/internal/arcanos/adapters/terminal"
	"github.com/arcanos/arcanos/internal/arcanos/adapters/vision"
	"github.com/arcanos/arcanos/internal/arcanos/app"
	"github.com/arcanos/arcanos/internal/arcanos/audit"
	"github.com/arcanos/arcanos/internal/arcanos/config"
	"github.com/arcanos/arcanos/internal/arcanos/debugserver"
	"github.com/arcanos/arcanos/internal/arcanos/llm"
	"github.com/arcanos/arcanos/internal/arcanos/memory"
	"github.com/arcanos/arcanos/internal/arcanos/observability"
)

func main() {
	envPath := flag.String("env", "", "path to an override dot-env file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("arcanos " + version.Info())
		return
	}

	cfg, err := config.Load(*envPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal: "+err.Error())
		os.Exit(1)
	}
	observability.Setup(cfg.LogLevel, cfg.LogFormat)
	slog.Info("arcanos starting", "version", version.Version, "routing", cfg.RoutingMode)

	// Seed the per-user fallback dot-env from the packaged template so a
	// fresh install has an editable config on the next run.
	if err := config.SeedFallbackEnv(cfg.DataDir, ".env.template"); err != nil {
		slog.Warn("could not seed fallback dot-env", "err", err)
	}

	if err := run(cfg); err != nil {
		slog.Error("arcanos exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	var recorder audit.Recorder
	store, err := audit.OpenStore(cfg.AuditDB)
	if err != nil {
		slog.Warn("audit store unavailable, falling back to log sink", "err", err)
		recorder = audit.LogSink{}
	} else {
		defer store.Close()
		recorder = store
	}

	mem, err := memory.Open(cfg.MemoryFile)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}

	provider := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
	})

	var term terminal.Adapter
	if cfg.Sandbox == config.SandboxDocker {
		sandbox, err := terminal.NewSandbox(cfg.SandboxImage)
		if err != nil {
			return fmt.Errorf("docker sandbox: %w", err)
		}
		term = sandbox
	} else {
		term = terminal.NewLocal("", cfg.RunElevated)
	}

	a, err := app.New(cfg, app.Deps{
		LLM:           provider,
		Terminal:      term,
		Vision:        vision.NewCapture(provider, cfg.DataDir),
		Audio:         audio.NewCapture(),
		Memory:        mem,
		Audit:         recorder,
		ConfirmPrompt: promptOperator,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a.Start(ctx)
	defer a.Stop()

	if cfg.DebugEnabled {
		dbg := debugserver.New(cfg.DebugAddr, debugserver.Handlers{
			Token:              cfg.DebugToken,
			RateLimitPerMinute: cfg.DebugRateLimit,
			Status:             a.CurrentStatus,
			Ready:              a.Ready,
			Ask:                a.HandleTurn,
			Run:                a.RunShell,
			See:                a.See,
		})
		if err := dbg.Start(ctx); err != nil {
			return fmt.Errorf("debug server: %w", err)
		}
		defer dbg.Stop()
	}

	if err := a.Run(ctx, os.Stdin, os.Stdout); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// promptOperator asks for confirmation of pending backend actions on the
// terminal.
func promptOperator(summary string, pending []string) bool {
	fmt.Println(summary)
	for _, p := range pending {
		fmt.Println("  - " + p)
	}
	fmt.Print("Approve? [y/N] ")
	var answer string
	fmt.Scanln(&answer)
	return answer == "y" || answer == "Y" || answer == "yes"
}
