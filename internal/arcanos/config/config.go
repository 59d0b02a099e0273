// Package config builds the process-wide runtime configuration.
//
// Hydration is layered and deterministic: packaged defaults, then the
// fallback dot-env in the per-user data directory, then the primary dot-env
// in the install directory, then the process environment, then an optional
// explicit override file. Later sources win. The resulting Config is built
// once at startup and passed by reference; it is never mutated afterwards.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arcanos/arcanos/common/environment"
)

// Routing modes for operator conversation turns.
const (
	RouteModeLocal   = "local"
	RouteModeBackend = "backend"
	RouteModeHybrid  = "hybrid"
)

// Sandbox modes for backend-issued shell commands.
const (
	SandboxNone   = "none"
	SandboxDocker = "docker"
)

// placeholderTokens are credential values left behind by installers and
// templates. The scheduler refuses to start with one of these, so a
// half-configured install never hammers the backend with invalid auth.
var placeholderTokens = map[string]bool{
	"changeme":           true,
	"your-backend-token": true,
	"replace_me":         true,
	"xxx":                true,
}

// Config is the immutable runtime configuration.
type Config struct {
	// Backend connection.
	BackendURL       string
	BackendToken     string
	BackendAllowHTTP bool

	// Conversation routing.
	RoutingMode         string
	DeepPrefixes        []string
	FallbackToLocal     bool
	ConfidenceThreshold float64
	// ConfidenceThresholdSet records whether the operator configured a
	// threshold at all; the confidence gate is a no-op when unset.
	ConfidenceThresholdSet bool

	// Backend request behaviour.
	RequestTimeout time.Duration
	HistoryLimit   int

	// Trust / registry.
	RegistryCacheTTL time.Duration

	// Scheduler.
	HeartbeatInterval   time.Duration
	CommandPollInterval time.Duration

	// Governance.
	ConfirmSensitiveActions bool
	RunElevated             bool

	// Rate-limit budgets (requests per minute).
	AskRateLimit   int
	DebugRateLimit int

	// Filesystem layout.
	DataDir    string
	LogDir     string
	CrashDir   string
	MemoryFile string
	AuditDB    string

	// Debug transport.
	DebugEnabled bool
	DebugAddr    string
	DebugToken   string

	// Identity.
	ClientID string

	// Command sandbox.
	Sandbox      string
	SandboxImage string

	// Local LLM provider.
	LLM LLMConfig

	// Logging.
	LogLevel  string
	LogFormat string
}

// LLMConfig configures the local (OpenAI-compatible) model endpoint.
type LLMConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Stream    bool
}

// FromEnv builds a Config from the current (already hydrated) environment.
func FromEnv() *Config {
	dataDir := environment.StringOr("ARCANOS_DATA_DIR", defaultDataDir())

	return &Config{
		BackendURL:       os.Getenv("BACKEND_URL"),
		BackendToken:     os.Getenv("BACKEND_TOKEN"),
		BackendAllowHTTP: environment.BoolOr("BACKEND_ALLOW_HTTP", false),

		RoutingMode:            environment.StringOr("BACKEND_ROUTING_MODE", RouteModeHybrid),
		DeepPrefixes:           environment.StringSliceOr("BACKEND_DEEP_PREFIXES", []string{"deep:", "backend:"}),
		FallbackToLocal:        environment.BoolOr("BACKEND_FALLBACK_TO_LOCAL", true),
		ConfidenceThreshold:    environment.FloatOr("BACKEND_CONFIDENCE_THRESHOLD", 0),
		ConfidenceThresholdSet: hasEnv("BACKEND_CONFIDENCE_THRESHOLD"),

		RequestTimeout: time.Duration(environment.IntOr("BACKEND_REQUEST_TIMEOUT", 30)) * time.Second,
		HistoryLimit:   environment.IntOr("BACKEND_HISTORY_LIMIT", 10),

		RegistryCacheTTL: time.Duration(environment.IntOr("REGISTRY_CACHE_TTL_MINUTES", 15)) * time.Minute,

		HeartbeatInterval:   time.Duration(environment.IntOr("DAEMON_HEARTBEAT_INTERVAL_SECONDS", 30)) * time.Second,
		CommandPollInterval: time.Duration(environment.IntOr("DAEMON_COMMAND_POLL_INTERVAL_SECONDS", 10)) * time.Second,

		ConfirmSensitiveActions: environment.BoolOr("CONFIRM_SENSITIVE_ACTIONS", true),
		RunElevated:             environment.BoolOr("RUN_ELEVATED", false),

		AskRateLimit:   environment.IntOr("ASK_RATE_LIMIT_PER_MINUTE", 20),
		DebugRateLimit: environment.IntOr("DEBUG_RATE_LIMIT_PER_MINUTE", 60),

		DataDir:    dataDir,
		LogDir:     environment.StringOr("ARCANOS_LOG_DIR", filepath.Join(dataDir, "logs")),
		CrashDir:   environment.StringOr("ARCANOS_CRASH_DIR", filepath.Join(dataDir, "crash")),
		MemoryFile: environment.StringOr("ARCANOS_MEMORY_FILE", filepath.Join(dataDir, "memory.json")),
		AuditDB:    environment.StringOr("ARCANOS_AUDIT_DB", filepath.Join(dataDir, "audit.db")),

		DebugEnabled: environment.BoolOr("DEBUG_SERVER_ENABLED", false),
		DebugAddr:    environment.StringOr("DEBUG_SERVER_ADDR", "127.0.0.1:7433"),
		DebugToken:   os.Getenv("DEBUG_SERVER_TOKEN"),

		ClientID: environment.StringOr("ARCANOS_CLIENT_ID", "arcanos"),

		Sandbox:      environment.StringOr("RUN_SANDBOX", SandboxNone),
		SandboxImage: environment.StringOr("RUN_SANDBOX_IMAGE", "debian:stable-slim"),

		LLM: LLMConfig{
			APIKey:    os.Getenv("LLM_API_KEY"),
			BaseURL:   os.Getenv("LLM_BASE_URL"),
			Model:     environment.StringOr("LLM_MODEL", "gpt-4o-mini"),
			MaxTokens: environment.IntOr("LLM_MAX_TOKENS", 0),
			Stream:    environment.BoolOr("LLM_STREAM", true),
		},

		LogLevel:  environment.StringOr("LOG_LEVEL", "info"),
		LogFormat: environment.StringOr("LOG_FORMAT", "text"),
	}
}

// BackendConfigured reports whether a backend URL is present. An empty URL is
// the supported "backend-unconfigured" state: the daemon runs local-only.
func (c *Config) BackendConfigured() bool {
	return strings.TrimSpace(c.BackendURL) != ""
}

// TokenIsPlaceholder reports whether the configured backend token is a known
// installer placeholder.
func (c *Config) TokenIsPlaceholder() bool {
	return IsPlaceholderToken(c.BackendToken)
}

// IsPlaceholderToken reports whether tok is a known placeholder value.
func IsPlaceholderToken(tok string) bool {
	return placeholderTokens[strings.ToLower(strings.TrimSpace(tok))]
}

// Validate checks numeric ranges, enum membership, and directory
// writability. It returns every failure found, in field order, so the
// operator sees the full list in one run. A non-empty result is fatal.
func (c *Config) Validate() []error {
	var errs []error

	switch c.RoutingMode {
	case RouteModeLocal, RouteModeBackend, RouteModeHybrid:
	default:
		errs = append(errs, fmt.Errorf("BACKEND_ROUTING_MODE must be one of local, backend, hybrid; got %q", c.RoutingMode))
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("BACKEND_CONFIDENCE_THRESHOLD must be in [0,1]; got %g", c.ConfidenceThreshold))
	}
	if c.RequestTimeout < time.Second {
		errs = append(errs, fmt.Errorf("BACKEND_REQUEST_TIMEOUT must be >= 1 second; got %s", c.RequestTimeout))
	}
	if c.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("BACKEND_HISTORY_LIMIT must be >= 0; got %d", c.HistoryLimit))
	}
	if c.RegistryCacheTTL < time.Minute {
		errs = append(errs, fmt.Errorf("REGISTRY_CACHE_TTL_MINUTES must be >= 1; got %s", c.RegistryCacheTTL))
	}
	if c.HeartbeatInterval < time.Second {
		errs = append(errs, fmt.Errorf("DAEMON_HEARTBEAT_INTERVAL_SECONDS must be >= 1; got %s", c.HeartbeatInterval))
	}
	if c.CommandPollInterval < time.Second {
		errs = append(errs, fmt.Errorf("DAEMON_COMMAND_POLL_INTERVAL_SECONDS must be >= 1; got %s", c.CommandPollInterval))
	}
	if c.AskRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("ASK_RATE_LIMIT_PER_MINUTE must be > 0; got %d", c.AskRateLimit))
	}
	if c.DebugRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("DEBUG_RATE_LIMIT_PER_MINUTE must be > 0; got %d", c.DebugRateLimit))
	}

	switch c.Sandbox {
	case SandboxNone, SandboxDocker:
	default:
		errs = append(errs, fmt.Errorf("RUN_SANDBOX must be one of none, docker; got %q", c.Sandbox))
	}

	for _, dir := range []struct{ name, path string }{
		{"data dir", c.DataDir},
		{"log dir", c.LogDir},
		{"crash dir", c.CrashDir},
	} {
		if err := ensureWritableDir(dir.path); err != nil {
			errs = append(errs, fmt.Errorf("%s %q is not writable: %w", dir.name, dir.path, err))
		}
	}

	return errs
}

// ensureWritableDir creates the directory when missing and probes it with a
// throwaway file.
func ensureWritableDir(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(path, ".arcanos-probe")
	f, err := os.Create(probe)
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(probe)
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "arcanos")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".arcanos"
	}
	return filepath.Join(home, ".arcanos")
}

func hasEnv(name string) bool {
	v, ok := os.LookupEnv(name)
	return ok && v != ""
}
