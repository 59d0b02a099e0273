// Package terminal runs shell commands on behalf of backend commands and
// ActionPlans, either directly on the host or inside a disposable container.
package terminal

import (
	"context"
	"time"
)

// DefaultTimeout applies when the caller does not set one.
const DefaultTimeout = 60 * time.Second

// Options tune one command execution.
type Options struct {
	// Shell overrides the shell binary ("/bin/sh" by default).
	Shell string
	// Timeout bounds the command runtime (DefaultTimeout when zero).
	Timeout time.Duration
	// Elevated requests privileged execution. The local adapter refuses it
	// unless RUN_ELEVATED was enabled at startup.
	Elevated bool
	// CheckSafety enables the denylist scan before execution.
	CheckSafety bool
}

// Result is the outcome of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Adapter executes a shell command. An error means the command could not be
// run at all; a command that ran and failed returns a Result with a non-zero
// exit code and no error.
type Adapter interface {
	Execute(ctx context.Context, command string, opts Options) (*Result, error)
}
