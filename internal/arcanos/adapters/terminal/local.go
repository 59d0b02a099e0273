package terminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// denylist holds command fragments refused when safety checking is on. The
// scan is a coarse last line of defense, not a sandbox; use the docker
// adapter for real isolation.
var denylist = []string{
	"rm -rf /",
	"mkfs",
	"dd if=",
	":(){",
	"> /dev/sda",
	"chmod -R 777 /",
}

// Local runs commands on the host through a shell.
type Local struct {
	// Shell is the default shell binary ("/bin/sh" when empty).
	Shell string
	// AllowElevated permits Options.Elevated; set from RUN_ELEVATED.
	AllowElevated bool
}

// NewLocal builds a host terminal adapter.
func NewLocal(shell string, allowElevated bool) *Local {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Local{Shell: shell, AllowElevated: allowElevated}
}

// Execute runs one command. A non-zero exit code is reported in the Result,
// not as an error.
func (l *Local) Execute(ctx context.Context, command string, opts Options) (*Result, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("empty command")
	}
	if opts.CheckSafety {
		if hit := unsafeFragment(command); hit != "" {
			return nil, fmt.Errorf("command refused by safety check (matched %q)", hit)
		}
	}
	if opts.Elevated && !l.AllowElevated {
		return nil, fmt.Errorf("elevated execution is disabled")
	}

	shell := opts.Shell
	if shell == "" {
		shell = l.Shell
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := []string{shell, "-c", command}
	if opts.Elevated {
		argv = append([]string{"sudo", "-n"}, argv...)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("command timed out after %s", timeout)
		}
		return nil, fmt.Errorf("run command: %w", err)
	}
	return res, nil
}

func unsafeFragment(command string) string {
	lower := strings.ToLower(command)
	for _, frag := range denylist {
		if strings.Contains(lower, frag) {
			return frag
		}
	}
	return ""
}

var _ Adapter = (*Local)(nil)

// timeoutBudget returns how long a command may run; shared by the adapters
// that need the same default resolution.
func timeoutBudget(opts Options) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return DefaultTimeout
}
