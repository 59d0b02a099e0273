package terminal

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLocal_Execute(t *testing.T) {
	l := NewLocal("", false)
	res, err := l.Execute(context.Background(), "echo hello", Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" || res.ExitCode != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestLocal_NonZeroExitIsResultNotError(t *testing.T) {
	l := NewLocal("", false)
	res, err := l.Execute(context.Background(), "exit 3", Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestLocal_StderrCaptured(t *testing.T) {
	l := NewLocal("", false)
	res, err := l.Execute(context.Background(), "echo oops 1>&2", Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestLocal_SafetyCheck(t *testing.T) {
	l := NewLocal("", false)
	_, err := l.Execute(context.Background(), "rm -rf / --no-preserve-root", Options{CheckSafety: true})
	if err == nil {
		t.Error("safety check must refuse the command")
	}

	// Safety off executes nothing dangerous here; use a harmless command
	// that contains no denylisted fragment.
	if _, err := l.Execute(context.Background(), "true", Options{CheckSafety: true}); err != nil {
		t.Errorf("safe command refused: %v", err)
	}
}

func TestLocal_EmptyCommand(t *testing.T) {
	l := NewLocal("", false)
	if _, err := l.Execute(context.Background(), "  ", Options{}); err == nil {
		t.Error("empty command must error")
	}
}

func TestLocal_ElevatedDisabled(t *testing.T) {
	l := NewLocal("", false)
	if _, err := l.Execute(context.Background(), "id", Options{Elevated: true}); err == nil {
		t.Error("elevated execution must be refused when not allowed")
	}
}

func TestLocal_Timeout(t *testing.T) {
	l := NewLocal("", false)
	start := time.Now()
	_, err := l.Execute(context.Background(), "sleep 5", Options{Timeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout did not bound the command runtime")
	}
}
