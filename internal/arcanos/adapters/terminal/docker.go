package terminal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	labelManagedBy = "arcanos.managed-by"
	managedByValue = "arcanos"

	// DefaultSandboxImage is used when RUN_SANDBOX_IMAGE is unset.
	DefaultSandboxImage = "alpine:3.20"
)

// Sandbox runs each command inside a disposable container with no network,
// so backend-issued shell commands cannot touch the host.
type Sandbox struct {
	client *dockerclient.Client
	image  string
}

// NewSandbox builds a docker-backed terminal adapter. The Docker host comes
// from DOCKER_HOST or the default socket.
func NewSandbox(image string) (*Sandbox, error) {
	if image == "" {
		image = DefaultSandboxImage
	}
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Sandbox{client: cli, image: image}, nil
}

// Execute creates a one-shot container, waits for it, and collects its
// output. The container is always removed, even on failure paths.
func (s *Sandbox) Execute(ctx context.Context, command string, opts Options) (*Result, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("empty command")
	}
	if opts.Elevated {
		return nil, fmt.Errorf("elevated execution is not available in the sandbox")
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutBudget(opts))
	defer cancel()

	created, err := s.client.ContainerCreate(ctx,
		&container.Config{
			Image:           s.image,
			Cmd:             []string{"/bin/sh", "-c", command},
			NetworkDisabled: true,
			Labels:          map[string]string{labelManagedBy: managedByValue},
		},
		&container.HostConfig{
			AutoRemove:     false,
			ReadonlyRootfs: false,
			Resources: container.Resources{
				Memory:   256 * 1024 * 1024,
				NanoCPUs: 1_000_000_000,
			},
		},
		nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create sandbox container: %w", err)
	}
	defer func() {
		// Removal uses a fresh context so a timed-out command still gets
		// cleaned up.
		_ = s.client.ContainerRemove(context.Background(), created.ID,
			container.RemoveOptions{Force: true})
	}()

	if err := s.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start sandbox container: %w", err)
	}

	waitCh, errCh := s.client.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case status := <-waitCh:
		exitCode = int(status.StatusCode)
	case err := <-errCh:
		return nil, fmt.Errorf("wait for sandbox container: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("sandbox command timed out")
	}

	logs, err := s.client.ContainerLogs(ctx, created.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("read sandbox logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, io.LimitReader(logs, 1<<20)); err != nil {
		return nil, fmt.Errorf("demux sandbox logs: %w", err)
	}

	return &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

var _ Adapter = (*Sandbox)(nil)
