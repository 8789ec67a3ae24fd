// Package compose shells out to the container-orchestration CLI. Every call
// is synchronous with an explicit timeout; exit code and captured stderr are
// the only contract.
package compose

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/yanun0323/errors"
)

var (
	ErrRuntimeUnavailable = errors.New("orchestration runtime unavailable")
	ErrProcessControl     = errors.New("process control command failed")
)

// ProcessError is a non-zero CLI exit with its captured stderr.
type ProcessError struct {
	Op     string
	Stderr string
	Cause  error
}

func (e *ProcessError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Cause, stderr)
}

func (e *ProcessError) Unwrap() error { return e.Cause }

func (e *ProcessError) Is(target error) bool { return target == ErrProcessControl }

// Runner drives the orchestration CLI against a specific manifest.
type Runner interface {
	// Probe fails fast when the runtime itself is unreachable.
	Probe(ctx context.Context) error
	// Up brings the manifest's services up detached.
	Up(ctx context.Context, manifestPath string) error
	// Down tears the services down; full additionally removes volumes and
	// orphan containers.
	Down(ctx context.Context, manifestPath string, full bool) error
	// Kill force-stops the manifest's services.
	Kill(ctx context.Context, manifestPath string) error
	// Processes returns the ids of the manifest's live containers.
	Processes(ctx context.Context, manifestPath string) ([]string, error)
}

// CLIRunner is the real docker compose invoker.
type CLIRunner struct {
	// Binary defaults to "docker".
	Binary string
	// Timeout bounds every subprocess. Defaults to 60s, probes to 10s.
	Timeout time.Duration
}

const (
	defaultTimeout      = 60 * time.Second
	defaultProbeTimeout = 10 * time.Second
)

func (r *CLIRunner) binary() string {
	if r.Binary == "" {
		return "docker"
	}
	return r.Binary
}

func (r *CLIRunner) timeout() time.Duration {
	if r.Timeout <= 0 {
		return defaultTimeout
	}
	return r.Timeout
}

func (r *CLIRunner) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	if _, err := r.run(ctx, "probe", "version"); err != nil {
		return errors.Wrap(ErrRuntimeUnavailable, err.Error())
	}
	if _, err := r.run(ctx, "probe", "compose", "version"); err != nil {
		return errors.Wrap(ErrRuntimeUnavailable, err.Error())
	}
	return nil
}

func (r *CLIRunner) Up(ctx context.Context, manifestPath string) error {
	_, err := r.run(ctx, "up", "compose", "-f", manifestPath, "up", "-d")
	return err
}

func (r *CLIRunner) Down(ctx context.Context, manifestPath string, full bool) error {
	args := []string{"compose", "-f", manifestPath, "down"}
	if full {
		args = append(args, "--volumes", "--remove-orphans")
	}
	_, err := r.run(ctx, "down", args...)
	return err
}

func (r *CLIRunner) Kill(ctx context.Context, manifestPath string) error {
	_, err := r.run(ctx, "kill", "compose", "-f", manifestPath, "kill")
	return err
}

func (r *CLIRunner) Processes(ctx context.Context, manifestPath string) ([]string, error) {
	out, err := r.run(ctx, "ps", "compose", "-f", manifestPath, "ps", "-q")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func (r *CLIRunner) run(ctx context.Context, op string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binary(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &ProcessError{Op: op, Stderr: stderr.String(), Cause: err}
	}
	return stdout.String(), nil
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
