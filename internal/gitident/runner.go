package gitident

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CommandRunner runs one git command in dir with extra environment entries
// and returns stdout.
type CommandRunner interface {
	Run(ctx context.Context, dir string, env []string, args ...string) (string, error)
}

// ExecRunner runs the git binary. All commands target dir via -C.
type ExecRunner struct {
	Binary string
}

// NewExecRunner returns a runner for binary, defaulting to "git" on PATH
func NewExecRunner(binary string) *ExecRunner {
	if binary == "" {
		binary = "git"
	}
	return &ExecRunner{Binary: binary}
}

// Run executes the command. Stderr is captured and included in the error.
// env entries are appended to the orchestrator's environment for this child
// only; they are never echoed in errors.
func (r *ExecRunner) Run(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", dir}, args...)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Binary, fullArgs...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, env...)

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (stderr: %s)",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
