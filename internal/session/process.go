package session

import (
	"os"
	"os/exec"
	"strconv"
	"time"
)

// maxTokensEnv carries the output token cap to the CLI
const maxTokensEnv = "CLAUDE_CODE_MAX_OUTPUT_TOKENS"

// ArgsBuilder renders the CLI arguments for a session
type ArgsBuilder func(cfg SessionConfig) []string

// DefaultArgs runs the CLI non-interactively on the task
func DefaultArgs(cfg SessionConfig) []string {
	args := []string{"--print"}
	switch cfg.OutputFormat {
	case OutputBatch:
		args = append(args, "--output-format", "json")
	default:
		args = append(args, "--output-format", "stream-json", "--verbose")
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	return append(args, cfg.Task)
}

// processSpec is everything needed to start the child
type processSpec struct {
	command   string
	args      []string
	dir       string
	env       []string
	killGrace time.Duration
	req       SpawnRequest
}

// childEnv builds the child's environment from scratch: the pass-through
// variables, the token cap and exactly one credential variable.
func childEnv(passEnv []string, credentialVar string, cfg SessionConfig) []string {
	env := make([]string, 0, len(passEnv)+2)
	for _, name := range passEnv {
		if name == credentialVar {
			continue
		}
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	env = append(env, maxTokensEnv+"="+strconv.Itoa(cfg.MaxTokens))
	return append(env, credentialVar+"="+cfg.APIKey.Reveal())
}

func newCommand(spec processSpec) *exec.Cmd {
	cmd := exec.Command(spec.command, spec.args...)
	cmd.Dir = spec.dir
	cmd.Env = spec.env
	cmd.Stdout = spec.req.Stdout
	cmd.Stderr = spec.req.Stderr
	// Output copying must not outlive the process by more than the grace period
	cmd.WaitDelay = spec.killGrace
	setProcessGroup(cmd)
	return cmd
}

// exitSummary describes how a process ended. code is -1 when the process
// was killed by a signal.
func exitSummary(state *os.ProcessState, waitErr error) (code int, summary string) {
	if state == nil {
		if waitErr != nil {
			return -1, "wait failed: " + waitErr.Error()
		}
		return -1, "process state unavailable"
	}
	code = state.ExitCode()
	switch {
	case code == 0:
		return 0, ""
	case code > 0:
		return code, "process exited with code " + strconv.Itoa(code)
	default:
		return code, "process ended: " + state.String()
	}
}
