package session

import (
	"fmt"
	"strings"

	"github.com/AltairaLabs/codegen-orchestrator/internal/credential"
	"github.com/AltairaLabs/codegen-orchestrator/internal/orcherr"
)

// ValidationResult lists every violation found, not just the first
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Err converts an invalid result into a ConfigInvalid error
func (r ValidationResult) Err(op orcherr.Op) error {
	if r.Valid {
		return nil
	}
	return orcherr.ConfigInvalid(op, r.Errors)
}

type violations []string

func (v *violations) add(field, format string, args ...interface{}) {
	*v = append(*v, field+": "+fmt.Sprintf(format, args...))
}

func (v violations) result() ValidationResult {
	return ValidationResult{Valid: len(v) == 0, Errors: v}
}

// Validate checks a resolved session config. It has no side effects and
// never panics.
func Validate(cfg SessionConfig) ValidationResult {
	var v violations
	if cfg.APIKey == nil || cfg.APIKey.Len() == 0 {
		v.add("apiKey", "must not be empty")
	}
	if strings.TrimSpace(cfg.ProjectPath) == "" {
		v.add("projectPath", "must not be empty")
	}
	checkRunParams(&v, cfg.Task, cfg.MaxTokens, cfg.Timeout.Milliseconds(), cfg.OutputFormat)
	return v.result()
}

// ValidateRequest checks everything about a spawn request that is known
// before any I/O. supported reports whether a provider is configured; nil
// means the default provider set.
func ValidateRequest(req SpawnRequest, supported func(credential.Provider) bool) ValidationResult {
	if supported == nil {
		supported = func(p credential.Provider) bool {
			_, ok := credential.DefaultProviders()[p]
			return ok
		}
	}
	var v violations
	if strings.TrimSpace(req.WorkspaceID) == "" {
		v.add("workspaceId", "must not be empty")
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		v.add("projectId", "must not be empty")
	}
	if !supported(req.Provider) {
		v.add("provider", "unsupported value %q", req.Provider)
	}
	checkRunParams(&v, req.Task, req.MaxTokens, req.Timeout.Milliseconds(), req.OutputFormat)
	return v.result()
}

func checkRunParams(v *violations, task string, maxTokens int, timeoutMS int64, format OutputFormat) {
	if strings.TrimSpace(task) == "" {
		v.add("task", "must not be empty")
	}
	if maxTokens <= 0 {
		v.add("maxTokens", "must be positive (got %d)", maxTokens)
	}
	if timeoutMS <= 0 {
		v.add("timeout", "must be positive (got %dms)", timeoutMS)
	}
	switch format {
	case "", OutputStream, OutputBatch:
	default:
		v.add("outputFormat", "unsupported value %q (want stream or batch)", format)
	}
}
