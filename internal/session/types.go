package session

import (
	"io"
	"log/slog"
	"time"

	"github.com/AltairaLabs/codegen-orchestrator/internal/credential"
	"github.com/AltairaLabs/codegen-orchestrator/internal/pipeline"
	"github.com/AltairaLabs/codegen-orchestrator/internal/secret"
)

// Status is the lifecycle state of a session
type Status string

const (
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusTerminated Status = "TERMINATED"
)

// Terminal reports whether no further transitions are possible
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTerminated
}

// TerminationReason records what ended a session
type TerminationReason string

const (
	ReasonExit     TerminationReason = "exit"
	ReasonTimeout  TerminationReason = "timeout"
	ReasonExplicit TerminationReason = "explicit"
	ReasonShutdown TerminationReason = "shutdown"
)

// OutputFormat selects how the CLI reports progress
type OutputFormat string

const (
	OutputStream OutputFormat = "stream"
	OutputBatch  OutputFormat = "batch"
)

// SessionConfig is the fully resolved input for one CLI run. APIKey is held
// in locked memory and owned by the caller.
type SessionConfig struct {
	APIKey       *secret.Buffer
	ProjectPath  string
	Task         string
	MaxTokens    int
	Timeout      time.Duration
	OutputFormat OutputFormat
	Model        string
}

// Session is the runtime view of one agent process
type Session struct {
	ID                string              `json:"sessionId"`
	PID               int                 `json:"pid"`
	Status            Status              `json:"status"`
	WorkspaceID       string              `json:"workspaceId"`
	ProjectID         string              `json:"projectId"`
	AgentID           string              `json:"agentId"`
	AgentType         string              `json:"agentType"`
	Provider          credential.Provider `json:"provider"`
	Model             string              `json:"model,omitempty"`
	WorkspaceRoot     string              `json:"workspaceRoot"`
	StartedAt         time.Time           `json:"startedAt"`
	EndedAt           *time.Time          `json:"endedAt,omitempty"`
	ExitCode          *int                `json:"exitCode,omitempty"`
	TerminationReason TerminationReason   `json:"terminationReason,omitempty"`
	PipelineContext   *pipeline.Context   `json:"pipelineContext,omitempty"`
}

func (s Session) clone() Session {
	out := s
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	if s.ExitCode != nil {
		c := *s.ExitCode
		out.ExitCode = &c
	}
	out.PipelineContext = s.PipelineContext.Clone()
	return out
}

// SpawnRequest is everything a caller supplies to start a session
type SpawnRequest struct {
	WorkspaceID  string
	ProjectID    string
	AgentID      string
	AgentType    string
	Provider     credential.Provider
	Task         string
	MaxTokens    int
	Timeout      time.Duration
	OutputFormat OutputFormat
	Model        string

	// RepoURL is cloned into the workspace; empty initializes a fresh repository
	RepoURL          string
	// GitToken authenticates the clone. It is never persisted.
	GitToken         string
	// VerifyCredential makes one upstream call to check the key before spawning
	VerifyCredential bool

	PipelineContext *pipeline.Context

	// Stdout and Stderr receive the CLI's output; nil discards it
	Stdout io.Writer
	Stderr io.Writer
}

// LogValue lists the identifying fields only; the task text and token are left out
func (r SpawnRequest) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("workspace_id", r.WorkspaceID),
		slog.String("project_id", r.ProjectID),
		slog.String("agent_id", r.AgentID),
		slog.String("agent_type", r.AgentType),
		slog.String("provider", string(r.Provider)),
		slog.Duration("timeout", r.Timeout),
		slog.Bool("has_repo", r.RepoURL != ""),
	)
}

// SpawnResult identifies a started session
type SpawnResult struct {
	SessionID string `json:"sessionId"`
	PID       int    `json:"pid"`
}
