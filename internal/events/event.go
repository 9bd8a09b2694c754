// Package events carries session lifecycle notifications from the
// orchestrator to whoever is listening. The orchestrator pushes typed events
// into an injected Sink; delivery is fire-and-forget.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AltairaLabs/codegen-orchestrator/internal/pipeline"
)

// Type names a lifecycle event
type Type string

const (
	SessionStarted    Type = "session:started"
	SessionTerminated Type = "session:terminated"
	SessionFailed     Type = "session:failed"
)

// Event is one lifecycle notification. It never carries credentials.
type Event struct {
	Type            Type              `json:"type"`
	SessionID       string            `json:"sessionId"`
	WorkspaceID     string            `json:"workspaceId"`
	ProjectID       string            `json:"projectId"`
	AgentID         string            `json:"agentId"`
	AgentType       string            `json:"agentType"`
	Status          string            `json:"status,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	ExitCode        *int              `json:"exitCode,omitempty"`
	Error           string            `json:"error,omitempty"`
	RetryCount      int               `json:"retryCount"`
	MaxRetries      int               `json:"maxRetries"`
	PipelineContext *pipeline.Context `json:"pipelineContext,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// Sink receives events
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, e Event) error

// Emit calls f
func (f SinkFunc) Emit(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Discard drops every event
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// MultiSink emits to every sink, continuing past failures
type MultiSink []Sink

// Emit implements Sink
func (m MultiSink) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to a structured logger
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink
func (s LogSink) Emit(ctx context.Context, e Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"event", string(e.Type),
		"session_id", e.SessionID,
		"workspace_id", e.WorkspaceID,
		"project_id", e.ProjectID,
		"agent_id", e.AgentID,
		"agent_type", e.AgentType,
	}
	if e.Status != "" {
		attrs = append(attrs, "status", e.Status, "reason", e.Reason)
	}
	if e.ExitCode != nil {
		attrs = append(attrs, "exit_code", *e.ExitCode)
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
	}
	if e.PipelineContext != nil {
		attrs = append(attrs, "pipeline", e.PipelineContext)
	}
	logger.InfoContext(ctx, "session event", attrs...)
	return nil
}
