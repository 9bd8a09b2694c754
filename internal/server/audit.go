package server

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/AltairaLabs/codegen-orchestrator/internal/orcherr"
)

// AuditEntry records one tool invocation. It carries identifiers only; task
// text, tokens and keys never reach it.
type AuditEntry struct {
	Timestamp   time.Time
	ToolName    string
	SessionID   string
	WorkspaceID string
	ProjectID   string
	AgentID     string
	Err         error
	Duration    time.Duration
}

// AuditLogger handles audit logging for MCP tool calls
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger}
}

// LogToolCall logs a tool invocation with all relevant context
func (al *AuditLogger) LogToolCall(ctx context.Context, entry *AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	al.logger.InfoContext(ctx, "tool_call",
		"tool_name", entry.ToolName,
		"session_id", entry.SessionID,
		"workspace_id", entry.WorkspaceID,
		"project_id", entry.ProjectID,
		"agent_id", entry.AgentID,
		"trace_id", traceID(ctx),
		"timestamp", entry.Timestamp,
	)
}

// LogToolResult logs the outcome of a tool call. Failures are logged by kind;
// the error text is included because orchestrator errors never embed secrets.
func (al *AuditLogger) LogToolResult(ctx context.Context, entry *AuditEntry) {
	if entry.Err != nil {
		kind := orcherr.KindOf(entry.Err)
		al.logger.WarnContext(ctx, "tool_error",
			"tool_name", entry.ToolName,
			"session_id", entry.SessionID,
			"workspace_id", entry.WorkspaceID,
			"error_kind", kind.String(),
			"status", orcherr.HTTPStatus(kind),
			"error", entry.Err.Error(),
			"duration_ms", entry.Duration.Milliseconds(),
			"trace_id", traceID(ctx),
		)
		return
	}
	al.logger.InfoContext(ctx, "tool_result",
		"tool_name", entry.ToolName,
		"session_id", entry.SessionID,
		"workspace_id", entry.WorkspaceID,
		"duration_ms", entry.Duration.Milliseconds(),
		"trace_id", traceID(ctx),
	)
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
