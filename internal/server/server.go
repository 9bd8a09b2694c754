// Package server exposes the session manager to callers: MCP tools for the
// session lifecycle and a gRPC health service reflecting whether spawns are
// accepted.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AltairaLabs/codegen-orchestrator/internal/config"
	"github.com/AltairaLabs/codegen-orchestrator/internal/credential"
	"github.com/AltairaLabs/codegen-orchestrator/internal/orcherr"
	"github.com/AltairaLabs/codegen-orchestrator/internal/pipeline"
	"github.com/AltairaLabs/codegen-orchestrator/internal/session"
)

// Tool names
const (
	ToolSpawn     = "session.spawn"
	ToolStatus    = "session.status"
	ToolTerminate = "session.terminate"
	ToolList      = "session.list"
)

// SessionService is the subset of session.Manager the tools drive
type SessionService interface {
	Spawn(ctx context.Context, req session.SpawnRequest) (session.SpawnResult, error)
	GetSessionStatus(sessionID string) *session.Session
	List() []session.Session
	Terminate(ctx context.Context, sessionID string) error
	Accepting() bool
}

// Config holds configuration for the MCP server
type Config struct {
	Name    string
	Version string
	// DefaultTimeout applies when a spawn call omits timeout_ms
	DefaultTimeout time.Duration
}

// MCPServer wraps the mcp-go server with the session tools
type MCPServer struct {
	server   *server.MCPServer
	sessions SessionService
	audit    *AuditLogger
	cfg      Config
	logger   *slog.Logger

	mu  sync.Mutex
	sse *server.SSEServer
}

// NewMCPServer creates and configures a new MCP server
func NewMCPServer(cfg Config, sessions SessionService, audit *AuditLogger, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = NewAuditLogger(logger)
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = config.DefaultSessionTimeout
	}

	ms := &MCPServer{
		server: server.NewMCPServer(
			cfg.Name,
			cfg.Version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		sessions: sessions,
		audit:    audit,
		cfg:      cfg,
		logger:   logger,
	}
	ms.registerTools()
	return ms
}

// registerTools registers all MCP tools with handlers
func (ms *MCPServer) registerTools() {
	spawnTool := mcp.NewTool(ToolSpawn,
		mcp.WithDescription("Start an agent CLI session in an isolated workspace"),
		mcp.WithString("workspace_id", mcp.Required(), mcp.Description("Tenant workspace identifier")),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier within the workspace")),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent identifier, used for the git identity")),
		mcp.WithString("agent_type", mcp.Description("Agent role label")),
		mcp.WithString("provider",
			mcp.Required(),
			mcp.Enum(credential.ProviderNames()...),
			mcp.Description("LLM provider whose key is bridged into the session"),
		),
		mcp.WithString("task", mcp.Required(), mcp.Description("Task prompt handed to the agent")),
		mcp.WithNumber("max_tokens", mcp.Required(), mcp.Description("Output token budget")),
		mcp.WithNumber("timeout_ms", mcp.Description("Wall-clock limit in milliseconds")),
		mcp.WithString("output_format",
			mcp.Enum(string(session.OutputStream), string(session.OutputBatch)),
			mcp.Description("stream or batch (default stream)"),
		),
		mcp.WithString("model", mcp.Description("Model override")),
		mcp.WithString("repo_url", mcp.Description("Repository to clone; empty initializes a fresh one")),
		mcp.WithString("git_token", mcp.Description("Token for an authenticated clone; never stored")),
		mcp.WithBoolean("verify_credential", mcp.Description("Check the key upstream before spawning")),
		mcp.WithObject("pipeline_context", mcp.Description("Workflow snapshot stamped into events")),
	)
	ms.server.AddTool(spawnTool, ms.handleSpawn)

	statusTool := mcp.NewTool(ToolStatus,
		mcp.WithDescription("Get the status of a live session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	)
	ms.server.AddTool(statusTool, ms.handleStatus)

	terminateTool := mcp.NewTool(ToolTerminate,
		mcp.WithDescription("Terminate a session and wait for it to stop"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	)
	ms.server.AddTool(terminateTool, ms.handleTerminate)

	listTool := mcp.NewTool(ToolList,
		mcp.WithDescription("List live sessions"),
	)
	ms.server.AddTool(listTool, ms.handleList)
}

// handleSpawn implements the session.spawn tool
func (ms *MCPServer) handleSpawn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	req, err := ms.spawnRequest(request)
	entry := &AuditEntry{
		ToolName:    ToolSpawn,
		WorkspaceID: req.WorkspaceID,
		ProjectID:   req.ProjectID,
		AgentID:     req.AgentID,
	}
	ms.audit.LogToolCall(ctx, entry)
	if err != nil {
		return ms.fail(ctx, entry, start, err), nil
	}

	result, err := ms.sessions.Spawn(ctx, req)
	if err != nil {
		return ms.fail(ctx, entry, start, err), nil
	}
	entry.SessionID = result.SessionID
	return ms.succeed(ctx, entry, start, result), nil
}

// spawnRequest decodes tool arguments. Missing required arguments are left
// for session validation so every problem is reported together.
func (ms *MCPServer) spawnRequest(request mcp.CallToolRequest) (session.SpawnRequest, error) {
	timeout := ms.cfg.DefaultTimeout
	if v := request.GetInt("timeout_ms", 0); v != 0 {
		timeout = time.Duration(v) * time.Millisecond
	}
	req := session.SpawnRequest{
		WorkspaceID:      request.GetString("workspace_id", ""),
		ProjectID:        request.GetString("project_id", ""),
		AgentID:          request.GetString("agent_id", ""),
		AgentType:        request.GetString("agent_type", ""),
		Provider:         credential.Provider(request.GetString("provider", "")),
		Task:             request.GetString("task", ""),
		MaxTokens:        request.GetInt("max_tokens", 0),
		Timeout:          timeout,
		OutputFormat:     session.OutputFormat(request.GetString("output_format", string(session.OutputStream))),
		Model:            request.GetString("model", ""),
		RepoURL:          request.GetString("repo_url", ""),
		GitToken:         request.GetString("git_token", ""),
		VerifyCredential: request.GetBool("verify_credential", false),
	}

	raw, ok := request.GetArguments()["pipeline_context"]
	if !ok || raw == nil {
		return req, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return req, orcherr.ConfigInvalid("server.handleSpawn", []string{"pipelineContext: " + err.Error()})
	}
	var pc pipeline.Context
	if err := json.Unmarshal(data, &pc); err != nil {
		return req, orcherr.ConfigInvalid("server.handleSpawn", []string{"pipelineContext: " + err.Error()})
	}
	req.PipelineContext = &pc
	return req, nil
}

// handleStatus implements the session.status tool
func (ms *MCPServer) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry := &AuditEntry{ToolName: ToolStatus, SessionID: sessionID}
	ms.audit.LogToolCall(ctx, entry)

	s := ms.sessions.GetSessionStatus(sessionID)
	if s == nil {
		return ms.fail(ctx, entry, start, orcherr.NotFound(sessionID)), nil
	}
	entry.WorkspaceID = s.WorkspaceID
	return ms.succeed(ctx, entry, start, s), nil
}

// terminateResponse reports whether the session was live when asked to stop
type terminateResponse struct {
	SessionID string `json:"sessionId"`
	Found     bool   `json:"found"`
}

// handleTerminate implements the session.terminate tool. Unknown sessions
// succeed with found=false.
func (ms *MCPServer) handleTerminate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry := &AuditEntry{ToolName: ToolTerminate, SessionID: sessionID}
	ms.audit.LogToolCall(ctx, entry)

	found := ms.sessions.GetSessionStatus(sessionID) != nil
	if err := ms.sessions.Terminate(ctx, sessionID); err != nil {
		return ms.fail(ctx, entry, start, err), nil
	}
	return ms.succeed(ctx, entry, start, terminateResponse{SessionID: sessionID, Found: found}), nil
}

// handleList implements the session.list tool
func (ms *MCPServer) handleList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	entry := &AuditEntry{ToolName: ToolList}
	ms.audit.LogToolCall(ctx, entry)

	sessions := ms.sessions.List()
	if sessions == nil {
		sessions = []session.Session{}
	}
	return ms.succeed(ctx, entry, start, sessions), nil
}

// toolError is the JSON body of a failed tool call
type toolError struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind"`
	Status  int      `json:"status"`
	Details []string `json:"details,omitempty"`
}

func (ms *MCPServer) fail(ctx context.Context, entry *AuditEntry, start time.Time, err error) *mcp.CallToolResult {
	entry.Err = err
	entry.Duration = time.Since(start)
	ms.audit.LogToolResult(ctx, entry)

	kind := orcherr.KindOf(err)
	body, mErr := json.Marshal(toolError{
		Error:   err.Error(),
		Kind:    kind.String(),
		Status:  orcherr.HTTPStatus(kind),
		Details: orcherr.DetailsOf(err),
	})
	if mErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(body))
}

func (ms *MCPServer) succeed(ctx context.Context, entry *AuditEntry, start time.Time, v any) *mcp.CallToolResult {
	entry.Duration = time.Since(start)
	body, err := json.Marshal(v)
	if err != nil {
		entry.Err = fmt.Errorf("encoding %s response: %w", entry.ToolName, err)
		ms.audit.LogToolResult(ctx, entry)
		return mcp.NewToolResultError(entry.Err.Error())
	}
	ms.audit.LogToolResult(ctx, entry)
	return mcp.NewToolResultText(string(body))
}

// Server returns the underlying mcp-go server for serving
func (ms *MCPServer) Server() *server.MCPServer {
	return ms.server
}
