// Package session spawns, supervises and tears down one agent CLI process per
// task. The Manager is the only entry point; it drives workspace preparation,
// credential bridging and git setup, then hands the running process to a
// supervising goroutine that owns the terminal transition.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AltairaLabs/codegen-orchestrator/internal/config"
	"github.com/AltairaLabs/codegen-orchestrator/internal/credential"
	"github.com/AltairaLabs/codegen-orchestrator/internal/events"
	"github.com/AltairaLabs/codegen-orchestrator/internal/orcherr"
	"github.com/AltairaLabs/codegen-orchestrator/internal/secret"
	"github.com/AltairaLabs/codegen-orchestrator/internal/storage/memory"
	"github.com/AltairaLabs/codegen-orchestrator/internal/telemetry"
	"github.com/AltairaLabs/codegen-orchestrator/internal/workspace"
)

const emitTimeout = 5 * time.Second

// Workspaces prepares and tears down session working directories
type Workspaces interface {
	Prepare(workspaceID, projectID string) (workspace.Handle, error)
	Release(h workspace.Handle)
	Cleanup(root string) workspace.CleanupReport
	Remove(root string) error
}

// Credentials fetches provider keys from the vault
type Credentials interface {
	FetchKey(ctx context.Context, workspaceID string, p credential.Provider) (*secret.Buffer, error)
	Verify(ctx context.Context, p credential.Provider, key *secret.Buffer) bool
	EnvVar(p credential.Provider) (string, error)
}

// GitConfigurator prepares the repository inside a workspace
type GitConfigurator interface {
	Setup(ctx context.Context, root, repoURL string, token *secret.Buffer, agentID string) error
}

// Registry holds the live sessions of one Manager
type Registry = memory.Registry[*tracked]

// NewRegistry creates an empty session registry
func NewRegistry() *Registry {
	return memory.NewRegistry[*tracked](nil)
}

// Options tunes process launch and teardown
type Options struct {
	// Command is the agent CLI binary
	Command string
	// ExtraArgs are inserted before the generated arguments
	ExtraArgs []string
	// BuildArgs overrides DefaultArgs
	BuildArgs ArgsBuilder
	// PassEnv lists orchestrator environment variables forwarded to the child
	PassEnv []string
	// KillGrace is the wait between SIGTERM and SIGKILL
	KillGrace time.Duration
	// OnSpawnFailure decides what happens to a workspace when spawn fails
	// after it was prepared
	OnSpawnFailure config.SpawnFailurePolicy
}

// Deps are the collaborators a Manager drives
type Deps struct {
	Workspaces  Workspaces
	Credentials Credentials
	Git         GitConfigurator
	Registry    *Registry
	Sink        events.Sink
	Telemetry   *telemetry.Telemetry
}

// Manager owns the lifecycle of every session it spawns
type Manager struct {
	workspaces  Workspaces
	credentials Credentials
	git         GitConfigurator
	registry    *Registry
	sink        events.Sink
	tel         *telemetry.Telemetry
	opts        Options
	logger      *slog.Logger
	newID       func() string

	// mu orders the closed flag against spawns entering
	mu          sync.Mutex
	closed      atomic.Bool
	spawning    sync.WaitGroup
	supervisors sync.WaitGroup
}

// NewManager wires a manager. Registry, Sink and Telemetry default to a
// fresh registry, a discarding sink and the global otel providers.
func NewManager(deps Deps, opts Options, logger *slog.Logger) (*Manager, error) {
	if deps.Workspaces == nil || deps.Credentials == nil || deps.Git == nil {
		return nil, errors.New("session manager requires workspaces, credentials and git")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Sink == nil {
		deps.Sink = events.Discard
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.New()
	}
	if opts.Command == "" {
		opts.Command = config.Default().CLI.Command
	}
	if opts.BuildArgs == nil {
		opts.BuildArgs = DefaultArgs
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = config.DefaultKillGrace
	}
	if opts.OnSpawnFailure == "" {
		opts.OnSpawnFailure = config.SpawnFailureRetain
	}
	return &Manager{
		workspaces:  deps.Workspaces,
		credentials: deps.Credentials,
		git:         deps.Git,
		registry:    deps.Registry,
		sink:        deps.Sink,
		tel:         deps.Telemetry,
		opts:        opts,
		logger:      logger,
		newID:       uuid.NewString,
	}, nil
}

// Spawn validates the request, prepares the workspace, bridges the
// credential, sets up git and starts the CLI. Every failure before the
// process exists is returned synchronously; nothing is registered and no
// event is emitted in that case.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (_ SpawnResult, err error) {
	ctx, span := m.tel.Start(ctx, telemetry.SpanSpawn,
		attribute.String("workspace_id", req.WorkspaceID),
		attribute.String("project_id", req.ProjectID),
		attribute.String("agent_type", req.AgentType),
		attribute.String("provider", string(req.Provider)),
	)
	defer func() {
		telemetry.End(span, err)
		if err != nil {
			m.logger.Warn("spawn rejected",
				"request", req,
				"kind", orcherr.KindOf(err).String(),
				"error", err,
			)
		}
	}()

	if !m.admit() {
		return SpawnResult{}, errShuttingDown()
	}
	defer m.spawning.Done()

	if err := ValidateRequest(req, m.supportsProvider).Err(orcherr.Op("session.Spawn")); err != nil {
		return SpawnResult{}, err
	}
	if req.OutputFormat == "" {
		req.OutputFormat = OutputStream
	}

	handle, err := m.prepareWorkspace(ctx, req)
	if err != nil {
		return SpawnResult{}, err
	}

	key, err := m.fetchCredential(ctx, req)
	if err != nil {
		m.abandon(handle)
		return SpawnResult{}, err
	}
	defer key.Close()

	if err := m.setupGit(ctx, req, handle); err != nil {
		m.abandon(handle)
		return SpawnResult{}, err
	}

	cfg := SessionConfig{
		APIKey:       key,
		ProjectPath:  handle.Root,
		Task:         req.Task,
		MaxTokens:    req.MaxTokens,
		Timeout:      req.Timeout,
		OutputFormat: req.OutputFormat,
		Model:        req.Model,
	}
	if err := Validate(cfg).Err(orcherr.Op("session.Spawn")); err != nil {
		m.abandon(handle)
		return SpawnResult{}, err
	}

	t, err := m.startProcess(ctx, req, cfg, handle)
	if err != nil {
		m.abandon(handle)
		return SpawnResult{}, err
	}

	if err := m.launch(t); err != nil {
		return SpawnResult{}, err
	}
	return SpawnResult{SessionID: t.id, PID: t.pid}, nil
}

// admit registers an in-flight spawn unless shutdown has begun. Shutdown
// waits for every admitted spawn before collecting live sessions.
func (m *Manager) admit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return false
	}
	m.spawning.Add(1)
	return true
}

func errShuttingDown() error {
	return orcherr.E(orcherr.Op("session.Spawn"), orcherr.KindProcessSpawnFailed, "orchestrator is shutting down")
}

// supportsProvider asks the credential bridge, so a custom provider set is
// honoured at validation time.
func (m *Manager) supportsProvider(p credential.Provider) bool {
	_, err := m.credentials.EnvVar(p)
	return err == nil
}

func (m *Manager) prepareWorkspace(ctx context.Context, req SpawnRequest) (workspace.Handle, error) {
	_, span := m.tel.Start(ctx, telemetry.SpanWorkspacePrepare)
	handle, err := m.workspaces.Prepare(req.WorkspaceID, req.ProjectID)
	telemetry.End(span, err)
	return handle, err
}

func (m *Manager) fetchCredential(ctx context.Context, req SpawnRequest) (*secret.Buffer, error) {
	ctx, span := m.tel.Start(ctx, telemetry.SpanCredentialFetch)
	key, err := m.credentials.FetchKey(ctx, req.WorkspaceID, req.Provider)
	if err == nil && req.VerifyCredential && !m.credentials.Verify(ctx, req.Provider, key) {
		key.Close()
		key, err = nil, orcherr.CredentialsInvalid(req.WorkspaceID, string(req.Provider))
	}
	telemetry.End(span, err)
	return key, err
}

func (m *Manager) setupGit(ctx context.Context, req SpawnRequest, handle workspace.Handle) error {
	ctx, span := m.tel.Start(ctx, telemetry.SpanGitSetup, attribute.Bool("clone", req.RepoURL != ""))
	var err error
	defer func() { telemetry.End(span, err) }()

	var token *secret.Buffer
	if req.GitToken != "" {
		if token, err = secret.NewFromString(req.GitToken); err != nil {
			err = orcherr.GitSetupFailed("protecting git token", err)
			return err
		}
		defer token.Close()
	}
	err = m.git.Setup(ctx, handle.Root, req.RepoURL, token, req.AgentID)
	return err
}

func (m *Manager) startProcess(ctx context.Context, req SpawnRequest, cfg SessionConfig, handle workspace.Handle) (*tracked, error) {
	_, span := m.tel.Start(ctx, telemetry.SpanProcessStart, attribute.String("command", m.opts.Command))
	var err error
	defer func() { telemetry.End(span, err) }()

	envVar, err := m.credentials.EnvVar(req.Provider)
	if err != nil {
		err = orcherr.ProcessSpawnFailed(m.opts.Command, err)
		return nil, err
	}

	args := append(append([]string(nil), m.opts.ExtraArgs...), m.opts.BuildArgs(cfg)...)
	cmd := newCommand(processSpec{
		command:   m.opts.Command,
		args:      args,
		dir:       handle.Root,
		env:       childEnv(m.opts.PassEnv, envVar, cfg),
		killGrace: m.opts.KillGrace,
		req:       req,
	})
	if err = cmd.Start(); err != nil {
		err = orcherr.ProcessSpawnFailed(m.opts.Command, err)
		return nil, err
	}
	// The child holds its own copy of the environment
	cmd.Env = nil

	return newTracked(m.newID(), cmd, handle, req, time.Now()), nil
}

// abandon applies the pre-spawn failure policy and always releases the lease
func (m *Manager) abandon(handle workspace.Handle) {
	defer m.workspaces.Release(handle)

	switch m.opts.OnSpawnFailure {
	case config.SpawnFailurePurge:
		m.workspaces.Cleanup(handle.Root)
	case config.SpawnFailureRemove:
		if err := m.workspaces.Remove(handle.Root); err != nil {
			m.logger.Warn("failed to remove abandoned workspace", "root", handle.Root, "error", err)
		}
	default:
		m.logger.Info("workspace retained after failed spawn", "root", handle.Root)
	}
}

// GetSessionStatus returns a snapshot of a live session, or nil once the
// session has reached a terminal state and been evicted.
func (m *Manager) GetSessionStatus(sessionID string) *Session {
	t, ok := m.registry.Get(sessionID)
	if !ok {
		return nil
	}
	s := t.snapshot()
	return &s
}

// List returns snapshots of every live session in spawn order
func (m *Manager) List() []Session {
	live := m.registry.List()
	out := make([]Session, len(live))
	for i, t := range live {
		out[i] = t.snapshot()
	}
	return out
}

// Terminate stops a session and waits, bounded by ctx, for its terminal
// transition. Unknown and already terminal sessions are a no-op.
func (m *Manager) Terminate(ctx context.Context, sessionID string) error {
	t, ok := m.registry.Get(sessionID)
	if !ok {
		return nil
	}
	m.stop(t, ReasonExplicit)

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for session %s to terminate: %w", sessionID, ctx.Err())
	}
}

// Wait blocks until the session reaches a terminal state and returns its
// final snapshot.
func (m *Manager) Wait(ctx context.Context, sessionID string) (Session, error) {
	t, ok := m.registry.Get(sessionID)
	if !ok {
		return Session{}, orcherr.NotFound(sessionID)
	}
	select {
	case <-t.done:
		return t.snapshot(), nil
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

// Accepting reports whether Spawn still accepts work
func (m *Manager) Accepting() bool {
	return !m.closed.Load()
}

// Shutdown stops accepting spawns, waits for spawns already past admission,
// terminates every live session and waits for their supervisors, all
// bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed.Store(true)
	m.mu.Unlock()

	if err := waitGroup(ctx, &m.spawning); err != nil {
		return fmt.Errorf("shutdown: waiting for in-flight spawns: %w", err)
	}

	live := m.registry.List()
	m.logger.Info("shutting down session manager", "live_sessions", len(live))
	for _, t := range live {
		m.stop(t, ReasonShutdown)
	}

	if err := waitGroup(ctx, &m.supervisors); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) emit(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	if err := m.sink.Emit(ctx, e); err != nil {
		m.logger.Warn("event delivery failed",
			"event", string(e.Type),
			"session_id", e.SessionID,
			"error", err,
		)
	}
}
