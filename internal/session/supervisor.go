package session

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/AltairaLabs/codegen-orchestrator/internal/events"
	"github.com/AltairaLabs/codegen-orchestrator/internal/orcherr"
	"github.com/AltairaLabs/codegen-orchestrator/internal/workspace"
)

// tracked is a live session together with its process. Its supervisor
// goroutine is the only writer of the terminal transition.
type tracked struct {
	id      string
	pid     int
	cmd     *exec.Cmd
	handle  workspace.Handle
	maxTime time.Duration

	mu        sync.Mutex
	session   Session
	stopping  bool
	reason    TerminationReason
	exited    bool
	timeout   *time.Timer
	killTimer *time.Timer

	done chan struct{}
}

func newTracked(id string, cmd *exec.Cmd, handle workspace.Handle, req SpawnRequest, now time.Time) *tracked {
	return &tracked{
		id:      id,
		pid:     cmd.Process.Pid,
		cmd:     cmd,
		handle:  handle,
		maxTime: req.Timeout,
		session: Session{
			ID:              id,
			PID:             cmd.Process.Pid,
			Status:          StatusRunning,
			WorkspaceID:     req.WorkspaceID,
			ProjectID:       req.ProjectID,
			AgentID:         req.AgentID,
			AgentType:       req.AgentType,
			Provider:        req.Provider,
			Model:           req.Model,
			WorkspaceRoot:   handle.Root,
			StartedAt:       now,
			PipelineContext: req.PipelineContext.Clone(),
		},
		done: make(chan struct{}),
	}
}

func (t *tracked) snapshot() Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.clone()
}

// launch registers a started process, announces it and hands it to its
// supervisor. The session timeout starts only once the session is
// registered as RUNNING. A process that cannot be registered is killed and
// its workspace abandoned; nothing is emitted for it.
func (m *Manager) launch(t *tracked) error {
	if m.closed.Load() {
		m.logger.Info("shutdown began during spawn, killing process", "pid", t.pid)
		m.discard(t)
		return errShuttingDown()
	}
	if err := m.registry.Insert(t.id, t); err != nil {
		m.logger.Error("failed to register session, killing process", "session_id", t.id, "error", err)
		m.discard(t)
		return orcherr.ProcessSpawnFailed(m.opts.Command, err)
	}

	s := t.snapshot()
	m.logger.Info("session started",
		"session_id", s.ID,
		"pid", s.PID,
		"workspace_id", s.WorkspaceID,
		"project_id", s.ProjectID,
		"agent_id", s.AgentID,
		"agent_type", s.AgentType,
		"root", s.WorkspaceRoot,
		"pipeline", s.PipelineContext,
	)
	m.emit(m.event(events.SessionStarted, s, ""))
	m.tel.SessionStarted(context.Background(), string(s.Provider), s.AgentType)

	t.mu.Lock()
	t.timeout = time.AfterFunc(t.maxTime, func() {
		m.logger.Warn("session timed out", "session_id", t.id, "timeout", t.maxTime)
		m.stop(t, ReasonTimeout)
	})
	t.mu.Unlock()

	m.supervisors.Add(1)
	go m.supervise(t)
	return nil
}

// discard kills and reaps a process that never became a session
func (m *Manager) discard(t *tracked) {
	if err := killGroup(t.pid); err != nil {
		m.logger.Warn("SIGKILL failed", "pid", t.pid, "error", err)
	}
	_ = t.cmd.Wait()
	m.abandon(t.handle)
}

// stop requests termination. Explicit termination, timeout and shutdown all
// come through here; only the first request signals the process.
func (m *Manager) stop(t *tracked, reason TerminationReason) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopping || t.exited {
		return
	}
	t.stopping = true
	t.reason = reason

	m.logger.Info("terminating session", "session_id", t.id, "pid", t.pid, "reason", string(reason))
	if err := terminateGroup(t.pid); err != nil {
		m.logger.Warn("SIGTERM failed", "session_id", t.id, "pid", t.pid, "error", err)
	}
	t.killTimer = time.AfterFunc(m.opts.KillGrace, func() {
		t.mu.Lock()
		exited := t.exited
		t.mu.Unlock()
		if exited {
			return
		}
		m.logger.Warn("session ignored SIGTERM, killing", "session_id", t.id, "pid", t.pid)
		if err := killGroup(t.pid); err != nil {
			m.logger.Warn("SIGKILL failed", "session_id", t.id, "pid", t.pid, "error", err)
		}
	})
}

// supervise blocks until the process exits, then performs the terminal
// transition exactly once: classify, clean the workspace, release the lease,
// evict from the registry and emit the terminal event.
func (m *Manager) supervise(t *tracked) {
	defer m.supervisors.Done()
	defer close(t.done)

	waitErr := t.cmd.Wait()
	code, summary := exitSummary(t.cmd.ProcessState, waitErr)
	ended := time.Now()

	// Anything the CLI left running in the background must not outlive the
	// workspace cleanup below.
	if err := killGroup(t.pid); err != nil {
		m.logger.Warn("failed to kill leftover process group", "session_id", t.id, "pid", t.pid, "error", err)
	}

	t.mu.Lock()
	t.exited = true
	if t.timeout != nil {
		t.timeout.Stop()
	}
	if t.killTimer != nil {
		t.killTimer.Stop()
	}

	s := &t.session
	s.EndedAt = &ended
	if code >= 0 {
		c := code
		s.ExitCode = &c
	}
	switch {
	case t.stopping:
		s.Status = StatusTerminated
		s.TerminationReason = t.reason
		summary = ""
	case code == 0:
		s.Status = StatusCompleted
		s.TerminationReason = ReasonExit
	default:
		s.Status = StatusFailed
		s.TerminationReason = ReasonExit
	}
	final := s.clone()
	t.mu.Unlock()

	m.finalize(t, final, summary)
}

func (m *Manager) finalize(t *tracked, final Session, summary string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session finalization panicked", "session_id", final.ID, "panic", r)
		}
	}()

	m.cleanupWorkspace(t)
	m.registry.Remove(t.id)

	eventType := events.SessionTerminated
	if final.Status == StatusFailed {
		eventType = events.SessionFailed
	}
	m.emit(m.event(eventType, final, summary))

	duration := final.EndedAt.Sub(final.StartedAt)
	m.tel.SessionTerminal(context.Background(), string(final.Status), string(final.TerminationReason), duration)

	attrs := []any{
		"session_id", final.ID,
		"status", string(final.Status),
		"reason", string(final.TerminationReason),
		"duration", duration,
	}
	if final.ExitCode != nil {
		attrs = append(attrs, "exit_code", *final.ExitCode)
	}
	if summary != "" {
		attrs = append(attrs, "error", summary)
	}
	m.logger.Info("session ended", attrs...)
}

// cleanupWorkspace is best effort; it never masks the terminal status
func (m *Manager) cleanupWorkspace(t *tracked) {
	defer m.workspaces.Release(t.handle)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("workspace cleanup panicked", "session_id", t.id, "panic", r)
		}
	}()

	report := m.workspaces.Cleanup(t.handle.Root)
	if len(report.Errors) > 0 {
		m.logger.Warn("workspace cleanup incomplete",
			"session_id", t.id,
			"removed", len(report.Removed),
			"errors", len(report.Errors),
		)
	}
}

func (m *Manager) event(typ events.Type, s Session, summary string) events.Event {
	e := events.Event{
		Type:            typ,
		SessionID:       s.ID,
		WorkspaceID:     s.WorkspaceID,
		ProjectID:       s.ProjectID,
		AgentID:         s.AgentID,
		AgentType:       s.AgentType,
		Status:          string(s.Status),
		ExitCode:        s.ExitCode,
		Error:           summary,
		PipelineContext: s.PipelineContext.Clone(),
		Timestamp:       time.Now().UTC(),
	}
	if s.Status.Terminal() {
		e.Reason = string(s.TerminationReason)
	}
	if s.PipelineContext != nil {
		e.RetryCount = s.PipelineContext.RetryCount
		e.MaxRetries = s.PipelineContext.MaxRetries
	}
	return e
}
