package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/codegen-orchestrator/internal/config"
	"github.com/AltairaLabs/codegen-orchestrator/internal/credential"
	"github.com/AltairaLabs/codegen-orchestrator/internal/events"
	"github.com/AltairaLabs/codegen-orchestrator/internal/secret"
	vaultmem "github.com/AltairaLabs/codegen-orchestrator/internal/vault/memory"
	"github.com/AltairaLabs/codegen-orchestrator/internal/workspace"
)

const testAPIKey = "sk-ant-REDACTED"

// syncBuffer is a goroutine-safe log destination
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// recorder keeps every emitted event
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recorder) of(sessionID string, types ...events.Type) []events.Event {
	var out []events.Event
	for _, e := range r.all() {
		if e.SessionID != sessionID {
			continue
		}
		for _, typ := range types {
			if e.Type == typ {
				out = append(out, e)
			}
		}
	}
	return out
}

// terminal waits for the session's single terminal event
func (r *recorder) terminal(t *testing.T, sessionID string) events.Event {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.of(sessionID, events.SessionTerminated, events.SessionFailed)) > 0
	}, 10*time.Second, 10*time.Millisecond, "no terminal event for %s", sessionID)
	return r.of(sessionID, events.SessionTerminated, events.SessionFailed)[0]
}

type gitCall struct {
	root     string
	repoURL  string
	hasToken bool
	agentID  string
}

// fakeGit records setup calls and can plant files or fail. When gate is set,
// Setup signals entered and blocks until gate is closed.
type fakeGit struct {
	mu      sync.Mutex
	calls   []gitCall
	plant   map[string]string
	err     error
	entered chan struct{}
	gate    chan struct{}
}

func (g *fakeGit) Setup(_ context.Context, root, repoURL string, token *secret.Buffer, agentID string) error {
	if g.gate != nil {
		g.entered <- struct{}{}
		<-g.gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gitCall{root: root, repoURL: repoURL, hasToken: token != nil, agentID: agentID})
	for name, contents := range g.plant {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
			return err
		}
	}
	return g.err
}

type rejectingVerifier struct{}

func (rejectingVerifier) Check(context.Context) error { return errors.New("401 unauthorized") }

type harness struct {
	base    string
	ws      *workspace.Manager
	vault   *vaultmem.Vault
	git     *fakeGit
	rec     *recorder
	logs    *syncBuffer
	mgr     *Manager
	scripts map[string]string
}

type harnessOption func(*Options, *credential.Options)

// newHarness builds a manager whose CLI is /bin/sh running the script
// registered for the request's task.
func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	h := &harness{
		base:    t.TempDir(),
		vault:   vaultmem.New(),
		git:     &fakeGit{},
		rec:     &recorder{},
		logs:    &syncBuffer{},
		scripts: map[string]string{},
	}
	logger := slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ws, err := workspace.NewManager(h.base, config.DefaultSensitivePatterns(), logger)
	require.NoError(t, err)
	h.ws = ws
	h.vault.Put("ws-1", credential.ProviderAnthropic, testAPIKey)

	mopts := Options{
		Command: "/bin/sh",
		BuildArgs: func(cfg SessionConfig) []string {
			script, ok := h.scripts[cfg.Task]
			if !ok {
				script = "exit 0"
			}
			return []string{"-c", script}
		},
		PassEnv:   []string{"PATH"},
		KillGrace: 500 * time.Millisecond,
	}
	copts := credential.Options{VerifyInterval: time.Millisecond}
	for _, o := range opts {
		o(&mopts, &copts)
	}

	mgr, err := NewManager(Deps{
		Workspaces:  ws,
		Credentials: credential.NewBridge(h.vault, copts, logger),
		Git:         h.git,
		Sink:        events.MultiSink{h.rec, events.LogSink{Logger: logger}},
	}, mopts, logger)
	require.NoError(t, err)
	h.mgr = mgr

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	return h
}

func (h *harness) request(workspaceID, projectID, task string) SpawnRequest {
	return SpawnRequest{
		WorkspaceID:  workspaceID,
		ProjectID:    projectID,
		AgentID:      "agent-1",
		AgentType:    "coder",
		Provider:     credential.ProviderAnthropic,
		Task:         task,
		MaxTokens:    4096,
		Timeout:      5 * time.Second,
		OutputFormat: OutputStream,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
