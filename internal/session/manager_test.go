package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/codegen-orchestrator/internal/config"
	"github.com/AltairaLabs/codegen-orchestrator/internal/credential"
	"github.com/AltairaLabs/codegen-orchestrator/internal/events"
	"github.com/AltairaLabs/codegen-orchestrator/internal/orcherr"
	"github.com/AltairaLabs/codegen-orchestrator/internal/pipeline"
)

func TestSpawn_CompletesAndIsEvicted(t *testing.T) {
	h := newHarness(t)
	h.git.plant = map[string]string{".env": "DB_PASSWORD=hunter2", "src/main.go": "package main"}
	h.scripts["implement login"] = fmt.Sprintf(
		`test ${#ANTHROPIC_API_KEY} -eq %d && test -z "${OPENAI_API_KEY+x}" && test "$CLAUDE_CODE_MAX_OUTPUT_TOKENS" = 4096 && touch done.marker`,
		len(testAPIKey))

	req := h.request("ws-1", "p-1", "implement login")
	req.Timeout = 5000 * time.Millisecond
	res, err := h.mgr.Spawn(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.Greater(t, res.PID, 0)

	started := h.rec.of(res.SessionID, events.SessionStarted)
	require.Len(t, started, 1)
	assert.Equal(t, "ws-1", started[0].WorkspaceID)
	assert.Equal(t, "p-1", started[0].ProjectID)
	assert.Equal(t, "agent-1", started[0].AgentID)
	assert.Equal(t, "coder", started[0].AgentType)

	final := h.rec.terminal(t, res.SessionID)
	assert.Equal(t, events.SessionTerminated, final.Type)
	assert.Equal(t, string(StatusCompleted), final.Status)
	assert.Equal(t, string(ReasonExit), final.Reason)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 0, *final.ExitCode)

	assert.Nil(t, h.mgr.GetSessionStatus(res.SessionID))
	assert.Empty(t, h.mgr.List())

	root := filepath.Join(h.base, "ws-1", "p-1")
	assert.True(t, fileExists(filepath.Join(root, "done.marker")), "process ran in the workspace root")
	assert.True(t, fileExists(filepath.Join(root, "src", "main.go")))
	assert.False(t, fileExists(filepath.Join(root, ".env")), "sensitive file purged")
	assert.False(t, h.ws.InUse("ws-1", "p-1"), "lease released")

	require.Len(t, h.git.calls, 1)
	assert.Equal(t, root, h.git.calls[0].root)
	assert.Equal(t, "agent-1", h.git.calls[0].agentID)
}

func TestSpawn_StatusWhileRunning(t *testing.T) {
	h := newHarness(t)
	h.scripts["wait"] = "exec sleep 60"

	req := h.request("ws-1", "p-1", "wait")
	req.Model = "claude-sonnet-4-5"
	req.PipelineContext = &pipeline.Context{WorkflowID: "wf-1", CurrentState: "implementing", RetryCount: 2, MaxRetries: 5}
	res, err := h.mgr.Spawn(context.Background(), req)
	require.NoError(t, err)

	s := h.mgr.GetSessionStatus(res.SessionID)
	require.NotNil(t, s)
	assert.Equal(t, StatusRunning, s.Status)
	assert.Equal(t, res.PID, s.PID)
	assert.Equal(t, credential.ProviderAnthropic, s.Provider)
	assert.Equal(t, "claude-sonnet-4-5", s.Model)
	assert.Nil(t, s.EndedAt)
	assert.Equal(t, "wf-1", s.PipelineContext.WorkflowID)

	// Snapshots are copies
	s.PipelineContext.WorkflowID = "changed"
	assert.Equal(t, "wf-1", h.mgr.GetSessionStatus(res.SessionID).PipelineContext.WorkflowID)

	list := h.mgr.List()
	require.Len(t, list, 1)
	assert.Equal(t, res.SessionID, list[0].ID)

	started := h.rec.of(res.SessionID, events.SessionStarted)
	require.Len(t, started, 1)
	assert.Equal(t, 2, started[0].RetryCount)
	assert.Equal(t, 5, started[0].MaxRetries)
	assert.Equal(t, "implementing", started[0].PipelineContext.CurrentState)

	require.NoError(t, h.mgr.Terminate(context.Background(), res.SessionID))
}

func TestSpawn_NonZeroExitFails(t *testing.T) {
	h := newHarness(t)
	h.scripts["break"] = "echo boom >&2; exit 3"

	var stderr bytes.Buffer
	req := h.request("ws-1", "p-1", "break")
	req.Stderr = &stderr
	res, err := h.mgr.Spawn(context.Background(), req)
	require.NoError(t, err)

	final := h.rec.terminal(t, res.SessionID)
	assert.Equal(t, events.SessionFailed, final.Type)
	assert.Equal(t, string(StatusFailed), final.Status)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 3, *final.ExitCode)
	assert.Contains(t, final.Error, "code 3")
	assert.Equal(t, "boom\n", stderr.String())
	assert.Nil(t, h.mgr.GetSessionStatus(res.SessionID))
}

func TestSpawn_CapturesStdout(t *testing.T) {
	h := newHarness(t)
	h.scripts["hello"] = "echo hello from $(basename $(pwd))"

	var stdout bytes.Buffer
	req := h.request("ws-1", "p-out", "hello")
	req.Stdout = &stdout
	res, err := h.mgr.Spawn(context.Background(), req)
	require.NoError(t, err)

	h.rec.terminal(t, res.SessionID)
	assert.Equal(t, "hello from p-out\n", stdout.String())
}

func TestSpawn_TimeoutTerminates(t *testing.T) {
	h := newHarness(t)
	h.git.plant = map[string]string{
		".env":                    "SECRET=1",
		"config/credentials.json": "{}",
		"keys/deploy.pem":         "-----BEGIN-----",
		"README.md":               "# app",
	}
	h.scripts["hang"] = "exec sleep 60"

	req := h.request("ws-1", "p-1", "hang")
	req.Timeout = 100 * time.Millisecond
	start := time.Now()
	res, err := h.mgr.Spawn(context.Background(), req)
	require.NoError(t, err)

	final := h.rec.terminal(t, res.SessionID)
	elapsed := time.Since(start)

	assert.Equal(t, events.SessionTerminated, final.Type)
	assert.Equal(t, string(StatusTerminated), final.Status)
	assert.Equal(t, string(ReasonTimeout), final.Reason)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)

	root := filepath.Join(h.base, "ws-1", "p-1")
	assert.False(t, fileExists(filepath.Join(root, ".env")))
	assert.False(t, fileExists(filepath.Join(root, "config", "credentials.json")))
	assert.False(t, fileExists(filepath.Join(root, "keys", "deploy.pem")))
	assert.True(t, fileExists(filepath.Join(root, "README.md")))

	// Give a late duplicate a chance to show up
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, h.rec.of(res.SessionID, events.SessionTerminated), 1)
	assert.Empty(t, h.rec.of(res.SessionID, events.SessionFailed))
	assert.Nil(t, h.mgr.GetSessionStatus(res.SessionID))
}

func TestTerminate_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.scripts["hang"] = "exec sleep 60"

	res, err := h.mgr.Spawn(context.Background(), h.request("ws-1", "p-1", "hang"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.mgr.Terminate(context.Background(), res.SessionID)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}

	assert.NoError(t, h.mgr.Terminate(context.Background(), res.SessionID))
	assert.NoError(t, h.mgr.Terminate(context.Background(), "no-such-session"))

	terminal := h.rec.of(res.SessionID, events.SessionTerminated, events.SessionFailed)
	require.Len(t, terminal, 1)
	assert.Equal(t, string(StatusTerminated), terminal[0].Status)
	assert.Equal(t, string(ReasonExplicit), terminal[0].Reason)
}

func TestTerminate_KillsAfterGrace(t *testing.T) {
	h := newHarness(t, func(o *Options, _ *credential.Options) {
		o.KillGrace = 200 * time.Millisecond
	})
	h.scripts["stubborn"] = "trap '' TERM; while :; do sleep 0.05; done"

	res, err := h.mgr.Spawn(context.Background(), h.request("ws-1", "p-1", "stubborn"))
	require.NoError(t, err)
	// Let the shell install its trap
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.mgr.Terminate(ctx, res.SessionID))

	final := h.rec.terminal(t, res.SessionID)
	assert.Equal(t, string(StatusTerminated), final.Status)
	assert.Nil(t, final.ExitCode, "killed by signal")
}

func TestSpawn_MissingCredential(t *testing.T) {
	h := newHarness(t)
	h.scripts["implement login"] = "touch spawned.marker"

	_, err := h.mgr.Spawn(context.Background(), h.request("ws-2", "p-1", "implement login"))
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.KindCredentialsMissing), "got %v", err)
	assert.Equal(t, 403, orcherr.HTTPStatus(orcherr.KindOf(err)))

	assert.Empty(t, h.rec.all(), "no event for a rejected spawn")
	assert.Empty(t, h.mgr.List())
	assert.Empty(t, h.git.calls, "git never runs without a credential")

	root := filepath.Join(h.base, "ws-2", "p-1")
	assert.True(t, fileExists(root), "workspace retained for inspection")
	assert.False(t, fileExists(filepath.Join(root, "spawned.marker")), "no process was created")
	assert.False(t, h.ws.InUse("ws-2", "p-1"), "lease released")

	// A retry sees the same failure, not a conflict
	_, err = h.mgr.Spawn(context.Background(), h.request("ws-2", "p-1", "implement login"))
	assert.True(t, orcherr.Is(err, orcherr.KindCredentialsMissing))
}

func TestSpawn_InvalidCredential(t *testing.T) {
	h := newHarness(t, func(_ *Options, c *credential.Options) {
		c.Providers = map[credential.Provider]credential.ProviderSpec{
			credential.ProviderAnthropic: {
				EnvVar:      "ANTHROPIC_API_KEY",
				NewVerifier: func(string, string) credential.Verifier { return rejectingVerifier{} },
			},
		}
	})

	req := h.request("ws-1", "p-1", "noop")
	req.VerifyCredential = true
	_, err := h.mgr.Spawn(context.Background(), req)
	assert.True(t, orcherr.Is(err, orcherr.KindCredentialsInvalid), "got %v", err)
	assert.Empty(t, h.rec.all())
	assert.False(t, h.ws.InUse("ws-1", "p-1"))
}

func TestSpawn_ConfigInvalidAccumulates(t *testing.T) {
	h := newHarness(t)

	req := h.request("ws-1", "p-1", "")
	req.MaxTokens = 0
	req.Timeout = 0
	_, err := h.mgr.Spawn(context.Background(), req)

	require.True(t, orcherr.Is(err, orcherr.KindConfigInvalid), "got %v", err)
	details := orcherr.DetailsOf(err)
	assert.Len(t, details, 3)

	entries, readErr := os.ReadDir(h.base)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "nothing created on disk")
}

func TestSpawn_TraversalRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.mgr.Spawn(context.Background(), h.request("ws-1", "../../etc", "noop"))
	assert.True(t, orcherr.Is(err, orcherr.KindWorkspacePreparationFailed), "got %v", err)

	entries, readErr := os.ReadDir(h.base)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
	assert.Empty(t, h.git.calls)
}

func TestSpawn_GitFailure(t *testing.T) {
	h := newHarness(t)
	h.git.err = orcherr.GitSetupFailed("clone failed", errors.New("exit status 128"))

	req := h.request("ws-1", "p-1", "noop")
	req.RepoURL = "https://example.com/acme/app.git"
	req.GitToken = "ghp_token"
	_, err := h.mgr.Spawn(context.Background(), req)

	assert.True(t, orcherr.Is(err, orcherr.KindGitSetupFailed), "got %v", err)
	assert.Empty(t, h.rec.all())
	require.Len(t, h.git.calls, 1)
	assert.True(t, h.git.calls[0].hasToken)
	assert.Equal(t, "https://example.com/acme/app.git", h.git.calls[0].repoURL)
	assert.False(t, h.ws.InUse("ws-1", "p-1"))
}

func TestSpawn_FailurePolicies(t *testing.T) {
	tests := []struct {
		policy      config.SpawnFailurePolicy
		rootExists  bool
		envSurvives bool
	}{
		{config.SpawnFailureRetain, true, true},
		{config.SpawnFailurePurge, true, false},
		{config.SpawnFailureRemove, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			h := newHarness(t, func(o *Options, _ *credential.Options) {
				o.OnSpawnFailure = tt.policy
			})
			h.git.plant = map[string]string{".env": "A=1"}
			h.git.err = orcherr.GitSetupFailed("clone failed", errors.New("exit status 128"))

			_, err := h.mgr.Spawn(context.Background(), h.request("ws-1", "p-1", "noop"))
			require.Error(t, err)

			root := filepath.Join(h.base, "ws-1", "p-1")
			assert.Equal(t, tt.rootExists, fileExists(root))
			assert.Equal(t, tt.envSurvives, fileExists(filepath.Join(root, ".env")))
			assert.False(t, h.ws.InUse("ws-1", "p-1"))
		})
	}
}

func TestSpawn_ProcessStartFailure(t *testing.T) {
	h := newHarness(t, func(o *Options, _ *credential.Options) {
		o.Command = filepath.Join(t.TempDir(), "missing-cli")
	})

	_, err := h.mgr.Spawn(context.Background(), h.request("ws-1", "p-1", "noop"))
	assert.True(t, orcherr.Is(err, orcherr.KindProcessSpawnFailed), "got %v", err)
	assert.Empty(t, h.rec.all())
	assert.Empty(t, h.mgr.List())
	assert.False(t, h.ws.InUse("ws-1", "p-1"))
}

func TestSpawn_SamePairRejected(t *testing.T) {
	h := newHarness(t)
	h.scripts["hang"] = "exec sleep 60"

	first, err := h.mgr.Spawn(context.Background(), h.request("ws-1", "p-1", "hang"))
	require.NoError(t, err)

	_, err = h.mgr.Spawn(context.Background(), h.request("ws-1", "p-1", "hang"))
	assert.True(t, orcherr.Is(err, orcherr.KindWorkspaceInUse), "got %v", err)
	assert.Equal(t, 409, orcherr.HTTPStatus(orcherr.KindOf(err)))
	assert.NotNil(t, h.mgr.GetSessionStatus(first.SessionID), "first session unaffected")

	require.NoError(t, h.mgr.Terminate(context.Background(), first.SessionID))

	second, err := h.mgr.Spawn(context.Background(), h.request("ws-1", "p-1", "hang"))
	require.NoError(t, err)
	require.NoError(t, h.mgr.Terminate(context.Background(), second.SessionID))
}

func TestSpawn_ConcurrentSessionsAreIsolated(t *testing.T) {
	h := newHarness(t)
	h.scripts["hang"] = "exec sleep 60"
	for _, ws := range []string{"ws-a", "ws-b"} {
		h.vault.Put(ws, credential.ProviderAnthropic, testAPIKey)
	}

	pairs := [][2]string{{"ws-a", "p-1"}, {"ws-a", "p-2"}, {"ws-b", "p-1"}, {"ws-b", "p-2"}}
	ids := make([]string, len(pairs))
	errs := make([]error, len(pairs))
	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		go func(i int, ws, proj string) {
			defer wg.Done()
			res, err := h.mgr.Spawn(context.Background(), h.request(ws, proj, "hang"))
			ids[i], errs[i] = res.SessionID, err
		}(i, p[0], p[1])
	}
	wg.Wait()

	roots := make([]string, len(pairs))
	for i := range pairs {
		require.NoError(t, errs[i])
		s := h.mgr.GetSessionStatus(ids[i])
		require.NotNil(t, s)
		roots[i] = s.WorkspaceRoot
	}
	for i := range roots {
		for j := i + 1; j < len(roots); j++ {
			a, b := roots[i]+string(filepath.Separator), roots[j]+string(filepath.Separator)
			assert.False(t, strings.HasPrefix(a, b) || strings.HasPrefix(b, a), "%s and %s intersect", roots[i], roots[j])
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.mgr.Shutdown(ctx))

	for _, id := range ids {
		final := h.rec.of(id, events.SessionTerminated)
		require.Len(t, final, 1)
		assert.Equal(t, string(ReasonShutdown), final[0].Reason)
	}
	assert.False(t, h.mgr.Accepting())

	_, err := h.mgr.Spawn(context.Background(), h.request("ws-a", "p-3", "hang"))
	assert.True(t, orcherr.Is(err, orcherr.KindProcessSpawnFailed))
}

func TestWait(t *testing.T) {
	h := newHarness(t)
	h.scripts["short"] = "sleep 0.2; exit 0"

	res, err := h.mgr.Spawn(context.Background(), h.request("ws-1", "p-1", "short"))
	require.NoError(t, err)

	final, err := h.mgr.Wait(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	require.NotNil(t, final.EndedAt)
	assert.False(t, final.EndedAt.Before(final.StartedAt))

	_, err = h.mgr.Wait(context.Background(), res.SessionID)
	assert.True(t, orcherr.Is(err, orcherr.KindNotFound))
}

// The credential must never reach logs, events or any file in the workspace
// tree across a full lifecycle, including failure and timeout paths.
func TestCredentialNeverLeaks(t *testing.T) {
	h := newHarness(t)
	h.scripts["ok"] = "echo working > notes.txt"
	h.scripts["fail"] = "exit 1"
	h.scripts["hang"] = "exec sleep 60"

	for _, tc := range []struct {
		project, task string
		timeout       time.Duration
	}{
		{"p-ok", "ok", 5 * time.Second},
		{"p-fail", "fail", 5 * time.Second},
		{"p-hang", "hang", 100 * time.Millisecond},
	} {
		req := h.request("ws-1", tc.project, tc.task)
		req.Timeout = tc.timeout
		req.VerifyCredential = false
		res, err := h.mgr.Spawn(context.Background(), req)
		require.NoError(t, err)
		h.rec.terminal(t, res.SessionID)
	}

	// A rejected spawn logs too
	_, _ = h.mgr.Spawn(context.Background(), h.request("ws-missing", "p-1", "ok"))

	assert.NotContains(t, h.logs.String(), testAPIKey, "credential in logs")

	payload, err := json.Marshal(h.rec.all())
	require.NoError(t, err)
	assert.NotContains(t, string(payload), testAPIKey, "credential in events")
	for _, e := range h.rec.all() {
		assert.NotContains(t, fmt.Sprintf("%+v", e), testAPIKey)
	}

	err = filepath.WalkDir(h.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		assert.NotContains(t, string(data), testAPIKey, "credential written to %s", path)
		return nil
	})
	require.NoError(t, err)
}

func TestShutdown_WaitsForInFlightSpawn(t *testing.T) {
	h := newHarness(t)
	h.scripts["hang"] = "exec sleep 60"
	h.git.entered = make(chan struct{}, 1)
	h.git.gate = make(chan struct{})

	type spawnOutcome struct {
		res SpawnResult
		err error
	}
	spawned := make(chan spawnOutcome, 1)
	go func() {
		res, err := h.mgr.Spawn(context.Background(), h.request("ws-1", "p-1", "hang"))
		spawned <- spawnOutcome{res, err}
	}()
	<-h.git.entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdown := make(chan error, 1)
	go func() { shutdown <- h.mgr.Shutdown(ctx) }()

	require.Eventually(t, func() bool { return !h.mgr.Accepting() }, time.Second, 5*time.Millisecond)
	select {
	case err := <-shutdown:
		t.Fatalf("Shutdown returned %v while a spawn was still in git setup", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(h.git.gate)

	out := <-spawned
	assert.True(t, orcherr.Is(out.err, orcherr.KindProcessSpawnFailed), "got %v", out.err)
	assert.Empty(t, out.res.SessionID)
	require.NoError(t, <-shutdown)

	assert.Empty(t, h.mgr.List())
	for _, e := range h.rec.all() {
		assert.NotEqual(t, events.SessionStarted, e.Type)
	}
	assert.False(t, h.ws.InUse("ws-1", "p-1"))
}

func TestShutdown_InFlightSpawnBoundedByContext(t *testing.T) {
	h := newHarness(t)
	h.git.entered = make(chan struct{}, 1)
	h.git.gate = make(chan struct{})

	spawned := make(chan error, 1)
	go func() {
		_, err := h.mgr.Spawn(context.Background(), h.request("ws-1", "p-1", "noop"))
		spawned <- err
	}()
	<-h.git.entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := h.mgr.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(h.git.gate)
	assert.True(t, orcherr.Is(<-spawned, orcherr.KindProcessSpawnFailed))
}

func TestSpawn_BackgroundChildrenDieWithSession(t *testing.T) {
	h := newHarness(t)
	h.scripts["fork and exit"] = "(sleep 1; echo SECRET=x > .env) >/dev/null 2>&1 & exit 0"

	res, err := h.mgr.Spawn(context.Background(), h.request("ws-1", "p-1", "fork and exit"))
	require.NoError(t, err)

	final := h.rec.terminal(t, res.SessionID)
	assert.Equal(t, string(StatusCompleted), final.Status)

	root := filepath.Join(h.base, "ws-1", "p-1")
	assert.Never(t, func() bool {
		return fileExists(filepath.Join(root, ".env"))
	}, 2*time.Second, 50*time.Millisecond, "background child outlived the session")
}

func TestSpawn_RegistrationFailureKillsProcess(t *testing.T) {
	h := newHarness(t)
	h.scripts["hang"] = "exec sleep 60"
	h.vault.Put("ws-2", credential.ProviderAnthropic, testAPIKey)
	h.mgr.newID = func() string { return "sess-fixed" }

	first, err := h.mgr.Spawn(context.Background(), h.request("ws-1", "p-1", "hang"))
	require.NoError(t, err)

	_, err = h.mgr.Spawn(context.Background(), h.request("ws-2", "p-1", "hang"))
	assert.True(t, orcherr.Is(err, orcherr.KindProcessSpawnFailed), "got %v", err)

	assert.Len(t, h.rec.of(first.SessionID, events.SessionStarted), 1)
	assert.Len(t, h.mgr.List(), 1)
	assert.False(t, h.ws.InUse("ws-2", "p-1"), "lease of the unregistered process released")
	assert.True(t, h.ws.InUse("ws-1", "p-1"))

	s := h.mgr.GetSessionStatus(first.SessionID)
	require.NotNil(t, s)
	assert.Equal(t, "ws-1", s.WorkspaceID)
	assert.Equal(t, first.PID, s.PID)
}

func TestSpawn_CustomProviderSet(t *testing.T) {
	const local credential.Provider = "local"
	h := newHarness(t, func(_ *Options, c *credential.Options) {
		c.Providers = map[credential.Provider]credential.ProviderSpec{
			local: {EnvVar: "LOCAL_LLM_KEY"},
		}
	})
	h.vault.Put("ws-1", local, testAPIKey)
	h.scripts["check env"] = fmt.Sprintf(`test ${#LOCAL_LLM_KEY} -eq %d`, len(testAPIKey))

	req := h.request("ws-1", "p-1", "check env")
	req.Provider = local
	res, err := h.mgr.Spawn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), h.rec.terminal(t, res.SessionID).Status)

	_, err = h.mgr.Spawn(context.Background(), h.request("ws-1", "p-2", "check env"))
	assert.True(t, orcherr.Is(err, orcherr.KindConfigInvalid), "anthropic is not configured: %v", err)
}

func TestSpawn_ExtraArgsPrecedeGeneratedArgs(t *testing.T) {
	h := newHarness(t, func(o *Options, _ *credential.Options) {
		o.ExtraArgs = []string{"-e"}
	})
	h.scripts["stop on error"] = "false; touch after.marker"

	res, err := h.mgr.Spawn(context.Background(), h.request("ws-1", "p-1", "stop on error"))
	require.NoError(t, err)

	final := h.rec.terminal(t, res.SessionID)
	assert.Equal(t, string(StatusFailed), final.Status, "-e reached the shell as an option")
	assert.False(t, fileExists(filepath.Join(h.base, "ws-1", "p-1", "after.marker")))
}
