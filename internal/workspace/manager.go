// Package workspace creates and tears down the isolated working directory used
// by one agent session for one (workspace, project) pair.
//
// The workspace root is also the sandbox boundary for the session's process
// and credentials, so identifier checks here are a security boundary even for
// trusted internal callers.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/AltairaLabs/codegen-orchestrator/internal/orcherr"
)

const defaultWorkspaceDirPerm = 0o700

// Handle maps a (workspace, project) pair to its filesystem root
type Handle struct {
	WorkspaceID string
	ProjectID   string
	Root        string
}

type pairKey struct {
	workspaceID string
	projectID   string
}

// Manager owns workspace roots under a single base path. At most one lease
// exists per (workspace, project) pair; a second Prepare for a held pair is
// rejected with WorkspaceInUse.
type Manager struct {
	mu       sync.Mutex
	basePath string
	patterns []string
	leases   map[pairKey]string
	logger   *slog.Logger
	removeFn func(string) error
	mkdirFn  func(string, os.FileMode) error
}

// NewManager creates a manager rooted at basePath. patterns is the sensitive
// file denylist (base-name globs) applied by Cleanup.
func NewManager(basePath string, patterns []string, logger *slog.Logger) (*Manager, error) {
	if basePath == "" {
		return nil, fmt.Errorf("workspace base path is required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path %s: %w", basePath, err)
	}
	for _, p := range patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid sensitive file pattern %q: %w", p, err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		basePath: filepath.Clean(abs),
		patterns: append([]string(nil), patterns...),
		leases:   make(map[pairKey]string),
		logger:   logger,
		removeFn: os.Remove,
		mkdirFn:  os.MkdirAll,
	}, nil
}

// BasePath returns the absolute base directory
func (m *Manager) BasePath() string {
	return m.basePath
}

// Root resolves the root for a pair without touching the filesystem
func (m *Manager) Root(workspaceID, projectID string) (string, error) {
	var problems []string
	if err := checkIdentifier("workspaceId", workspaceID); err != nil {
		problems = append(problems, err.Error())
	}
	if err := checkIdentifier("projectId", projectID); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return "", orcherr.E(orcherr.Op("workspace.Root"), orcherr.KindWorkspacePreparationFailed,
			"unsafe workspace identifier", problems)
	}

	root := filepath.Join(m.basePath, workspaceID, projectID)
	rel, err := filepath.Rel(m.basePath, root)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", orcherr.WorkspacePreparationFailed(orcherr.Op("workspace.Root"),
			fmt.Sprintf("resolved root %s escapes base path", root), err)
	}
	return root, nil
}

// Prepare validates the identifiers, takes the pair's lease and creates the
// root directory. Identifier checks complete before any filesystem mutation.
func (m *Manager) Prepare(workspaceID, projectID string) (Handle, error) {
	root, err := m.Root(workspaceID, projectID)
	if err != nil {
		return Handle{}, err
	}

	key := pairKey{workspaceID, projectID}
	m.mu.Lock()
	if _, held := m.leases[key]; held {
		m.mu.Unlock()
		return Handle{}, orcherr.WorkspaceInUse(workspaceID, projectID)
	}
	m.leases[key] = root
	m.mu.Unlock()

	if err := m.mkdirFn(root, defaultWorkspaceDirPerm); err != nil {
		m.release(key)
		return Handle{}, orcherr.WorkspacePreparationFailed(orcherr.Op("workspace.Prepare"),
			fmt.Sprintf("failed to create %s", root), err)
	}

	m.logger.Debug("workspace prepared",
		"workspace_id", workspaceID,
		"project_id", projectID,
		"root", root,
	)
	return Handle{WorkspaceID: workspaceID, ProjectID: projectID, Root: root}, nil
}

// Release drops the lease for a handle. Releasing twice is harmless.
func (m *Manager) Release(h Handle) {
	m.release(pairKey{h.WorkspaceID, h.ProjectID})
}

func (m *Manager) release(key pairKey) {
	m.mu.Lock()
	delete(m.leases, key)
	m.mu.Unlock()
}

// InUse reports whether the pair currently holds a lease
func (m *Manager) InUse(workspaceID, projectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.leases[pairKey{workspaceID, projectID}]
	return held
}

// Remove deletes an entire workspace tree. The root must lie inside the base path.
func (m *Manager) Remove(root string) error {
	if !m.contains(root) {
		return fmt.Errorf("refusing to remove %s outside base path %s", root, m.basePath)
	}
	return os.RemoveAll(root)
}

func (m *Manager) contains(root string) bool {
	rel, err := filepath.Rel(m.basePath, filepath.Clean(root))
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// checkIdentifier rejects anything that could change the resolved directory
// depth or escape the base path.
func checkIdentifier(field, id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%s is empty", field)
	case id == ".":
		return fmt.Errorf("%s must not be '.'", field)
	case strings.Contains(id, ".."):
		return fmt.Errorf("%s %q contains a path traversal sequence", field, id)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%s %q contains a path separator", field, id)
	case strings.ContainsRune(id, 0):
		return fmt.Errorf("%s contains a NUL byte", field)
	case filepath.IsAbs(id):
		return fmt.Errorf("%s %q is an absolute path", field, id)
	}
	return nil
}
