// Package memory is an in-process credential vault for development and tests
package memory

import (
	"context"
	"sync"

	"github.com/AltairaLabs/codegen-orchestrator/internal/credential"
)

// AnyWorkspace matches every workspace without its own key
const AnyWorkspace = "*"

type slot struct {
	workspaceID string
	provider    credential.Provider
}

// Vault holds at most one active key per (workspace, provider)
type Vault struct {
	mu   sync.RWMutex
	keys map[slot]string
}

// New creates an empty vault
func New() *Vault {
	return &Vault{keys: make(map[slot]string)}
}

// Put sets the active key for a workspace, replacing any previous key
func (v *Vault) Put(workspaceID string, provider credential.Provider, key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[slot{workspaceID, provider}] = key
}

// Deactivate removes the active key for a workspace
func (v *Vault) Deactivate(workspaceID string, provider credential.Provider) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.keys, slot{workspaceID, provider})
}

// GetActiveKeyForProvider implements credential.Vault. A workspace-specific
// key takes precedence over an AnyWorkspace key.
func (v *Vault) GetActiveKeyForProvider(ctx context.Context, workspaceID string, provider credential.Provider) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if key, ok := v.keys[slot{workspaceID, provider}]; ok {
		return key, true, nil
	}
	key, ok := v.keys[slot{AnyWorkspace, provider}]
	return key, ok, nil
}
