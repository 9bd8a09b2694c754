// Package memory provides in-process storage used by the orchestrator.
package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	errIDEmpty = errors.New("registry ID cannot be empty")

	// ErrExists is returned by Insert when the ID is already registered
	ErrExists = errors.New("registry entry already exists")
)

type entry[T any] struct {
	seq   uint64
	value T
}

// Registry is a concurrency-safe map from ID to entry. Entries are listed in
// insertion order. An optional clone function is applied on every read so
// callers never share mutable state with the registry.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]entry[T]
	seq   uint64
	clone func(T) T
}

// NewRegistry creates an empty registry. clone may be nil for value types or
// for entries that guard their own state.
func NewRegistry[T any](clone func(T) T) *Registry[T] {
	return &Registry[T]{
		items: make(map[string]entry[T]),
		clone: clone,
	}
}

// Insert adds an entry, failing if the ID is empty or already present
func (r *Registry[T]) Insert(id string, value T) error {
	if id == "" {
		return errIDEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[id]; exists {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}
	r.seq++
	r.items[id] = entry[T]{seq: r.seq, value: r.copy(value)}
	return nil
}

// Get retrieves an entry by ID
func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.items[id]
	if !exists {
		var zero T
		return zero, false
	}
	return r.copy(e.value), true
}

// Remove deletes an entry and reports whether it was present. Removing an
// absent ID is a no-op.
func (r *Registry[T]) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[id]; !exists {
		return false
	}
	delete(r.items, id)
	return true
}

// List returns every entry in insertion order
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	entries := make([]entry[T], 0, len(r.items))
	for _, e := range r.items {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	result := make([]T, len(entries))
	for i, e := range entries {
		result[i] = r.copy(e.value)
	}
	return result
}

// Len returns the number of registered entries
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Registry[T]) copy(v T) T {
	if r.clone == nil {
		return v
	}
	return r.clone(v)
}
