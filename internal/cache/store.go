package cache

import (
	"sort"
	"sync"

	"github.com/delivops/argocd-notifier/internal/types"
)

// Entry is the bookkeeping for one resource.
type Entry struct {
	// Snapshot is the last-known derived state.
	Snapshot types.ResourceSnapshot

	// Handle references the outbound message of the current or most recent
	// deployment cycle. Empty when no message was ever created or creation failed.
	Handle string

	// Text is the change description accumulated over the current cycle.
	Text string

	// DeploymentInProgress is true iff Snapshot is not both Synced and Healthy.
	DeploymentInProgress bool
	// ResourceVersion is metadata.resourceVersion of the object Snapshot was
	// taken from.
	ResourceVersion string
}

// Store is a concurrent-safe in-memory map of Entry keyed by identity.
type Store struct {
	mu      sync.RWMutex
	entries map[types.ResourceIdentity]Entry
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[types.ResourceIdentity]Entry)}
}

// Get returns the entry for id.
func (s *Store) Get(id types.ResourceIdentity) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Put adds or replaces the entry for id.
func (s *Store) Put(id types.ResourceIdentity, e Entry) {
	s.mu.Lock()
	s.entries[id] = e
	n := len(s.entries)
	s.mu.Unlock()
	cacheEntries.Set(float64(n))
}

// Delete removes the entry for id. Returns false if it was not present.
func (s *Store) Delete(id types.ResourceIdentity) bool {
	s.mu.Lock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	n := len(s.entries)
	s.mu.Unlock()
	cacheEntries.Set(float64(n))
	return ok
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// InProgress returns the identities with a deployment in progress, sorted.
func (s *Store) InProgress() []types.ResourceIdentity {
	s.mu.RLock()
	var ids []types.ResourceIdentity
	for id, e := range s.entries {
		if e.DeploymentInProgress {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}
