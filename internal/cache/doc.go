// Package cache holds the per-application deployment bookkeeping.
//
// # Contract
//
// One Entry per ResourceIdentity. An Entry is created the first time a
// resource is observed (empty Text, DeploymentInProgress false) and replaced on
// every processed event. Entries live for the life of the process unless the
// resource is deleted; nothing is persisted across restarts, the cache is
// rebuilt from the initial full list.
//
// Writes come from the single sequencer worker. The store still takes a
// RWMutex so metrics and tests may read while the worker writes.
//
// # Types
//
//	type Store struct { ... }
//	func New() *Store
//	func (s *Store) Get(id types.ResourceIdentity) (Entry, bool)
//	func (s *Store) Put(id types.ResourceIdentity, e Entry)
//	func (s *Store) Delete(id types.ResourceIdentity) bool
package cache
