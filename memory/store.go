package memory

import (
	"log"
	"sync"
)

// Store owns the set of live conversation threads. It is safe for
// concurrent use; the store lock is held only for map access, never while
// a thread's own lock is held.
type Store struct {
	mu      sync.RWMutex
	threads map[string]*Thread
}

// NewStore creates an empty thread store.
func NewStore() *Store {
	return &Store{threads: make(map[string]*Thread)}
}

// GetOrCreate returns the thread for id, creating it on first reference.
// Idempotent: a thread id maps to at most one live Thread for the life of
// the process.
func (s *Store) GetOrCreate(id string) *Thread {
	s.mu.RLock()
	th, ok := s.threads[id]
	s.mu.RUnlock()
	if ok {
		return th
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if th, ok := s.threads[id]; ok {
		return th
	}

	th = newThread(id)
	s.threads[id] = th
	log.Printf("[MEMORY] Created thread %s", id)
	return th
}

// Exists reports whether id has been referenced before. Clearing a thread
// does not remove it.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.threads[id]
	return ok
}

// Clear drops the message history, search snapshot, and preferences for id
// while retaining the thread identity. Unknown ids are a no-op.
func (s *Store) Clear(id string) {
	s.mu.RLock()
	th, ok := s.threads[id]
	s.mu.RUnlock()
	if ok {
		th.Clear()
	}
}

// Len returns the number of live threads. Retention policy is external to
// the store; this exists so a reaper can be layered on top.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}
