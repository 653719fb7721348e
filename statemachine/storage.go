package statemachine

import (
	"sync"

	"github.com/neo4j/neo4j-sub236/storage"
)

// StateStorage stores the state of a state machine. It is satisfied by
// storage.DurableStateStorage.
type StateStorage[T any] interface {
	// InitialState returns the state to start from.
	InitialState() T

	// PersistStoreData stores state.
	PersistStoreData(state T) error
}

var (
	_ StateStorage[int64] = (*storage.DurableStateStorage[int64])(nil)
	_ StateStorage[int64] = (*InMemoryStateStorage[int64])(nil)
)

// InMemoryStateStorage is a StateStorage that keeps the last persisted state in
// memory. It is used by members without durable state and in tests.
//
// This implementation is concurrent safe.
type InMemoryStateStorage[T any] struct {
	state   T
	persist int
	mu      sync.Mutex
}

// NewInMemoryStateStorage creates a storage whose initial state is initial.
func NewInMemoryStateStorage[T any](initial T) *InMemoryStateStorage[T] {
	return &InMemoryStateStorage[T]{state: initial}
}

func (s *InMemoryStateStorage[T]) InitialState() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *InMemoryStateStorage[T]) PersistStoreData(state T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.persist++
	return nil
}

// PersistCount returns how many times a state was persisted.
func (s *InMemoryStateStorage[T]) PersistCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist
}
