package statemachine

import (
	"sync"

	raft "github.com/neo4j/neo4j-sub236"
	"github.com/neo4j/neo4j-sub236/internal/errors"
	"github.com/neo4j/neo4j-sub236/logging"
)

// IDAllocationState holds, per id type, the first id that has not been handed
// out and the last range that was.
type IDAllocationState struct {
	FirstUnallocated [raft.NumIDTypes]int64
	LastRangeStart   [raft.NumIDTypes]int64
	LastRangeLength  [raft.NumIDTypes]int32
	LogIndex         int64
}

// InitialIDAllocationState is the state before any range was allocated.
var InitialIDAllocationState = IDAllocationState{LogIndex: -1}

const errInvalidIDType = "invalid id type %d"

// IDAllocationStateMachine hands out ranges of ids. A request is granted only if
// it starts at the first unallocated id of its type, so granted ranges of a type
// never overlap.
//
// This implementation is concurrent safe.
type IDAllocationStateMachine struct {
	storage StateStorage[IDAllocationState]
	state   IDAllocationState
	logger  *logging.Logger
	mu      sync.RWMutex
}

// NewIDAllocationStateMachine creates a state machine starting from the stored state.
func NewIDAllocationStateMachine(storage StateStorage[IDAllocationState], opts ...Option) (*IDAllocationStateMachine, error) {
	options, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &IDAllocationStateMachine{
		storage: storage,
		state:   storage.InitialState(),
		logger:  options.logger.Named("idalloc"),
	}, nil
}

// ApplyCommand applies request replicated at index and reports to callback
// whether the range was granted. Commands at or below the last applied index
// change nothing; they report whether the request is the last granted range.
func (m *IDAllocationStateMachine) ApplyCommand(request raft.IDAllocationRequest, index int64, callback ResultCallback) {
	m.mu.Lock()
	if index <= m.state.LogIndex {
		t := request.IDType
		granted := t.Valid() &&
			m.state.LastRangeStart[t] == request.RangeStart &&
			m.state.LastRangeLength[t] == request.RangeLength
		m.mu.Unlock()
		callback(granted)
		return
	}
	m.state.LogIndex = index

	t := request.IDType
	granted := t.Valid() && request.RangeStart == m.state.FirstUnallocated[t]
	if granted {
		m.state.FirstUnallocated[t] = request.RangeStart + int64(request.RangeLength)
		m.state.LastRangeStart[t] = request.RangeStart
		m.state.LastRangeLength[t] = request.RangeLength
	}
	m.mu.Unlock()

	m.logger.Debugf("%s at index %d granted = %t", request, index, granted)
	callback(granted)
}

// FirstUnallocated returns the first id of type t that has not been allocated.
func (m *IDAllocationStateMachine) FirstUnallocated(t raft.IDType) (int64, error) {
	if !t.Valid() {
		return 0, errors.WrapError(nil, errInvalidIDType, int(t))
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.FirstUnallocated[t], nil
}

// LastAppliedIndex returns the index of the last applied command.
func (m *IDAllocationStateMachine) LastAppliedIndex() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.LogIndex
}

// Flush persists the current state.
func (m *IDAllocationStateMachine) Flush() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.storage.PersistStoreData(m.state); err != nil {
		return errors.WrapError(err, errFailedFlush, "id allocation", m.state.LogIndex)
	}
	return nil
}

// Snapshot returns the current state.
func (m *IDAllocationStateMachine) Snapshot() IDAllocationState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// InstallSnapshot replaces the current state.
func (m *IDAllocationStateMachine) InstallSnapshot(state IDAllocationState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.logger.Debugf("installed snapshot at index %d", state.LogIndex)
}
