package statemachine

import (
	"sync"

	raft "github.com/neo4j/neo4j-sub236"
	"github.com/neo4j/neo4j-sub236/internal/errors"
	"github.com/neo4j/neo4j-sub236/logging"
)

// LockTokenState is the replicated lock token together with the index of the
// command that produced it.
type LockTokenState struct {
	Token   raft.LockTokenRequest
	Ordinal int64
}

// InitialLockTokenState is the state before any candidate was accepted.
var InitialLockTokenState = LockTokenState{Token: raft.InvalidLockToken, Ordinal: -1}

// LockTokenStateMachine decides which member holds the lock token. A request is
// accepted only if its id is the next candidate id of the current token, so
// token ids strictly increase and at most one request per id is accepted.
//
// This implementation is concurrent safe.
type LockTokenStateMachine struct {
	storage StateStorage[LockTokenState]
	state   LockTokenState
	logger  *logging.Logger
	mu      sync.RWMutex
}

// NewLockTokenStateMachine creates a state machine starting from the stored state.
func NewLockTokenStateMachine(storage StateStorage[LockTokenState], opts ...Option) (*LockTokenStateMachine, error) {
	options, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &LockTokenStateMachine{
		storage: storage,
		state:   storage.InitialState(),
		logger:  options.logger.Named("locktoken"),
	}, nil
}

// ApplyCommand applies request replicated at index and reports to callback
// whether the request holds the token afterwards. Commands at or below the last
// applied index do not change the state.
func (m *LockTokenStateMachine) ApplyCommand(request raft.LockTokenRequest, index int64, callback ResultCallback) {
	m.mu.Lock()
	if index <= m.state.Ordinal {
		held := m.state.Token == request
		m.mu.Unlock()
		callback(held)
		return
	}

	accepted := request.ID == raft.NextCandidateID(m.state.Token.ID)
	if accepted {
		m.state = LockTokenState{Token: request, Ordinal: index}
	}
	m.mu.Unlock()

	if accepted {
		m.logger.Debugf("accepted %s at index %d", request, index)
	} else {
		m.logger.Debugf("rejected %s at index %d", request, index)
	}
	callback(accepted)
}

// CurrentToken returns the token currently held.
func (m *LockTokenStateMachine) CurrentToken() raft.LockTokenRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Token
}

// LastAppliedIndex returns the index of the last accepted request.
func (m *LockTokenStateMachine) LastAppliedIndex() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Ordinal
}

// Flush persists the current state.
func (m *LockTokenStateMachine) Flush() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.storage.PersistStoreData(m.state); err != nil {
		return errors.WrapError(err, errFailedFlush, "lock token", m.state.Ordinal)
	}
	return nil
}

// Snapshot returns the current state.
func (m *LockTokenStateMachine) Snapshot() LockTokenState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// InstallSnapshot replaces the current state.
func (m *LockTokenStateMachine) InstallSnapshot(state LockTokenState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.logger.Debugf("installed snapshot at index %d", state.Ordinal)
}
