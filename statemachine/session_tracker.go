package statemachine

import (
	"sync"

	raft "github.com/neo4j/neo4j-sub236"
	"github.com/neo4j/neo4j-sub236/internal/errors"
	"github.com/neo4j/neo4j-sub236/logging"
)

// Error strings.
const (
	errFailedFlush = "failed to flush %s state at index %d"
)

// SessionTracker owns the GlobalSessionTrackerState of a member and persists it
// through a StateStorage.
//
// This implementation is concurrent safe.
type SessionTracker struct {
	storage StateStorage[*GlobalSessionTrackerState]
	state   *GlobalSessionTrackerState
	logger  *logging.Logger
	mu      sync.RWMutex
}

// NewSessionTracker creates a tracker that starts from the state stored in storage.
func NewSessionTracker(storage StateStorage[*GlobalSessionTrackerState], opts ...Option) (*SessionTracker, error) {
	options, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	t := &SessionTracker{
		storage: storage,
		state:   storage.InitialState().Copy(),
		logger:  options.logger.Named("sessions"),
	}
	t.logger.Debugf("started at index %d with %d owners", t.state.LogIndex(), t.state.Owners())
	return t, nil
}

// ValidateOperation reports whether op may be applied.
func (t *SessionTracker) ValidateOperation(session raft.GlobalSession, op raft.LocalOperationID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.ValidateOperation(session, op)
}

// Update records op as applied at logIndex. Indices at or below the last applied
// index are ignored.
func (t *SessionTracker) Update(session raft.GlobalSession, op raft.LocalOperationID, logIndex int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if logIndex <= t.state.LogIndex() {
		return
	}
	t.state.Update(session, op, logIndex)
}

// LastAppliedIndex returns the index of the last update.
func (t *SessionTracker) LastAppliedIndex() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.LogIndex()
}

// Flush persists the current state.
func (t *SessionTracker) Flush() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.storage.PersistStoreData(t.state.Copy()); err != nil {
		return errors.WrapError(err, errFailedFlush, "session tracker", t.state.LogIndex())
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (t *SessionTracker) Snapshot() *GlobalSessionTrackerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Copy()
}

// InstallSnapshot replaces the current state.
func (t *SessionTracker) InstallSnapshot(state *GlobalSessionTrackerState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state.Copy()
	t.logger.Debugf("installed snapshot at index %d", state.LogIndex())
}
