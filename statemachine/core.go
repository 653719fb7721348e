package statemachine

import (
	"bytes"
	"path/filepath"

	raft "github.com/neo4j/neo4j-sub236"
	"github.com/neo4j/neo4j-sub236/internal/errors"
	"github.com/neo4j/neo4j-sub236/internal/util"
	"github.com/neo4j/neo4j-sub236/logging"
	"github.com/neo4j/neo4j-sub236/storage"
)

// Error strings.
const (
	errUnexpectedContent = "content %s cannot be dispatched to a state machine"
	errFailedOpen        = "failed to open %s state"
	errInvalidSnapshot   = "invalid snapshot"
)

// Names of the stored states.
const (
	LockTokenStateName    = "lock-token"
	IDAllocationStateName = "id-allocation"
	SessionStateName      = "session-tracker"
)

// CoreStateMachines groups the state machines of a core member and dispatches
// replicated content to them.
type CoreStateMachines struct {
	Sessions     *SessionTracker
	LockToken    *LockTokenStateMachine
	IDAllocation *IDAllocationStateMachine

	closers []func() error
}

// NewCoreStateMachines groups the provided state machines.
func NewCoreStateMachines(sessions *SessionTracker, lockToken *LockTokenStateMachine, idAllocation *IDAllocationStateMachine) *CoreStateMachines {
	return &CoreStateMachines{Sessions: sessions, LockToken: lockToken, IDAllocation: idAllocation}
}

// NewInMemoryCoreStateMachines creates state machines that start from scratch
// and keep their state in memory.
func NewInMemoryCoreStateMachines(opts ...Option) (*CoreStateMachines, error) {
	sessions, err := NewSessionTracker(NewInMemoryStateStorage(NewGlobalSessionTrackerState()), opts...)
	if err != nil {
		return nil, err
	}
	lockToken, err := NewLockTokenStateMachine(NewInMemoryStateStorage(InitialLockTokenState), opts...)
	if err != nil {
		return nil, err
	}
	idAllocation, err := NewIDAllocationStateMachine(NewInMemoryStateStorage(InitialIDAllocationState), opts...)
	if err != nil {
		return nil, err
	}
	return NewCoreStateMachines(sessions, lockToken, idAllocation), nil
}

// RotationThresholds holds the number of entries each stored state writes to a
// file before switching to the other one.
type RotationThresholds struct {
	LockToken    int
	IDAllocation int
	Sessions     int
}

// OpenDurableCoreStateMachines recovers the state machines stored in dir.
func OpenDurableCoreStateMachines(dir string, rotation RotationThresholds, logger *logging.Logger) (*CoreStateMachines, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	storageOpts := []storage.Option{storage.WithLogger(logger)}
	var closers []func() error
	fail := func(err error, name string) (*CoreStateMachines, error) {
		for _, c := range closers {
			c()
		}
		return nil, errors.WrapError(err, errFailedOpen, name)
	}

	sessionStorage, err := storage.NewDurableStateStorage[*GlobalSessionTrackerState](
		dir, SessionStateName, GlobalSessionTrackerStateMarshal{}, rotation.Sessions, storageOpts...)
	if err != nil {
		return fail(err, SessionStateName)
	}
	closers = append(closers, sessionStorage.Close)

	lockTokenStorage, err := storage.NewDurableStateStorage[LockTokenState](
		dir, LockTokenStateName, LockTokenStateMarshal{}, rotation.LockToken, storageOpts...)
	if err != nil {
		return fail(err, LockTokenStateName)
	}
	closers = append(closers, lockTokenStorage.Close)

	idStorage, err := storage.NewDurableStateStorage[IDAllocationState](
		dir, IDAllocationStateName, IDAllocationStateMarshal{}, rotation.IDAllocation, storageOpts...)
	if err != nil {
		return fail(err, IDAllocationStateName)
	}
	closers = append(closers, idStorage.Close)

	opts := []Option{WithLogger(logger)}
	sessions, err := NewSessionTracker(sessionStorage, opts...)
	if err != nil {
		return fail(err, SessionStateName)
	}
	lockToken, err := NewLockTokenStateMachine(lockTokenStorage, opts...)
	if err != nil {
		return fail(err, LockTokenStateName)
	}
	idAllocation, err := NewIDAllocationStateMachine(idStorage, opts...)
	if err != nil {
		return fail(err, IDAllocationStateName)
	}

	machines := NewCoreStateMachines(sessions, lockToken, idAllocation)
	machines.closers = closers
	logger.Named("core").Infof("recovered state from %s: lastApplied = %d", filepath.Clean(dir), machines.LastAppliedIndex())
	return machines, nil
}

// Dispatch applies content replicated at index to the state machine it is meant
// for. A DistributedOperation must be unwrapped by the caller after validating
// its session. A NewLeaderBarrier changes no state and reports a nil result.
func (c *CoreStateMachines) Dispatch(content raft.Content, index int64, callback ResultCallback) error {
	switch content := content.(type) {
	case *raft.LockTokenRequest:
		c.LockToken.ApplyCommand(*content, index, callback)
	case *raft.IDAllocationRequest:
		c.IDAllocation.ApplyCommand(*content, index, callback)
	case *raft.NewLeaderBarrier:
		callback(nil)
	default:
		return errors.WrapError(nil, errUnexpectedContent, content.ContentType())
	}
	return nil
}

// Flush persists the state of every state machine.
func (c *CoreStateMachines) Flush() error {
	if err := c.Sessions.Flush(); err != nil {
		return err
	}
	if err := c.LockToken.Flush(); err != nil {
		return err
	}
	return c.IDAllocation.Flush()
}

// LastAppliedIndex returns the lowest index recorded by any state machine. A
// machine only records an index when a command changes its state, so this can
// be lower than the index of the last applied entry.
func (c *CoreStateMachines) LastAppliedIndex() int64 {
	return util.MinOf(c.Sessions.LastAppliedIndex(), c.LockToken.LastAppliedIndex(), c.IDAllocation.LastAppliedIndex())
}

// Close releases the storage of the state machines.
func (c *CoreStateMachines) Close() error {
	var firstErr error
	for _, closer := range c.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

// CoreSnapshot is the combined state of the core state machines after applying
// every entry up to PrevIndex.
type CoreSnapshot struct {
	// The index and term of the last applied entry.
	PrevIndex int64
	PrevTerm  int64

	Sessions     *GlobalSessionTrackerState
	LockToken    LockTokenState
	IDAllocation IDAllocationState
}

// Snapshot returns the state of every state machine. The caller records the
// index and term of the last entry it applied.
func (c *CoreStateMachines) Snapshot() CoreSnapshot {
	return CoreSnapshot{
		PrevIndex:    -1,
		PrevTerm:     -1,
		Sessions:     c.Sessions.Snapshot(),
		LockToken:    c.LockToken.Snapshot(),
		IDAllocation: c.IDAllocation.Snapshot(),
	}
}

// InstallSnapshot replaces the state of every state machine.
func (c *CoreStateMachines) InstallSnapshot(snapshot CoreSnapshot) {
	c.Sessions.InstallSnapshot(snapshot.Sessions)
	c.LockToken.InstallSnapshot(snapshot.LockToken)
	c.IDAllocation.InstallSnapshot(snapshot.IDAllocation)
}

// EncodeSnapshot serializes snapshot with the state marshals.
func EncodeSnapshot(snapshot CoreSnapshot) ([]byte, error) {
	enc := storage.NewEncoder()
	enc.PutInt64(snapshot.PrevIndex)
	enc.PutInt64(snapshot.PrevTerm)

	part := storage.NewEncoder()

	if err := (GlobalSessionTrackerStateMarshal{}).Marshal(snapshot.Sessions, part); err != nil {
		return nil, err
	}
	enc.PutBytes(part.Bytes())

	part.Reset()
	if err := (LockTokenStateMarshal{}).Marshal(snapshot.LockToken, part); err != nil {
		return nil, err
	}
	enc.PutBytes(part.Bytes())

	part.Reset()
	if err := (IDAllocationStateMarshal{}).Marshal(snapshot.IDAllocation, part); err != nil {
		return nil, err
	}
	enc.PutBytes(part.Bytes())

	return enc.Bytes(), nil
}

// DecodeSnapshot reads a snapshot written by EncodeSnapshot.
func DecodeSnapshot(data []byte) (CoreSnapshot, error) {
	var snapshot CoreSnapshot
	var err error
	dec := storage.NewDecoder(bytes.NewReader(data))

	if snapshot.PrevIndex, err = dec.Int64(); err != nil {
		return snapshot, errors.WrapError(err, errInvalidSnapshot)
	}
	if snapshot.PrevTerm, err = dec.Int64(); err != nil {
		return snapshot, errors.WrapError(err, errInvalidSnapshot)
	}

	part, err := dec.Bytes()
	if err != nil {
		return snapshot, errors.WrapError(err, errInvalidSnapshot)
	}
	if snapshot.Sessions, err = (GlobalSessionTrackerStateMarshal{}).Unmarshal(storage.NewDecoder(bytes.NewReader(part))); err != nil {
		return snapshot, errors.WrapError(err, errInvalidSnapshot)
	}

	if part, err = dec.Bytes(); err != nil {
		return snapshot, errors.WrapError(err, errInvalidSnapshot)
	}
	if snapshot.LockToken, err = (LockTokenStateMarshal{}).Unmarshal(storage.NewDecoder(bytes.NewReader(part))); err != nil {
		return snapshot, errors.WrapError(err, errInvalidSnapshot)
	}

	if part, err = dec.Bytes(); err != nil {
		return snapshot, errors.WrapError(err, errInvalidSnapshot)
	}
	if snapshot.IDAllocation, err = (IDAllocationStateMarshal{}).Unmarshal(storage.NewDecoder(bytes.NewReader(part))); err != nil {
		return snapshot, errors.WrapError(err, errInvalidSnapshot)
	}

	return snapshot, nil
}
