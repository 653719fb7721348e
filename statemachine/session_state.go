package statemachine

import (
	"github.com/google/uuid"

	raft "github.com/neo4j/neo4j-sub236"
)

// LocalSessionTracker records the last sequence number seen for each local
// session of one global session.
type LocalSessionTracker struct {
	GlobalSessionID     uuid.UUID
	LastSequenceNumbers map[int64]int64
}

func newLocalSessionTracker(globalSessionID uuid.UUID) *LocalSessionTracker {
	return &LocalSessionTracker{GlobalSessionID: globalSessionID, LastSequenceNumbers: make(map[int64]int64)}
}

// validate reports whether op is the next operation of its local session. The
// first operation of a session has sequence number zero.
func (t *LocalSessionTracker) validate(op raft.LocalOperationID) bool {
	last, ok := t.LastSequenceNumbers[op.LocalSessionID]
	if !ok {
		return op.SequenceNumber == 0
	}
	return op.SequenceNumber == last+1
}

// track records op if it is the next operation of its session.
func (t *LocalSessionTracker) track(op raft.LocalOperationID) bool {
	if !t.validate(op) {
		return false
	}
	t.LastSequenceNumbers[op.LocalSessionID] = op.SequenceNumber
	return true
}

func (t *LocalSessionTracker) copy() *LocalSessionTracker {
	c := newLocalSessionTracker(t.GlobalSessionID)
	for session, sequence := range t.LastSequenceNumbers {
		c.LastSequenceNumbers[session] = sequence
	}
	return c
}

// GlobalSessionTrackerState tracks, per owning member, the operations applied
// under its current global session. An operation is valid only if it directly
// follows the last operation of its local session, which makes the application
// of redelivered operations idempotent.
//
// This type is not concurrent safe.
type GlobalSessionTrackerState struct {
	trackers map[raft.MemberID]*LocalSessionTracker
	logIndex int64
}

// NewGlobalSessionTrackerState creates a state that has seen no operations.
func NewGlobalSessionTrackerState() *GlobalSessionTrackerState {
	return &GlobalSessionTrackerState{trackers: make(map[raft.MemberID]*LocalSessionTracker), logIndex: -1}
}

// ValidateOperation reports whether op may be applied. It does not modify the state.
func (s *GlobalSessionTrackerState) ValidateOperation(session raft.GlobalSession, op raft.LocalOperationID) bool {
	tracker, ok := s.trackers[session.Owner]
	if !ok || tracker.GlobalSessionID != session.SessionID {
		return op.SequenceNumber == 0
	}
	return tracker.validate(op)
}

// Update records op as applied at logIndex. A new global session of an owner
// replaces the tracker of the previous one. The sequence number is only
// recorded when op is valid, the log index always advances.
func (s *GlobalSessionTrackerState) Update(session raft.GlobalSession, op raft.LocalOperationID, logIndex int64) {
	tracker, ok := s.trackers[session.Owner]
	if !ok || tracker.GlobalSessionID != session.SessionID {
		tracker = newLocalSessionTracker(session.SessionID)
		s.trackers[session.Owner] = tracker
	}
	tracker.track(op)
	s.logIndex = logIndex
}

// LogIndex returns the index of the last update.
func (s *GlobalSessionTrackerState) LogIndex() int64 {
	return s.logIndex
}

// Owners returns the number of members with a tracked global session.
func (s *GlobalSessionTrackerState) Owners() int {
	return len(s.trackers)
}

// Copy returns a deep copy of the state.
func (s *GlobalSessionTrackerState) Copy() *GlobalSessionTrackerState {
	c := &GlobalSessionTrackerState{trackers: make(map[raft.MemberID]*LocalSessionTracker, len(s.trackers)), logIndex: s.logIndex}
	for owner, tracker := range s.trackers {
		c.trackers[owner] = tracker.copy()
	}
	return c
}

// Equal reports whether two states track the same operations at the same index.
func (s *GlobalSessionTrackerState) Equal(other *GlobalSessionTrackerState) bool {
	if s.logIndex != other.logIndex || len(s.trackers) != len(other.trackers) {
		return false
	}
	for owner, tracker := range s.trackers {
		o, ok := other.trackers[owner]
		if !ok || o.GlobalSessionID != tracker.GlobalSessionID || len(o.LastSequenceNumbers) != len(tracker.LastSequenceNumbers) {
			return false
		}
		for session, sequence := range tracker.LastSequenceNumbers {
			if seq, ok := o.LastSequenceNumbers[session]; !ok || seq != sequence {
				return false
			}
		}
	}
	return true
}
