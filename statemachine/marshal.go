package statemachine

import (
	"github.com/google/uuid"

	raft "github.com/neo4j/neo4j-sub236"
	"github.com/neo4j/neo4j-sub236/storage"
)

var (
	_ storage.StateMarshal[LockTokenState]             = LockTokenStateMarshal{}
	_ storage.StateMarshal[IDAllocationState]          = IDAllocationStateMarshal{}
	_ storage.StateMarshal[*GlobalSessionTrackerState] = GlobalSessionTrackerStateMarshal{}
)

// LockTokenStateMarshal stores a LockTokenState as {ordinal, owner, id}.
type LockTokenStateMarshal struct{}

func (LockTokenStateMarshal) StartState() LockTokenState {
	return InitialLockTokenState
}

func (LockTokenStateMarshal) Ordinal(state LockTokenState) int64 {
	return state.Ordinal
}

func (LockTokenStateMarshal) Marshal(state LockTokenState, enc *storage.Encoder) error {
	enc.PutInt64(state.Ordinal)
	enc.PutID(state.Token.Owner)
	enc.PutInt64(state.Token.ID)
	return nil
}

func (LockTokenStateMarshal) Unmarshal(dec *storage.Decoder) (LockTokenState, error) {
	ordinal, err := dec.Int64()
	if err != nil {
		return LockTokenState{}, err
	}
	owner, err := dec.ID()
	if err != nil {
		return LockTokenState{}, err
	}
	id, err := dec.Int64()
	if err != nil {
		return LockTokenState{}, err
	}
	return LockTokenState{Token: raft.LockTokenRequest{Owner: owner, ID: id}, Ordinal: ordinal}, nil
}

// IDAllocationStateMarshal stores an IDAllocationState as the log index followed
// by the first unallocated id, last range start and last range length of every
// id type in order.
type IDAllocationStateMarshal struct{}

func (IDAllocationStateMarshal) StartState() IDAllocationState {
	return InitialIDAllocationState
}

func (IDAllocationStateMarshal) Ordinal(state IDAllocationState) int64 {
	return state.LogIndex
}

func (IDAllocationStateMarshal) Marshal(state IDAllocationState, enc *storage.Encoder) error {
	enc.PutInt64(state.LogIndex)
	enc.PutInt32(int32(raft.NumIDTypes))
	for t := 0; t < raft.NumIDTypes; t++ {
		enc.PutInt64(state.FirstUnallocated[t])
		enc.PutInt64(state.LastRangeStart[t])
		enc.PutInt32(state.LastRangeLength[t])
	}
	return nil
}

func (IDAllocationStateMarshal) Unmarshal(dec *storage.Decoder) (IDAllocationState, error) {
	var state IDAllocationState
	var err error
	if state.LogIndex, err = dec.Int64(); err != nil {
		return IDAllocationState{}, err
	}
	count, err := dec.Int32()
	if err != nil {
		return IDAllocationState{}, err
	}
	if count != int32(raft.NumIDTypes) {
		return IDAllocationState{}, storage.ErrEndOfStream
	}
	for t := 0; t < raft.NumIDTypes; t++ {
		if state.FirstUnallocated[t], err = dec.Int64(); err != nil {
			return IDAllocationState{}, err
		}
		if state.LastRangeStart[t], err = dec.Int64(); err != nil {
			return IDAllocationState{}, err
		}
		if state.LastRangeLength[t], err = dec.Int32(); err != nil {
			return IDAllocationState{}, err
		}
	}
	return state, nil
}

// GlobalSessionTrackerStateMarshal stores a GlobalSessionTrackerState as the log
// index followed by every owner with its global session and local sessions.
type GlobalSessionTrackerStateMarshal struct{}

func (GlobalSessionTrackerStateMarshal) StartState() *GlobalSessionTrackerState {
	return NewGlobalSessionTrackerState()
}

func (GlobalSessionTrackerStateMarshal) Ordinal(state *GlobalSessionTrackerState) int64 {
	return state.LogIndex()
}

func (GlobalSessionTrackerStateMarshal) Marshal(state *GlobalSessionTrackerState, enc *storage.Encoder) error {
	enc.PutInt64(state.logIndex)
	enc.PutInt32(int32(len(state.trackers)))
	for owner, tracker := range state.trackers {
		enc.PutID(owner)
		enc.PutID(tracker.GlobalSessionID)
		enc.PutInt32(int32(len(tracker.LastSequenceNumbers)))
		for session, sequence := range tracker.LastSequenceNumbers {
			enc.PutInt64(session)
			enc.PutInt64(sequence)
		}
	}
	return nil
}

func (GlobalSessionTrackerStateMarshal) Unmarshal(dec *storage.Decoder) (*GlobalSessionTrackerState, error) {
	state := NewGlobalSessionTrackerState()

	logIndex, err := dec.Int64()
	if err != nil {
		return nil, err
	}
	state.logIndex = logIndex

	owners, err := dec.Int32()
	if err != nil {
		return nil, err
	}
	if owners < 0 {
		return nil, storage.ErrEndOfStream
	}
	for i := int32(0); i < owners; i++ {
		owner, err := dec.ID()
		if err != nil {
			return nil, err
		}
		sessionID, err := dec.ID()
		if err != nil {
			return nil, err
		}
		tracker := newLocalSessionTracker(uuid.UUID(sessionID))

		sessions, err := dec.Int32()
		if err != nil {
			return nil, err
		}
		if sessions < 0 {
			return nil, storage.ErrEndOfStream
		}
		for j := int32(0); j < sessions; j++ {
			session, err := dec.Int64()
			if err != nil {
				return nil, err
			}
			sequence, err := dec.Int64()
			if err != nil {
				return nil, err
			}
			tracker.LastSequenceNumbers[session] = sequence
		}
		state.trackers[raft.MemberID(owner)] = tracker
	}

	return state, nil
}
