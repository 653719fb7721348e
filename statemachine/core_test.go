package statemachine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	raft "github.com/neo4j/neo4j-sub236"
	"github.com/neo4j/neo4j-sub236/storage"
)

var testRotation = RotationThresholds{LockToken: 10, IDAllocation: 10, Sessions: 10}

func TestCoreStateMachinesDispatch(t *testing.T) {
	machines, err := NewInMemoryCoreStateMachines()
	require.NoError(t, err)
	owner := raft.NewMemberID()
	var results []any

	require.NoError(t, machines.Dispatch(&raft.LockTokenRequest{Owner: owner, ID: 0}, 0, resultRecorder(&results)))
	require.NoError(t, machines.Dispatch(&raft.IDAllocationRequest{Owner: owner, IDType: raft.NodeID, RangeLength: 5}, 1, resultRecorder(&results)))
	require.NoError(t, machines.Dispatch(&raft.NewLeaderBarrier{}, 2, resultRecorder(&results)))
	require.Equal(t, []any{true, true, nil}, results)

	operation := &raft.DistributedOperation{Content: &raft.NewLeaderBarrier{}, Session: raft.NewGlobalSession(owner)}
	require.Error(t, machines.Dispatch(operation, 3, resultRecorder(&results)))

	require.Equal(t, owner, machines.LockToken.CurrentToken().Owner)
}

func TestCoreStateMachinesLastAppliedIndex(t *testing.T) {
	machines, err := NewInMemoryCoreStateMachines()
	require.NoError(t, err)
	require.Equal(t, int64(-1), machines.LastAppliedIndex())

	session := raft.NewGlobalSession(raft.NewMemberID())
	machines.Sessions.Update(session, op(1, 0), 4)
	machines.IDAllocation.ApplyCommand(raft.IDAllocationRequest{IDType: raft.NodeID, RangeLength: 1}, 3, func(any) {})
	require.Equal(t, int64(-1), machines.LastAppliedIndex())

	machines.LockToken.ApplyCommand(raft.LockTokenRequest{Owner: session.Owner, ID: 0}, 2, func(any) {})
	require.Equal(t, int64(2), machines.LastAppliedIndex())
}

func TestDurableCoreStateMachinesRecovery(t *testing.T) {
	dir := t.TempDir()
	owner := raft.NewMemberID()
	session := raft.NewGlobalSession(owner)

	machines, err := OpenDurableCoreStateMachines(dir, testRotation, nil)
	require.NoError(t, err)

	machines.Sessions.Update(session, op(1, 0), 0)
	require.NoError(t, machines.Dispatch(&raft.LockTokenRequest{Owner: owner, ID: 0}, 0, func(any) {}))
	require.NoError(t, machines.Dispatch(&raft.IDAllocationRequest{Owner: owner, IDType: raft.PropertyID, RangeLength: 64}, 1, func(any) {}))
	require.NoError(t, machines.Flush())
	require.NoError(t, machines.Close())

	machines, err = OpenDurableCoreStateMachines(dir, testRotation, nil)
	require.NoError(t, err)
	defer machines.Close()

	require.Equal(t, raft.LockTokenRequest{Owner: owner, ID: 0}, machines.LockToken.CurrentToken())
	first, err := machines.IDAllocation.FirstUnallocated(raft.PropertyID)
	require.NoError(t, err)
	require.Equal(t, int64(64), first)
	require.False(t, machines.Sessions.ValidateOperation(session, op(1, 0)))
	require.True(t, machines.Sessions.ValidateOperation(session, op(1, 1)))
	require.Equal(t, int64(0), machines.LastAppliedIndex())
}

func TestCoreSnapshotEncoding(t *testing.T) {
	machines, err := NewInMemoryCoreStateMachines()
	require.NoError(t, err)
	owner := raft.NewMemberID()
	session := raft.NewGlobalSession(owner)

	machines.Sessions.Update(session, op(3, 0), 1)
	machines.Sessions.Update(session, op(3, 1), 2)
	machines.LockToken.ApplyCommand(raft.LockTokenRequest{Owner: owner, ID: 0}, 3, func(any) {})
	machines.IDAllocation.ApplyCommand(raft.IDAllocationRequest{IDType: raft.SchemaID, RangeLength: 8}, 4, func(any) {})

	snapshot := machines.Snapshot()
	require.Equal(t, int64(-1), snapshot.PrevIndex)
	snapshot.PrevIndex, snapshot.PrevTerm = 4, 2

	data, err := EncodeSnapshot(snapshot)
	require.NoError(t, err)
	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)

	require.Equal(t, int64(4), decoded.PrevIndex)
	require.Equal(t, int64(2), decoded.PrevTerm)
	require.True(t, snapshot.Sessions.Equal(decoded.Sessions))
	require.Equal(t, snapshot.LockToken, decoded.LockToken)
	require.Equal(t, snapshot.IDAllocation, decoded.IDAllocation)

	fresh, err := NewInMemoryCoreStateMachines()
	require.NoError(t, err)
	fresh.InstallSnapshot(decoded)
	require.Equal(t, owner, fresh.LockToken.CurrentToken().Owner)
	require.True(t, fresh.Sessions.ValidateOperation(session, op(3, 2)))

	_, err = DecodeSnapshot(data[:len(data)-1])
	require.Error(t, err)
}

func TestStateMarshalsStopAtTruncatedData(t *testing.T) {
	enc := storage.NewEncoder()
	require.NoError(t, LockTokenStateMarshal{}.Marshal(LockTokenState{Token: raft.LockTokenRequest{ID: 3}, Ordinal: 9}, enc))
	data := enc.Bytes()

	for cut := 0; cut < len(data); cut++ {
		_, err := LockTokenStateMarshal{}.Unmarshal(storage.NewDecoder(bytes.NewReader(data[:cut])))
		require.ErrorIs(t, err, storage.ErrEndOfStream, "cut at %d", cut)
	}

	state, err := LockTokenStateMarshal{}.Unmarshal(storage.NewDecoder(bytes.NewReader(data)))
	require.NoError(t, err)
	require.Equal(t, int64(9), state.Ordinal)
	require.Equal(t, int64(3), state.Token.ID)
}
