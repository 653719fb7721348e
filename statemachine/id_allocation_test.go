package statemachine

import (
	"testing"

	"github.com/stretchr/testify/require"

	raft "github.com/neo4j/neo4j-sub236"
)

func newIDAllocationStateMachine(t *testing.T) *IDAllocationStateMachine {
	m, err := NewIDAllocationStateMachine(NewInMemoryStateStorage(InitialIDAllocationState))
	require.NoError(t, err)
	return m
}

func TestIDAllocationStateMachine(t *testing.T) {
	m := newIDAllocationStateMachine(t)
	owner := raft.NewMemberID()
	var results []any

	m.ApplyCommand(raft.IDAllocationRequest{Owner: owner, IDType: raft.NodeID, RangeStart: 0, RangeLength: 100}, 0, resultRecorder(&results))
	m.ApplyCommand(raft.IDAllocationRequest{Owner: owner, IDType: raft.NodeID, RangeStart: 0, RangeLength: 100}, 1, resultRecorder(&results))
	m.ApplyCommand(raft.IDAllocationRequest{Owner: owner, IDType: raft.NodeID, RangeStart: 100, RangeLength: 50}, 2, resultRecorder(&results))
	m.ApplyCommand(raft.IDAllocationRequest{Owner: owner, IDType: raft.LabelTokenID, RangeStart: 0, RangeLength: 10}, 3, resultRecorder(&results))

	require.Equal(t, []any{true, false, true, true}, results)

	first, err := m.FirstUnallocated(raft.NodeID)
	require.NoError(t, err)
	require.Equal(t, int64(150), first)

	first, err = m.FirstUnallocated(raft.LabelTokenID)
	require.NoError(t, err)
	require.Equal(t, int64(10), first)

	snapshot := m.Snapshot()
	require.Equal(t, int64(100), snapshot.LastRangeStart[raft.NodeID])
	require.Equal(t, int32(50), snapshot.LastRangeLength[raft.NodeID])
	require.Equal(t, int64(3), m.LastAppliedIndex())
}

func TestIDAllocationStateMachineStaleIndex(t *testing.T) {
	m := newIDAllocationStateMachine(t)
	var results []any

	m.ApplyCommand(raft.IDAllocationRequest{IDType: raft.NodeID, RangeStart: 0, RangeLength: 10}, 5, resultRecorder(&results))
	m.ApplyCommand(raft.IDAllocationRequest{IDType: raft.NodeID, RangeStart: 10, RangeLength: 10}, 5, resultRecorder(&results))
	m.ApplyCommand(raft.IDAllocationRequest{IDType: raft.NodeID, RangeStart: 0, RangeLength: 10}, 5, resultRecorder(&results))
	m.ApplyCommand(raft.IDAllocationRequest{IDType: raft.NodeID, RangeStart: 0, RangeLength: 10}, 3, resultRecorder(&results))

	// Reapplied commands still report whether they match the last granted range.
	require.Equal(t, []any{true, false, true, true}, results)
	first, err := m.FirstUnallocated(raft.NodeID)
	require.NoError(t, err)
	require.Equal(t, int64(10), first)
}

func TestIDAllocationStateMachineRejectionAdvancesIndex(t *testing.T) {
	m := newIDAllocationStateMachine(t)
	var results []any

	m.ApplyCommand(raft.IDAllocationRequest{IDType: raft.SchemaID, RangeStart: 3, RangeLength: 10}, 2, resultRecorder(&results))
	require.Equal(t, []any{false}, results)
	require.Equal(t, int64(2), m.LastAppliedIndex())
}

func TestIDAllocationStateMachineInvalidType(t *testing.T) {
	m := newIDAllocationStateMachine(t)
	var results []any

	m.ApplyCommand(raft.IDAllocationRequest{IDType: raft.IDType(99), RangeStart: 0, RangeLength: 10}, 0, resultRecorder(&results))
	require.Equal(t, []any{false}, results)

	_, err := m.FirstUnallocated(raft.IDType(99))
	require.Error(t, err)
}
