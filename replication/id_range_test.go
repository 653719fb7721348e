package replication

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	raft "github.com/neo4j/neo4j-sub236"
	"github.com/neo4j/neo4j-sub236/statemachine"
)

type mockReplicator struct {
	mock.Mock
}

func (m *mockReplicator) Replicate(ctx context.Context, content raft.Content, trackResult bool) (raft.Future[any], error) {
	args := m.Called(ctx, content, trackResult)
	future, _ := args.Get(0).(raft.Future[any])
	return future, args.Error(1)
}

func completedFuture(value any, err error) raft.Future[any] {
	future := raft.NewFuture[any](0)
	future.Respond(value, err)
	return future
}

func TestIDRangeAcquirer(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	m := newMember(t)
	defer m.applier.Stop()
	acquirer := NewIDRangeAcquirer(m.id, m.replicator, m.machines.IDAllocation)

	first, err := acquirer.AcquireRange(context.Background(), raft.RelationshipID, 100)
	require.NoError(t, err)
	require.Equal(t, IDRange{Start: 0, Length: 100}, first)

	second, err := acquirer.AcquireRange(context.Background(), raft.RelationshipID, 50)
	require.NoError(t, err)
	require.Equal(t, IDRange{Start: 100, Length: 50}, second)

	_, err = acquirer.AcquireRange(context.Background(), raft.RelationshipID, 0)
	require.Error(t, err)
}

func TestIDRangeAcquirerRejected(t *testing.T) {
	machine, err := statemachine.NewIDAllocationStateMachine(statemachine.NewInMemoryStateStorage(statemachine.InitialIDAllocationState))
	require.NoError(t, err)

	replicator := new(mockReplicator)
	replicator.On("Replicate", mock.Anything, mock.AnythingOfType("*raft.IDAllocationRequest"), true).
		Return(completedFuture(false, nil), nil).Once()

	acquirer := NewIDRangeAcquirer(raft.NewMemberID(), replicator, machine)
	_, err = acquirer.AcquireRange(context.Background(), raft.NodeID, 10)
	require.ErrorIs(t, err, ErrIDRangeNotAcquired)
	replicator.AssertExpectations(t)
}

func TestIDRangeAcquirerReplicationFailure(t *testing.T) {
	machine, err := statemachine.NewIDAllocationStateMachine(statemachine.NewInMemoryStateStorage(statemachine.InitialIDAllocationState))
	require.NoError(t, err)

	replicator := new(mockReplicator)
	replicator.On("Replicate", mock.Anything, mock.Anything, true).Return(nil, raft.ErrReplicationFailure)

	acquirer := NewIDRangeAcquirer(raft.NewMemberID(), replicator, machine)
	_, err = acquirer.AcquireRange(context.Background(), raft.NodeID, 10)
	require.ErrorIs(t, err, raft.ErrReplicationFailure)
}

func TestStaticLeaderLocator(t *testing.T) {
	leader := raft.NewMemberID()
	found, err := NewStaticLeaderLocator(leader).Leader()
	require.NoError(t, err)
	require.Equal(t, leader, found)

	_, err = NewStaticLeaderLocator(raft.MemberID{}).Leader()
	require.ErrorIs(t, err, raft.ErrNoLeaderFound)
}
