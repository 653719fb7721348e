package locks

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	raft "github.com/neo4j/neo4j-sub236"
	"github.com/neo4j/neo4j-sub236/raftlog"
	"github.com/neo4j/neo4j-sub236/replication"
	"github.com/neo4j/neo4j-sub236/statemachine"
)

func TestLeaderOnlyLockManagerOverLoopbackReplication(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	self := raft.NewMemberID()
	log, err := raftlog.NewInMemoryLog()
	require.NoError(t, err)
	machines, err := statemachine.NewInMemoryCoreStateMachines()
	require.NoError(t, err)

	tracker := replication.NewProgressTracker(time.Minute)
	applier, err := replication.NewCommandApplicationProcess(log, machines, tracker, statemachine.NewInMemoryStateStorage[int64](-1))
	require.NoError(t, err)
	require.NoError(t, applier.Start())
	defer applier.Stop()

	replicator, err := replication.NewLoopbackReplicator(self, log, applier, tracker, 1)
	require.NoError(t, err)

	manager, err := NewLeaderOnlyLockManager(self, replicator, replication.NewStaticLeaderLocator(self), machines.LockToken, NewLocalLockManager())
	require.NoError(t, err)

	first := manager.NewClient()
	require.NoError(t, first.AcquireExclusive(context.Background(), node, 1))
	require.Equal(t, raft.LockTokenRequest{Owner: self, ID: 0}, machines.LockToken.CurrentToken())
	first.Close()

	// A new client adopts the token owned by this member.
	second := manager.NewClient()
	defer second.Close()
	require.NoError(t, second.AcquireExclusive(context.Background(), node, 1))
	require.Equal(t, int64(0), log.AppendIndex())

	// A follower never requests the token.
	follower, err := NewLeaderOnlyLockManager(raft.NewMemberID(), replicator, replication.NewStaticLeaderLocator(self), machines.LockToken, NewLocalLockManager())
	require.NoError(t, err)
	client := follower.NewClient()
	defer client.Close()
	require.ErrorIs(t, client.AcquireExclusive(context.Background(), node, 1), ErrNotALeader)
}
