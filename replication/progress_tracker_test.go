package replication

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	raft "github.com/neo4j/neo4j-sub236"
)

func TestProgressTrackerResult(t *testing.T) {
	tracker := NewProgressTracker(time.Minute)
	session := raft.NewGlobalSession(raft.NewMemberID())
	op := raft.LocalOperationID{LocalSessionID: 1, SequenceNumber: 0}

	future := tracker.Start(session, op, time.Second)
	require.Equal(t, 1, tracker.InProgress())

	tracker.TrackResult(session, op, true)
	require.Equal(t, 0, tracker.InProgress())

	result := future.Await(context.Background())
	require.NoError(t, result.Error())
	require.Equal(t, true, result.Success())

	// Results of untracked operations are ignored.
	tracker.TrackResult(raft.NewGlobalSession(raft.NewMemberID()), op, false)
	require.Equal(t, 0, tracker.InProgress())
}

func TestProgressTrackerAbort(t *testing.T) {
	tracker := NewProgressTracker(time.Minute)
	session := raft.NewGlobalSession(raft.NewMemberID())
	first := raft.LocalOperationID{LocalSessionID: 1, SequenceNumber: 0}
	second := raft.LocalOperationID{LocalSessionID: 1, SequenceNumber: 1}

	firstFuture := tracker.Start(session, first, time.Second)
	secondFuture := tracker.Start(session, second, time.Second)

	failure := errors.New("failure")
	tracker.Abort(session, first, failure)
	require.ErrorIs(t, firstFuture.Await(context.Background()).Error(), failure)

	tracker.AbortAll(raft.ErrReplicationFailure)
	require.ErrorIs(t, secondFuture.Await(context.Background()).Error(), raft.ErrReplicationFailure)
	require.Equal(t, 0, tracker.InProgress())
}

func TestProgressTrackerExpiry(t *testing.T) {
	tracker := NewProgressTracker(10 * time.Millisecond)
	session := raft.NewGlobalSession(raft.NewMemberID())
	op := raft.LocalOperationID{LocalSessionID: 1, SequenceNumber: 0}

	future := tracker.Start(session, op, 0)
	time.Sleep(30 * time.Millisecond)

	require.Equal(t, 0, tracker.InProgress())
	require.ErrorIs(t, future.Await(context.Background()).Error(), raft.ErrTimeout)

	// A result arriving after expiry is dropped.
	tracker.TrackResult(session, op, true)
	require.ErrorIs(t, future.Await(context.Background()).Error(), raft.ErrTimeout)
}
