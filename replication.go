package raft

import (
	"context"
	"errors"
)

var (
	// ErrNoLeaderFound is returned by a LeaderLocator that does not currently know
	// of a leader.
	ErrNoLeaderFound = errors.New("no leader found")

	// ErrReplicationFailure is returned when content could not be replicated, for
	// example because the member lost its connection to the rest of the cluster.
	ErrReplicationFailure = errors.New("replication failure")
)

// Replicator gets content durably ordered across the cluster. It is implemented
// by the consensus layer.
type Replicator interface {
	// Replicate proposes content to the cluster. When trackResult is true the
	// returned future completes with the result that the state machine produced
	// when the content was applied; otherwise it completes once the content is
	// committed. Errors returned directly mean the content was not proposed.
	Replicate(ctx context.Context, content Content, trackResult bool) (Future[any], error)
}

// LeaderLocator reports the current leader of the cluster.
type LeaderLocator interface {
	// Leader returns the member believed to be the leader or ErrNoLeaderFound.
	Leader() (MemberID, error)
}
