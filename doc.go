/*
Package raft holds the domain model shared by the replicated log and the state
machines of a clustered database's consensus layer, along with the contracts of
the collaborators this layer consumes.

The layer durably records the sequence of commands the cluster agreed upon,
applies them exactly once and in log order to a small set of state machines, and
survives crashes, partial writes and restarts without losing or duplicating
committed state. Deciding which entries are committed is the job of the
consensus protocol, which is not part of this module.

# Replicated content

Everything written to the log is Content: a closed set of types encoded with
EncodeContent and decoded with DecodeContent.

	*LockTokenRequest     asks for the lock token under the next generation id
	*IDAllocationRequest  asks for a range of ids of one IDType
	*DistributedOperation wraps content issued under a GlobalSession
	*NewLeaderBarrier     is appended by a new leader and has no effect

A DistributedOperation carries the GlobalSession of the member that issued it and
a LocalOperationID. The session tracker in package statemachine uses them to
apply every operation at most once, even when the log redelivers it.

# Collaborators

A Replicator gets content ordered across the cluster and hands back a Future for
the result the state machine produced when applying it:

	future, err := replicator.Replicate(ctx, &raft.LockTokenRequest{Owner: self, ID: next}, true)
	if err != nil {
		return err
	}
	result := future.Await(ctx)
	if err := result.Error(); err != nil {
		return err
	}
	accepted := result.Success().(bool)

A LeaderLocator reports which member currently leads the cluster. Package
replication provides a loopback Replicator and a static LeaderLocator for single
member clusters.

# Packages

	raftlog       the replicated log: in memory, segmented files or bbolt
	storage       durable state storage over two alternating files
	statemachine  session tracker, lock token and id allocation state machines
	replication   progress tracking, the command application process, id ranges
	locks         the leader only lock manager and a local lock manager
	config        YAML configuration of a member
	logging       levelled logging used by every package
*/
package raft
