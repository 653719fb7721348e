package replication

import (
	"context"
	"sync"
	"time"

	raft "github.com/neo4j/neo4j-sub236"
	"github.com/neo4j/neo4j-sub236/internal/errors"
	"github.com/neo4j/neo4j-sub236/logging"
	"github.com/neo4j/neo4j-sub236/raftlog"
)

const errFailedReplicate = "failed to replicate %s"

// LoopbackReplicator replicates content in a single member cluster: content is
// appended to the local log, which commits it immediately, and handed to the
// command application process. Every call is made under a global session of the
// member with a single local session.
//
// This implementation is concurrent safe.
type LoopbackReplicator struct {
	log     raftlog.Log
	applier *CommandApplicationProcess
	tracker *ProgressTracker
	session raft.GlobalSession

	// The term entries are appended at.
	term int64

	// The sequence number of the next operation of the local session.
	nextSequence int64

	timeout time.Duration
	logger  *logging.Logger
	mu      sync.Mutex
}

// NewLoopbackReplicator creates a replicator for member that appends to log at
// the provided term.
func NewLoopbackReplicator(
	member raft.MemberID,
	log raftlog.Log,
	applier *CommandApplicationProcess,
	tracker *ProgressTracker,
	term int64,
	opts ...Option,
) (*LoopbackReplicator, error) {
	options, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &LoopbackReplicator{
		log:     log,
		applier: applier,
		tracker: tracker,
		session: raft.NewGlobalSession(member),
		term:    term,
		timeout: options.timeout,
		logger:  options.logger.Named("replicator"),
	}, nil
}

// Replicate appends content to the log. With trackResult the returned future
// completes with the result of applying the content, otherwise it is already
// complete.
func (r *LoopbackReplicator) Replicate(ctx context.Context, content raft.Content, trackResult bool) (raft.Future[any], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	operation := &raft.DistributedOperation{
		Content: content,
		Session: r.session,
		OperationID: raft.LocalOperationID{
			LocalSessionID: 0,
			SequenceNumber: r.nextSequence,
		},
	}
	data, err := raft.EncodeContent(operation)
	if err != nil {
		return nil, errors.WrapError(err, errFailedReplicate, content.ContentType())
	}

	var future *raft.ResponseFuture[any]
	if trackResult {
		future = r.tracker.Start(operation.Session, operation.OperationID, r.timeout)
	} else {
		future = raft.NewFuture[any](r.timeout)
		future.Respond(nil, nil)
	}

	index, err := r.log.Append(raftlog.Entry{Term: r.term, Content: data})
	if err != nil {
		r.tracker.Abort(operation.Session, operation.OperationID, err)
		return nil, errors.WrapError(raft.ErrReplicationFailure, errFailedReplicate+": %v", content.ContentType(), err)
	}
	r.nextSequence++

	r.log.MarkCommitted(index)
	r.applier.NotifyCommitted(index)

	r.logger.Debugf("replicated %s at index %d", content.ContentType(), index)
	return future, nil
}

// StaticLeaderLocator always reports the same leader. The zero MemberID means
// that no leader is known.
type StaticLeaderLocator struct {
	leader raft.MemberID
}

// NewStaticLeaderLocator creates a locator reporting leader.
func NewStaticLeaderLocator(leader raft.MemberID) *StaticLeaderLocator {
	return &StaticLeaderLocator{leader: leader}
}

func (l *StaticLeaderLocator) Leader() (raft.MemberID, error) {
	if l.leader.IsZero() {
		return raft.MemberID{}, raft.ErrNoLeaderFound
	}
	return l.leader, nil
}
