package replication

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	raft "github.com/neo4j/neo4j-sub236"
)

// ProgressTracker matches the results produced by the state machines to the
// futures of the operations that were replicated by this member. Operations
// whose result does not arrive within the expiry are failed with raft.ErrTimeout.
//
// This implementation is concurrent safe.
type ProgressTracker struct {
	inProgress *cache.Cache
}

// NewProgressTracker creates a tracker that expires operations after expiry.
// Expired operations are collected whenever an operation starts, so the tracker
// runs no goroutines of its own.
func NewProgressTracker(expiry time.Duration) *ProgressTracker {
	if expiry <= 0 {
		expiry = cache.NoExpiration
	}
	inProgress := cache.New(expiry, 0)
	inProgress.OnEvicted(func(_ string, value interface{}) {
		// Completed operations are deleted after responding, which makes this a no-op.
		value.(*raft.ResponseFuture[any]).Respond(nil, raft.ErrTimeout)
	})
	return &ProgressTracker{inProgress: inProgress}
}

func operationKey(session raft.GlobalSession, op raft.LocalOperationID) string {
	return fmt.Sprintf("%s/%d/%d", session.SessionID, op.LocalSessionID, op.SequenceNumber)
}

// Start begins tracking an operation and returns the future its result is delivered to.
func (p *ProgressTracker) Start(session raft.GlobalSession, op raft.LocalOperationID, timeout time.Duration) *raft.ResponseFuture[any] {
	p.inProgress.DeleteExpired()
	future := raft.NewFuture[any](timeout)
	p.inProgress.Set(operationKey(session, op), future, cache.DefaultExpiration)
	return future
}

// TrackResult delivers the result of an operation. Results of operations that
// are not tracked, such as those issued by other members, are ignored.
func (p *ProgressTracker) TrackResult(session raft.GlobalSession, op raft.LocalOperationID, result any) {
	p.complete(operationKey(session, op), result, nil)
}

// Abort fails an operation with err.
func (p *ProgressTracker) Abort(session raft.GlobalSession, op raft.LocalOperationID, err error) {
	p.complete(operationKey(session, op), nil, err)
}

// AbortAll fails every tracked operation with err.
func (p *ProgressTracker) AbortAll(err error) {
	for key := range p.inProgress.Items() {
		p.complete(key, nil, err)
	}
}

// InProgress returns the number of tracked operations.
func (p *ProgressTracker) InProgress() int {
	p.inProgress.DeleteExpired()
	return p.inProgress.ItemCount()
}

func (p *ProgressTracker) complete(key string, result any, err error) {
	value, ok := p.inProgress.Get(key)
	if !ok {
		return
	}
	value.(*raft.ResponseFuture[any]).Respond(result, err)
	p.inProgress.Delete(key)
}
