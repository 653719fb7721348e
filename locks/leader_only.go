package locks

import (
	"context"
	"sync"

	raft "github.com/neo4j/neo4j-sub236"
	"github.com/neo4j/neo4j-sub236/logging"
)

// TokenHolder reports the lock token most recently accepted by the cluster.
// It is satisfied by statemachine.LockTokenStateMachine.
type TokenHolder interface {
	CurrentToken() raft.LockTokenRequest
}

// LeaderOnlyLockManager only lets the member holding the replicated lock token
// take exclusive locks. The token is acquired through replication the first
// time a client locks exclusively and validated against the replicated state on
// every later exclusive lock. Shared locks are never gated.
//
// Members are trusted to have unique ids: a member whose id equals the token
// owner adopts the token without replicating anything.
type LeaderOnlyLockManager struct {
	self          raft.MemberID
	replicator    raft.Replicator
	leaderLocator raft.LeaderLocator
	tokens        TokenHolder
	local         Locker
	logger        *logging.Logger
}

// NewLeaderOnlyLockManager creates a lock manager for member self that
// delegates to the local lock manager once the lock token is held.
func NewLeaderOnlyLockManager(
	self raft.MemberID,
	replicator raft.Replicator,
	leaderLocator raft.LeaderLocator,
	tokens TokenHolder,
	local Locker,
	opts ...Option,
) (*LeaderOnlyLockManager, error) {
	options, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &LeaderOnlyLockManager{
		self:          self,
		replicator:    replicator,
		leaderLocator: leaderLocator,
		tokens:        tokens,
		local:         local,
		logger:        options.logger.Named("lock-manager"),
	}, nil
}

// NewClient creates a client that has not acquired the lock token yet.
func (m *LeaderOnlyLockManager) NewClient() Client {
	return &leaderOnlyClient{
		manager:  m,
		delegate: m.local.NewClient(),
		tokenID:  raft.InvalidLockTokenID,
	}
}

// acquireToken returns the id of a token owned by this member, replicating a
// request for the next token if necessary.
func (m *LeaderOnlyLockManager) acquireToken(ctx context.Context) (int64, error) {
	current := m.tokens.CurrentToken()
	if current.Owner == m.self {
		return current.ID, nil
	}

	if err := m.ensureLeader(); err != nil {
		return raft.InvalidLockTokenID, err
	}

	candidate := raft.LockTokenRequest{Owner: m.self, ID: raft.NextCandidateID(current.ID)}
	future, err := m.replicator.Replicate(ctx, &candidate, true)
	if err != nil {
		return raft.InvalidLockTokenID, m.replicationError(ctx, err, candidate)
	}
	result := future.Await(ctx)
	if err := result.Error(); err != nil {
		return raft.InvalidLockTokenID, m.replicationError(ctx, err, candidate)
	}
	if accepted, _ := result.Success().(bool); !accepted {
		return raft.InvalidLockTokenID, newLockError(NotALeader, nil, "candidate token %d was rejected", candidate.ID)
	}

	m.logger.Infof("acquired lock token %d", candidate.ID)
	return candidate.ID, nil
}

func (m *LeaderOnlyLockManager) ensureLeader() error {
	leader, err := m.leaderLocator.Leader()
	if err != nil {
		return newLockError(NoLeaderAvailable, err, "could not acquire lock token")
	}
	if leader != m.self {
		return newLockError(NotALeader, nil, "should only attempt to take locks when leader, leader is %s", leader)
	}
	return nil
}

func (m *LeaderOnlyLockManager) replicationError(ctx context.Context, err error, candidate raft.LockTokenRequest) *LockError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return newLockError(Interrupted, ctxErr, "stopped waiting for lock token %d", candidate.ID)
	}
	m.logger.Warnf("failed to replicate lock token %d: %v", candidate.ID, err)
	return newLockError(ReplicationFailure, err, "failed to replicate lock token %d", candidate.ID)
}

type leaderOnlyClient struct {
	manager  *LeaderOnlyLockManager
	delegate Client

	// The id of the token this client validated, InvalidLockTokenID if none.
	tokenID int64

	mu sync.Mutex
}

// ensureHoldingToken acquires the lock token on first use and afterwards checks
// that no other member acquired a newer one. A lost token is forgotten so that
// a later call acquires a fresh one.
func (c *leaderOnlyClient) ensureHoldingToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tokenID == raft.InvalidLockTokenID {
		id, err := c.manager.acquireToken(ctx)
		if err != nil {
			return err
		}
		c.tokenID = id
		return nil
	}

	if current := c.manager.tokens.CurrentToken(); current.ID != c.tokenID {
		held := c.tokenID
		c.tokenID = raft.InvalidLockTokenID
		c.manager.logger.Warnf("lock token %d was replaced by %s", held, current)
		return newLockError(LostToken, nil, "held token %d but current token is %d", held, current.ID)
	}
	return nil
}

func (c *leaderOnlyClient) AcquireExclusive(ctx context.Context, rt ResourceType, ids ...int64) error {
	if err := c.ensureHoldingToken(ctx); err != nil {
		return err
	}
	return c.delegate.AcquireExclusive(ctx, rt, ids...)
}

func (c *leaderOnlyClient) TryExclusive(rt ResourceType, id int64) (bool, error) {
	if err := c.ensureHoldingToken(context.Background()); err != nil {
		return false, err
	}
	return c.delegate.TryExclusive(rt, id)
}

func (c *leaderOnlyClient) ReleaseExclusive(rt ResourceType, ids ...int64) error {
	return c.delegate.ReleaseExclusive(rt, ids...)
}

func (c *leaderOnlyClient) AcquireShared(ctx context.Context, rt ResourceType, ids ...int64) error {
	return c.delegate.AcquireShared(ctx, rt, ids...)
}

func (c *leaderOnlyClient) TryShared(rt ResourceType, id int64) (bool, error) {
	return c.delegate.TryShared(rt, id)
}

func (c *leaderOnlyClient) ReleaseShared(rt ResourceType, ids ...int64) error {
	return c.delegate.ReleaseShared(rt, ids...)
}

func (c *leaderOnlyClient) ActiveLockCount() int {
	return c.delegate.ActiveLockCount()
}

func (c *leaderOnlyClient) Close() {
	c.delegate.Close()
}
