package locks

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClientClosed is returned when a closed client is used.
	ErrClientClosed = errors.New("lock client is closed")

	// ErrNotLocked is returned when a client releases a lock it does not hold.
	ErrNotLocked = errors.New("resource is not locked by this client")
)

// ResourceType identifies a kind of lockable resource.
type ResourceType int

// Locker hands out lock clients.
type Locker interface {
	// NewClient creates a client. Locks are owned by the client that acquired them.
	NewClient() Client
}

// Client acquires and releases locks on behalf of a single transaction. Locks
// are reentrant: each acquisition must be matched by a release.
type Client interface {
	// AcquireExclusive blocks until the client holds an exclusive lock on every id.
	AcquireExclusive(ctx context.Context, rt ResourceType, ids ...int64) error

	// TryExclusive takes an exclusive lock on id if it is immediately available.
	TryExclusive(rt ResourceType, id int64) (bool, error)

	// ReleaseExclusive releases one exclusive lock on every id.
	ReleaseExclusive(rt ResourceType, ids ...int64) error

	// AcquireShared blocks until the client holds a shared lock on every id.
	AcquireShared(ctx context.Context, rt ResourceType, ids ...int64) error

	// TryShared takes a shared lock on id if it is immediately available.
	TryShared(rt ResourceType, id int64) (bool, error)

	// ReleaseShared releases one shared lock on every id.
	ReleaseShared(rt ResourceType, ids ...int64) error

	// ActiveLockCount returns the number of resources the client holds a lock on,
	// counting shared and exclusive locks separately.
	ActiveLockCount() int

	// Close releases every lock held by the client.
	Close()
}

type resource struct {
	rt ResourceType
	id int64
}

type lockState struct {
	// The client holding the exclusive lock, if any.
	exclusive *localClient

	// The number of distinct clients holding a shared lock.
	sharers int
}

// LocalLockManager grants shared and exclusive locks on resources of this
// member only. An exclusive lock excludes every lock of other clients; a client
// holding the only shared lock on a resource may also lock it exclusively.
//
// This implementation is concurrent safe.
type LocalLockManager struct {
	locks map[resource]*lockState

	// Closed and replaced whenever a lock is released.
	released chan struct{}

	mu sync.Mutex
}

// NewLocalLockManager creates a lock manager without any locks.
func NewLocalLockManager() *LocalLockManager {
	return &LocalLockManager{
		locks:    make(map[resource]*lockState),
		released: make(chan struct{}),
	}
}

// NewClient creates a client of the lock manager.
func (m *LocalLockManager) NewClient() Client {
	return &localClient{
		manager:   m,
		exclusive: make(map[resource]int),
		shared:    make(map[resource]int),
	}
}

// localClient keeps its hold counts under the manager's mutex.
type localClient struct {
	manager   *LocalLockManager
	exclusive map[resource]int
	shared    map[resource]int
	closed    bool
}

func (c *localClient) AcquireExclusive(ctx context.Context, rt ResourceType, ids ...int64) error {
	return c.acquireAll(ctx, rt, ids, true)
}

func (c *localClient) TryExclusive(rt ResourceType, id int64) (bool, error) {
	return c.try(resource{rt: rt, id: id}, true)
}

func (c *localClient) ReleaseExclusive(rt ResourceType, ids ...int64) error {
	return c.releaseAll(rt, ids, true)
}

func (c *localClient) AcquireShared(ctx context.Context, rt ResourceType, ids ...int64) error {
	return c.acquireAll(ctx, rt, ids, false)
}

func (c *localClient) TryShared(rt ResourceType, id int64) (bool, error) {
	return c.try(resource{rt: rt, id: id}, false)
}

func (c *localClient) ReleaseShared(rt ResourceType, ids ...int64) error {
	return c.releaseAll(rt, ids, false)
}

func (c *localClient) ActiveLockCount() int {
	c.manager.mu.Lock()
	defer c.manager.mu.Unlock()
	return len(c.exclusive) + len(c.shared)
}

func (c *localClient) Close() {
	m := c.manager
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for r := range c.exclusive {
		c.exclusive[r] = 1
		c.release(r, true)
	}
	for r := range c.shared {
		c.shared[r] = 1
		c.release(r, false)
	}
	m.notifyReleased()
}

func (c *localClient) acquireAll(ctx context.Context, rt ResourceType, ids []int64, exclusive bool) error {
	for i, id := range ids {
		if err := c.acquire(ctx, resource{rt: rt, id: id}, exclusive); err != nil {
			// Locks taken by this call are given back.
			if i > 0 {
				_ = c.releaseAll(rt, ids[:i], exclusive)
			}
			return err
		}
	}
	return nil
}

func (c *localClient) acquire(ctx context.Context, r resource, exclusive bool) error {
	m := c.manager
	for {
		m.mu.Lock()
		if c.closed {
			m.mu.Unlock()
			return ErrClientClosed
		}
		if c.grant(r, exclusive) {
			m.mu.Unlock()
			return nil
		}
		released := m.released
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-released:
		}
	}
}

func (c *localClient) try(r resource, exclusive bool) (bool, error) {
	m := c.manager
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.closed {
		return false, ErrClientClosed
	}
	return c.grant(r, exclusive), nil
}

func (c *localClient) releaseAll(rt ResourceType, ids []int64, exclusive bool) error {
	m := c.manager
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	held := c.shared
	if exclusive {
		held = c.exclusive
	}
	for _, id := range ids {
		if held[resource{rt: rt, id: id}] == 0 {
			return ErrNotLocked
		}
	}
	for _, id := range ids {
		c.release(resource{rt: rt, id: id}, exclusive)
	}
	m.notifyReleased()
	return nil
}

// grant takes the lock if it is compatible with the locks of other clients.
// Expects the mutex to be held.
func (c *localClient) grant(r resource, exclusive bool) bool {
	m := c.manager
	state := m.locks[r]
	if state == nil {
		state = &lockState{}
	}

	if state.exclusive != nil && state.exclusive != c {
		return false
	}
	if exclusive {
		if state.sharers > 1 || (state.sharers == 1 && c.shared[r] == 0) {
			return false
		}
		state.exclusive = c
		c.exclusive[r]++
	} else {
		if c.shared[r] == 0 {
			state.sharers++
		}
		c.shared[r]++
	}

	m.locks[r] = state
	return true
}

// release drops one hold of r. Expects the mutex to be held.
func (c *localClient) release(r resource, exclusive bool) {
	m := c.manager
	state := m.locks[r]

	if exclusive {
		if c.exclusive[r]--; c.exclusive[r] == 0 {
			delete(c.exclusive, r)
			state.exclusive = nil
		}
	} else {
		if c.shared[r]--; c.shared[r] == 0 {
			delete(c.shared, r)
			state.sharers--
		}
	}

	if state.exclusive == nil && state.sharers == 0 {
		delete(m.locks, r)
	}
}

// notifyReleased wakes every waiting client. Expects the mutex to be held.
func (m *LocalLockManager) notifyReleased() {
	close(m.released)
	m.released = make(chan struct{})
}

// LockedResources returns the number of resources locked by any client.
func (m *LocalLockManager) LockedResources() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
