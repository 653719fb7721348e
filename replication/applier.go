package replication

import (
	"context"
	"sync"

	raft "github.com/neo4j/neo4j-sub236"
	"github.com/neo4j/neo4j-sub236/internal/errors"
	"github.com/neo4j/neo4j-sub236/internal/util"
	"github.com/neo4j/neo4j-sub236/logging"
	"github.com/neo4j/neo4j-sub236/raftlog"
	"github.com/neo4j/neo4j-sub236/statemachine"
)

// Error strings.
const (
	errAlreadyStarted = "command application process already started"
	errMissingEntries = "log starts after index %d but state was only applied up to %d"
	errFailedApply    = "failed to apply entries after index %d"
	errStopped        = "stopped before index %d was applied"
	errNotStarted     = "command application process is not running"
	errSnapshotTerm   = "failed to read the term of applied index %d"
)

// CommandApplicationProcess applies committed entries of the log to the state
// machines on a single goroutine, strictly in index order. Distributed
// operations are deduplicated through the session tracker and their results
// are delivered to the progress tracker. The state machines are flushed every
// configured number of commands, after which the last flushed index is stored.
//
// This implementation is concurrent safe.
type CommandApplicationProcess struct {
	log         raftlog.Log
	machines    *statemachine.CoreStateMachines
	tracker     *ProgressTracker
	lastFlushed statemachine.StateStorage[int64]

	flushEvery int
	sinceFlush int

	// The highest index known to be committed.
	commitIndex int64

	// The index of the last applied entry.
	lastApplied int64

	// The index of the last installed snapshot.
	installed int64

	// Set while entries are applied without the mutex held.
	applying bool

	// Signalled when the commit index advances or the process stops.
	applyCond *sync.Cond

	// Closed and replaced when the last applied index advances or the process stops.
	advanced chan struct{}

	started bool
	stopped bool

	logger *logging.Logger
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCommandApplicationProcess creates a process that applies entries of log to
// machines. The index stored in lastFlushed is where application resumes.
func NewCommandApplicationProcess(
	log raftlog.Log,
	machines *statemachine.CoreStateMachines,
	tracker *ProgressTracker,
	lastFlushed statemachine.StateStorage[int64],
	opts ...Option,
) (*CommandApplicationProcess, error) {
	options, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	p := &CommandApplicationProcess{
		log:         log,
		machines:    machines,
		tracker:     tracker,
		lastFlushed: lastFlushed,
		flushEvery:  options.flushEvery,
		commitIndex: -1,
		lastApplied: -1,
		installed:   -1,
		advanced:    make(chan struct{}),
		logger:      options.logger.Named("applier"),
	}
	p.applyCond = sync.NewCond(&p.mu)
	return p, nil
}

// InstallSnapshot replaces the state machines with snapshot if it includes
// entries after the last flushed index, and records it as flushed. It reports
// whether the snapshot was installed and must be called before Start.
func (p *CommandApplicationProcess) InstallSnapshot(snapshot statemachine.CoreSnapshot) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return false, errors.WrapError(nil, errAlreadyStarted)
	}
	if snapshot.PrevIndex <= util.Max(p.lastFlushed.InitialState(), p.installed) {
		return false, nil
	}

	p.machines.InstallSnapshot(snapshot)
	if err := p.machines.Flush(); err != nil {
		return false, err
	}
	if err := p.lastFlushed.PersistStoreData(snapshot.PrevIndex); err != nil {
		return false, err
	}
	p.installed = snapshot.PrevIndex
	p.logger.Infof("installed snapshot at index %d", snapshot.PrevIndex)
	return true, nil
}

// Start resumes application after the last flushed or installed index.
func (p *CommandApplicationProcess) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.WrapError(nil, errAlreadyStarted)
	}

	p.lastApplied = util.Max(p.lastFlushed.InitialState(), p.installed)
	if prevIndex := p.log.PrevIndex(); prevIndex > p.lastApplied {
		// Entries before the start of the log are only in a snapshot.
		return errors.WrapError(nil, errMissingEntries, prevIndex, p.lastApplied)
	}
	if p.commitIndex < p.lastApplied {
		p.commitIndex = p.lastApplied
	}
	p.started = true

	p.wg.Add(1)
	go p.applyLoop()

	p.logger.Infof("started applying after index %d", p.lastApplied)
	return nil
}

// Stop waits for the entry being applied, flushes the state machines and stops.
func (p *CommandApplicationProcess) Stop() error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.applyCond.Broadcast()
	p.notifyAdvanced()
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracker.AbortAll(raft.ErrReplicationFailure)
	return p.flush()
}

// NotifyCommitted records that every entry up to index is committed.
func (p *CommandApplicationProcess) NotifyCommitted(index int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index > p.commitIndex {
		p.commitIndex = index
		p.applyCond.Broadcast()
	}
}

// LastApplied returns the index of the last applied entry.
func (p *CommandApplicationProcess) LastApplied() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastApplied
}

// AwaitApplied blocks until the entry at index is applied, the process stops or
// ctx is done.
func (p *CommandApplicationProcess) AwaitApplied(ctx context.Context, index int64) error {
	for {
		p.mu.Lock()
		if p.lastApplied >= index {
			p.mu.Unlock()
			return nil
		}
		if p.stopped {
			p.mu.Unlock()
			return errors.WrapError(nil, errStopped, index)
		}
		advanced := p.advanced
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-advanced:
		}
	}
}

// Flush flushes the state machines and stores the last applied index.
func (p *CommandApplicationProcess) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.awaitIdle()
	return p.flush()
}

// Snapshot flushes the state machines and returns their state together with the
// index and term of the last applied entry. No entry is applied while the state
// is read.
func (p *CommandApplicationProcess) Snapshot() (statemachine.CoreSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.stopped {
		return statemachine.CoreSnapshot{}, errors.WrapError(nil, errNotStarted)
	}
	p.awaitIdle()
	if err := p.flush(); err != nil {
		return statemachine.CoreSnapshot{}, err
	}

	snapshot := p.machines.Snapshot()
	snapshot.PrevIndex = p.lastApplied
	if p.lastApplied < 0 {
		return snapshot, nil
	}
	if p.lastApplied == p.log.PrevIndex() {
		snapshot.PrevTerm = p.log.PrevTerm()
		return snapshot, nil
	}
	term, err := p.log.ReadEntryTerm(p.lastApplied)
	if err != nil || term < 0 {
		return statemachine.CoreSnapshot{}, errors.WrapError(err, errSnapshotTerm, p.lastApplied)
	}
	snapshot.PrevTerm = term
	return snapshot, nil
}

// awaitIdle waits until the apply goroutine is not applying entries. Expects
// the mutex to be held.
func (p *CommandApplicationProcess) awaitIdle() {
	for p.applying {
		p.applyCond.Wait()
	}
}

func (p *CommandApplicationProcess) applyLoop() {
	defer p.wg.Done()

	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.stopped {
		if p.lastApplied >= p.commitIndex {
			p.applyCond.Wait()
			continue
		}

		from, to := p.lastApplied+1, p.commitIndex
		p.applying = true
		p.mu.Unlock()
		applied, err := p.applyRange(from, to)
		p.mu.Lock()
		p.applying = false
		p.applyCond.Broadcast()

		if applied >= from {
			p.lastApplied = applied
			p.sinceFlush += int(applied - from + 1)
			p.notifyAdvanced()
		}
		if p.sinceFlush >= p.flushEvery {
			if err := p.flush(); err != nil {
				p.logger.Errorf("%v", err)
			}
		}
		if err != nil {
			p.logger.Errorf("%v", errors.WrapError(err, errFailedApply, p.lastApplied))
		}
		if err != nil || applied < to {
			// The missing entries can only appear after another commit notification.
			p.applyCond.Wait()
		}
	}
}

// applyRange applies the entries from..to and returns the index of the last
// applied one. It is called without the mutex held; only the apply goroutine
// touches the state machines.
func (p *CommandApplicationProcess) applyRange(from, to int64) (int64, error) {
	applied := from - 1

	cursor, err := p.log.EntryCursor(from)
	if err != nil {
		return applied, err
	}
	defer cursor.Close()

	for applied < to {
		ok, err := cursor.Next()
		if err != nil {
			return applied, err
		}
		if !ok {
			break
		}
		p.apply(cursor.Index(), cursor.Entry())
		applied = cursor.Index()
	}

	return applied, nil
}

func (p *CommandApplicationProcess) apply(index int64, entry raftlog.Entry) {
	content, err := raft.DecodeContent(entry.Content)
	if err != nil {
		p.logger.Errorf("skipping undecodable entry at index %d: %v", index, err)
		return
	}

	operation, ok := content.(*raft.DistributedOperation)
	if !ok {
		if err := p.machines.Dispatch(content, index, func(any) {}); err != nil {
			p.logger.Errorf("skipping entry at index %d: %v", index, err)
		}
		return
	}

	sessions := p.machines.Sessions
	if !sessions.ValidateOperation(operation.Session, operation.OperationID) {
		p.logger.Debugf("skipping duplicate operation %s at index %d", operation.OperationID, index)
		sessions.Update(operation.Session, operation.OperationID, index)
		return
	}

	err = p.machines.Dispatch(operation.Content, index, func(result any) {
		p.tracker.TrackResult(operation.Session, operation.OperationID, result)
	})
	if err != nil {
		p.logger.Errorf("skipping operation at index %d: %v", index, err)
		p.tracker.Abort(operation.Session, operation.OperationID, err)
	}
	sessions.Update(operation.Session, operation.OperationID, index)
}

// Expects the mutex to be held.
func (p *CommandApplicationProcess) notifyAdvanced() {
	close(p.advanced)
	p.advanced = make(chan struct{})
}

// flush expects the mutex to be held.
func (p *CommandApplicationProcess) flush() error {
	if err := p.machines.Flush(); err != nil {
		return err
	}
	if err := p.lastFlushed.PersistStoreData(p.lastApplied); err != nil {
		return err
	}
	p.sinceFlush = 0
	p.logger.Debugf("flushed state machines at index %d", p.lastApplied)
	return nil
}
