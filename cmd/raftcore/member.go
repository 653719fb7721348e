package main

import (
	"context"
	"errors"

	raft "github.com/neo4j/neo4j-sub236"
	"github.com/neo4j/neo4j-sub236/config"
	"github.com/neo4j/neo4j-sub236/internal/util"
	"github.com/neo4j/neo4j-sub236/logging"
	"github.com/neo4j/neo4j-sub236/raftlog"
	"github.com/neo4j/neo4j-sub236/replication"
	"github.com/neo4j/neo4j-sub236/statemachine"
	"github.com/neo4j/neo4j-sub236/storage"
)

const lastFlushedStateName = "last-flushed"

var (
	errVolatileMember   = errors.New("a member with a memory log keeps no state to compact")
	errNothingToCompact = errors.New("no entries have been applied")
)

// member is a single member cluster recovered from a data directory. A member
// with a memory log keeps its state machines in memory as well.
type member struct {
	id          raft.MemberID
	log         raftlog.Log
	machines    *statemachine.CoreStateMachines
	lastFlushed statemachine.StateStorage[int64]
	snapshots   *statemachine.SnapshotStorage
	tracker     *replication.ProgressTracker
	applier     *replication.CommandApplicationProcess
	replicator  *replication.LoopbackReplicator
	closers     []func() error
	logger      *logging.Logger
}

// openMember recovers the state machines and the log, then replays every entry
// appended after the last flush.
func openMember(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*member, error) {
	m := &member{logger: logger}
	if err := m.open(ctx, cfg); err != nil {
		m.close()
		return nil, err
	}
	return m, nil
}

func (m *member) open(ctx context.Context, cfg *config.Config) error {
	var err error
	if m.id, err = cfg.Member(); err != nil {
		return err
	}

	log, err := cfg.OpenLog(m.logger)
	if err != nil {
		return err
	}
	m.log = raftlog.NewMonitoredLog(log, raftlog.NewLoggingMonitor(m.logger))
	m.closers = append(m.closers, m.log.Close)

	if cfg.Log.Kind == config.MemoryLog {
		if m.machines, err = statemachine.NewInMemoryCoreStateMachines(statemachine.WithLogger(m.logger)); err != nil {
			return err
		}
		m.lastFlushed = statemachine.NewInMemoryStateStorage[int64](-1)
	} else if err := m.openDurableState(cfg); err != nil {
		return err
	}

	opts := cfg.ReplicationOptions(m.logger)
	m.tracker = replication.NewProgressTracker(cfg.Replication.Timeout)
	if m.applier, err = replication.NewCommandApplicationProcess(m.log, m.machines, m.tracker, m.lastFlushed, opts...); err != nil {
		return err
	}
	if m.snapshots != nil {
		if err := m.installSnapshot(); err != nil {
			return err
		}
	}
	if err := m.applier.Start(); err != nil {
		return err
	}

	// Every entry of a single member log is committed.
	appendIndex := m.log.AppendIndex()
	m.applier.NotifyCommitted(appendIndex)
	if err := m.applier.AwaitApplied(ctx, appendIndex); err != nil {
		return err
	}

	term, err := m.lastTerm()
	if err != nil {
		return err
	}
	m.replicator, err = replication.NewLoopbackReplicator(m.id, m.log, m.applier, m.tracker, util.Max(term, cfg.Replication.Term), opts...)
	return err
}

func (m *member) openDurableState(cfg *config.Config) error {
	machines, err := statemachine.OpenDurableCoreStateMachines(cfg.StateDir(), cfg.Rotation(), m.logger)
	if err != nil {
		return err
	}
	m.machines = machines
	m.closers = append(m.closers, machines.Close)

	if m.snapshots, err = statemachine.NewSnapshotStorage(cfg.Dir, statemachine.WithLogger(m.logger)); err != nil {
		return err
	}

	lastFlushed, err := storage.NewDurableStateStorage[int64](
		cfg.StateDir(),
		lastFlushedStateName,
		storage.Int64Marshal{Start: -1},
		cfg.State.LockTokenRotation,
		storage.WithLogger(m.logger),
	)
	if err != nil {
		return err
	}
	m.lastFlushed = lastFlushed
	m.closers = append(m.closers, lastFlushed.Close)
	return nil
}

// installSnapshot hands the latest snapshot to the applier, which installs it if
// the state machines were flushed before it. A log that ends before the
// snapshot is skipped past it.
func (m *member) installSnapshot() error {
	snapshot, file, ok, err := m.snapshots.Latest()
	if err != nil || !ok {
		return err
	}

	installed, err := m.applier.InstallSnapshot(snapshot)
	if err != nil {
		return err
	}
	if installed {
		m.logger.Infof("restored state from %s", file.Path)
	}
	if m.log.AppendIndex() < snapshot.PrevIndex {
		if _, err := m.log.Skip(snapshot.PrevIndex, snapshot.PrevTerm); err != nil {
			return err
		}
	}
	return nil
}

// compact stores a snapshot of the state machines at the last applied entry and
// prunes the log up to it.
func (m *member) compact() (statemachine.SnapshotFile, int64, error) {
	if m.snapshots == nil {
		return statemachine.SnapshotFile{}, 0, errVolatileMember
	}
	snapshot, err := m.applier.Snapshot()
	if err != nil {
		return statemachine.SnapshotFile{}, 0, err
	}
	if snapshot.PrevIndex < 0 {
		return statemachine.SnapshotFile{}, 0, errNothingToCompact
	}

	file, err := m.snapshots.Save(snapshot)
	if err != nil {
		return file, 0, err
	}
	pruned, err := m.log.Prune(snapshot.PrevIndex)
	return file, pruned, err
}

func (m *member) lastTerm() (int64, error) {
	if m.log.AppendIndex() == m.log.PrevIndex() {
		return m.log.PrevTerm(), nil
	}
	return m.log.ReadEntryTerm(m.log.AppendIndex())
}

// close stops applying entries and closes everything that was opened, in
// reverse order.
func (m *member) close() error {
	var firstErr error
	if m.applier != nil {
		firstErr = m.applier.Stop()
	}
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.closers = nil
	return firstErr
}
