package statemachine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	raft "github.com/neo4j/neo4j-sub236"
)

func snapshotAt(t *testing.T, index, term int64) CoreSnapshot {
	t.Helper()
	machines, err := NewInMemoryCoreStateMachines()
	require.NoError(t, err)
	owner := raft.NewMemberID()
	machines.Sessions.Update(raft.NewGlobalSession(owner), op(0, 0), index)
	machines.LockToken.ApplyCommand(raft.LockTokenRequest{Owner: owner, ID: 0}, index, func(any) {})
	machines.IDAllocation.ApplyCommand(raft.IDAllocationRequest{IDType: raft.NodeID, RangeLength: int32(index + 1)}, index, func(any) {})
	snapshot := machines.Snapshot()
	snapshot.PrevIndex, snapshot.PrevTerm = index, term
	return snapshot
}

func TestSnapshotStorageSaveAndLatest(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSnapshotStorage(dir)
	require.NoError(t, err)

	_, _, ok, err := store.Latest()
	require.NoError(t, err)
	require.False(t, ok)

	first, err := store.Save(snapshotAt(t, 4, 1))
	require.NoError(t, err)
	require.Equal(t, int64(4), first.PrevIndex)

	second := snapshotAt(t, 12, 2)
	file, err := store.Save(second)
	require.NoError(t, err)
	require.NoFileExists(t, first.Path)

	// A reopened storage finds the latest snapshot.
	store, err = NewSnapshotStorage(dir)
	require.NoError(t, err)
	snapshot, latest, ok, err := store.Latest()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, file, latest)
	require.Equal(t, SnapshotFile{Path: file.Path, PrevIndex: 12, PrevTerm: 2}, latest)
	require.Equal(t, int64(12), snapshot.PrevIndex)
	require.Equal(t, int64(2), snapshot.PrevTerm)
	require.Equal(t, second.LockToken, snapshot.LockToken)
	require.Equal(t, second.IDAllocation, snapshot.IDAllocation)
	require.True(t, second.Sessions.Equal(snapshot.Sessions))
}

func TestSnapshotStorageRemovesTmpFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSnapshotStorage(dir)
	require.NoError(t, err)
	_, err = store.Save(snapshotAt(t, 1, 1))
	require.NoError(t, err)

	tmp := filepath.Join(dir, "snapshots", "tmp-123")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0o644))

	store, err = NewSnapshotStorage(dir)
	require.NoError(t, err)
	require.NoFileExists(t, tmp)
	_, _, ok, err := store.Latest()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSnapshotStorageCorruptSnapshot(t *testing.T) {
	store, err := NewSnapshotStorage(t.TempDir())
	require.NoError(t, err)
	file, err := store.Save(snapshotAt(t, 3, 1))
	require.NoError(t, err)

	contents, err := os.ReadFile(file.Path)
	require.NoError(t, err)
	contents[10] ^= 0xff
	require.NoError(t, os.WriteFile(file.Path, contents, 0o644))

	_, _, _, err = store.Latest()
	require.ErrorContains(t, err, "corrupt")

	require.NoError(t, os.WriteFile(file.Path, contents[:4], 0o644))
	_, _, _, err = store.Latest()
	require.Error(t, err)
}
