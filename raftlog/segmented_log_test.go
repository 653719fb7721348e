package raftlog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openSegmentedLog(t *testing.T, dir string, opts ...Option) *SegmentedLog {
	t.Helper()
	log, err := NewSegmentedLog(dir, opts...)
	require.NoError(t, err)
	return log
}

func segmentFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, segmentPrefix+"*"))
	require.NoError(t, err)
	return matches
}

func TestSegmentedLogRecovery(t *testing.T) {
	dir := t.TempDir()
	large := bytes.Repeat([]byte("compressible "), 1000)

	log := openSegmentedLog(t, dir, WithCompressionThreshold(64))
	_, err := log.Append(entry(1, "a"), Entry{Term: 2, Content: large}, entry(3, "c"))
	require.NoError(t, err)
	require.NoError(t, log.Close())

	log = openSegmentedLog(t, dir)
	defer log.Close()

	require.Equal(t, int64(2), log.AppendIndex())
	require.Equal(t, int64(-1), log.PrevIndex())
	require.Equal(t, []Entry{entry(1, "a"), {Term: 2, Content: large}, entry(3, "c")}, readAll(t, log, 0))

	// The recovered term is enforced.
	_, err = log.Append(entry(2, "d"))
	require.ErrorIs(t, err, ErrNonMonotonicTerm)
}

func TestSegmentedLogCompression(t *testing.T) {
	dir := t.TempDir()
	large := bytes.Repeat([]byte{7}, 64<<10)

	log := openSegmentedLog(t, dir, WithCompressionThreshold(1024))
	defer log.Close()
	_, err := log.Append(Entry{Term: 1, Content: large})
	require.NoError(t, err)

	info, err := os.Stat(segmentPath(dir, 0))
	require.NoError(t, err)
	require.Less(t, info.Size(), int64(len(large)))

	require.Equal(t, []Entry{{Term: 1, Content: large}}, readAll(t, log, 0))
}

func TestSegmentedLogTornEntry(t *testing.T) {
	dir := t.TempDir()

	log := openSegmentedLog(t, dir)
	_, err := log.Append(entry(1, "a"), entry(1, "b"), entry(2, "c"))
	require.NoError(t, err)
	require.NoError(t, log.Close())

	path := segmentPath(dir, 0)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	log = openSegmentedLog(t, dir)
	defer log.Close()

	require.Equal(t, int64(1), log.AppendIndex())
	_, err = log.Append(entry(1, "d"))
	require.NoError(t, err)
	require.Equal(t, []Entry{entry(1, "a"), entry(1, "b"), entry(1, "d")}, readAll(t, log, 0))
}

func TestSegmentedLogCorruptSealedSegment(t *testing.T) {
	dir := t.TempDir()

	log := openSegmentedLog(t, dir, WithSegmentEntries(1))
	appendEach(t, log, entry(1, "a"), entry(1, "b"))
	require.NoError(t, log.Close())

	path := segmentPath(dir, 0)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-1))

	_, err = NewSegmentedLog(dir)
	require.ErrorIs(t, err, ErrCorruptLog)
}

func TestSegmentedLogRotationAndPrune(t *testing.T) {
	dir := t.TempDir()

	log := openSegmentedLog(t, dir, WithSegmentEntries(3))
	for i := 0; i < 10; i++ {
		appendEach(t, log, entry(int64(i), "x"))
	}
	require.Len(t, segmentFiles(t, dir), 4)

	// Segments hold 0-2, 3-5, 6-8 and 9.
	prevIndex, err := log.Prune(4)
	require.NoError(t, err)
	require.Equal(t, int64(2), prevIndex)
	require.Equal(t, int64(2), log.PrevTerm())
	require.Len(t, segmentFiles(t, dir), 3)

	prevIndex, err = log.Prune(8)
	require.NoError(t, err)
	require.Equal(t, int64(8), prevIndex)
	require.NoError(t, log.Close())

	log = openSegmentedLog(t, dir, WithSegmentEntries(3))
	defer log.Close()
	require.Equal(t, int64(8), log.PrevIndex())
	require.Equal(t, int64(8), log.PrevTerm())
	require.Equal(t, int64(9), log.AppendIndex())

	term, err := log.ReadEntryTerm(9)
	require.NoError(t, err)
	require.Equal(t, int64(9), term)
}

func TestSegmentedLogTruncateAcrossSegments(t *testing.T) {
	dir := t.TempDir()

	log := openSegmentedLog(t, dir, WithSegmentEntries(2))
	for i := 0; i < 6; i++ {
		appendEach(t, log, entry(int64(i), "x"))
	}
	require.NoError(t, log.Truncate(3))
	require.Equal(t, int64(2), log.AppendIndex())
	require.NoError(t, log.Close())

	log = openSegmentedLog(t, dir, WithSegmentEntries(2))
	defer log.Close()
	require.Equal(t, int64(2), log.AppendIndex())

	_, err := log.Append(entry(1, "y"))
	require.ErrorIs(t, err, ErrNonMonotonicTerm)

	appendIndex, err := log.Append(entry(2, "y"))
	require.NoError(t, err)
	require.Equal(t, int64(3), appendIndex)
	require.Equal(t, []Entry{entry(2, "x"), entry(2, "y")}, readAll(t, log, 2))
}

func TestSegmentedLogSkipRecovery(t *testing.T) {
	dir := t.TempDir()

	log := openSegmentedLog(t, dir)
	_, err := log.Append(entry(1, "a"), entry(1, "b"))
	require.NoError(t, err)
	_, err = log.Skip(20, 3)
	require.NoError(t, err)
	require.Len(t, segmentFiles(t, dir), 1)
	require.NoError(t, log.Close())

	log = openSegmentedLog(t, dir)
	defer log.Close()
	require.Equal(t, int64(20), log.PrevIndex())
	require.Equal(t, int64(3), log.PrevTerm())
	require.Equal(t, int64(20), log.AppendIndex())
}

func TestSegmentedLogInterruptedSkip(t *testing.T) {
	dir := t.TempDir()

	log := openSegmentedLog(t, dir)
	_, err := log.Append(entry(1, "a"), entry(1, "b"))
	require.NoError(t, err)
	require.NoError(t, log.Close())

	// A skip that created its segment but crashed before removing the old one.
	s, err := createSegment(dir, 1, 20, 3)
	require.NoError(t, err)
	require.NoError(t, s.close())

	log = openSegmentedLog(t, dir)
	defer log.Close()
	require.Equal(t, int64(20), log.PrevIndex())
	require.Equal(t, int64(20), log.AppendIndex())
	require.Len(t, segmentFiles(t, dir), 1)
}

func TestSegmentedLogRemovesTmpFiles(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "tmp-segment.5")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0o644))

	log := openSegmentedLog(t, dir)
	defer log.Close()
	require.NoFileExists(t, tmp)
}

func TestSegmentedLogCacheMiss(t *testing.T) {
	dir := t.TempDir()
	cache := NewMetadataCache(0)

	log := openSegmentedLog(t, dir, WithMetadataCache(cache), WithSegmentEntries(2))
	defer log.Close()
	for i := 0; i < 5; i++ {
		appendEach(t, log, entry(int64(i), "x"))
	}

	// Terms and entries are found by scanning once the cache has lost them.
	cache.Clear()
	for i := int64(0); i < 5; i++ {
		term, err := log.ReadEntryTerm(i)
		require.NoError(t, err)
		require.Equal(t, i, term)
	}
	require.Len(t, readAll(t, log, 0), 5)
}

func TestSegmentedLogClosed(t *testing.T) {
	log := openSegmentedLog(t, t.TempDir())
	require.NoError(t, log.Close())
	require.NoError(t, log.Close())

	_, err := log.Append(entry(1, "a"))
	require.ErrorIs(t, err, ErrLogClosed)
	_, err = log.EntryCursor(0)
	require.ErrorIs(t, err, ErrLogClosed)
}

func TestBoltLogRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft.db")

	log, err := NewBoltLog(path)
	require.NoError(t, err)
	_, err = log.Append(entry(1, "a"), entry(2, "b"), entry(2, "c"))
	require.NoError(t, err)
	_, err = log.Prune(0)
	require.NoError(t, err)
	require.NoError(t, log.Close())

	log, err = NewBoltLog(path)
	require.NoError(t, err)
	defer log.Close()

	require.Equal(t, int64(0), log.PrevIndex())
	require.Equal(t, int64(1), log.PrevTerm())
	require.Equal(t, int64(2), log.AppendIndex())
	require.Equal(t, []Entry{entry(2, "b"), entry(2, "c")}, readAll(t, log, 1))

	_, err = log.Append(entry(1, "d"))
	require.ErrorIs(t, err, ErrNonMonotonicTerm)
}

func TestBoltLogSkipRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft.db")

	log, err := NewBoltLog(path)
	require.NoError(t, err)
	_, err = log.Append(entry(1, "a"))
	require.NoError(t, err)
	_, err = log.Skip(7, 2)
	require.NoError(t, err)
	require.NoError(t, log.Close())

	log, err = NewBoltLog(path)
	require.NoError(t, err)
	defer log.Close()
	require.Equal(t, int64(7), log.PrevIndex())
	require.Equal(t, int64(2), log.PrevTerm())
	require.Equal(t, int64(7), log.AppendIndex())
}
