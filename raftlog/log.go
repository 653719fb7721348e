// Package raftlog contains the replicated log: an append-only sequence of
// (term, content) entries addressed by index that supports truncation of
// uncommitted suffixes, pruning of prefixes and skipping ahead after a snapshot.
package raftlog

import (
	"github.com/neo4j/neo4j-sub236/internal/errors"
)

var (
	// ErrNonMonotonicTerm is returned when an entry has a lower term than the log.
	ErrNonMonotonicTerm = errors.New("entry term is lower than the term of the log")

	// ErrTruncateCommitted is returned when a truncation would remove committed entries.
	ErrTruncateCommitted = errors.New("cannot truncate committed entries")

	// ErrTruncateBeyondAppendIndex is returned when a truncation starts past the end of the log.
	ErrTruncateBeyondAppendIndex = errors.New("cannot truncate beyond the append index")

	// ErrIndexPruned is returned when an operation addresses an entry that was pruned.
	ErrIndexPruned = errors.New("index has been pruned")

	// ErrLogClosed is returned by operations on a closed log.
	ErrLogClosed = errors.New("log is closed")

	// ErrCorruptLog is returned when a durable log holds data that cannot be a crash artifact.
	ErrCorruptLog = errors.New("log is corrupt")
)

// Entry is a single entry of the replicated log. The content is opaque to the log.
type Entry struct {
	Term    int64
	Content []byte
}

// Log is the replicated log. Index -1 denotes "none": an empty log that was
// never pruned has an append index, previous index and previous term of -1.
//
// Implementations are concurrent safe.
type Log interface {
	// AppendIndex returns the index of the last appended entry.
	AppendIndex() int64

	// PrevIndex returns the index preceding the first entry held by the log.
	PrevIndex() int64

	// PrevTerm returns the term of the entry at PrevIndex.
	PrevTerm() int64

	// ReadEntryTerm returns the term of the entry at index, or -1 if the log
	// holds no such entry.
	ReadEntryTerm(index int64) (int64, error)

	// EntryCursor returns a cursor positioned before fromIndex.
	EntryCursor(fromIndex int64) (Cursor, error)

	// Append appends entries and returns the new append index. Entries must not
	// regress in term.
	Append(entries ...Entry) (int64, error)

	// Truncate removes all entries at or after fromIndex.
	Truncate(fromIndex int64) error

	// Prune removes entries up to at most safeIndex and returns the resulting
	// previous index, which may be lower than requested.
	Prune(safeIndex int64) (int64, error)

	// Skip discards every entry and continues the log after index, provided
	// index is beyond the append index. It returns the append index.
	Skip(index, term int64) (int64, error)

	// MarkCommitted records that every entry up to index is committed.
	MarkCommitted(index int64)

	// Close releases the resources held by the log.
	Close() error
}

// Cursor reads entries in index order. Each call to Next advances by one
// position. A cursor never blocks writers and reports the end when the entry it
// would move to has been truncated or pruned.
type Cursor interface {
	// Next advances the cursor and reports whether an entry is available.
	Next() (bool, error)

	// Index returns the index of the current entry.
	Index() int64

	// Entry returns the current entry.
	Entry() Entry

	// Close releases the cursor.
	Close() error
}
