package raftlog

import (
	"github.com/neo4j/neo4j-sub236/internal/errors"
)

// Error strings.
const (
	errNonMonotonicTerm     = "non-monotonic term %d for entry %d, expected at least %d"
	errTruncateCommitted    = "truncate from %d is at or before the commit index %d"
	errTruncateBeyondAppend = "truncate from %d is beyond the append index %d"
	errTruncatePruned       = "truncate from %d is at or before the previous index %d"
)

// bounds tracks the indices that every log implementation maintains and
// validates mutations against them. It is not concurrent safe.
type bounds struct {
	prevIndex   int64
	prevTerm    int64
	appendIndex int64
	commitIndex int64

	// The term of the last entry, or prevTerm if the log holds no entries.
	term int64
}

func newBounds() bounds {
	return bounds{prevIndex: -1, prevTerm: -1, appendIndex: -1, commitIndex: -1, term: -1}
}

// checkAppend verifies that entries do not regress in term.
func (b *bounds) checkAppend(entries []Entry) error {
	term := b.term
	for i, entry := range entries {
		if entry.Term < term {
			return errors.WrapError(ErrNonMonotonicTerm, errNonMonotonicTerm,
				entry.Term, b.appendIndex+int64(i)+1, term)
		}
		term = entry.Term
	}
	return nil
}

// checkTruncate verifies a truncation from the provided index. noop is true
// when there is nothing to remove.
func (b *bounds) checkTruncate(from int64) (noop bool, err error) {
	if from <= b.commitIndex {
		return false, errors.WrapError(ErrTruncateCommitted, errTruncateCommitted, from, b.commitIndex)
	}
	if from > b.appendIndex+1 {
		return false, errors.WrapError(ErrTruncateBeyondAppendIndex, errTruncateBeyondAppend, from, b.appendIndex)
	}
	return from == b.appendIndex+1, nil
}

// contains reports whether the log holds the entry at index.
func (b *bounds) contains(index int64) bool {
	return index > b.prevIndex && index <= b.appendIndex
}

// markCommitted advances the commit index.
func (b *bounds) markCommitted(index int64) {
	if index > b.commitIndex {
		b.commitIndex = index
	}
}

// pruneTarget clamps a prune request to the entries the log holds. ok is false
// when nothing can be pruned.
func (b *bounds) pruneTarget(safeIndex int64) (target int64, ok bool) {
	if safeIndex > b.appendIndex {
		safeIndex = b.appendIndex
	}
	return safeIndex, safeIndex > b.prevIndex
}

// skip moves every index to the provided position.
func (b *bounds) skip(index, term int64) {
	b.prevIndex = index
	b.prevTerm = term
	b.appendIndex = index
	b.term = term
}
