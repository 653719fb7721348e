package raftlog

import (
	"sync"

	"github.com/neo4j/neo4j-sub236/logging"
)

// InMemoryLog is a Log that keeps its entries in memory.
//
// This implementation is concurrent safe.
type InMemoryLog struct {
	entries map[int64]Entry
	bounds  bounds
	logger  *logging.Logger
	mu      sync.Mutex
}

// NewInMemoryLog creates an empty log.
func NewInMemoryLog(opts ...Option) (*InMemoryLog, error) {
	options, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &InMemoryLog{
		entries: make(map[int64]Entry),
		bounds:  newBounds(),
		logger:  options.logger.Named("log"),
	}, nil
}

func (l *InMemoryLog) AppendIndex() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bounds.appendIndex
}

func (l *InMemoryLog) PrevIndex() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bounds.prevIndex
}

func (l *InMemoryLog) PrevTerm() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bounds.prevTerm
}

func (l *InMemoryLog) ReadEntryTerm(index int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.entries[index]; ok {
		return entry.Term, nil
	}
	return -1, nil
}

func (l *InMemoryLog) EntryCursor(fromIndex int64) (Cursor, error) {
	return &inMemoryCursor{log: l, next: fromIndex, index: fromIndex - 1}, nil
}

func (l *InMemoryLog) Append(entries ...Entry) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.bounds.checkAppend(entries); err != nil {
		l.logger.Errorf("rejected append: %v", err)
		return l.bounds.appendIndex, err
	}
	for _, entry := range entries {
		l.bounds.appendIndex++
		l.entries[l.bounds.appendIndex] = entry
		l.bounds.term = entry.Term
	}

	return l.bounds.appendIndex, nil
}

func (l *InMemoryLog) Truncate(fromIndex int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	noop, err := l.bounds.checkTruncate(fromIndex)
	if err != nil {
		l.logger.Errorf("rejected truncation: %v", err)
		return err
	}
	if noop {
		return nil
	}

	for i := l.bounds.appendIndex; i >= fromIndex; i-- {
		delete(l.entries, i)
	}
	if fromIndex <= l.bounds.prevIndex {
		l.bounds.prevIndex = -1
		l.bounds.prevTerm = -1
	}
	l.bounds.appendIndex = fromIndex - 1
	l.bounds.term = l.termAt(l.bounds.appendIndex)

	return nil
}

func (l *InMemoryLog) Prune(safeIndex int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	target, ok := l.bounds.pruneTarget(safeIndex)
	if !ok {
		return l.bounds.prevIndex, nil
	}

	prevTerm := l.termAt(target)
	for i := l.bounds.prevIndex + 1; i <= target; i++ {
		delete(l.entries, i)
	}
	l.bounds.prevIndex = target
	l.bounds.prevTerm = prevTerm

	return l.bounds.prevIndex, nil
}

func (l *InMemoryLog) Skip(index, term int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index > l.bounds.appendIndex {
		l.entries = make(map[int64]Entry)
		l.bounds.skip(index, term)
	}
	return l.bounds.appendIndex, nil
}

func (l *InMemoryLog) MarkCommitted(index int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bounds.markCommitted(index)
}

func (l *InMemoryLog) Close() error {
	return nil
}

// termAt returns the term at index including the previous entry. Expects the
// mutex to be held.
func (l *InMemoryLog) termAt(index int64) int64 {
	if entry, ok := l.entries[index]; ok {
		return entry.Term
	}
	if index == l.bounds.prevIndex {
		return l.bounds.prevTerm
	}
	return -1
}

// entry returns the entry at index if it is still held.
func (l *InMemoryLog) entry(index int64) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[index]
	return entry, ok
}

type inMemoryCursor struct {
	log   *InMemoryLog
	next  int64
	index int64
	entry Entry
}

func (c *inMemoryCursor) Next() (bool, error) {
	entry, ok := c.log.entry(c.next)
	if !ok {
		return false, nil
	}
	c.index = c.next
	c.entry = entry
	c.next++
	return true, nil
}

func (c *inMemoryCursor) Index() int64 {
	return c.index
}

func (c *inMemoryCursor) Entry() Entry {
	return c.entry
}

func (c *inMemoryCursor) Close() error {
	return nil
}
