package raftlog

import (
	"os"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/neo4j/neo4j-sub236/internal/errors"
	"github.com/neo4j/neo4j-sub236/internal/fileutil"
	"github.com/neo4j/neo4j-sub236/logging"
)

// Error strings.
const (
	errFailedLogOpen        = "failed to open log: path = %s"
	errFailedSegmentCreate  = "failed to create segment: path = %s"
	errFailedSegmentOpen    = "failed to open segment: path = %s"
	errFailedSegmentRead    = "failed to read segment: path = %s"
	errFailedSegmentWrite   = "failed to write segment: path = %s"
	errFailedSegmentClose   = "failed to close segment: path = %s"
	errFailedSegmentRemove  = "failed to remove segment: path = %s"
	errInvalidSegmentHeader = "invalid segment header: path = %s"
	errTornSegment          = "segment %s is followed by other segments but ends in a torn entry"
	errMissingEntry         = "entry %d is missing from segment %s"
)

// SegmentedLog is a durable Log that appends entries to a sequence of segment
// files in a directory. A segment starts with a header holding the index and
// term it continues from. Entry terms and positions are kept in a MetadataCache
// and looked up by scanning the owning segment on a miss.
//
// This implementation is concurrent safe.
type SegmentedLog struct {
	dir string

	// Ordered by segment number, the last segment receives appends.
	segments []*segment

	bounds bounds
	cache  *MetadataCache

	// Whether the cache was created by the log and is released on close.
	ownsCache bool

	segmentEntries       int
	compressionThreshold int

	closed bool
	logger *logging.Logger
	mu     sync.Mutex
}

// NewSegmentedLog opens the log stored in dir, creating it if it does not exist.
// A torn entry at the end of the last segment is removed.
func NewSegmentedLog(dir string, opts ...Option) (*SegmentedLog, error) {
	options, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	l := &SegmentedLog{
		dir:                  dir,
		bounds:               newBounds(),
		cache:                options.cache,
		segmentEntries:       options.segmentEntries,
		compressionThreshold: options.compressionThreshold,
		logger:               options.logger.Named("log"),
	}
	if l.cache == nil {
		l.cache = NewMetadataCache(options.cacheBytes)
		l.ownsCache = true
	}

	if err := l.open(); err != nil {
		for _, s := range l.segments {
			s.close()
		}
		if l.ownsCache {
			l.cache.Close()
		}
		return nil, err
	}

	return l, nil
}

func (l *SegmentedLog) open() error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return errors.WrapError(err, errFailedLogOpen, l.dir)
	}
	if err := fileutil.RemoveTmpFiles(l.dir); err != nil {
		return errors.WrapError(err, errFailedLogOpen, l.dir)
	}

	dirEntries, err := os.ReadDir(l.dir)
	if err != nil {
		return errors.WrapError(err, errFailedLogOpen, l.dir)
	}
	var numbers []int64
	for _, dirEntry := range dirEntries {
		if number, ok := parseSegmentNumber(dirEntry.Name()); ok && !dirEntry.IsDir() {
			numbers = append(numbers, number)
		}
	}
	slices.Sort(numbers)

	for i, number := range numbers {
		s, err := openSegment(l.dir, number)
		if err != nil {
			return err
		}
		last := i == len(numbers)-1
		torn, err := s.scan(func(index int64, position LogPosition) {
			l.cache.Put(index, position)
		})
		if err != nil {
			s.close()
			return err
		}
		if torn {
			if !last {
				s.close()
				return errors.WrapError(ErrCorruptLog, errTornSegment, s.path)
			}
			l.logger.Warnf("truncating torn entry at offset %d of %s", s.size, s.path)
			if err := s.truncate(s.size); err != nil {
				s.close()
				return err
			}
		}
		l.segments = append(l.segments, s)
	}

	l.dropUnchainedSegments()

	if len(l.segments) == 0 {
		s, err := createSegment(l.dir, 0, -1, -1)
		if err != nil {
			return err
		}
		l.segments = append(l.segments, s)
	}

	first, active := l.segments[0], l.active()
	l.bounds.prevIndex = first.prevIndex
	l.bounds.prevTerm = first.prevTerm
	l.bounds.appendIndex = active.lastIndex
	l.bounds.term = active.lastTerm

	l.logger.Debugf("opened log %s: segments = %d, prevIndex = %d, appendIndex = %d",
		l.dir, len(l.segments), l.bounds.prevIndex, l.bounds.appendIndex)

	return nil
}

// dropUnchainedSegments removes the segments that do not lead up to the last
// one. They are left behind when a skip did not complete removing them.
func (l *SegmentedLog) dropUnchainedSegments() {
	for i := len(l.segments) - 1; i > 0; i-- {
		if l.segments[i-1].lastIndex == l.segments[i].prevIndex {
			continue
		}
		for _, s := range l.segments[:i] {
			l.logger.Warnf("removing segment %s that precedes a skip", s.path)
			if err := s.remove(); err != nil {
				l.logger.Errorf("%v", err)
			}
		}
		l.cache.RemoveUpTo(l.segments[i].prevIndex)
		l.segments = l.segments[i:]
		return
	}
}

func (l *SegmentedLog) AppendIndex() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bounds.appendIndex
}

func (l *SegmentedLog) PrevIndex() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bounds.prevIndex
}

func (l *SegmentedLog) PrevTerm() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bounds.prevTerm
}

func (l *SegmentedLog) ReadEntryTerm(index int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return -1, ErrLogClosed
	}
	if !l.bounds.contains(index) {
		return -1, nil
	}
	position, err := l.position(index)
	if err != nil {
		return -1, err
	}
	return position.Term, nil
}

func (l *SegmentedLog) EntryCursor(fromIndex int64) (Cursor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLogClosed
	}
	return &segmentedCursor{log: l, next: fromIndex, index: fromIndex - 1}, nil
}

func (l *SegmentedLog) Append(entries ...Entry) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return l.bounds.appendIndex, ErrLogClosed
	}
	if err := l.bounds.checkAppend(entries); err != nil {
		l.logger.Errorf("rejected append: %v", err)
		return l.bounds.appendIndex, err
	}
	if len(entries) == 0 {
		return l.bounds.appendIndex, nil
	}

	if l.active().entries() >= int64(l.segmentEntries) {
		if err := l.rotate(); err != nil {
			return l.bounds.appendIndex, err
		}
	}
	active := l.active()

	var buf []byte
	offsets := make([]int64, len(entries))
	for i, entry := range entries {
		offsets[i] = active.size + int64(len(buf))
		buf = appendEntryFrame(buf, entry, l.compressionThreshold)
	}

	if _, err := active.file.WriteAt(buf, active.size); err != nil {
		l.discardPartialWrite(active)
		return l.bounds.appendIndex, errors.WrapError(err, errFailedSegmentWrite, active.path)
	}
	if err := active.file.Sync(); err != nil {
		l.discardPartialWrite(active)
		return l.bounds.appendIndex, errors.WrapError(err, errFailedSegmentWrite, active.path)
	}

	for i, entry := range entries {
		active.lastIndex++
		active.lastTerm = entry.Term
		l.cache.Put(active.lastIndex, LogPosition{Term: entry.Term, Segment: active.number, Offset: offsets[i]})
	}
	active.size += int64(len(buf))
	l.bounds.appendIndex = active.lastIndex
	l.bounds.term = active.lastTerm

	return l.bounds.appendIndex, nil
}

func (l *SegmentedLog) Truncate(fromIndex int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}
	noop, err := l.bounds.checkTruncate(fromIndex)
	if err != nil {
		l.logger.Errorf("rejected truncation: %v", err)
		return err
	}
	if noop {
		return nil
	}
	if fromIndex <= l.bounds.prevIndex {
		return errors.WrapError(ErrIndexPruned, errTruncatePruned, fromIndex, l.bounds.prevIndex)
	}

	position, err := l.position(fromIndex)
	if err != nil {
		return err
	}
	newTerm, err := l.termAt(fromIndex - 1)
	if err != nil {
		return err
	}

	// Later segments are removed first so that a crash leaves a consistent chain.
	keep := l.segmentIndex(position.Segment)
	for i := len(l.segments) - 1; i > keep; i-- {
		if err := l.segments[i].remove(); err != nil {
			return err
		}
		l.segments = l.segments[:i]
	}
	if err := fileutil.SyncDir(l.dir); err != nil {
		return errors.WrapError(err, errFailedSegmentRemove, l.dir)
	}

	target := l.segments[keep]
	if err := target.truncate(position.Offset); err != nil {
		return err
	}
	target.lastIndex = fromIndex - 1
	target.lastTerm = newTerm

	l.cache.RemoveUpwardsFrom(fromIndex)
	l.bounds.appendIndex = fromIndex - 1
	l.bounds.term = newTerm

	l.logger.Debugf("truncated log from index %d", fromIndex)
	return nil
}

func (l *SegmentedLog) Prune(safeIndex int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return l.bounds.prevIndex, ErrLogClosed
	}
	target, ok := l.bounds.pruneTarget(safeIndex)
	if !ok {
		return l.bounds.prevIndex, nil
	}

	// Only whole segments are removed and the active segment is always kept.
	removed := 0
	for len(l.segments) > 1 && l.segments[0].lastIndex <= target {
		if err := l.segments[0].remove(); err != nil {
			return l.bounds.prevIndex, err
		}
		l.segments = l.segments[1:]
		removed++
	}
	if removed == 0 {
		return l.bounds.prevIndex, nil
	}

	first := l.segments[0]
	l.bounds.prevIndex = first.prevIndex
	l.bounds.prevTerm = first.prevTerm
	l.cache.RemoveUpTo(first.prevIndex)

	l.logger.Debugf("pruned %d segments, prevIndex = %d", removed, l.bounds.prevIndex)
	return l.bounds.prevIndex, nil
}

func (l *SegmentedLog) Skip(index, term int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return l.bounds.appendIndex, ErrLogClosed
	}
	if index <= l.bounds.appendIndex {
		return l.bounds.appendIndex, nil
	}

	s, err := createSegment(l.dir, l.active().number+1, index, term)
	if err != nil {
		return l.bounds.appendIndex, err
	}
	old := l.segments
	l.segments = []*segment{s}
	for _, o := range old {
		if err := o.remove(); err != nil {
			l.logger.Warnf("failed to remove skipped segment: %v", err)
		}
	}

	l.cache.Clear()
	l.bounds.skip(index, term)

	l.logger.Debugf("skipped to index %d at term %d", index, term)
	return l.bounds.appendIndex, nil
}

func (l *SegmentedLog) MarkCommitted(index int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bounds.markCommitted(index)
}

func (l *SegmentedLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	var firstErr error
	for _, s := range l.segments {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.segments = nil
	if l.ownsCache {
		l.cache.Close()
	}
	return firstErr
}

// active returns the segment receiving appends. Expects the mutex to be held.
func (l *SegmentedLog) active() *segment {
	return l.segments[len(l.segments)-1]
}

// rotate starts a new segment. Expects the mutex to be held.
func (l *SegmentedLog) rotate() error {
	active := l.active()
	s, err := createSegment(l.dir, active.number+1, active.lastIndex, active.lastTerm)
	if err != nil {
		return err
	}
	l.segments = append(l.segments, s)
	l.logger.Debugf("rotated to segment %d after index %d", s.number, s.prevIndex)
	return nil
}

// discardPartialWrite removes whatever part of a failed append reached the file.
func (l *SegmentedLog) discardPartialWrite(s *segment) {
	if err := s.file.Truncate(s.size); err != nil {
		l.logger.Errorf("failed to discard partial write to %s: %v", s.path, err)
	}
}

// segmentIndex returns the position of the segment with the provided number.
func (l *SegmentedLog) segmentIndex(number int64) int {
	return slices.IndexFunc(l.segments, func(s *segment) bool { return s.number == number })
}

// position returns where the entry at index is stored. Expects the mutex to be
// held and the index to be held by the log.
func (l *SegmentedLog) position(index int64) (LogPosition, error) {
	if position, ok := l.cache.Get(index); ok {
		return position, nil
	}
	for i := len(l.segments) - 1; i >= 0; i-- {
		s := l.segments[i]
		if !s.contains(index) {
			continue
		}
		position, err := s.locate(index)
		if err != nil {
			return LogPosition{}, err
		}
		l.cache.Put(index, position)
		return position, nil
	}
	return LogPosition{}, errors.WrapError(ErrCorruptLog, errMissingEntry, index, l.dir)
}

// termAt returns the term at index, including the previous entry. Expects the
// mutex to be held.
func (l *SegmentedLog) termAt(index int64) (int64, error) {
	if index == l.bounds.prevIndex {
		return l.bounds.prevTerm, nil
	}
	if !l.bounds.contains(index) {
		return -1, nil
	}
	position, err := l.position(index)
	if err != nil {
		return -1, err
	}
	return position.Term, nil
}

// readEntry returns the entry at index if the log still holds it.
func (l *SegmentedLog) readEntry(index int64) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Entry{}, false, ErrLogClosed
	}
	if !l.bounds.contains(index) {
		return Entry{}, false, nil
	}
	position, err := l.position(index)
	if err != nil {
		return Entry{}, false, err
	}
	s := l.segments[l.segmentIndex(position.Segment)]
	entry, _, ok, err := readEntryAt(s.file, position.Offset, s.size)
	if err != nil {
		return Entry{}, false, errors.WrapError(err, errFailedSegmentRead, s.path)
	}
	if !ok {
		return Entry{}, false, errors.WrapError(ErrCorruptLog, errMissingEntry, index, s.path)
	}
	return entry, true, nil
}

type segmentedCursor struct {
	log   *SegmentedLog
	next  int64
	index int64
	entry Entry
}

func (c *segmentedCursor) Next() (bool, error) {
	entry, ok, err := c.log.readEntry(c.next)
	if err != nil || !ok {
		return false, err
	}
	c.index = c.next
	c.entry = entry
	c.next++
	return true, nil
}

func (c *segmentedCursor) Index() int64 {
	return c.index
}

func (c *segmentedCursor) Entry() Entry {
	return c.entry
}

func (c *segmentedCursor) Close() error {
	return nil
}
