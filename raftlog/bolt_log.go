package raftlog

import (
	"encoding/binary"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/neo4j/neo4j-sub236/internal/errors"
	"github.com/neo4j/neo4j-sub236/logging"
)

var (
	// Bucket names
	entriesBucket = []byte("entries")
	metaBucket    = []byte("meta")

	// Metadata keys
	prevIndexKey = []byte("prevIndex")
	prevTermKey  = []byte("prevTerm")
)

// Error strings.
const (
	errFailedBoltOpen  = "failed to open bolt log: path = %s"
	errFailedBoltWrite = "failed to update bolt log: path = %s"
	errFailedBoltRead  = "failed to read bolt log: path = %s"
	errInvalidBoltData = "invalid value stored for index %d"
)

// BoltLog is a durable Log stored in a bbolt database. Entries are keyed by their
// big-endian index and every mutation is a single transaction.
//
// This implementation is concurrent safe.
type BoltLog struct {
	path   string
	db     *bbolt.DB
	bounds bounds
	logger *logging.Logger
	mu     sync.Mutex
}

// NewBoltLog opens the log stored in the database at path, creating it if it
// does not exist.
func NewBoltLog(path string, opts ...Option) (*BoltLog, error) {
	options, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.WrapError(err, errFailedBoltOpen, path)
	}

	l := &BoltLog{path: path, db: db, bounds: newBounds(), logger: options.logger.Named("log")}

	err = db.Update(func(tx *bbolt.Tx) error {
		entries, err := tx.CreateBucketIfNotExists(entriesBucket)
		if err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}

		if v := meta.Get(prevIndexKey); v != nil {
			l.bounds.prevIndex = decodeInt64(v)
			l.bounds.prevTerm = decodeInt64(meta.Get(prevTermKey))
		}
		l.bounds.appendIndex = l.bounds.prevIndex
		l.bounds.term = l.bounds.prevTerm

		if k, v := entries.Cursor().Last(); k != nil {
			entry, ok := decodeBoltEntry(v)
			if !ok {
				return errors.WrapError(ErrCorruptLog, errInvalidBoltData, decodeInt64(k))
			}
			l.bounds.appendIndex = decodeInt64(k)
			l.bounds.term = entry.Term
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.WrapError(err, errFailedBoltOpen, path)
	}

	l.logger.Debugf("opened log %s: prevIndex = %d, appendIndex = %d", path, l.bounds.prevIndex, l.bounds.appendIndex)
	return l, nil
}

func (l *BoltLog) AppendIndex() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bounds.appendIndex
}

func (l *BoltLog) PrevIndex() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bounds.prevIndex
}

func (l *BoltLog) PrevTerm() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bounds.prevTerm
}

func (l *BoltLog) ReadEntryTerm(index int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.bounds.contains(index) {
		return -1, nil
	}
	entry, ok, err := l.get(index)
	if err != nil || !ok {
		return -1, err
	}
	return entry.Term, nil
}

func (l *BoltLog) EntryCursor(fromIndex int64) (Cursor, error) {
	return &boltCursor{log: l, next: fromIndex, index: fromIndex - 1}, nil
}

func (l *BoltLog) Append(entries ...Entry) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.bounds.checkAppend(entries); err != nil {
		l.logger.Errorf("rejected append: %v", err)
		return l.bounds.appendIndex, err
	}

	index := l.bounds.appendIndex
	err := l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(entriesBucket)
		for _, entry := range entries {
			index++
			if err := bucket.Put(encodeInt64(index), encodeBoltEntry(entry)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return l.bounds.appendIndex, errors.WrapError(err, errFailedBoltWrite, l.path)
	}

	if len(entries) > 0 {
		l.bounds.appendIndex = index
		l.bounds.term = entries[len(entries)-1].Term
	}
	return l.bounds.appendIndex, nil
}

func (l *BoltLog) Truncate(fromIndex int64) error {
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
	if fromIndex <= l.bounds.prevIndex {
		return errors.WrapError(ErrIndexPruned, errTruncatePruned, fromIndex, l.bounds.prevIndex)
	}

	term := l.bounds.prevTerm
	err = l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(entriesBucket)
		if err := deleteKeys(bucket, fromIndex, l.bounds.appendIndex); err != nil {
			return err
		}
		if k, v := bucket.Cursor().Last(); k != nil {
			entry, ok := decodeBoltEntry(v)
			if !ok {
				return errors.WrapError(ErrCorruptLog, errInvalidBoltData, decodeInt64(k))
			}
			term = entry.Term
		}
		return nil
	})
	if err != nil {
		return errors.WrapError(err, errFailedBoltWrite, l.path)
	}

	l.bounds.appendIndex = fromIndex - 1
	l.bounds.term = term
	return nil
}

func (l *BoltLog) Prune(safeIndex int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	target, ok := l.bounds.pruneTarget(safeIndex)
	if !ok {
		return l.bounds.prevIndex, nil
	}

	var prevTerm int64
	err := l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(entriesBucket)
		entry, ok := decodeBoltEntry(bucket.Get(encodeInt64(target)))
		if !ok {
			return errors.WrapError(ErrCorruptLog, errInvalidBoltData, target)
		}
		prevTerm = entry.Term
		if err := deleteKeys(bucket, l.bounds.prevIndex+1, target); err != nil {
			return err
		}
		return putPrev(tx, target, prevTerm)
	})
	if err != nil {
		return l.bounds.prevIndex, errors.WrapError(err, errFailedBoltWrite, l.path)
	}

	l.bounds.prevIndex = target
	l.bounds.prevTerm = prevTerm
	return l.bounds.prevIndex, nil
}

func (l *BoltLog) Skip(index, term int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index <= l.bounds.appendIndex {
		return l.bounds.appendIndex, nil
	}

	err := l.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(entriesBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(entriesBucket); err != nil {
			return err
		}
		return putPrev(tx, index, term)
	})
	if err != nil {
		return l.bounds.appendIndex, errors.WrapError(err, errFailedBoltWrite, l.path)
	}

	l.bounds.skip(index, term)
	return l.bounds.appendIndex, nil
}

func (l *BoltLog) MarkCommitted(index int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bounds.markCommitted(index)
}

func (l *BoltLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

// get reads the entry at index. Expects the mutex to be held.
func (l *BoltLog) get(index int64) (Entry, bool, error) {
	var entry Entry
	var found bool
	err := l.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(entriesBucket).Get(encodeInt64(index))
		if v == nil {
			return nil
		}
		decoded, ok := decodeBoltEntry(v)
		if !ok {
			return errors.WrapError(ErrCorruptLog, errInvalidBoltData, index)
		}
		// Values are only valid for the life of the transaction.
		entry = Entry{Term: decoded.Term, Content: append([]byte(nil), decoded.Content...)}
		found = true
		return nil
	})
	if err != nil {
		return Entry{}, false, errors.WrapError(err, errFailedBoltRead, l.path)
	}
	return entry, found, nil
}

// readEntry returns the entry at index if the log still holds it.
func (l *BoltLog) readEntry(index int64) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.bounds.contains(index) {
		return Entry{}, false, nil
	}
	return l.get(index)
}

func putPrev(tx *bbolt.Tx, prevIndex, prevTerm int64) error {
	meta := tx.Bucket(metaBucket)
	if err := meta.Put(prevIndexKey, encodeInt64(prevIndex)); err != nil {
		return err
	}
	return meta.Put(prevTermKey, encodeInt64(prevTerm))
}

// deleteKeys removes the entries from..to. Keys are collected before deletion
// since deleting under a cursor skips elements.
func deleteKeys(bucket *bbolt.Bucket, from, to int64) error {
	var keys [][]byte
	c := bucket.Cursor()
	for k, _ := c.Seek(encodeInt64(from)); k != nil && decodeInt64(k) <= to; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func encodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeInt64(b []byte) int64 {
	if len(b) != 8 {
		return -1
	}
	return int64(binary.BigEndian.Uint64(b))
}

func encodeBoltEntry(entry Entry) []byte {
	buf := make([]byte, 8, 8+len(entry.Content))
	binary.BigEndian.PutUint64(buf, uint64(entry.Term))
	return append(buf, entry.Content...)
}

func decodeBoltEntry(v []byte) (Entry, bool) {
	if len(v) < 8 {
		return Entry{}, false
	}
	return Entry{Term: int64(binary.BigEndian.Uint64(v[:8])), Content: v[8:]}, true
}

type boltCursor struct {
	log   *BoltLog
	next  int64
	index int64
	entry Entry
}

func (c *boltCursor) Next() (bool, error) {
	entry, ok, err := c.log.readEntry(c.next)
	if err != nil || !ok {
		return false, err
	}
	c.index = c.next
	c.entry = entry
	c.next++
	return true, nil
}

func (c *boltCursor) Index() int64 {
	return c.index
}

func (c *boltCursor) Entry() Entry {
	return c.entry
}

func (c *boltCursor) Close() error {
	return nil
}
