package storage

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/neo4j/neo4j-sub236/internal/errors"
	"github.com/neo4j/neo4j-sub236/internal/fileutil"
	"github.com/neo4j/neo4j-sub236/logging"
)

// Error strings.
const (
	errFailedStorageOpen     = "failed to open storage file: path = %s"
	errFailedStorageRead     = "failed to read storage file: path = %s"
	errFailedStorageCreate   = "failed to create storage directory: path = %s"
	errFailedStorageMarshal  = "failed to marshal state for %s"
	errFailedStorageWrite    = "failed to write storage file: path = %s"
	errFailedStorageSync     = "failed to sync storage file: path = %s"
	errFailedStorageTruncate = "failed to truncate storage file: path = %s"
	errFailedStorageClose    = "failed to close storage file: path = %s"
	errStorageFailed         = "storage %s failed earlier and no longer accepts writes"
	errStorageClosed         = "storage %s is closed"
	errInvalidRotation       = "rotation threshold must be positive: %d"
)

// DurableStateStorage durably stores successive versions of a single value of
// type T. Versions are appended to one of two files; after a configured number
// of entries the other file is truncated and becomes the target. On creation the
// latest completely written version is recovered.
//
// This implementation is concurrent safe.
type DurableStateStorage[T any] struct {
	name    string
	fileA   string
	fileB   string
	marshal StateMarshal[T]

	// The number of entries written to a file before switching to the other one.
	rotationThreshold int

	// The file that receives writes and its name.
	current     File
	currentPath string

	// The size of the valid data in the current file.
	offset int64

	// Entries written to the current file since it became active.
	entriesInActive int

	// The state recovered on creation.
	initialState T

	// Set when a write could not be rolled back, the file may end in a torn entry.
	failed bool

	fs     FileSystem
	logger *logging.Logger
	mu     sync.Mutex
}

// NewDurableStateStorage opens the storage named name in dir, recovering the most
// recent complete state. The files live at dir/name-state/name.a and name.b.
func NewDurableStateStorage[T any](
	dir string,
	name string,
	marshal StateMarshal[T],
	rotationThreshold int,
	opts ...Option,
) (*DurableStateStorage[T], error) {
	var options options
	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return nil, err
		}
	}
	if options.fs == nil {
		options.fs = OSFileSystem{}
	}
	if options.logger == nil {
		options.logger = logging.Discard()
	}
	if rotationThreshold <= 0 {
		return nil, errors.WrapError(nil, errInvalidRotation, rotationThreshold)
	}

	stateDir := filepath.Join(dir, name+"-state")
	if err := options.fs.MkdirAll(stateDir, 0o755); err != nil {
		return nil, errors.WrapError(err, errFailedStorageCreate, stateDir)
	}

	s := &DurableStateStorage[T]{
		name:              name,
		fileA:             filepath.Join(stateDir, name+".a"),
		fileB:             filepath.Join(stateDir, name+".b"),
		marshal:           marshal,
		rotationThreshold: rotationThreshold,
		fs:                options.fs,
		logger:            options.logger.Named(name),
	}

	status, err := recoverFiles(s.fs, s.marshal, s.fileA, s.fileB)
	if err != nil {
		return nil, err
	}
	s.initialState = status.state

	if err := s.resetStoreFile(status.activeFile); err != nil {
		return nil, err
	}
	if _, isOS := s.fs.(OSFileSystem); isOS {
		if err := fileutil.SyncDir(stateDir); err != nil {
			s.current.Close()
			return nil, errors.WrapError(err, errFailedStorageSync, stateDir)
		}
	}

	if status.recovered {
		s.logger.Debugf("recovered state with ordinal %d, writing to %s",
			s.marshal.Ordinal(s.initialState), filepath.Base(status.activeFile))
	} else {
		s.logger.Debugf("no stored state found, starting from the start state")
	}

	return s, nil
}

// InitialState returns the state recovered when the storage was opened.
func (s *DurableStateStorage[T]) InitialState() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialState
}

// PersistStoreData durably appends state. When the call returns without error the
// state survives a crash. Once the active file holds the configured number of
// entries the storage switches to the other file.
func (s *DurableStateStorage[T]) PersistStoreData(state T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed {
		return errors.WrapError(nil, errStorageFailed, s.name)
	}
	if s.current == nil {
		return errors.WrapError(nil, errStorageClosed, s.name)
	}

	payload, err := marshalPayload(s.marshal, state)
	if err != nil {
		return errors.WrapError(err, errFailedStorageMarshal, s.name)
	}
	frame := appendFrame(nil, payload)

	if _, err := s.current.Write(frame); err != nil {
		s.rollback()
		return errors.WrapError(err, errFailedStorageWrite, s.currentPath)
	}
	if err := s.current.Sync(); err != nil {
		s.rollback()
		return errors.WrapError(err, errFailedStorageSync, s.currentPath)
	}
	s.offset += int64(len(frame))

	s.entriesInActive++
	if s.entriesInActive >= s.rotationThreshold {
		// The state is already durable, a failed rotation only affects later writes.
		if err := s.switchStoreFile(); err != nil {
			s.logger.Errorf("%v", err)
		}
	}

	return nil
}

// Close releases the active file.
func (s *DurableStateStorage[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	if err != nil {
		return errors.WrapError(err, errFailedStorageClose, s.currentPath)
	}
	return nil
}

// switchStoreFile makes the other file active. Expects the mutex to be held.
func (s *DurableStateStorage[T]) switchStoreFile() error {
	next := s.fileA
	if s.currentPath == s.fileA {
		next = s.fileB
	}

	if err := s.current.Close(); err != nil {
		s.logger.Warnf("failed to close %s before rotation: %v", filepath.Base(s.currentPath), err)
	}
	s.current = nil

	if err := s.resetStoreFile(next); err != nil {
		// The previous file is intact, so recovery is still possible, but this
		// instance can no longer write.
		s.failed = true
		return err
	}

	s.logger.Debugf("rotated to %s", filepath.Base(next))
	return nil
}

// resetStoreFile opens path, truncates it and makes it the active file.
func (s *DurableStateStorage[T]) resetStoreFile(path string) error {
	file, err := s.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.WrapError(err, errFailedStorageOpen, path)
	}
	if err := file.Truncate(0); err != nil {
		file.Close()
		return errors.WrapError(err, errFailedStorageTruncate, path)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return errors.WrapError(err, errFailedStorageTruncate, path)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return errors.WrapError(err, errFailedStorageSync, path)
	}

	s.current = file
	s.currentPath = path
	s.offset = 0
	s.entriesInActive = 0
	return nil
}

// rollback removes a partially written entry from the end of the active file.
// If that is not possible the storage refuses further writes, since entries
// appended after a torn one would never be recovered.
func (s *DurableStateStorage[T]) rollback() {
	if err := s.current.Truncate(s.offset); err != nil {
		s.failed = true
		s.logger.Errorf("failed to roll back partial write to %s: %v", filepath.Base(s.currentPath), err)
		return
	}
	if _, err := s.current.Seek(s.offset, io.SeekStart); err != nil {
		s.failed = true
		s.logger.Errorf("failed to roll back partial write to %s: %v", filepath.Base(s.currentPath), err)
	}
}
