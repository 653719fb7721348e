package storage

import (
	"errors"
	"io"
	"os"
	"sync"
)

// File is the subset of *os.File used by the storage layer.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	Sync() error
	Truncate(size int64) error
	Name() string
}

// FileSystem opens files for the storage layer. It exists so that tests can
// inject faults underneath the storage.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	MkdirAll(path string, perm os.FileMode) error
}

// OSFileSystem is the FileSystem backed by the operating system.
type OSFileSystem struct{}

func (OSFileSystem) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(name, flag, perm)
}

func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// ErrInjectedFault is returned by a FaultyFileSystem operation that was made to fail.
var ErrInjectedFault = errors.New("injected file system fault")

// Operation is a file system operation that a FaultyFileSystem can fail.
type Operation int

const (
	OpOpen Operation = iota
	OpWrite
	OpSync
	OpTruncate
	OpClose
)

// FaultyFileSystem decorates a FileSystem and starts failing selected operations
// after a configured number of them succeeded. Once failing it keeps failing
// until Heal is called, which models a process that crashed at that point.
type FaultyFileSystem struct {
	fs FileSystem

	// Operations that count towards, and are affected by, the fault.
	faulted map[Operation]bool

	// Operations that may still succeed, negative when no fault is armed.
	remaining int

	// Whether a failing write first writes half of its buffer.
	partialWrites bool

	// Number of faults that were injected.
	injected int

	mu sync.Mutex
}

// NewFaultyFileSystem wraps fs. No fault is armed initially.
func NewFaultyFileSystem(fs FileSystem) *FaultyFileSystem {
	return &FaultyFileSystem{fs: fs, remaining: -1, faulted: make(map[Operation]bool)}
}

// FailAfter arms the fault: after n further successful operations of the given
// kinds, every such operation fails. With no kinds, every operation is affected.
func (f *FaultyFileSystem) FailAfter(n int, ops ...Operation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(ops) == 0 {
		ops = []Operation{OpOpen, OpWrite, OpSync, OpTruncate, OpClose}
	}
	f.faulted = make(map[Operation]bool, len(ops))
	for _, op := range ops {
		f.faulted[op] = true
	}
	f.remaining = n
}

// PartialWrites makes failing writes persist the first half of their buffer.
func (f *FaultyFileSystem) PartialWrites(partial bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partialWrites = partial
}

// Heal disarms the fault.
func (f *FaultyFileSystem) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remaining = -1
}

// Injected returns how many operations have been failed so far.
func (f *FaultyFileSystem) Injected() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.injected
}

func (f *FaultyFileSystem) check(op Operation) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining < 0 || !f.faulted[op] {
		return true
	}
	if f.remaining > 0 {
		f.remaining--
		return true
	}
	f.injected++
	return false
}

func (f *FaultyFileSystem) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	if !f.check(OpOpen) {
		return nil, &os.PathError{Op: "open", Path: name, Err: ErrInjectedFault}
	}
	file, err := f.fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, fs: f}, nil
}

func (f *FaultyFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return f.fs.MkdirAll(path, perm)
}

type faultyFile struct {
	File
	fs *FaultyFileSystem
}

func (f *faultyFile) Write(p []byte) (int, error) {
	if f.fs.check(OpWrite) {
		return f.File.Write(p)
	}
	f.fs.mu.Lock()
	partial := f.fs.partialWrites
	f.fs.mu.Unlock()
	if partial && len(p) > 1 {
		n, _ := f.File.Write(p[:len(p)/2])
		return n, ErrInjectedFault
	}
	return 0, ErrInjectedFault
}

func (f *faultyFile) Sync() error {
	if !f.fs.check(OpSync) {
		return ErrInjectedFault
	}
	return f.File.Sync()
}

func (f *faultyFile) Truncate(size int64) error {
	if !f.fs.check(OpTruncate) {
		return ErrInjectedFault
	}
	return f.File.Truncate(size)
}

func (f *faultyFile) Close() error {
	if !f.fs.check(OpClose) {
		// The descriptor is still released so that tests do not leak files.
		f.File.Close()
		return ErrInjectedFault
	}
	return f.File.Close()
}
