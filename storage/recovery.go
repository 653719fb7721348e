package storage

import (
	"bufio"
	"os"

	"github.com/neo4j/neo4j-sub236/internal/errors"
)

// recoveryStatus is the outcome of recovering a pair of storage files.
type recoveryStatus[T any] struct {
	// The file that receives the next write. It held the older state and is
	// truncated before use.
	activeFile string

	// The state recovered from the previously active file.
	state T

	// Whether any file held a complete entry.
	recovered bool
}

// lastEntry is the last complete entry of one storage file.
type lastEntry[T any] struct {
	state   T
	ok      bool
	entries int
}

// recoverFiles picks the file to continue writing to and the state to start from.
func recoverFiles[T any](fs FileSystem, marshal StateMarshal[T], fileA, fileB string) (recoveryStatus[T], error) {
	a, err := readLastEntry(fs, marshal, fileA)
	if err != nil {
		return recoveryStatus[T]{}, err
	}
	b, err := readLastEntry(fs, marshal, fileB)
	if err != nil {
		return recoveryStatus[T]{}, err
	}

	switch {
	case !a.ok && !b.ok:
		return recoveryStatus[T]{activeFile: fileA, state: marshal.StartState()}, nil
	case !a.ok:
		return recoveryStatus[T]{activeFile: fileA, state: b.state, recovered: true}, nil
	case !b.ok:
		return recoveryStatus[T]{activeFile: fileB, state: a.state, recovered: true}, nil
	case marshal.Ordinal(a.state) > marshal.Ordinal(b.state):
		return recoveryStatus[T]{activeFile: fileB, state: a.state, recovered: true}, nil
	default:
		return recoveryStatus[T]{activeFile: fileA, state: b.state, recovered: true}, nil
	}
}

// readLastEntry scans path from the beginning and returns the last entry that was
// completely written. A torn or corrupt entry ends the scan. A file that cannot
// be opened is an error.
func readLastEntry[T any](fs FileSystem, marshal StateMarshal[T], path string) (lastEntry[T], error) {
	var last lastEntry[T]

	file, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return last, errors.WrapError(err, errFailedStorageOpen, path)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	for {
		payload, ok, err := readFrame(reader)
		if err != nil {
			return last, errors.WrapError(err, errFailedStorageRead, path)
		}
		if !ok {
			break
		}
		state, ok := unmarshalPayload(marshal, payload)
		if !ok {
			break
		}
		last.state, last.ok = state, true
		last.entries++
	}

	return last, nil
}
