package statemachine

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/slices"

	"github.com/neo4j/neo4j-sub236/internal/errors"
	"github.com/neo4j/neo4j-sub236/internal/fileutil"
	"github.com/neo4j/neo4j-sub236/logging"
)

// Error strings.
const (
	errFailedSnapshotSave = "failed to save snapshot at index %d"
	errFailedSnapshotRead = "failed to read snapshot %s"
	errCorruptSnapshot    = "snapshot %s is corrupt"
)

const snapshotChecksumSize = 8

// SnapshotFile describes a stored snapshot.
type SnapshotFile struct {
	// The path to the snapshot.
	Path string

	// The index and term of the last entry the snapshot includes.
	PrevIndex int64
	PrevTerm  int64
}

// SnapshotStorage keeps the most recent CoreSnapshot of a member in dir/snapshots.
// A snapshot is written to a temporary file and renamed into place, so a crash
// leaves either the old or the new snapshot behind.
//
// This implementation is not concurrent safe.
type SnapshotStorage struct {
	dir    string
	logger *logging.Logger
}

// NewSnapshotStorage creates the snapshot directory under dir if it does not
// exist and removes snapshots that were not completely written.
func NewSnapshotStorage(dir string, opts ...Option) (*SnapshotStorage, error) {
	options, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	snapshotDir := filepath.Join(dir, "snapshots")
	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return nil, err
	}
	if err := fileutil.RemoveTmpFiles(snapshotDir); err != nil {
		return nil, err
	}
	return &SnapshotStorage{dir: snapshotDir, logger: options.logger.Named("snapshots")}, nil
}

func (s *SnapshotStorage) path(prevIndex int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("snapshot-%020d.bin", prevIndex))
}

// Save stores snapshot and removes older snapshots.
func (s *SnapshotStorage) Save(snapshot CoreSnapshot) (SnapshotFile, error) {
	file := SnapshotFile{Path: s.path(snapshot.PrevIndex), PrevIndex: snapshot.PrevIndex, PrevTerm: snapshot.PrevTerm}

	data, err := EncodeSnapshot(snapshot)
	if err != nil {
		return file, errors.WrapError(err, errFailedSnapshotSave, snapshot.PrevIndex)
	}
	contents := binary.BigEndian.AppendUint64(data, xxhash.Sum64(data))

	if err := s.write(file.Path, contents); err != nil {
		return file, errors.WrapError(err, errFailedSnapshotSave, snapshot.PrevIndex)
	}

	previous, err := s.list()
	if err != nil {
		return file, err
	}
	for _, path := range previous {
		if path != file.Path {
			if err := os.Remove(path); err != nil {
				return file, err
			}
		}
	}

	s.logger.Infof("saved snapshot at index %d, term %d", snapshot.PrevIndex, snapshot.PrevTerm)
	return file, nil
}

func (s *SnapshotStorage) write(path string, contents []byte) error {
	tmp, err := os.CreateTemp(s.dir, fileutil.TmpPrefix)
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(contents); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return fileutil.SyncDir(s.dir)
}

// Latest returns the most recent snapshot. The boolean is false if no snapshot
// was saved.
func (s *SnapshotStorage) Latest() (CoreSnapshot, SnapshotFile, bool, error) {
	paths, err := s.list()
	if err != nil || len(paths) == 0 {
		return CoreSnapshot{}, SnapshotFile{}, false, err
	}
	path := paths[len(paths)-1]

	contents, err := os.ReadFile(path)
	if err != nil {
		return CoreSnapshot{}, SnapshotFile{}, false, errors.WrapError(err, errFailedSnapshotRead, path)
	}
	if len(contents) < snapshotChecksumSize {
		return CoreSnapshot{}, SnapshotFile{}, false, errors.WrapError(nil, errCorruptSnapshot, path)
	}
	body := contents[:len(contents)-snapshotChecksumSize]
	if xxhash.Sum64(body) != binary.BigEndian.Uint64(contents[len(body):]) {
		return CoreSnapshot{}, SnapshotFile{}, false, errors.WrapError(nil, errCorruptSnapshot, path)
	}

	snapshot, err := DecodeSnapshot(body)
	if err != nil {
		return CoreSnapshot{}, SnapshotFile{}, false, errors.WrapError(err, errFailedSnapshotRead, path)
	}
	file := SnapshotFile{Path: path, PrevIndex: snapshot.PrevIndex, PrevTerm: snapshot.PrevTerm}
	return snapshot, file, true, nil
}

// list returns the paths of the stored snapshots, oldest first.
func (s *SnapshotStorage) list() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "snapshot-*.bin"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	return paths, nil
}
