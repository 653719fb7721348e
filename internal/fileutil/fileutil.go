package fileutil

import (
	"os"
	"path/filepath"
	"strings"
)

// TmpPrefix is the prefix given to files that are written out before being
// renamed into place.
const TmpPrefix = "tmp-"

// RemoveTmpFiles will remove all files in the root directory
// and its sub-directories with a name that has a 'tmp' prefix.
func RemoveTmpFiles(rootDir string) error {
	return filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == rootDir || !strings.HasPrefix(info.Name(), "tmp") {
			return nil
		}
		return os.RemoveAll(path)
	})
}

// SyncDir flushes the directory entry table of dir so that files created,
// renamed or removed within it survive a crash.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
