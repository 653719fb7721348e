package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRemoveTmpFiles checks that RemoveTmpFiles will only remove temporary files and directories.
func TestRemoveTmpFiles(t *testing.T) {
	rootDir := t.TempDir()

	// Create a temporary file and directory. Both should be removed.
	tmpFile, err := os.CreateTemp(rootDir, TmpPrefix+"segment")
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())
	tmpDir, err := os.MkdirTemp(rootDir, TmpPrefix+"dir")
	require.NoError(t, err)

	// Create a non-temporary file and directory. Both should not be removed.
	file, err := os.Create(filepath.Join(rootDir, "segment.0"))
	require.NoError(t, err)
	require.NoError(t, file.Close())
	dir := filepath.Join(rootDir, "test-dir")
	require.NoError(t, os.Mkdir(dir, 0o755))

	require.NoError(t, RemoveTmpFiles(rootDir))

	require.DirExists(t, dir)
	require.FileExists(t, file.Name())
	require.NoDirExists(t, tmpDir)
	require.NoFileExists(t, tmpFile.Name())
}

func TestSyncDir(t *testing.T) {
	require.NoError(t, SyncDir(t.TempDir()))
	require.Error(t, SyncDir(filepath.Join(t.TempDir(), "missing")))
}
