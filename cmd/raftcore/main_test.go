package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

func TestDemoThenInspect(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	dir := t.TempDir()
	var out, logs bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"-dir", dir, "demo", "-id-type", "label_token", "-range", "10"}, &out, &logs))
	require.Contains(t, out.String(), "lock token:")
	require.Contains(t, out.String(), "ids: LABEL_TOKEN [0, 10)")

	// A second run continues where the first one stopped.
	out.Reset()
	require.NoError(t, run(context.Background(), []string{"-dir", dir, "demo", "-id-type", "label_token", "-range", "5"}, &out, &logs))
	require.Contains(t, out.String(), "ids: LABEL_TOKEN [10, 15)")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"-dir", dir, "inspect"}, &out, &logs))
	require.Contains(t, out.String(), "log: prev index -1, prev term -1, append index 3")
	require.Contains(t, out.String(), "last applied: 3")
	require.Contains(t, out.String(), "ids: LABEL_TOKEN first unallocated 15")
	require.FileExists(t, filepath.Join(dir, "state", "last-flushed-state", "last-flushed.a"))
}

func TestRunErrors(t *testing.T) {
	var out, logs bytes.Buffer
	dir := t.TempDir()

	require.Error(t, run(context.Background(), []string{"-dir", dir}, &out, &logs))
	require.Error(t, run(context.Background(), []string{"-dir", dir, "rebuild"}, &out, &logs))
	require.Error(t, run(context.Background(), []string{"-dir", dir, "demo", "-id-type", "edge"}, &out, &logs))
	require.Error(t, run(context.Background(), []string{"-config", filepath.Join(dir, "missing.yaml"), "inspect"}, &out, &logs))
	require.Contains(t, logs.String(), "usage: raftcore")
}

func TestCompact(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	dir := t.TempDir()
	var out, logs bytes.Buffer

	require.Error(t, run(context.Background(), []string{"-dir", dir, "compact"}, &out, &logs))

	for i := 0; i < 2; i++ {
		require.NoError(t, run(context.Background(), []string{"-dir", dir, "demo"}, &out, &logs))
	}

	// The snapshot covers every applied entry, not just the last accepted token.
	out.Reset()
	require.NoError(t, run(context.Background(), []string{"-dir", dir, "compact"}, &out, &logs))
	require.Contains(t, out.String(), "at index 3, term 1")

	// The snapshot lets a member whose log was lost continue after it.
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "raft-log")))
	out.Reset()
	require.NoError(t, run(context.Background(), []string{"-dir", dir, "inspect"}, &out, &logs))
	require.Contains(t, out.String(), "log: prev index 3, prev term 1, append index 3")
	require.Contains(t, out.String(), "last applied: 3")
	require.Contains(t, out.String(), "ids: NODE first unallocated 2048")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"-dir", dir, "demo"}, &out, &logs))
	require.Contains(t, out.String(), "ids: NODE [2048, 3072)")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"-dir", dir, "inspect"}, &out, &logs))
	require.Contains(t, out.String(), "log: prev index 3, prev term 1, append index 5")
	require.Contains(t, out.String(), "last applied: 5")
	require.Contains(t, out.String(), "ids: NODE first unallocated 3072")
}

func TestCompactPrunesSegments(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	dir := t.TempDir()
	config := filepath.Join(dir, "raftcore.yaml")
	require.NoError(t, os.WriteFile(config, []byte("dir: "+dir+"\nlog:\n  segment_entries: 2\n"), 0o644))

	var out, logs bytes.Buffer
	for i := 0; i < 2; i++ {
		require.NoError(t, run(context.Background(), []string{"-config", config, "demo", "-range", "10"}, &out, &logs))
	}

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"-config", config, "compact"}, &out, &logs))
	require.Contains(t, out.String(), "at index 3, term 1")
	require.Contains(t, out.String(), "log: pruned up to index 1")

	// Restarting with the pruned log resumes after the flushed state.
	out.Reset()
	require.NoError(t, run(context.Background(), []string{"-config", config, "demo", "-range", "10"}, &out, &logs))
	require.Contains(t, out.String(), "ids: NODE [20, 30)")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"-config", config, "inspect"}, &out, &logs))
	require.Contains(t, out.String(), "log: prev index 1, prev term 1, append index 5")
	require.Contains(t, out.String(), "last applied: 5")
	require.Contains(t, out.String(), "ids: NODE first unallocated 30")
}

func TestMemoryLogMember(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	dir := t.TempDir()
	config := filepath.Join(dir, "raftcore.yaml")
	require.NoError(t, os.WriteFile(config, []byte("dir: "+dir+"\nlog:\n  kind: memory\n"), 0o644))

	var out, logs bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-config", config, "demo", "-range", "7"}, &out, &logs))
	require.Contains(t, out.String(), "ids: NODE [0, 7)")

	require.ErrorIs(t, run(context.Background(), []string{"-config", config, "compact"}, &out, &logs), errVolatileMember)
}
