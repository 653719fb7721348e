package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neo4j/neo4j-sub236/logging"
	"github.com/neo4j/neo4j-sub236/raftlog"
)

func TestReadConfig(t *testing.T) {
	c, err := ReadConfig("testdata/member.yaml")
	require.NoError(t, err)

	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", c.MemberID)
	assert.Equal(t, "/var/lib/raftcore", c.Dir)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, BoltLog, c.Log.Kind)
	assert.Equal(t, 128, c.Log.SegmentEntries)
	assert.Equal(t, 5, c.Replication.FlushEvery)
	assert.Equal(t, 250*time.Millisecond, c.Replication.Timeout)

	// Settings missing from the file keep their defaults.
	assert.Equal(t, Default().Log.MetadataCacheBytes, c.Log.MetadataCacheBytes)
	assert.Equal(t, Default().Replication.Term, c.Replication.Term)

	rotation := c.Rotation()
	assert.Equal(t, 10, rotation.LockToken)
	assert.Equal(t, 1000, rotation.IDAllocation)
	assert.Equal(t, 20, rotation.Sessions)

	member, err := c.Member()
	require.NoError(t, err)
	assert.Equal(t, c.MemberID, uuid.UUID(member).String())
}

func TestReadConfigErrors(t *testing.T) {
	_, err := ReadConfig("testdata/missing.yaml")
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = ReadConfig("testdata/invalid.yaml")
	require.ErrorContains(t, err, "log kind")

	file := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(file, []byte("log: [unclosed"), 0o644))
	_, err = ReadConfig(file)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	tests := map[string]func(c *Config){
		"member id":        func(c *Config) { c.MemberID = "member-1" },
		"dir":              func(c *Config) { c.Dir = "" },
		"log level":        func(c *Config) { c.LogLevel = "verbose" },
		"segment entries":  func(c *Config) { c.Log.SegmentEntries = 0 },
		"compression":      func(c *Config) { c.Log.CompressionThreshold = -1 },
		"metadata cache":   func(c *Config) { c.Log.MetadataCacheBytes = -1 },
		"rotation":         func(c *Config) { c.State.SessionRotation = 0 },
		"flush every":      func(c *Config) { c.Replication.FlushEvery = 0 },
		"negative timeout": func(c *Config) { c.Replication.Timeout = -time.Second },
		"negative term":    func(c *Config) { c.Replication.Term = -1 },
		"unknown log kind": func(c *Config) { c.Log.Kind = "tape" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			require.Error(t, c.Validate())
		})
	}
}

func TestMemberWithoutID(t *testing.T) {
	member, err := Default().Member()
	require.NoError(t, err)
	require.False(t, member.IsZero())
}

func TestOpenLog(t *testing.T) {
	for _, kind := range []LogKind{MemoryLog, SegmentedLog, BoltLog} {
		t.Run(string(kind), func(t *testing.T) {
			c := Default()
			c.Dir = t.TempDir()
			c.Log.Kind = kind
			c.Log.MetadataCacheBytes = 0

			log, err := c.OpenLog(logging.Discard())
			require.NoError(t, err)
			defer log.Close()

			index, err := log.Append(raftlog.Entry{Term: 1, Content: []byte("a")})
			require.NoError(t, err)
			require.Equal(t, int64(0), index)
		})
	}
}

func TestLogger(t *testing.T) {
	c := Default()
	c.LogLevel = "warn"
	logger, err := c.Logger()
	require.NoError(t, err)
	require.Equal(t, logging.Warn, logger.Level())
}
