// Package config reads the configuration of a core member from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	raft "github.com/neo4j/neo4j-sub236"
	"github.com/neo4j/neo4j-sub236/internal/errors"
	"github.com/neo4j/neo4j-sub236/logging"
	"github.com/neo4j/neo4j-sub236/raftlog"
	"github.com/neo4j/neo4j-sub236/replication"
	"github.com/neo4j/neo4j-sub236/statemachine"
)

// Error strings.
const (
	errFailedRead    = "failed to read config %s"
	errFailedParse   = "failed to parse config %s"
	errInvalidConfig = "invalid config: %s"
)

// LogKind selects the replicated log implementation.
type LogKind string

const (
	MemoryLog    LogKind = "memory"
	SegmentedLog LogKind = "segmented"
	BoltLog      LogKind = "bolt"
)

// LogConfig configures the replicated log.
type LogConfig struct {
	Kind                 LogKind `yaml:"kind"`
	SegmentEntries       int     `yaml:"segment_entries"`
	CompressionThreshold int     `yaml:"compression_threshold"`
	MetadataCacheBytes   int     `yaml:"metadata_cache_bytes"`
}

// StateConfig configures the stored state of the state machines.
type StateConfig struct {
	LockTokenRotation    int `yaml:"lock_token_rotation"`
	IDAllocationRotation int `yaml:"id_allocation_rotation"`
	SessionRotation      int `yaml:"session_rotation"`
}

// ReplicationConfig configures how committed entries are applied.
type ReplicationConfig struct {
	FlushEvery int           `yaml:"flush_every"`
	Timeout    time.Duration `yaml:"timeout"`
	Term       int64         `yaml:"term"`
}

// Config is the configuration of a core member.
type Config struct {
	MemberID    string            `yaml:"member_id"`
	Dir         string            `yaml:"dir"`
	LogLevel    string            `yaml:"log_level"`
	Log         LogConfig         `yaml:"log"`
	State       StateConfig       `yaml:"state"`
	Replication ReplicationConfig `yaml:"replication"`
}

// Default returns the configuration used for settings missing from a file.
func Default() *Config {
	return &Config{
		Dir:      "data",
		LogLevel: "info",
		Log: LogConfig{
			Kind:                 SegmentedLog,
			SegmentEntries:       1 << 14,
			CompressionThreshold: 4 << 10,
			MetadataCacheBytes:   32 << 20,
		},
		State: StateConfig{
			LockTokenRotation:    1000,
			IDAllocationRotation: 1000,
			SessionRotation:      1000,
		},
		Replication: ReplicationConfig{
			FlushEvery: 100,
			Timeout:    10 * time.Second,
			Term:       1,
		},
	}
}

// ReadConfig reads the configuration in file on top of the defaults.
func ReadConfig(file string) (*Config, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.WrapError(err, errFailedRead, file)
	}
	c := Default()
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, errors.WrapError(err, errFailedParse, file)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapError(nil, errInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.MemberID != "" {
		if _, err := raft.ParseMemberID(c.MemberID); err != nil {
			return invalid("member_id %q is not a uuid", c.MemberID)
		}
	}
	if c.Dir == "" {
		return invalid("dir must be set")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level %q is unknown", c.LogLevel)
	}
	switch c.Log.Kind {
	case MemoryLog, SegmentedLog, BoltLog:
	default:
		return invalid("log kind %q is unknown", c.Log.Kind)
	}
	if c.Log.SegmentEntries <= 0 {
		return invalid("segment_entries must be positive")
	}
	if c.Log.CompressionThreshold < 0 {
		return invalid("compression_threshold must not be negative")
	}
	if c.Log.MetadataCacheBytes < 0 {
		return invalid("metadata_cache_bytes must not be negative")
	}
	if c.State.LockTokenRotation <= 0 || c.State.IDAllocationRotation <= 0 || c.State.SessionRotation <= 0 {
		return invalid("state rotation thresholds must be positive")
	}
	if c.Replication.FlushEvery <= 0 {
		return invalid("flush_every must be positive")
	}
	if c.Replication.Timeout < 0 {
		return invalid("replication timeout must not be negative")
	}
	if c.Replication.Term < 0 {
		return invalid("term must not be negative")
	}
	return nil
}

// Member returns the configured member id, or a new one if none is configured.
func (c *Config) Member() (raft.MemberID, error) {
	if c.MemberID == "" {
		return raft.NewMemberID(), nil
	}
	return raft.ParseMemberID(c.MemberID)
}

// Logger creates a logger at the configured level.
func (c *Config) Logger(opts ...logging.Option) (*logging.Logger, error) {
	return logging.NewLogger(append([]logging.Option{logging.WithLevelName(c.LogLevel)}, opts...)...)
}

// LogDir returns the directory the replicated log is stored in.
func (c *Config) LogDir() string {
	return filepath.Join(c.Dir, "raft-log")
}

// StateDir returns the directory the state machines are stored in.
func (c *Config) StateDir() string {
	return filepath.Join(c.Dir, "state")
}

// OpenLog opens the configured replicated log.
func (c *Config) OpenLog(logger *logging.Logger) (raftlog.Log, error) {
	opts := []raftlog.Option{raftlog.WithLogger(logger)}
	switch c.Log.Kind {
	case MemoryLog:
		return raftlog.NewInMemoryLog(opts...)
	case BoltLog:
		if err := os.MkdirAll(c.LogDir(), 0o755); err != nil {
			return nil, err
		}
		return raftlog.NewBoltLog(filepath.Join(c.LogDir(), "raft.db"), opts...)
	default:
		opts = append(opts,
			raftlog.WithSegmentEntries(c.Log.SegmentEntries),
			raftlog.WithCompressionThreshold(c.Log.CompressionThreshold),
			raftlog.WithMetadataCacheBytes(c.Log.MetadataCacheBytes),
		)
		return raftlog.NewSegmentedLog(c.LogDir(), opts...)
	}
}

// Rotation returns the rotation thresholds of the stored states.
func (c *Config) Rotation() statemachine.RotationThresholds {
	return statemachine.RotationThresholds{
		LockToken:    c.State.LockTokenRotation,
		IDAllocation: c.State.IDAllocationRotation,
		Sessions:     c.State.SessionRotation,
	}
}

// ReplicationOptions returns the options of the command application process
// and the replicator.
func (c *Config) ReplicationOptions(logger *logging.Logger) []replication.Option {
	return []replication.Option{
		replication.WithLogger(logger),
		replication.WithFlushEvery(c.Replication.FlushEvery),
		replication.WithTimeout(c.Replication.Timeout),
	}
}
