package raftlog

import (
	"errors"

	"github.com/neo4j/neo4j-sub236/logging"
)

const (
	defaultSegmentEntries       = 1 << 14
	defaultCompressionThreshold = 4 << 10
	defaultMetadataCacheBytes   = 32 << 20
)

type options struct {
	// The logger used by the log.
	logger *logging.Logger

	// The number of entries written to a segment before a new one is started.
	segmentEntries int

	// Payloads larger than this many bytes are compressed when it helps.
	compressionThreshold int

	// Caches the term and position of entries of a durable log.
	cache *MetadataCache

	// The size of the cache a log creates when none is provided.
	cacheBytes int
}

// Option is a function that updates the options associated with a log.
type Option func(options *options) error

// WithLogger sets the logger used by the log.
func WithLogger(logger *logging.Logger) Option {
	return func(options *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		options.logger = logger
		return nil
	}
}

// WithSegmentEntries sets the number of entries a segment of a SegmentedLog holds
// before the log rotates to a new segment.
func WithSegmentEntries(entries int) Option {
	return func(options *options) error {
		if entries <= 0 {
			return errors.New("segment entries must be positive")
		}
		options.segmentEntries = entries
		return nil
	}
}

// WithCompressionThreshold sets the payload size above which a SegmentedLog
// compresses entry content.
func WithCompressionThreshold(bytes int) Option {
	return func(options *options) error {
		if bytes < 0 {
			return errors.New("compression threshold must not be negative")
		}
		options.compressionThreshold = bytes
		return nil
	}
}

// WithMetadataCache sets the cache a SegmentedLog keeps entry terms and positions in.
func WithMetadataCache(cache *MetadataCache) Option {
	return func(options *options) error {
		if cache == nil {
			return errors.New("metadata cache must not be nil")
		}
		options.cache = cache
		return nil
	}
}

// WithMetadataCacheBytes sets the size of the metadata cache a SegmentedLog
// creates for itself. It has no effect together with WithMetadataCache.
func WithMetadataCacheBytes(bytes int) Option {
	return func(options *options) error {
		if bytes < 0 {
			return errors.New("metadata cache size must not be negative")
		}
		options.cacheBytes = bytes
		return nil
	}
}

func applyOptions(opts []Option) (options, error) {
	options := options{
		segmentEntries:       defaultSegmentEntries,
		compressionThreshold: defaultCompressionThreshold,
		cacheBytes:           defaultMetadataCacheBytes,
	}
	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return options, err
		}
	}
	if options.logger == nil {
		options.logger = logging.Discard()
	}
	return options, nil
}
