package storage

import (
	"errors"

	"github.com/neo4j/neo4j-sub236/logging"
)

type options struct {
	// The file system the storage files live on.
	fs FileSystem

	// The logger used by the storage.
	logger *logging.Logger
}

// Option is a function that updates the options associated with a DurableStateStorage.
type Option func(options *options) error

// WithFileSystem sets the file system used to access the storage files.
func WithFileSystem(fs FileSystem) Option {
	return func(options *options) error {
		if fs == nil {
			return errors.New("file system must not be nil")
		}
		options.fs = fs
		return nil
	}
}

// WithLogger sets the logger used by the storage.
func WithLogger(logger *logging.Logger) Option {
	return func(options *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		options.logger = logger
		return nil
	}
}
