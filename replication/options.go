package replication

import (
	"errors"
	"time"

	"github.com/neo4j/neo4j-sub236/logging"
)

const (
	defaultFlushEvery = 100
	defaultTimeout    = 10 * time.Second
)

type options struct {
	// The logger used by the component.
	logger *logging.Logger

	// The number of applied commands after which the state machines are flushed.
	flushEvery int

	// How long a caller waits for the result of a replicated operation.
	timeout time.Duration
}

// Option is a function that updates the options associated with a replication component.
type Option func(options *options) error

// WithLogger sets the logger used by the component.
func WithLogger(logger *logging.Logger) Option {
	return func(options *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		options.logger = logger
		return nil
	}
}

// WithFlushEvery sets the number of applied commands after which the state
// machines are flushed.
func WithFlushEvery(commands int) Option {
	return func(options *options) error {
		if commands <= 0 {
			return errors.New("flush interval must be positive")
		}
		options.flushEvery = commands
		return nil
	}
}

// WithTimeout sets how long a caller waits for the result of a replicated operation.
func WithTimeout(timeout time.Duration) Option {
	return func(options *options) error {
		if timeout < 0 {
			return errors.New("timeout must not be negative")
		}
		options.timeout = timeout
		return nil
	}
}

func applyOptions(opts []Option) (options, error) {
	options := options{flushEvery: defaultFlushEvery, timeout: defaultTimeout}
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
