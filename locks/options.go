package locks

import (
	"errors"

	"github.com/neo4j/neo4j-sub236/logging"
)

type options struct {
	// The logger used by the lock manager.
	logger *logging.Logger
}

// Option is a function that updates the options associated with a lock manager.
type Option func(options *options) error

// WithLogger sets the logger used by the lock manager.
func WithLogger(logger *logging.Logger) Option {
	return func(options *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		options.logger = logger
		return nil
	}
}

func applyOptions(opts []Option) (options, error) {
	var options options
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
