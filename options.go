package shmstats

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Option configures a Registry at construction time.
type Option func(*Registry) error

// WithVersion sets the store layout version this producer expects. Versions
// start at 1; an existing store with an older version is upgraded in place,
// one with a newer version demotes this registry to a reader.
func WithVersion(version uint32) Option {
	return func(r *Registry) error {
		if version == 0 {
			return fmt.Errorf("version must be >= 1, got 0")
		}
		r.version = version

		return nil
	}
}

// WithReadOnly opens the registry as a consumer: segments are never created
// and every write becomes a logged no-op.
func WithReadOnly() Option {
	return func(r *Registry) error {
		r.readOnly = true

		return nil
	}
}

// WithDevelopmentMode toggles config validation. Validation is skipped by
// default for production hot paths.
func WithDevelopmentMode(enabled bool) Option {
	return func(r *Registry) error {
		r.devMode = enabled

		return nil
	}
}

// WithLogger injects the logger the registry reports warnings and errors to.
// The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		r.logger = logger

		return nil
	}
}

// WithKeyFilePath overrides the directory the rendezvous file lives in.
// Default is /var/tmp/.
func WithKeyFilePath(dir string) Option {
	return func(r *Registry) error {
		if dir == "" {
			return fmt.Errorf("key file path must not be empty")
		}
		r.dir = dir

		return nil
	}
}

// WithIdentifier overrides the rendezvous file suffix. The file name is
// always <name>.<identifier>; default identifier is "metrics".
func WithIdentifier(identifier string) Option {
	return func(r *Registry) error {
		if identifier == "" {
			return fmt.Errorf("identifier must not be empty")
		}
		r.identifier = identifier

		return nil
	}
}

// WithLockTimeout overrides the rendezvous lock acquisition timeout.
func WithLockTimeout(timeout time.Duration) Option {
	return func(r *Registry) error {
		if timeout <= 0 {
			return fmt.Errorf("lock timeout must be positive, got %s", timeout)
		}
		r.lockTimeout = timeout

		return nil
	}
}
