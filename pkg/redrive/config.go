package redrive

import (
	"math"
	"time"

	"github.com/trussle/redrive/pkg/queue"
)

const (
	// DefaultBatchSize is the number of messages received per iteration.
	DefaultBatchSize = queue.MaxBatchSize

	// DefaultVisibilityTimeout hides received messages long enough for the
	// send and delete of a batch to complete.
	DefaultVisibilityTimeout = 30 * time.Second

	// DefaultWaitTime is how long a receive waits for messages to arrive.
	DefaultWaitTime = 5 * time.Second

	maxVisibilityTimeout = 12 * time.Hour
	maxWaitTime          = 20 * time.Second
	visibilityFactor     = 3
)

// Config holds everything the Engine needs to know before touching a queue.
type Config struct {
	Region            string
	Source            string
	Destination       string
	BatchSize         int
	VisibilityTimeout time.Duration
	WaitTime          time.Duration
	RateLimit         float64
}

// ConfigOption defines a option for generating a Config
type ConfigOption func(*Config) error

// BuildConfig ingests configuration options to then yield a Config, and
// return an error if it fails during configuring. Tunables not set fall back
// to their defaults.
func BuildConfig(opts ...ConfigOption) (*Config, error) {
	config := Config{
		BatchSize:         DefaultBatchSize,
		VisibilityTimeout: DefaultVisibilityTimeout,
		WaitTime:          DefaultWaitTime,
	}
	for _, opt := range opts {
		err := opt(&config)
		if err != nil {
			return nil, err
		}
	}
	return &config, nil
}

// Validate checks that every required setting is present and every tunable is
// with in the limits of the queue service.
func (c *Config) Validate() error {
	switch {
	case c.Region == "":
		return errMissing("region")
	case c.Source == "":
		return errMissing("source")
	case c.Destination == "":
		return errMissing("destination")
	case c.Source == c.Destination:
		return ConfigError{Key: "destination", Reason: "must differ from source"}
	case c.BatchSize < 1 || c.BatchSize > queue.MaxBatchSize:
		return ConfigError{Key: "batch size", Reason: "must be between 1 and 10"}
	case c.VisibilityTimeout < time.Second || c.VisibilityTimeout > maxVisibilityTimeout:
		return ConfigError{Key: "visibility timeout", Reason: "must be between 1s and 12h"}
	case c.WaitTime < 0 || c.WaitTime > maxWaitTime:
		return ConfigError{Key: "wait time", Reason: "must be between 0s and 20s"}
	case c.RateLimit < 0:
		return ConfigError{Key: "rate limit", Reason: "must not be negative"}
	}
	return nil
}

// VisibilityTimeoutFor derives a visibility timeout from the expected latency
// of sending and deleting one batch. The result leaves room for three times
// the expected latency, rounded up to whole seconds.
func VisibilityTimeoutFor(latency time.Duration) time.Duration {
	if latency <= 0 {
		return DefaultVisibilityTimeout
	}

	secs := math.Ceil(latency.Seconds() * visibilityFactor)
	switch {
	case secs < 1:
		return time.Second
	case secs > maxVisibilityTimeout.Seconds():
		return maxVisibilityTimeout
	}
	return time.Duration(secs) * time.Second
}

// WithRegion adds a Region option to the configuration
func WithRegion(region string) ConfigOption {
	return func(config *Config) error {
		config.Region = region
		return nil
	}
}

// WithSource adds the dead-letter queue to drain to the configuration
func WithSource(source string) ConfigOption {
	return func(config *Config) error {
		config.Source = source
		return nil
	}
}

// WithDestination adds the queue messages are moved back to
func WithDestination(destination string) ConfigOption {
	return func(config *Config) error {
		config.Destination = destination
		return nil
	}
}

// WithBatchSize adds a BatchSize option to the configuration
func WithBatchSize(size int) ConfigOption {
	return func(config *Config) error {
		config.BatchSize = size
		return nil
	}
}

// WithVisibilityTimeout adds a VisibilityTimeout option to the configuration
func WithVisibilityTimeout(timeout time.Duration) ConfigOption {
	return func(config *Config) error {
		config.VisibilityTimeout = timeout
		return nil
	}
}

// WithWaitTime adds a WaitTime option to the configuration
func WithWaitTime(wait time.Duration) ConfigOption {
	return func(config *Config) error {
		config.WaitTime = wait
		return nil
	}
}

// WithRateLimit caps the number of messages sent per second. Zero means
// unlimited.
func WithRateLimit(perSecond float64) ConfigOption {
	return func(config *Config) error {
		config.RateLimit = perSecond
		return nil
	}
}
