package queue

import (
	"context"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/trussle/redrive/pkg/models"
)

//go:generate mockgen -package=mocks -destination=mocks/queue.go github.com/trussle/redrive/pkg/queue Queue

// MaxBatchSize is the largest number of entries a single receive, send or
// delete can carry.
const MaxBatchSize = 10

// Queue represents the narrow set of operations consumed from a queue service.
// Every method takes the queue reference it operates on, so a single Queue can
// talk to both a dead-letter queue and its main queue.
type Queue interface {
	// Receive up to max messages from a queue. The returned messages are hidden
	// from other receivers for the visibility timeout. Receive waits at most
	// waitTime for messages to become available and may return fewer than max,
	// including none.
	Receive(ctx context.Context, queue string, max int, visibilityTimeout, waitTime time.Duration) ([]models.Message, error)

	// SendBatch enqueues every entry on to a queue as a new message.
	SendBatch(ctx context.Context, queue string, entries []SendEntry) (Result, error)

	// DeleteBatch removes every delivery referenced by the entries.
	DeleteBatch(ctx context.Context, queue string, entries []DeleteEntry) (Result, error)
}

// SendEntry is a single message to be sent as part of a batch. The ID is only
// used to match the entry with its result.
type SendEntry struct {
	ID   string
	Body []byte
}

// DeleteEntry is a single delivery to be deleted as part of a batch.
type DeleteEntry struct {
	ID      string
	Receipt models.Receipt
}

// FailedEntry describes why a single entry of a batch failed.
type FailedEntry struct {
	ID          string
	Code        string
	Message     string
	SenderFault bool
}

// Result returns which entries of a batch succeeded and which failed.
// Errors returned along side a Result concern the whole request, failures of
// individual entries are only ever reported here.
type Result struct {
	Succeeded []string
	Failed    []FailedEntry
}

// Config encapsulates the requirements for generating a Queue
type Config struct {
	name         string
	remoteConfig *RemoteConfig
}

// Option defines a option for generating a queue Config
type Option func(*Config) error

// Build ingests configuration options to then yield a Config and return an
// error if it fails during setup.
func Build(opts ...Option) (*Config, error) {
	var config Config
	for _, opt := range opts {
		err := opt(&config)
		if err != nil {
			return nil, err
		}
	}
	return &config, nil
}

// With adds a type of queue to use for the configuration.
func With(name string) Option {
	return func(config *Config) error {
		config.name = name
		return nil
	}
}

// WithConfig adds a remote queue config to the configuration
func WithConfig(remoteConfig *RemoteConfig) Option {
	return func(config *Config) error {
		config.remoteConfig = remoteConfig
		return nil
	}
}

// New creates a queue from a configuration or returns error if on failure.
func New(config *Config, logger log.Logger) (queue Queue, err error) {
	switch strings.ToLower(config.name) {
	case "remote":
		if config.remoteConfig == nil {
			err = errors.New("remote queue requires a remote config")
			return
		}
		queue, err = newRemoteQueue(config.remoteConfig, logger)
		if err != nil {
			err = errors.Wrap(err, "remote queue")
			return
		}
	case "virtual":
		queue = NewVirtualQueue()
	case "nop":
		queue = newNopQueue()
	default:
		err = errors.Errorf("unexpected queue type %q", config.name)
	}
	return
}

func checkBatchSize(n int) error {
	if n > MaxBatchSize {
		return errors.Errorf("batch of %d entries exceeds maximum of %d", n, MaxBatchSize)
	}
	return nil
}
