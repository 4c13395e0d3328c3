package metrics

import "github.com/prometheus/client_golang/prometheus"

//go:generate mockgen -package=mocks -destination=mocks/metrics.go github.com/trussle/redrive/pkg/metrics Counter

// Counter is a monotonically increasing value.
// prometheus.Counter satisfies it.
type Counter interface {
	Inc()
	Add(float64)
}

// Counters groups every counter exported by the consumer and the redrive
// engine.
type Counters struct {
	ProcessedMessages  prometheus.Counter
	FailedMessages     prometheus.Counter
	ReceivedMessages   prometheus.Counter
	RelocatedMessages  prometheus.Counter
	FailedSends        prometheus.Counter
	FailedDeletes      prometheus.Counter
	RedriveIterations  prometheus.Counter
	RedriveInvocations prometheus.Counter
}

// NewCounters creates the counters under a namespace.
func NewCounters(namespace string) *Counters {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}
	return &Counters{
		ProcessedMessages:  counter("consumer_processed_messages", "Messages processed successfully by the consumer."),
		FailedMessages:     counter("consumer_failed_messages", "Messages the consumer reported as failed."),
		ReceivedMessages:   counter("redrive_received_messages", "Messages received from the dead-letter queue."),
		RelocatedMessages:  counter("redrive_relocated_messages", "Messages sent to the destination and deleted from the dead-letter queue."),
		FailedSends:        counter("redrive_failed_sends", "Entries the destination queue rejected."),
		FailedDeletes:      counter("redrive_failed_deletes", "Entries the dead-letter queue failed to delete."),
		RedriveIterations:  counter("redrive_iterations", "Receive, send and delete iterations."),
		RedriveInvocations: counter("redrive_invocations", "Redrive invocations."),
	}
}

// Register the counters with a registerer.
func (c *Counters) Register(r prometheus.Registerer) error {
	for _, v := range []prometheus.Collector{
		c.ProcessedMessages,
		c.FailedMessages,
		c.ReceivedMessages,
		c.RelocatedMessages,
		c.FailedSends,
		c.FailedDeletes,
		c.RedriveIterations,
		c.RedriveInvocations,
	} {
		if err := r.Register(v); err != nil {
			return err
		}
	}
	return nil
}
