package consumer

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/trussle/redrive/pkg/metrics"
	"github.com/trussle/redrive/pkg/models"
)

// Consumer applies a Processor to every message of a batch and reports which
// messages must stay on the queue. A failure only ever affects the message
// that caused it, the rest of the batch is still processed.
//
// The Consumer never deletes or retains messages itself, that's left to
// whatever invoked it, using the report.
type Consumer struct {
	processor Processor
	processed metrics.Counter
	failed    metrics.Counter
	logger    log.Logger
}

// New creates a consumer.
func New(
	processor Processor,
	processed, failed metrics.Counter,
	logger log.Logger,
) *Consumer {
	return &Consumer{
		processor: processor,
		processed: processed,
		failed:    failed,
		logger:    logger,
	}
}

// Process every message of the batch, yielding exactly one outcome per message
// in the same order as the batch.
func (c *Consumer) Process(ctx context.Context, messages []models.Message) models.Outcomes {
	outcomes := make(models.Outcomes, len(messages))
	for k, msg := range messages {
		base := log.With(c.logger, "message_id", msg.ID)

		if err := c.process(ctx, msg); err != nil {
			level.Warn(base).Log("state", "process", "err", err)
			c.failed.Inc()

			outcomes[k] = models.Outcome{
				ID:     msg.ID,
				Status: models.Failure,
				Reason: err.Error(),
			}
			continue
		}

		level.Debug(base).Log("state", "process", "status", models.Success)
		c.processed.Inc()

		outcomes[k] = models.Outcome{
			ID:     msg.ID,
			Status: models.Success,
		}
	}
	return outcomes
}

// Handle is the entry point for a batch delivered by an SQS event source.
// Failures of individual messages never surface as an error, they're only
// reported with in the response.
func (c *Consumer) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	logger := c.logger
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		logger = log.With(logger, "invocation", lc.AwsRequestID)
	}

	messages := Messages(event)
	level.Info(logger).Log("state", "received", "messages", len(messages))

	consumer := *c
	consumer.logger = logger

	outcomes := consumer.Process(ctx, messages)
	report := Report(outcomes)

	level.Info(logger).Log(
		"state", "processed",
		"messages", len(messages),
		"failed", len(report.BatchItemFailures),
	)
	return report, nil
}

// process runs the processor, turning any error or panic into a
// ProcessingError.
func (c *Consumer) process(ctx context.Context, msg models.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ProcessingError{
				ID:  msg.ID,
				Err: errors.Errorf("panic: %v", r),
			}
		}
	}()

	if err = c.processor.Process(ctx, msg); err != nil && !ErrProcessing(err) {
		err = ProcessingError{
			ID:  msg.ID,
			Err: err,
		}
	}
	return
}

// Messages converts the records of an SQS event into messages.
func Messages(event events.SQSEvent) []models.Message {
	messages := make([]models.Message, len(event.Records))
	for k, v := range event.Records {
		messages[k] = models.Message{
			ID:      v.MessageId,
			Body:    []byte(v.Body),
			Receipt: models.Receipt(v.ReceiptHandle),
		}
	}
	return messages
}

// Report builds the batch item failure report for the outcomes. Every failed
// message is listed exactly once, and nothing else is, as any message missing
// from the report is deleted from the queue.
func Report(outcomes models.Outcomes) events.SQSEventResponse {
	var (
		seen     = make(map[string]struct{})
		failures = make([]events.SQSBatchItemFailure, 0)
	)
	for _, id := range outcomes.Failures() {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		failures = append(failures, events.SQSBatchItemFailure{
			ItemIdentifier: id,
		})
	}
	return events.SQSEventResponse{
		BatchItemFailures: failures,
	}
}
