package consumer

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	"github.com/trussle/redrive/pkg/http"
	"github.com/trussle/redrive/pkg/models"
)

// DefaultMarker is the substring that causes MarkerProcessor to reject a
// message.
const DefaultMarker = "fail"

// Processor handles a single message. Returning an error keeps the message on
// its queue.
type Processor interface {
	Process(context.Context, models.Message) error
}

// ProcessorFunc allows an ordinary function to be used as a Processor.
type ProcessorFunc func(context.Context, models.Message) error

// Process calls fn(ctx, msg).
func (fn ProcessorFunc) Process(ctx context.Context, msg models.Message) error {
	return fn(ctx, msg)
}

// MarkerProcessor rejects every message whose body contains the marker.
// An empty marker rejects nothing.
func MarkerProcessor(marker string) Processor {
	return ProcessorFunc(func(_ context.Context, msg models.Message) error {
		if marker != "" && bytes.Contains(msg.Body, []byte(marker)) {
			return ProcessingError{
				ID:  msg.ID,
				Err: errors.Errorf("body contains %q", marker),
			}
		}
		return nil
	})
}

// ForwardProcessor delivers the body of every message to a recipient, failing
// the message if the recipient doesn't accept it.
func ForwardProcessor(client *http.Client) Processor {
	return ProcessorFunc(func(ctx context.Context, msg models.Message) error {
		if err := client.Send(ctx, msg.Body); err != nil {
			return ProcessingError{
				ID:  msg.ID,
				Err: errors.Wrap(err, "forwarding"),
			}
		}
		return nil
	})
}

// Chain runs each processor in turn, stopping at the first failure.
func Chain(processors ...Processor) Processor {
	return ProcessorFunc(func(ctx context.Context, msg models.Message) error {
		for _, p := range processors {
			if err := p.Process(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	})
}
