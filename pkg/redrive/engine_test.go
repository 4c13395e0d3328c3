package redrive

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"testing/quick"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/trussle/redrive/pkg/audit"
	auditMocks "github.com/trussle/redrive/pkg/audit/mocks"
	"github.com/trussle/redrive/pkg/models"
	"github.com/trussle/redrive/pkg/queue"
	queueMocks "github.com/trussle/redrive/pkg/queue/mocks"
)

const (
	dlq  = "https://sqs.eu-west-1.amazonaws.com/000000000000/main-dlq"
	main = "https://sqs.eu-west-1.amazonaws.com/000000000000/main"
)

func TestEngineRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty source", func(t *testing.T) {
		var (
			q         = queue.NewVirtualQueue()
			recording = newRecording()
			engine    = newEngine(t, q, WithInstrumentation(recording))
		)

		summary, err := engine.Run(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := 0, summary.Relocated; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		if expected, actual := 0, summary.Iterations; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}

		want := []State{Draining, SourceEmpty, Idle}
		if expected, actual := fmt.Sprint(want), fmt.Sprint(recording.transitions()); expected != actual {
			t.Errorf("expected: %s, actual: %s", expected, actual)
		}
	})

	t.Run("fifteen messages relocate in two iterations", func(t *testing.T) {
		var (
			q         = queue.NewVirtualQueue()
			recording = newRecording()
			engine    = newEngine(t, q, WithInstrumentation(recording))
		)
		seed(t, q, dlq, 15, "")

		summary, err := engine.Run(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := 15, summary.Relocated; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		if expected, actual := 2, summary.Iterations; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		if expected, actual := "[10 5]", fmt.Sprint(recording.received()); expected != actual {
			t.Errorf("expected: %s, actual: %s", expected, actual)
		}
		if expected, actual := 0, q.Len(dlq); expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		if expected, actual := 15, q.Len(main); expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}

		want := []State{
			Draining,
			BatchRelocated, Draining,
			BatchRelocated, Draining,
			SourceEmpty, Idle,
		}
		if expected, actual := fmt.Sprint(want), fmt.Sprint(recording.transitions()); expected != actual {
			t.Errorf("expected: %s, actual: %s", expected, actual)
		}
	})

	t.Run("failed sends stay on the source", func(t *testing.T) {
		var (
			q         = queue.NewVirtualQueue()
			recording = newRecording()
			engine    = newEngine(t, q, WithInstrumentation(recording))
		)
		seed(t, q, dlq, 7, "")
		seed(t, q, dlq, 3, "reject")
		q.FailSends(func(_ string, e queue.SendEntry) bool {
			return strings.HasPrefix(string(e.Body), "reject")
		})

		summary, err := engine.Run(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := 7, summary.Relocated; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		if expected, actual := 3, summary.SendFailures; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		if expected, actual := 3, q.Len(dlq); expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		for _, body := range q.Bodies(dlq) {
			if !strings.HasPrefix(body, "reject") {
				t.Errorf("unexpected message left on source %q", body)
			}
		}
		if expected, actual := 7, q.Len(main); expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		if expected, actual := 3, recording.count("send failed"); expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
	})

	t.Run("failed sends become visible again", func(t *testing.T) {
		var (
			now = time.Now()
			q   = queue.NewVirtualQueue().WithClock(func() time.Time { return now })
		)
		seed(t, q, dlq, 3, "")
		q.FailSends(func(string, queue.SendEntry) bool { return true })

		engine := newEngine(t, q)
		if _, err := engine.Run(ctx); err != nil {
			t.Fatal(err)
		}
		if expected, actual := 3, q.Len(dlq); expected != actual {
			t.Fatalf("expected: %d, actual: %d", expected, actual)
		}

		// After the visibility timeout, a later invocation picks them up.
		now = now.Add(DefaultVisibilityTimeout + time.Second)
		q.FailSends(nil)

		summary, err := engine.Run(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := 3, summary.Relocated; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		if expected, actual := 0, q.Len(dlq); expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
	})

	t.Run("failed deletes are not counted", func(t *testing.T) {
		var (
			q         = queue.NewVirtualQueue()
			recording = newRecording()
			engine    = newEngine(t, q, WithInstrumentation(recording))
		)
		seed(t, q, dlq, 5, "")

		// The filter runs under the queue's lock.
		var rejected int
		q.FailDeletes(func(string, queue.DeleteEntry) bool {
			rejected++
			return rejected <= 2
		})

		summary, err := engine.Run(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := 3, summary.Relocated; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		if expected, actual := 2, summary.DeleteFailures; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		// Sent but not deleted, so they're duplicated on a later invocation.
		if expected, actual := 2, q.Len(dlq); expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		if expected, actual := 5, q.Len(main); expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		if expected, actual := 2, recording.count("delete failed"); expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
	})

	t.Run("unreachable destination", func(t *testing.T) {
		var (
			q      = queue.NewVirtualQueue()
			engine = newEngine(t, q)
		)
		seed(t, q, dlq, 4, "")
		q.Unreachable(main)

		summary, err := engine.Run(ctx)
		if expected, actual := true, ErrService(err); expected != actual {
			t.Fatalf("expected: %t, actual: %t, err: %v", expected, actual, err)
		}
		if expected, actual := 0, summary.Relocated; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		if expected, actual := 4, q.Len(dlq); expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
	})

	t.Run("unreachable source", func(t *testing.T) {
		var (
			q      = queue.NewVirtualQueue()
			engine = newEngine(t, q)
		)
		q.Unreachable(dlq)

		_, err := engine.Run(ctx)
		if expected, actual := true, ErrService(err); expected != actual {
			t.Fatalf("expected: %t, actual: %t, err: %v", expected, actual, err)
		}
	})

	t.Run("audit trail", func(t *testing.T) {
		var (
			q      = queue.NewVirtualQueue()
			log    = audit.NewVirtualLog()
			engine = newEngine(t, q, WithAuditLog(log))
		)
		seed(t, q, dlq, 12, "")

		if _, err := engine.Run(ctx); err != nil {
			t.Fatal(err)
		}

		entries := log.Entries()
		if expected, actual := 12, len(entries); expected != actual {
			t.Fatalf("expected: %d, actual: %d", expected, actual)
		}
		for _, e := range entries {
			if e.Source != dlq || e.Destination != main {
				t.Errorf("unexpected entry %v", e)
			}
			if e.Token == "" || e.Token == e.MessageID {
				t.Errorf("expected a fresh token, got %q for %q", e.Token, e.MessageID)
			}
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		q := queue.NewVirtualQueue()
		seed(t, q, dlq, 10, "")

		config, err := BuildConfig(
			WithRegion("eu-west-1"),
			WithSource(dlq),
			WithDestination(main),
			WithRateLimit(1000),
		)
		if err != nil {
			t.Fatal(err)
		}

		engine, err := New(config, q)
		if err != nil {
			t.Fatal(err)
		}

		summary, err := engine.Run(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := 10, summary.Relocated; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
	})

	t.Run("cancelled while rate limited", func(t *testing.T) {
		q := queue.NewVirtualQueue()
		seed(t, q, dlq, 20, "")

		config, err := BuildConfig(
			WithRegion("eu-west-1"),
			WithSource(dlq),
			WithDestination(main),
			WithRateLimit(0.001),
		)
		if err != nil {
			t.Fatal(err)
		}

		engine, err := New(config, q)
		if err != nil {
			t.Fatal(err)
		}

		// The first batch drains the burst, the second has to wait.
		ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		summary, err := engine.Run(ctx)
		if expected, actual := false, err == nil; expected != actual {
			t.Errorf("expected: %t, actual: %t", expected, actual)
		}
		if expected, actual := 10, summary.Relocated; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
	})
}

func TestEngineProperties(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("drains a static backlog in bounded iterations", func(t *testing.T) {
		fn := func(size uint8) bool {
			var (
				m = int(size)
				q = queue.NewVirtualQueue()
			)
			seed(t, q, dlq, m, "")

			summary, err := newEngine(t, q).Run(ctx)
			if err != nil {
				t.Fatal(err)
			}
			iterations := (m + queue.MaxBatchSize - 1) / queue.MaxBatchSize
			return summary.Relocated == m &&
				summary.Iterations == iterations &&
				q.Len(dlq) == 0 &&
				q.Len(main) == m
		}

		if err := quick.Check(fn, nil); err != nil {
			t.Error(err)
		}
	})

	t.Run("never deletes a message whose send failed", func(t *testing.T) {
		fn := func(rejects [10]bool) bool {
			q := queue.NewVirtualQueue()

			var rejected int
			for k, reject := range rejects {
				prefix := "keep"
				if reject {
					prefix = "reject"
					rejected++
				}
				q.SendBatch(ctx, dlq, []queue.SendEntry{{
					ID:   fmt.Sprintf("%d", k),
					Body: []byte(fmt.Sprintf("%s-%d", prefix, k)),
				}})
			}
			q.FailSends(func(_ string, e queue.SendEntry) bool {
				return strings.HasPrefix(string(e.Body), "reject")
			})

			summary, err := newEngine(t, q).Run(ctx)
			if err != nil {
				t.Fatal(err)
			}
			for _, body := range q.Bodies(dlq) {
				if !strings.HasPrefix(body, "reject") {
					return false
				}
			}
			return summary.Relocated == len(rejects)-rejected &&
				q.Len(dlq) == rejected
		}

		if err := quick.Check(fn, nil); err != nil {
			t.Error(err)
		}
	})
}

func TestEngineWithMocks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("earlier iterations stay relocated after a service fault", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		q := queueMocks.NewMockQueue(ctrl)

		batch := messages(10)
		gomock.InOrder(
			q.EXPECT().Receive(gomock.Any(), dlq, 10, DefaultVisibilityTimeout, DefaultWaitTime).Return(batch, nil),
			q.EXPECT().SendBatch(gomock.Any(), main, gomock.Any()).DoAndReturn(succeedSends),
			q.EXPECT().DeleteBatch(gomock.Any(), dlq, gomock.Any()).DoAndReturn(succeedDeletes),
			q.EXPECT().Receive(gomock.Any(), dlq, 10, DefaultVisibilityTimeout, DefaultWaitTime).Return(messages(3), nil),
			q.EXPECT().SendBatch(gomock.Any(), main, gomock.Any()).Return(queue.Result{}, errors.New("AccessDenied")),
		)

		engine := newEngine(t, q)
		summary, err := engine.Run(ctx)
		if expected, actual := true, ErrService(err); expected != actual {
			t.Fatalf("expected: %t, actual: %t", expected, actual)
		}
		if expected, actual := "AccessDenied", errors.Cause(err).Error(); expected != actual {
			t.Errorf("expected: %s, actual: %s", expected, actual)
		}
		if expected, actual := 10, summary.Relocated; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
	})

	t.Run("deletes with the receipts of confirmed sends only", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		q := queueMocks.NewMockQueue(ctrl)

		batch := messages(3)
		gomock.InOrder(
			q.EXPECT().Receive(gomock.Any(), dlq, 10, gomock.Any(), gomock.Any()).Return(batch, nil),
			q.EXPECT().SendBatch(gomock.Any(), main, gomock.Any()).DoAndReturn(
				func(_ context.Context, _ string, entries []queue.SendEntry) (queue.Result, error) {
					if expected, actual := 3, len(entries); expected != actual {
						t.Fatalf("expected: %d, actual: %d", expected, actual)
					}
					// First confirmed, second failed, third unreported.
					return queue.Result{
						Succeeded: []string{entries[0].ID},
						Failed:    []queue.FailedEntry{{ID: entries[1].ID, Code: "InternalError"}},
					}, nil
				},
			),
			q.EXPECT().DeleteBatch(gomock.Any(), dlq, gomock.Any()).DoAndReturn(
				func(_ context.Context, _ string, entries []queue.DeleteEntry) (queue.Result, error) {
					if expected, actual := 1, len(entries); expected != actual {
						t.Fatalf("expected: %d, actual: %d", expected, actual)
					}
					if expected, actual := batch[0].Receipt, entries[0].Receipt; expected != actual {
						t.Errorf("expected: %s, actual: %s", expected, actual)
					}
					return succeedDeletes(nil, "", entries)
				},
			),
			q.EXPECT().Receive(gomock.Any(), dlq, 10, gomock.Any(), gomock.Any()).Return(nil, nil),
		)

		summary, err := newEngine(t, q).Run(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := 1, summary.Relocated; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		if expected, actual := 2, summary.SendFailures; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
	})

	t.Run("skips delete when nothing was sent", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		q := queueMocks.NewMockQueue(ctrl)

		gomock.InOrder(
			q.EXPECT().Receive(gomock.Any(), dlq, 10, gomock.Any(), gomock.Any()).Return(messages(2), nil),
			q.EXPECT().SendBatch(gomock.Any(), main, gomock.Any()).DoAndReturn(
				func(_ context.Context, _ string, entries []queue.SendEntry) (queue.Result, error) {
					var res queue.Result
					for _, e := range entries {
						res.Failed = append(res.Failed, queue.FailedEntry{ID: e.ID})
					}
					return res, nil
				},
			),
			q.EXPECT().Receive(gomock.Any(), dlq, 10, gomock.Any(), gomock.Any()).Return(nil, nil),
		)

		summary, err := newEngine(t, q).Run(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := 0, summary.Relocated; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
	})

	t.Run("delete fault is fatal", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		q := queueMocks.NewMockQueue(ctrl)

		gomock.InOrder(
			q.EXPECT().Receive(gomock.Any(), dlq, 10, gomock.Any(), gomock.Any()).Return(messages(2), nil),
			q.EXPECT().SendBatch(gomock.Any(), main, gomock.Any()).DoAndReturn(succeedSends),
			q.EXPECT().DeleteBatch(gomock.Any(), dlq, gomock.Any()).Return(queue.Result{}, errors.New("bad")),
		)

		_, err := newEngine(t, q).Run(ctx)
		if expected, actual := true, ErrService(err); expected != actual {
			t.Errorf("expected: %t, actual: %t", expected, actual)
		}
	})

	t.Run("audit failures are not fatal", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		var (
			q         = queueMocks.NewMockQueue(ctrl)
			log       = auditMocks.NewMockLog(ctrl)
			recording = newRecording()
		)

		gomock.InOrder(
			q.EXPECT().Receive(gomock.Any(), dlq, 10, gomock.Any(), gomock.Any()).Return(messages(2), nil),
			q.EXPECT().SendBatch(gomock.Any(), main, gomock.Any()).DoAndReturn(succeedSends),
			q.EXPECT().DeleteBatch(gomock.Any(), dlq, gomock.Any()).DoAndReturn(succeedDeletes),
			q.EXPECT().Receive(gomock.Any(), dlq, 10, gomock.Any(), gomock.Any()).Return(nil, nil),
		)
		log.EXPECT().Append(gomock.Any()).Return(errors.New("bad"))

		summary, err := newEngine(t, q, WithAuditLog(log), WithInstrumentation(recording)).Run(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := 2, summary.Relocated; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		if expected, actual := 1, recording.count("audit failed"); expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
	})

	t.Run("tokens are fresh per entry", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		var (
			q     = queueMocks.NewMockQueue(ctrl)
			batch = messages(4)
		)

		gomock.InOrder(
			q.EXPECT().Receive(gomock.Any(), dlq, 10, gomock.Any(), gomock.Any()).Return(batch, nil),
			q.EXPECT().SendBatch(gomock.Any(), main, gomock.Any()).DoAndReturn(
				func(ctx context.Context, name string, entries []queue.SendEntry) (queue.Result, error) {
					seen := make(map[string]bool)
					for k, e := range entries {
						if e.ID == batch[k].ID || seen[e.ID] {
							t.Errorf("unexpected token %s", e.ID)
						}
						seen[e.ID] = true
						if expected, actual := string(batch[k].Body), string(e.Body); expected != actual {
							t.Errorf("expected: %s, actual: %s", expected, actual)
						}
					}
					return succeedSends(ctx, name, entries)
				},
			),
			q.EXPECT().DeleteBatch(gomock.Any(), dlq, gomock.Any()).DoAndReturn(succeedDeletes),
			q.EXPECT().Receive(gomock.Any(), dlq, 10, gomock.Any(), gomock.Any()).Return(nil, nil),
		)

		tokens := ReaderTokens(rand.New(rand.NewSource(1)))
		if _, err := newEngine(t, q, WithTokenGenerator(tokens)).Run(ctx); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("duplicate tokens abort", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		q := queueMocks.NewMockQueue(ctrl)
		q.EXPECT().Receive(gomock.Any(), dlq, 10, gomock.Any(), gomock.Any()).Return(messages(2), nil)

		tokens := func() (string, error) { return "same", nil }
		_, err := newEngine(t, q, WithTokenGenerator(tokens)).Run(ctx)
		if expected, actual := false, err == nil; expected != actual {
			t.Errorf("expected: %t, actual: %t", expected, actual)
		}
	})
}

func TestEngineHandle(t *testing.T) {
	t.Parallel()

	t.Run("records the trigger and drains", func(t *testing.T) {
		var (
			q         = queue.NewVirtualQueue()
			recording = newRecording()
			engine    = newEngine(t, q, WithInstrumentation(recording))
		)
		seed(t, q, dlq, 3, "")

		ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{
			AwsRequestID: "request-1",
		})
		summary, err := engine.Handle(ctx, events.SNSEvent{
			Records: []events.SNSEventRecord{
				{SNS: events.SNSEntity{MessageID: "sns-1", Subject: "ALARM: dlq depth"}},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := 3, summary.Relocated; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		if expected, actual := 1, recording.count("triggered"); expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
		if expected, actual := "request-1", recording.invocation(); expected != actual {
			t.Errorf("expected: %s, actual: %s", expected, actual)
		}
	})
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("missing settings", func(t *testing.T) {
		for _, testcase := range []struct {
			name string
			opts []ConfigOption
		}{
			{"region", []ConfigOption{WithSource(dlq), WithDestination(main)}},
			{"source", []ConfigOption{WithRegion("eu-west-1"), WithDestination(main)}},
			{"destination", []ConfigOption{WithRegion("eu-west-1"), WithSource(dlq)}},
		} {
			t.Run(testcase.name, func(t *testing.T) {
				ctrl := gomock.NewController(t)
				defer ctrl.Finish()

				config, err := BuildConfig(testcase.opts...)
				if err != nil {
					t.Fatal(err)
				}

				// No expectations, so any queue call fails the test.
				_, err = New(config, queueMocks.NewMockQueue(ctrl))
				if expected, actual := true, ErrConfig(err); expected != actual {
					t.Errorf("expected: %t, actual: %t, err: %v", expected, actual, err)
				}
			})
		}
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := New(nil, queue.NewVirtualQueue())
		if expected, actual := true, ErrConfig(err); expected != actual {
			t.Errorf("expected: %t, actual: %t", expected, actual)
		}
	})

	t.Run("nil queue", func(t *testing.T) {
		config, err := BuildConfig(WithRegion("eu-west-1"), WithSource(dlq), WithDestination(main))
		if err != nil {
			t.Fatal(err)
		}

		_, err = New(config, nil)
		if expected, actual := true, ErrConfig(err); expected != actual {
			t.Errorf("expected: %t, actual: %t", expected, actual)
		}
	})
}

func newEngine(t *testing.T, q queue.Queue, opts ...Option) *Engine {
	t.Helper()

	config, err := BuildConfig(
		WithRegion("eu-west-1"),
		WithSource(dlq),
		WithDestination(main),
	)
	if err != nil {
		t.Fatal(err)
	}

	engine, err := New(config, q, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return engine
}

func seed(t *testing.T, q *queue.VirtualQueue, name string, n int, prefix string) {
	t.Helper()

	if prefix == "" {
		prefix = "body"
	}
	for i := 0; i < n; i += queue.MaxBatchSize {
		var entries []queue.SendEntry
		for j := i; j < n && j < i+queue.MaxBatchSize; j++ {
			entries = append(entries, queue.SendEntry{
				ID:   fmt.Sprintf("seed-%d", j),
				Body: []byte(fmt.Sprintf("%s-%d", prefix, j)),
			})
		}
		if _, err := q.SendBatch(context.Background(), name, entries); err != nil {
			t.Fatal(err)
		}
	}
}

func messages(n int) []models.Message {
	res := make([]models.Message, n)
	for k := range res {
		res[k] = models.Message{
			ID:      fmt.Sprintf("message-%d", k),
			Body:    []byte(fmt.Sprintf("body-%d", k)),
			Receipt: models.Receipt(fmt.Sprintf("receipt-%d", k)),
		}
	}
	return res
}

func succeedSends(_ context.Context, _ string, entries []queue.SendEntry) (queue.Result, error) {
	var res queue.Result
	for _, e := range entries {
		res.Succeeded = append(res.Succeeded, e.ID)
	}
	return res, nil
}

func succeedDeletes(_ context.Context, _ string, entries []queue.DeleteEntry) (queue.Result, error) {
	var res queue.Result
	for _, e := range entries {
		res.Succeeded = append(res.Succeeded, e.ID)
	}
	return res, nil
}

// recording keeps every event it's given, so tests can assert on what the
// engine reported without parsing log output.
type recording struct {
	mutex  sync.Mutex
	events []string
	states []State
	sizes  []int
	ids    []string
}

func newRecording() *recording {
	return &recording{}
}

func (r *recording) add(invocation, event string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.ids = append(r.ids, invocation)
	r.events = append(r.events, event)
}

func (r *recording) count(event string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var n int
	for _, v := range r.events {
		if v == event {
			n++
		}
	}
	return n
}

func (r *recording) transitions() []State {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recording) received() []int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]int(nil), r.sizes...)
}

func (r *recording) invocation() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.ids) == 0 {
		return ""
	}
	return r.ids[len(r.ids)-1]
}

func (r *recording) Triggered(invocation, _, _ string) {
	r.add(invocation, "triggered")
}

func (r *recording) Transitioned(invocation string, _, to State) {
	r.mutex.Lock()
	r.states = append(r.states, to)
	r.mutex.Unlock()
	r.add(invocation, "transitioned")
}

func (r *recording) Received(invocation string, _, size int) {
	r.mutex.Lock()
	r.sizes = append(r.sizes, size)
	r.mutex.Unlock()
	r.add(invocation, "received")
}

func (r *recording) SendFailed(invocation string, _ int, _ models.Message, _ queue.FailedEntry) {
	r.add(invocation, "send failed")
}

func (r *recording) DeleteFailed(invocation string, _ int, _ models.Message, _ queue.FailedEntry) {
	r.add(invocation, "delete failed")
}

func (r *recording) Relocated(invocation string, _, _ int, _ models.Summary) {
	r.add(invocation, "relocated")
}

func (r *recording) AuditFailed(invocation string, _ int, _ error) {
	r.add(invocation, "audit failed")
}

func (r *recording) Completed(invocation string, _ models.Summary) {
	r.add(invocation, "completed")
}

func (r *recording) Aborted(invocation string, _ models.Summary, _ error) {
	r.add(invocation, "aborted")
}
