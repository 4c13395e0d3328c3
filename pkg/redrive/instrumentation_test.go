package redrive

import (
	"context"
	"math/rand"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/golang/mock/gomock"
	metricsMocks "github.com/trussle/redrive/pkg/metrics/mocks"
	"github.com/trussle/redrive/pkg/queue"
)

func TestLogInstrumentation(t *testing.T) {
	t.Parallel()

	t.Run("counts a drain", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		var (
			received      = metricsMocks.NewMockCounter(ctrl)
			relocated     = metricsMocks.NewMockCounter(ctrl)
			failedSends   = metricsMocks.NewMockCounter(ctrl)
			failedDeletes = metricsMocks.NewMockCounter(ctrl)
			iterations    = metricsMocks.NewMockCounter(ctrl)
			invocations   = metricsMocks.NewMockCounter(ctrl)
		)

		invocations.EXPECT().Inc().Times(1)
		iterations.EXPECT().Inc().Times(2)
		received.EXPECT().Add(float64(10)).Times(1)
		received.EXPECT().Add(float64(2)).Times(1)
		relocated.EXPECT().Add(float64(9)).Times(1)
		relocated.EXPECT().Add(float64(2)).Times(1)
		failedSends.EXPECT().Inc().Times(1)

		instrumentation := NewLogInstrumentation(Counters{
			Received:      received,
			Relocated:     relocated,
			FailedSends:   failedSends,
			FailedDeletes: failedDeletes,
			Iterations:    iterations,
			Invocations:   invocations,
		}, log.NewNopLogger())

		q := queue.NewVirtualQueue()
		seed(t, q, dlq, 12, "")
		q.FailSends(func(_ string, e queue.SendEntry) bool {
			return string(e.Body) == "body-3"
		})

		summary, err := newEngine(t, q, WithInstrumentation(instrumentation)).Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := 11, summary.Relocated; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
	})

	t.Run("counts failed deletes", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		var (
			received      = metricsMocks.NewMockCounter(ctrl)
			relocated     = metricsMocks.NewMockCounter(ctrl)
			failedSends   = metricsMocks.NewMockCounter(ctrl)
			failedDeletes = metricsMocks.NewMockCounter(ctrl)
			iterations    = metricsMocks.NewMockCounter(ctrl)
			invocations   = metricsMocks.NewMockCounter(ctrl)
		)

		invocations.EXPECT().Inc().Times(1)
		iterations.EXPECT().Inc().Times(1)
		received.EXPECT().Add(float64(4)).Times(1)
		relocated.EXPECT().Add(float64(0)).Times(1)
		failedDeletes.EXPECT().Inc().Times(4)

		instrumentation := NewLogInstrumentation(Counters{
			Received:      received,
			Relocated:     relocated,
			FailedSends:   failedSends,
			FailedDeletes: failedDeletes,
			Iterations:    iterations,
			Invocations:   invocations,
		}, log.NewNopLogger())

		q := queue.NewVirtualQueue()
		seed(t, q, dlq, 4, "")
		q.FailDeletes(func(string, queue.DeleteEntry) bool { return true })

		summary, err := newEngine(t, q, WithInstrumentation(instrumentation)).Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := 4, summary.DeleteFailures; expected != actual {
			t.Errorf("expected: %d, actual: %d", expected, actual)
		}
	})
}

func TestTokens(t *testing.T) {
	t.Parallel()

	t.Run("random tokens are unique", func(t *testing.T) {
		var (
			tokens = RandomTokens()
			seen   = make(map[string]bool)
		)
		for i := 0; i < 1000; i++ {
			token, err := tokens()
			if err != nil {
				t.Fatal(err)
			}
			if seen[token] {
				t.Fatalf("duplicate token %s", token)
			}
			seen[token] = true
		}
	})

	t.Run("seeded tokens repeat", func(t *testing.T) {
		var (
			a = ReaderTokens(rand.New(rand.NewSource(1)))
			b = ReaderTokens(rand.New(rand.NewSource(1)))
		)
		for i := 0; i < 10; i++ {
			x, err := a()
			if err != nil {
				t.Fatal(err)
			}
			y, err := b()
			if err != nil {
				t.Fatal(err)
			}
			if expected, actual := x, y; expected != actual {
				t.Errorf("expected: %s, actual: %s", expected, actual)
			}
		}
	})
}
