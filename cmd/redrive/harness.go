package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/trussle/redrive/pkg/audit"
	"github.com/trussle/redrive/pkg/consumer"
	"github.com/trussle/redrive/pkg/harness"
	h "github.com/trussle/redrive/pkg/http"
	"github.com/trussle/redrive/pkg/models"
	"github.com/trussle/redrive/pkg/queue"
	"github.com/trussle/redrive/pkg/redrive"
	"github.com/trussle/redrive/pkg/status"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultHarnessQueue  = "virtual"
	defaultHarnessSource = "source"
	defaultHarnessDLQ    = "dlq"

	defaultEnqueueRate     = 20.0
	defaultMarkerEvery     = 7
	defaultPollInterval    = 100 * time.Millisecond
	defaultRedriveInterval = 5 * time.Second
)

func runHarness(args []string) error {
	// flags for the harness command
	var (
		flagset = flag.NewFlagSet("harness", flag.ExitOnError)

		debug   = flagset.Bool("debug", false, "debug logging")
		apiAddr = flagset.String("api", defaultAPIAddr, "listen address for harness API")

		awsEC2Role  = flagset.Bool("aws.ec2.role", defaultAWSEC2Role, "AWS configuration to use EC2 roles")
		awsID       = flagset.String("aws.id", defaultAWSID, "AWS configuration id")
		awsSecret   = flagset.String("aws.secret", defaultAWSSecret, "AWS configuration secret")
		awsToken    = flagset.String("aws.token", defaultAWSToken, "AWS configuration token")
		awsRegion   = flagset.String("aws.region", defaultAWSRegion, "AWS configuration region")
		awsEndpoint = flagset.String("aws.endpoint", defaultAWSEndpoint, "AWS configuration endpoint override")

		queueType      = flagset.String("queue", defaultHarnessQueue, "type of queue to use (remote, virtual, nop)")
		sourceQueueURL = flagset.String("source.queue.url", defaultHarnessSource, "queue demo messages are enqueued to")
		dlqURL         = flagset.String("dlq.url", defaultHarnessDLQ, "dead-letter queue failed messages are moved to")

		marker          = flagset.String("marker", consumer.DefaultMarker, "messages whose body contains the marker fail")
		markerEvery     = flagset.Int("marker.every", defaultMarkerEvery, "every nth demo message contains the marker")
		enqueueRate     = flagset.Float64("enqueue.rate", defaultEnqueueRate, "demo messages enqueued per second, zero disables enqueuing")
		pollInterval    = flagset.Duration("poll.interval", defaultPollInterval, "how often the consumer polls an empty queue")
		redriveInterval = flagset.Duration("redrive.interval", defaultRedriveInterval, "how often the dead-letter queue is redriven")
		rateLimit       = flagset.Float64("rate.limit", defaultRateLimit, "max messages redriven per second, zero is unlimited")
	)

	flagset.Usage = usageFor(flagset, "harness [flags]")
	if err := parseFlags(flagset, args); err != nil {
		return nil
	}

	logger := newLogger(os.Stdout, *debug)

	// Instrumentation
	apiDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: defaultMetricsNamespace,
		Name:      "api_request_duration_seconds",
		Help:      "API request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status_code"})
	prometheus.MustRegister(apiDuration)

	counters, err := newCounters(true)
	if err != nil {
		return err
	}

	apiNetwork, apiAddress, err := parseAddr(*apiAddr, defaultAPIPort)
	if err != nil {
		return err
	}
	apiListener, err := net.Listen(apiNetwork, apiAddress)
	if err != nil {
		return err
	}
	level.Debug(logger).Log("API", fmt.Sprintf("%s://%s", apiNetwork, apiAddress))

	// Configuration for the queue
	remoteConfig, err := queue.BuildConfig(
		queue.WithEC2Role(*awsEC2Role),
		queue.WithID(*awsID),
		queue.WithSecret(*awsSecret),
		queue.WithToken(*awsToken),
		queue.WithRegion(*awsRegion),
		queue.WithEndpoint(*awsEndpoint),
	)
	if err != nil {
		return errors.Wrap(err, "queue remote config")
	}

	queueConfig, err := queue.Build(
		queue.With(*queueType),
		queue.WithConfig(remoteConfig),
	)
	if err != nil {
		return errors.Wrap(err, "queue config")
	}

	q, err := queue.New(queueConfig, log.With(logger, "component", "queue"))
	if err != nil {
		return err
	}

	// The consumer forwards to the harness recipient on the same listener.
	recipientURL := fmt.Sprintf("http://%s/recipient/", apiListener.Addr())
	c := consumer.New(
		consumer.ForwardProcessor(h.NewClient(newHTTPClient(defaultRecipientTimeout), recipientURL)),
		counters.ProcessedMessages,
		counters.FailedMessages,
		log.With(logger, "component", "consumer"),
	)

	engineConfig, err := redrive.BuildConfig(
		redrive.WithRegion(*awsRegion),
		redrive.WithSource(*dlqURL),
		redrive.WithDestination(*sourceQueueURL),
		redrive.WithWaitTime(0),
		redrive.WithRateLimit(*rateLimit),
	)
	if err != nil {
		return errors.Wrap(err, "redrive config")
	}
	engine, err := redrive.New(engineConfig, q,
		redrive.WithAuditLog(audit.NewVirtualLog()),
		redrive.WithInstrumentation(newInstrumentation(counters, logger)),
	)
	if err != nil {
		return err
	}

	var lastRedrive redriveStatus

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	{
		limiter := rate.NewLimiter(rate.Limit(*enqueueRate), queue.MaxBatchSize)
		g.Go(func() error {
			return enqueue(ctx, q, *sourceQueueURL, limiter, *marker, *markerEvery,
				log.With(logger, "component", "enqueue"),
			)
		})
	}
	{
		g.Go(func() error {
			return consume(ctx, q, c, *sourceQueueURL, *dlqURL, *pollInterval,
				log.With(logger, "component", "consume"),
			)
		})
	}
	{
		g.Go(func() error {
			ticker := time.NewTicker(*redriveInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					summary, err := engine.Run(ctx)
					lastRedrive.set(summary, err)
					if err != nil && ctx.Err() == nil {
						level.Error(logger).Log("state", "redrive", "err", err)
					}
				case <-ctx.Done():
					return nil
				}
			}
		})
	}
	{
		recipient := harness.NewAPI(*marker, log.With(logger, "component", "harness_api"), apiDuration)

		mux := http.NewServeMux()
		mux.Handle("/recipient/", http.StripPrefix("/recipient", recipient))
		mux.Handle("/status/", http.StripPrefix("/status", status.NewAPI(
			log.With(logger, "component", "status_api"),
			lastRedrive.ready,
			apiDuration,
		)))

		registerMetrics(mux)
		registerProfile(mux)

		server := &http.Server{Handler: mux}
		g.Go(func() error {
			if err := server.Serve(apiListener); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			level.Info(logger).Log("state", "shutting down...")

			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdown)
		})
	}
	return g.Wait()
}

// enqueue sends batches of demo messages at the pace of the limiter. Every
// nth message carries the marker, so the recipient refuses it. A limiter
// without a positive rate disables enqueuing.
func enqueue(
	ctx context.Context,
	q queue.Queue,
	name string,
	limiter *rate.Limiter,
	marker string,
	every int,
	logger log.Logger,
) error {
	if limiter.Limit() <= 0 {
		level.Info(logger).Log("state", "enqueue disabled")
		return nil
	}

	var sequence int
	for {
		if err := limiter.WaitN(ctx, queue.MaxBatchSize); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		entries := make([]queue.SendEntry, queue.MaxBatchSize)
		for k := range entries {
			sequence++

			payload := fmt.Sprintf("Ping-%d-%s", sequence, time.Now().Format(time.RFC3339))
			if every > 0 && sequence%every == 0 {
				payload = fmt.Sprintf("%s-%s", payload, marker)
			}
			entries[k] = queue.SendEntry{
				ID:   fmt.Sprintf("%d", k),
				Body: []byte(payload),
			}
		}

		res, err := q.SendBatch(ctx, name, entries)
		if err != nil {
			level.Error(logger).Log("state", "enqueue failure", "err", err)
			return err
		}
		level.Debug(logger).Log("state", "enqueued", "sent", len(res.Succeeded), "failed", len(res.Failed))
	}
}

// consume polls the queue and hands every batch to the consumer, the way an
// event source mapping would. Messages the consumer reports as failed are
// moved to the dead-letter queue straight away, standing in for a redrive
// policy with a single receive.
func consume(
	ctx context.Context,
	q queue.Queue,
	c *consumer.Consumer,
	source, dlq string,
	interval time.Duration,
	logger log.Logger,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}

		messages, err := q.Receive(ctx, source, queue.MaxBatchSize, redrive.DefaultVisibilityTimeout, 0)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "receive")
		}
		if len(messages) == 0 {
			continue
		}

		report := consumer.Report(c.Process(ctx, messages))

		failed := make(map[string]bool, len(report.BatchItemFailures))
		for _, v := range report.BatchItemFailures {
			failed[v.ItemIdentifier] = true
		}

		var (
			dead    []queue.SendEntry
			deletes []queue.DeleteEntry
		)
		for k, msg := range messages {
			if failed[msg.ID] {
				dead = append(dead, queue.SendEntry{
					ID:   fmt.Sprintf("%d", k),
					Body: msg.Body,
				})
			}
			deletes = append(deletes, queue.DeleteEntry{
				ID:      fmt.Sprintf("%d", k),
				Receipt: msg.Receipt,
			})
		}

		// A message is only removed once it has a home, either processed or
		// on the dead-letter queue.
		if len(dead) > 0 {
			res, err := q.SendBatch(ctx, dlq, dead)
			if err != nil {
				return errors.Wrap(err, "dead letter")
			}
			deletes = retain(messages, deletes, failed, res)
		}

		if len(deletes) > 0 {
			res, err := q.DeleteBatch(ctx, source, deletes)
			if err != nil {
				return errors.Wrap(err, "delete")
			}
			// Undeleted messages come back after the visibility timeout and are
			// processed again.
			for _, entry := range res.Failed {
				var id string
				if k, err := strconv.Atoi(entry.ID); err == nil && k < len(messages) {
					id = messages[k].ID
				}
				level.Error(logger).Log(
					"message_id", id,
					"state", "delete failed",
					"code", entry.Code,
					"reason", entry.Message,
					"sender_fault", entry.SenderFault,
				)
			}
		}
		level.Debug(logger).Log("state", "consumed", "messages", len(messages), "failed", len(dead))
	}
}

// retain drops the deletes of failed messages that didn't make it onto the
// dead-letter queue.
func retain(messages []models.Message, deletes []queue.DeleteEntry, failed map[string]bool, res queue.Result) []queue.DeleteEntry {
	moved := make(map[string]bool, len(res.Succeeded))
	for _, id := range res.Succeeded {
		moved[id] = true
	}

	var kept []queue.DeleteEntry
	for k, d := range deletes {
		if failed[messages[k].ID] && !moved[d.ID] {
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

// redriveStatus remembers how the latest redrive ended, for readiness.
type redriveStatus struct {
	mutex   sync.Mutex
	summary models.Summary
	err     error
}

func (s *redriveStatus) set(summary models.Summary, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.summary, s.err = summary, err
}

func (s *redriveStatus) ready() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.err != nil {
		return errors.Wrapf(s.err, "redrive aborted after relocating %d", s.summary.Relocated)
	}
	return nil
}
