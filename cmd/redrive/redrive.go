package main

import (
	"flag"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/trussle/redrive/pkg/audit"
	"github.com/trussle/redrive/pkg/metrics"
	"github.com/trussle/redrive/pkg/queue"
	"github.com/trussle/redrive/pkg/redrive"
)

const (
	defaultQueue    = "remote"
	defaultAuditLog = "nop"

	defaultDLQURL            = ""
	defaultSourceQueueURL    = ""
	defaultAWSFirehoseStream = ""

	defaultEngineRegion = ""

	defaultSendLatency = time.Duration(0)
	defaultRateLimit   = 0.0
)

// engineFlags are shared by every mode running the redrive engine.
type engineFlags struct {
	debug *bool

	awsEC2Role  *bool
	awsID       *string
	awsSecret   *string
	awsToken    *string
	awsRegion   *string
	awsEndpoint *string

	dlqURL            *string
	sourceQueueURL    *string
	awsFirehoseStream *string

	queueType    *string
	auditLogType *string

	batchSize         *int
	visibilityTimeout *time.Duration
	sendLatency       *time.Duration
	waitTime          *time.Duration
	rateLimit         *float64

	metricsRegistration *bool
}

func registerEngineFlags(flagset *flag.FlagSet) *engineFlags {
	return &engineFlags{
		debug: flagset.Bool("debug", false, "debug logging"),

		awsEC2Role:  flagset.Bool("aws.ec2.role", defaultAWSEC2Role, "AWS configuration to use EC2 roles"),
		awsID:       flagset.String("aws.id", defaultAWSID, "AWS configuration id"),
		awsSecret:   flagset.String("aws.secret", defaultAWSSecret, "AWS configuration secret"),
		awsToken:    flagset.String("aws.token", defaultAWSToken, "AWS configuration token"),
		awsRegion:   flagset.String("aws.region", defaultEngineRegion, "AWS configuration region, required"),
		awsEndpoint: flagset.String("aws.endpoint", defaultAWSEndpoint, "AWS configuration endpoint override"),

		dlqURL:            flagset.String("dlq.url", defaultDLQURL, "dead-letter queue to drain"),
		sourceQueueURL:    flagset.String("source.queue.url", defaultSourceQueueURL, "queue messages are moved back to"),
		awsFirehoseStream: flagset.String("aws.firehose.stream", defaultAWSFirehoseStream, "AWS configuration stream for the audit log"),

		queueType:    flagset.String("queue", defaultQueue, "type of queue to use (remote, virtual, nop)"),
		auditLogType: flagset.String("auditlog", defaultAuditLog, "type of audit log to use (remote, virtual, nop)"),

		batchSize:         flagset.Int("batch.size", redrive.DefaultBatchSize, "max number of messages to receive at once"),
		visibilityTimeout: flagset.Duration("visibility.timeout", redrive.DefaultVisibilityTimeout, "how long received messages stay hidden"),
		sendLatency:       flagset.Duration("send.latency", defaultSendLatency, "expected latency of one batch, overrides the visibility timeout when set"),
		waitTime:          flagset.Duration("wait.time", redrive.DefaultWaitTime, "how long a receive waits for messages"),
		rateLimit:         flagset.Float64("rate.limit", defaultRateLimit, "max messages sent per second, zero is unlimited"),

		metricsRegistration: flagset.Bool("metrics.registration", defaultMetricsRegistration, "Registration of metrics on launch"),
	}
}

// build wires the queue, the audit log and the instrumentation into an
// engine. The engine configuration is validated before any queue is created.
func (f *engineFlags) build(logger log.Logger) (*redrive.Engine, error) {
	visibilityTimeout := *f.visibilityTimeout
	if *f.sendLatency > 0 {
		visibilityTimeout = redrive.VisibilityTimeoutFor(*f.sendLatency)
	}

	config, err := redrive.BuildConfig(
		redrive.WithRegion(*f.awsRegion),
		redrive.WithSource(*f.dlqURL),
		redrive.WithDestination(*f.sourceQueueURL),
		redrive.WithBatchSize(*f.batchSize),
		redrive.WithVisibilityTimeout(visibilityTimeout),
		redrive.WithWaitTime(*f.waitTime),
		redrive.WithRateLimit(*f.rateLimit),
	)
	if err != nil {
		return nil, errors.Wrap(err, "redrive config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Configuration for the queue
	queueRemoteConfig, err := queue.BuildConfig(
		queue.WithEC2Role(*f.awsEC2Role),
		queue.WithID(*f.awsID),
		queue.WithSecret(*f.awsSecret),
		queue.WithToken(*f.awsToken),
		queue.WithRegion(*f.awsRegion),
		queue.WithEndpoint(*f.awsEndpoint),
	)
	if err != nil {
		return nil, errors.Wrap(err, "queue remote config")
	}

	queueConfig, err := queue.Build(
		queue.With(*f.queueType),
		queue.WithConfig(queueRemoteConfig),
	)
	if err != nil {
		return nil, errors.Wrap(err, "queue config")
	}

	q, err := queue.New(queueConfig, log.With(logger, "component", "queue"))
	if err != nil {
		return nil, err
	}

	// Firehose setup.
	auditRemoteConfig, err := audit.BuildRemoteConfig(
		audit.WithEC2Role(*f.awsEC2Role),
		audit.WithID(*f.awsID),
		audit.WithSecret(*f.awsSecret),
		audit.WithToken(*f.awsToken),
		audit.WithRegion(*f.awsRegion),
		audit.WithStream(*f.awsFirehoseStream),
	)
	if err != nil {
		return nil, errors.Wrap(err, "audit remote config")
	}

	auditConfig, err := audit.Build(
		audit.With(*f.auditLogType),
		audit.WithRemoteConfig(auditRemoteConfig),
	)
	if err != nil {
		return nil, errors.Wrap(err, "audit config")
	}

	auditLog, err := audit.New(auditConfig, log.With(logger, "component", "audit"))
	if err != nil {
		return nil, err
	}

	counters, err := newCounters(*f.metricsRegistration)
	if err != nil {
		return nil, err
	}

	return redrive.New(config, q,
		redrive.WithAuditLog(auditLog),
		redrive.WithInstrumentation(newInstrumentation(counters, logger)),
	)
}

func newInstrumentation(counters *metrics.Counters, logger log.Logger) redrive.Instrumentation {
	return redrive.NewLogInstrumentation(redrive.Counters{
		Received:      counters.ReceivedMessages,
		Relocated:     counters.RelocatedMessages,
		FailedSends:   counters.FailedSends,
		FailedDeletes: counters.FailedDeletes,
		Iterations:    counters.RedriveIterations,
		Invocations:   counters.RedriveInvocations,
	}, log.With(logger, "component", "redrive"))
}

func runRedrive(args []string) error {
	// flags for the redrive command
	var (
		flagset = flag.NewFlagSet("redrive", flag.ExitOnError)
		flags   = registerEngineFlags(flagset)
	)

	flagset.Usage = usageFor(flagset, "redrive [flags]")
	if err := parseFlags(flagset, args); err != nil {
		return nil
	}

	logger := newLogger(os.Stdout, *flags.debug)

	engine, err := flags.build(logger)
	if err != nil {
		return err
	}

	level.Info(logger).Log(
		"state", "starting",
		"mode", "redrive",
		"source", *flags.dlqURL,
		"destination", *flags.sourceQueueURL,
	)

	lambda.Start(engine.Handle)
	return nil
}
