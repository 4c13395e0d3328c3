package main

import (
	"flag"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/trussle/redrive/pkg/consumer"
	h "github.com/trussle/redrive/pkg/http"
)

const (
	defaultRecipientURL     = ""
	defaultRecipientTimeout = 10 * time.Second
)

func runConsume(args []string) error {
	// flags for the consume command
	var (
		flagset = flag.NewFlagSet("consume", flag.ExitOnError)

		debug = flagset.Bool("debug", false, "debug logging")

		marker           = flagset.String("marker", consumer.DefaultMarker, "messages whose body contains the marker fail")
		recipientURL     = flagset.String("recipient.url", defaultRecipientURL, "URL every message body is forwarded to, if any")
		recipientTimeout = flagset.Duration("recipient.timeout", defaultRecipientTimeout, "timeout for a single forward")

		metricsRegistration = flagset.Bool("metrics.registration", defaultMetricsRegistration, "Registration of metrics on launch")
	)

	flagset.Usage = usageFor(flagset, "consume [flags]")
	if err := parseFlags(flagset, args); err != nil {
		return nil
	}

	logger := newLogger(os.Stdout, *debug)

	counters, err := newCounters(*metricsRegistration)
	if err != nil {
		return err
	}

	processors := []consumer.Processor{
		consumer.MarkerProcessor(*marker),
	}
	if *recipientURL != "" {
		client := h.NewClient(newHTTPClient(*recipientTimeout), *recipientURL)
		processors = append(processors, consumer.ForwardProcessor(client))
	}

	c := consumer.New(
		consumer.Chain(processors...),
		counters.ProcessedMessages,
		counters.FailedMessages,
		log.With(logger, "component", "consumer"),
	)

	level.Info(logger).Log("state", "starting", "mode", "consume", "marker", *marker)

	lambda.Start(c.Handle)
	return nil
}
