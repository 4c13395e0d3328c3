package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/trussle/redrive/pkg/redrive"
)

func runDrain(args []string) error {
	// flags for the drain command
	var (
		flagset = flag.NewFlagSet("drain", flag.ExitOnError)
		flags   = registerEngineFlags(flagset)
	)

	flagset.Usage = usageFor(flagset, "drain [flags]")
	if err := parseFlags(flagset, args); err != nil {
		return nil
	}

	// Stdout only carries the summary.
	logger := newLogger(os.Stderr, *flags.debug)

	engine, err := flags.build(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return drain(ctx, engine, os.Stdout)
}

// drain runs the engine once and writes the summary as JSON, even when the
// run was aborted part way through.
func drain(ctx context.Context, engine *redrive.Engine, out io.Writer) error {
	summary, runErr := engine.Run(ctx)
	if err := json.NewEncoder(out).Encode(summary); err != nil {
		if runErr != nil {
			return runErr
		}
		return errors.Wrap(err, "summary")
	}
	return runErr
}
