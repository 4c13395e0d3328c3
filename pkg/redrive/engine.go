package redrive

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/pkg/errors"
	"github.com/trussle/redrive/pkg/audit"
	"github.com/trussle/redrive/pkg/models"
	"github.com/trussle/redrive/pkg/queue"
	"golang.org/x/time/rate"
)

// State of a redrive invocation.
type State int

const (
	// Idle is the state before and after an invocation.
	Idle State = iota

	// Draining is receiving a batch from the source queue.
	Draining

	// BatchRelocated is reached once a batch has been sent and deleted.
	BatchRelocated

	// SourceEmpty is reached when a receive yields no messages.
	SourceEmpty
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	case BatchRelocated:
		return "batch relocated"
	case SourceEmpty:
		return "source empty"
	default:
		return "unknown"
	}
}

// Engine moves messages from a dead-letter queue back to their main queue.
// Each invocation repeatedly receives a batch, sends it to the destination and
// deletes from the source only what the destination confirmed, until the
// source comes back empty.
//
// A message is never deleted unless its send was confirmed. A message that
// was sent but failed to delete will be relocated again on a later invocation,
// so the destination has to tolerate duplicates.
type Engine struct {
	queue           queue.Queue
	config          Config
	tokens          TokenGenerator
	instrumentation Instrumentation
	audit           audit.Log
	limiter         *rate.Limiter
	now             func() time.Time
}

// Option defines a option for creating an Engine
type Option func(*Engine)

// WithTokenGenerator replaces the generator used for entry tokens and
// invocation ids.
func WithTokenGenerator(tokens TokenGenerator) Option {
	return func(e *Engine) {
		e.tokens = tokens
	}
}

// WithInstrumentation adds the instrumentation events are reported to.
func WithInstrumentation(instrumentation Instrumentation) Option {
	return func(e *Engine) {
		e.instrumentation = instrumentation
	}
}

// WithAuditLog adds a log that every relocated message is appended to.
func WithAuditLog(log audit.Log) Option {
	return func(e *Engine) {
		e.audit = log
	}
}

// New creates an Engine, or returns a ConfigError if the configuration is
// incomplete.
func New(config *Config, q queue.Queue, opts ...Option) (*Engine, error) {
	if config == nil {
		return nil, errMissing("config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if q == nil {
		return nil, errMissing("queue")
	}

	e := &Engine{
		queue:           q,
		config:          *config,
		tokens:          RandomTokens(),
		instrumentation: NopInstrumentation(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if config.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.BatchSize)
	}

	return e, nil
}

// Handle is the entry point for a notification, usually from an alarm on the
// dead-letter queue. The notification is only recorded, it doesn't change
// what gets redriven.
func (e *Engine) Handle(ctx context.Context, event events.SNSEvent) (models.Summary, error) {
	id, err := e.invocationID(ctx)
	if err != nil {
		return models.Summary{}, err
	}

	for _, record := range event.Records {
		e.instrumentation.Triggered(id, record.SNS.MessageID, record.SNS.Subject)
	}

	return e.run(ctx, id)
}

// Run drains the source queue until it's empty, returning how many messages
// were relocated. On a service fault the summary of everything relocated up to
// that point is returned along with the error, nothing is rolled back.
func (e *Engine) Run(ctx context.Context) (models.Summary, error) {
	id, err := e.invocationID(ctx)
	if err != nil {
		return models.Summary{}, err
	}
	return e.run(ctx, id)
}

func (e *Engine) run(ctx context.Context, id string) (models.Summary, error) {
	inv := &invocation{
		engine: e,
		id:     id,
		state:  Idle,
	}
	inv.transition(Draining)

	state := inv.receive
	for state != nil {
		next, err := state(ctx)
		if err != nil {
			inv.transition(Idle)
			e.instrumentation.Aborted(id, inv.summary, err)
			return inv.summary, err
		}
		state = next
	}

	inv.transition(Idle)
	e.instrumentation.Completed(id, inv.summary)
	return inv.summary, nil
}

func (e *Engine) invocationID(ctx context.Context) (string, error) {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID, nil
	}
	id, err := e.tokens()
	if err != nil {
		return "", errors.Wrap(err, "invocation id")
	}
	return id, nil
}

// stateFn is a lazy chaining mechanism, similar to a trampoline. A nil stateFn
// ends the invocation.
type stateFn func(context.Context) (stateFn, error)

// pending is a message of the current batch along with the token it was sent
// with.
type pending struct {
	token   string
	message models.Message
}

// invocation holds everything that only lives as long as a single run.
type invocation struct {
	engine    *Engine
	id        string
	state     State
	iteration int
	summary   models.Summary

	batch []models.Message
	sent  []pending

	sendFailures int
}

func (i *invocation) transition(to State) {
	from := i.state
	i.state = to
	i.engine.instrumentation.Transitioned(i.id, from, to)
}

func (i *invocation) receive(ctx context.Context) (stateFn, error) {
	e := i.engine

	i.batch, i.sent, i.sendFailures = nil, nil, 0

	messages, err := e.queue.Receive(ctx,
		e.config.Source,
		e.config.BatchSize,
		e.config.VisibilityTimeout,
		e.config.WaitTime,
	)
	if err != nil {
		return nil, ServiceError{Op: "receive", Queue: e.config.Source, Err: err}
	}

	if len(messages) == 0 {
		i.transition(SourceEmpty)
		return nil, nil
	}

	i.iteration++
	i.batch = messages
	e.instrumentation.Received(i.id, i.iteration, len(messages))

	return i.relocate, nil
}

func (i *invocation) relocate(ctx context.Context) (stateFn, error) {
	e := i.engine

	if e.limiter != nil {
		if err := e.limiter.WaitN(ctx, len(i.batch)); err != nil {
			return nil, errors.Wrap(err, "rate limit")
		}
	}

	var (
		entries = make([]queue.SendEntry, len(i.batch))
		tokens  = make(map[string]models.Message, len(i.batch))
	)
	for k, msg := range i.batch {
		token, err := e.tokens()
		if err != nil {
			return nil, errors.Wrap(err, "generating token")
		}
		if _, ok := tokens[token]; ok {
			return nil, errors.Errorf("generated duplicate token %s", token)
		}

		tokens[token] = msg
		entries[k] = queue.SendEntry{
			ID:   token,
			Body: msg.Body,
		}
	}

	res, err := e.queue.SendBatch(ctx, e.config.Destination, entries)
	if err != nil {
		return nil, ServiceError{Op: "send", Queue: e.config.Destination, Err: err}
	}

	// Only entries the destination confirmed can be deleted. Anything else,
	// reported as failed or not reported at all, stays on the source.
	for _, token := range res.Succeeded {
		msg, ok := tokens[token]
		if !ok {
			continue
		}
		delete(tokens, token)
		i.sent = append(i.sent, pending{token: token, message: msg})
	}
	for _, failed := range res.Failed {
		msg, ok := tokens[failed.ID]
		if !ok {
			continue
		}
		delete(tokens, failed.ID)
		i.sendFailures++
		e.instrumentation.SendFailed(i.id, i.iteration, msg, failed)
	}
	for token, msg := range tokens {
		i.sendFailures++
		e.instrumentation.SendFailed(i.id, i.iteration, msg, queue.FailedEntry{
			ID:      token,
			Code:    "Unconfirmed",
			Message: "entry missing from send result",
		})
	}

	return i.reconcile, nil
}

func (i *invocation) reconcile(ctx context.Context) (stateFn, error) {
	e := i.engine

	var (
		relocated      []pending
		deleteFailures int
	)
	if len(i.sent) > 0 {
		var (
			entries = make([]queue.DeleteEntry, len(i.sent))
			tokens  = make(map[string]pending, len(i.sent))
		)
		for k, p := range i.sent {
			tokens[p.token] = p
			entries[k] = queue.DeleteEntry{
				ID:      p.token,
				Receipt: p.message.Receipt,
			}
		}

		res, err := e.queue.DeleteBatch(ctx, e.config.Source, entries)
		if err != nil {
			return nil, ServiceError{Op: "delete", Queue: e.config.Source, Err: err}
		}

		for _, token := range res.Succeeded {
			if p, ok := tokens[token]; ok {
				delete(tokens, token)
				relocated = append(relocated, p)
			}
		}
		for _, failed := range res.Failed {
			if p, ok := tokens[failed.ID]; ok {
				delete(tokens, failed.ID)
				deleteFailures++
				e.instrumentation.DeleteFailed(i.id, i.iteration, p.message, failed)
			}
		}
		for token, p := range tokens {
			deleteFailures++
			e.instrumentation.DeleteFailed(i.id, i.iteration, p.message, queue.FailedEntry{
				ID:      token,
				Code:    "Unconfirmed",
				Message: "entry missing from delete result",
			})
		}
	}

	i.summary.Add(len(relocated), i.sendFailures, deleteFailures)
	i.transition(BatchRelocated)
	e.instrumentation.Relocated(i.id, i.iteration, len(relocated), i.summary)

	if e.audit != nil && len(relocated) > 0 {
		if err := e.audit.Append(i.entries(relocated)); err != nil {
			e.instrumentation.AuditFailed(i.id, i.iteration, err)
		}
	}

	i.transition(Draining)
	return i.receive, nil
}

func (i *invocation) entries(relocated []pending) []audit.Entry {
	var (
		e   = i.engine
		now = e.now()
		res = make([]audit.Entry, len(relocated))
	)
	for k, p := range relocated {
		res[k] = audit.Entry{
			Invocation:  i.id,
			MessageID:   p.message.ID,
			Token:       p.token,
			Source:      e.config.Source,
			Destination: e.config.Destination,
			Body:        p.message.Body,
			Timestamp:   now,
		}
	}
	return res
}
