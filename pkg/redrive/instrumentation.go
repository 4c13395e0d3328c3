package redrive

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/trussle/redrive/pkg/metrics"
	"github.com/trussle/redrive/pkg/models"
	"github.com/trussle/redrive/pkg/queue"
)

// Instrumentation receives every notable event of an invocation. The engine
// never logs directly, so what gets recorded is decided here.
type Instrumentation interface {
	Triggered(invocation, messageID, subject string)
	Transitioned(invocation string, from, to State)
	Received(invocation string, iteration, size int)
	SendFailed(invocation string, iteration int, msg models.Message, entry queue.FailedEntry)
	DeleteFailed(invocation string, iteration int, msg models.Message, entry queue.FailedEntry)
	Relocated(invocation string, iteration, relocated int, summary models.Summary)
	AuditFailed(invocation string, iteration int, err error)
	Completed(invocation string, summary models.Summary)
	Aborted(invocation string, summary models.Summary, err error)
}

// Counters are the metrics updated by the log instrumentation.
type Counters struct {
	Received      metrics.Counter
	Relocated     metrics.Counter
	FailedSends   metrics.Counter
	FailedDeletes metrics.Counter
	Iterations    metrics.Counter
	Invocations   metrics.Counter
}

type logInstrumentation struct {
	counters Counters
	logger   log.Logger
}

// NewLogInstrumentation writes every event as a structured log record keyed
// by invocation, iteration and message id, and updates the counters.
func NewLogInstrumentation(counters Counters, logger log.Logger) Instrumentation {
	return &logInstrumentation{
		counters: counters,
		logger:   logger,
	}
}

func (i *logInstrumentation) Triggered(invocation, messageID, subject string) {
	level.Info(i.logger).Log(
		"invocation", invocation,
		"state", "triggered",
		"trigger_message_id", messageID,
		"subject", subject,
	)
}

func (i *logInstrumentation) Transitioned(invocation string, from, to State) {
	if from == Idle && to == Draining {
		i.counters.Invocations.Inc()
	}
	level.Debug(i.logger).Log("invocation", invocation, "from", from, "to", to)
}

func (i *logInstrumentation) Received(invocation string, iteration, size int) {
	i.counters.Iterations.Inc()
	i.counters.Received.Add(float64(size))
	level.Info(i.logger).Log(
		"invocation", invocation,
		"iteration", iteration,
		"state", "received",
		"messages", size,
	)
}

func (i *logInstrumentation) SendFailed(invocation string, iteration int, msg models.Message, entry queue.FailedEntry) {
	i.counters.FailedSends.Inc()
	level.Error(i.logger).Log(
		"invocation", invocation,
		"iteration", iteration,
		"message_id", msg.ID,
		"state", "send failed",
		"code", entry.Code,
		"reason", entry.Message,
		"sender_fault", entry.SenderFault,
	)
}

func (i *logInstrumentation) DeleteFailed(invocation string, iteration int, msg models.Message, entry queue.FailedEntry) {
	i.counters.FailedDeletes.Inc()
	level.Error(i.logger).Log(
		"invocation", invocation,
		"iteration", iteration,
		"message_id", msg.ID,
		"state", "delete failed",
		"code", entry.Code,
		"reason", entry.Message,
		"sender_fault", entry.SenderFault,
	)
}

func (i *logInstrumentation) Relocated(invocation string, iteration, relocated int, summary models.Summary) {
	i.counters.Relocated.Add(float64(relocated))
	level.Info(i.logger).Log(
		"invocation", invocation,
		"iteration", iteration,
		"state", "relocated",
		"messages", relocated,
		"total", summary.Relocated,
	)
}

func (i *logInstrumentation) AuditFailed(invocation string, iteration int, err error) {
	level.Warn(i.logger).Log(
		"invocation", invocation,
		"iteration", iteration,
		"state", "audit",
		"err", err,
	)
}

func (i *logInstrumentation) Completed(invocation string, summary models.Summary) {
	level.Info(i.logger).Log(
		"invocation", invocation,
		"state", "completed",
		"relocated", summary.Relocated,
		"iterations", summary.Iterations,
		"send_failures", summary.SendFailures,
		"delete_failures", summary.DeleteFailures,
	)
}

func (i *logInstrumentation) Aborted(invocation string, summary models.Summary, err error) {
	level.Error(i.logger).Log(
		"invocation", invocation,
		"state", "aborted",
		"relocated", summary.Relocated,
		"iterations", summary.Iterations,
		"err", err,
	)
}

type nopInstrumentation struct{}

// NopInstrumentation discards every event.
func NopInstrumentation() Instrumentation { return nopInstrumentation{} }

func (nopInstrumentation) Triggered(string, string, string)                            {}
func (nopInstrumentation) Transitioned(string, State, State)                           {}
func (nopInstrumentation) Received(string, int, int)                                   {}
func (nopInstrumentation) SendFailed(string, int, models.Message, queue.FailedEntry)   {}
func (nopInstrumentation) DeleteFailed(string, int, models.Message, queue.FailedEntry) {}
func (nopInstrumentation) Relocated(string, int, int, models.Summary)                  {}
func (nopInstrumentation) AuditFailed(string, int, error)                              {}
func (nopInstrumentation) Completed(string, models.Summary)                            {}
func (nopInstrumentation) Aborted(string, models.Summary, error)                       {}
