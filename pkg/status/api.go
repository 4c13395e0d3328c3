package status

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	errs "github.com/trussle/redrive/pkg/http"
)

// These are the status API URL paths.
const (
	APIPathLivenessQuery  = "/health"
	APIPathReadinessQuery = "/ready"
)

// Readiness reports whether the process is ready to do work.
type Readiness func() error

// API serves the status API
type API struct {
	logger   log.Logger
	ready    Readiness
	duration *prometheus.HistogramVec
	errors   errs.Error
}

// NewAPI creates a API with the correct dependencies. A nil readiness check
// is always ready.
func NewAPI(logger log.Logger, ready Readiness, duration *prometheus.HistogramVec) *API {
	if ready == nil {
		ready = func() error { return nil }
	}
	return &API{
		logger:   logger,
		ready:    ready,
		duration: duration,
		errors:   errs.NewError(logger),
	}
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	iw := &interceptingWriter{http.StatusOK, w}
	w = iw

	if a.duration != nil {
		defer func(begin time.Time) {
			a.duration.WithLabelValues(
				r.Method,
				r.URL.Path,
				strconv.Itoa(iw.code),
			).Observe(time.Since(begin).Seconds())
		}(time.Now())
	}

	// Routing table
	method, path := r.Method, r.URL.Path
	switch {
	case method == "GET" && path == APIPathLivenessQuery:
		a.handleLiveness(w, r)
	case method == "GET" && path == APIPathReadinessQuery:
		a.handleReadiness(w, r)
	default:
		// Nothing found
		a.errors.NotFound(w, r)
	}
}

func (a *API) handleLiveness(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(struct{}{}); err != nil {
		level.Error(a.logger).Log("state", "liveness", "err", err)
	}
}

func (a *API) handleReadiness(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if err := a.ready(); err != nil {
		level.Warn(a.logger).Log("state", "readiness", "err", err)
		a.errors.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(struct{}{}); err != nil {
		level.Error(a.logger).Log("state", "readiness", "err", err)
	}
}

type interceptingWriter struct {
	code int
	http.ResponseWriter
}

func (iw *interceptingWriter) WriteHeader(code int) {
	iw.code = code
	iw.ResponseWriter.WriteHeader(code)
}
