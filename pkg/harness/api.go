package harness

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	errs "github.com/trussle/redrive/pkg/http"
)

// These are the harness API URL paths.
const (
	APIPathDeliver = "/"
	APIPathTally   = "/tally"
)

// Tally counts what the recipient has seen.
type Tally struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// API is a stand in recipient for forwarded messages. Any delivery whose body
// contains the marker is refused with a server error, so the sender keeps the
// message and it eventually ends up on the dead-letter queue.
type API struct {
	mutex    sync.Mutex
	marker   []byte
	tally    Tally
	logger   log.Logger
	duration *prometheus.HistogramVec
	errors   errs.Error
}

// NewAPI creates a API with the correct dependencies. Request durations are
// only observed when duration isn't nil.
func NewAPI(marker string, logger log.Logger, duration *prometheus.HistogramVec) *API {
	return &API{
		marker:   []byte(marker),
		logger:   logger,
		duration: duration,
		errors:   errs.NewError(logger),
	}
}

// Tally returns what has been delivered so far.
func (a *API) Tally() Tally {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.tally
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
	case method == "POST" && path == APIPathDeliver:
		a.handleDeliver(w, r)
	case method == "GET" && path == APIPathTally:
		a.handleTally(w, r)
	default:
		// Nothing found
		a.errors.NotFound(w, r)
	}
}

func (a *API) handleDeliver(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	b, err := io.ReadAll(r.Body)
	if err != nil {
		a.errors.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if len(a.marker) > 0 && bytes.Contains(b, a.marker) {
		a.mutex.Lock()
		a.tally.Rejected++
		a.mutex.Unlock()

		level.Warn(a.logger).Log("state", "rejected", "body", string(b))
		a.errors.Error(w, "body contains marker", http.StatusInternalServerError)
		return
	}

	a.mutex.Lock()
	a.tally.Accepted++
	a.mutex.Unlock()

	level.Debug(a.logger).Log("state", "accepted", "body", string(b))
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleTally(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(a.Tally()); err != nil {
		level.Error(a.logger).Log("state", "tally", "err", err)
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
