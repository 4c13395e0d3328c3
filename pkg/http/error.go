package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Error writes json encoded errors to a response.
type Error struct {
	logger log.Logger
}

// NewError creates a Error with the logger used to report encoding failures.
func NewError(logger log.Logger) Error {
	return Error{logger}
}

// Error replies to the request with the specified error message and HTTP code.
func (e Error) Error(w http.ResponseWriter, err string, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(struct {
		Code        int    `json:"code"`
		Description string `json:"description"`
	}{
		Code:        code,
		Description: err,
	}); err != nil {
		level.Error(e.logger).Log("err", err)
	}
}

// NotFound replies to the request with an HTTP 404 not found error.
func (e Error) NotFound(w http.ResponseWriter, r *http.Request) {
	e.Error(w, "not found", http.StatusNotFound)
}
