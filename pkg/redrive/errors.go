package redrive

import "fmt"

// ConfigError is returned when the engine is missing a setting, or a setting
// is out of range. It's always returned before any queue is touched.
type ConfigError struct {
	Key    string
	Reason string
}

func errMissing(key string) error {
	return ConfigError{Key: key, Reason: "required"}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Key, e.Reason)
}

// Config states that the error is a configuration fault.
func (e ConfigError) Config() bool {
	return true
}

// ServiceError is returned when a request to the queue service fails as a
// whole, as opposed to failing for some of its entries.
type ServiceError struct {
	Op    string
	Queue string
	Err   error
}

func (e ServiceError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Queue, e.Err)
}

// Cause returns the underlying error.
func (e ServiceError) Cause() error {
	return e.Err
}

// Service states that the error is a service fault.
func (e ServiceError) Service() bool {
	return true
}

// ErrConfig returns true if the error is a configuration fault.
func ErrConfig(err error) bool {
	_, ok := err.(interface {
		Config() bool
	})
	return ok
}

// ErrService returns true if the error is a service fault.
func ErrService(err error) bool {
	_, ok := err.(interface {
		Service() bool
	})
	return ok
}
