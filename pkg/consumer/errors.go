package consumer

import "fmt"

// ProcessingError is returned when a single message could not be processed.
type ProcessingError struct {
	ID  string
	Err error
}

func (e ProcessingError) Error() string {
	return fmt.Sprintf("processing %s: %s", e.ID, e.Err)
}

// Cause returns the underlying error.
func (e ProcessingError) Cause() error {
	return e.Err
}

// Processing states that the error is a processing failure.
func (e ProcessingError) Processing() bool {
	return true
}

// ErrProcessing returns true if the error is a processing failure.
func ErrProcessing(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(interface {
		Processing() bool
	})
	return ok
}
