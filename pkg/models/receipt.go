package models

// Receipt represents the handle of a single delivery of a message, so that the
// delivery can be deleted from its queue.
type Receipt string

func (r Receipt) String() string {
	return string(r)
}
