package models

// Status describes how processing of a single message ended.
type Status int

const (
	// Success means the message was handled and can be removed from its queue.
	Success Status = iota

	// Failure means the message must stay on its queue for a retry.
	Failure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is the result of processing one message of a batch.
type Outcome struct {
	ID     string
	Status Status
	Reason string
}

// Failed returns true if the outcome requires the message to be retained.
func (o Outcome) Failed() bool {
	return o.Status == Failure
}

// Outcomes represents the outcomes of a batch.
type Outcomes []Outcome

// Failures returns the identifiers of every failed outcome, in order.
func (o Outcomes) Failures() []string {
	var ids []string
	for _, v := range o {
		if v.Failed() {
			ids = append(ids, v.ID)
		}
	}
	return ids
}

// Len returns the number of outcomes
func (o Outcomes) Len() int {
	return len(o)
}
