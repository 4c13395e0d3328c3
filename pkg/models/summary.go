package models

// Summary accumulates the results of a redrive invocation.
// Relocated only ever grows with in an invocation and counts messages that
// were both sent to the destination and deleted from the source.
type Summary struct {
	Relocated      int `json:"relocated"`
	Iterations     int `json:"iterations"`
	SendFailures   int `json:"send_failures"`
	DeleteFailures int `json:"delete_failures"`
}

// Add merges the results of one batch into the summary.
func (s *Summary) Add(relocated, sendFailures, deleteFailures int) {
	s.Iterations++
	s.Relocated += relocated
	s.SendFailures += sendFailures
	s.DeleteFailures += deleteFailures
}
