package audit

import "sync"

// VirtualLog keeps every appended entry in memory.
type VirtualLog struct {
	mutex   sync.Mutex
	entries []Entry
}

// NewVirtualLog creates an empty VirtualLog.
func NewVirtualLog() *VirtualLog {
	return &VirtualLog{}
}

// Append entries to the log
func (v *VirtualLog) Append(entries []Entry) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.entries = append(v.entries, entries...)
	return nil
}

// Entries returns a snapshot of every entry appended so far.
func (v *VirtualLog) Entries() []Entry {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	return append([]Entry(nil), v.entries...)
}
