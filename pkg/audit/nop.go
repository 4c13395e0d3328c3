package audit

type nop struct{}

func newNopLog() Log { return nop{} }

func (nop) Append([]Entry) error { return nil }
