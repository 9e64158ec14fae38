package description

// ReadConcern is the level at which a read observes the cluster's data,
// appended to a command's readConcern document alongside the causal
// afterClusterTime field the executor attaches (spec.md §4.9).
type ReadConcern struct {
	Level string
}

// IsZero reports whether no explicit level was configured, letting the
// executor distinguish "omit readConcern.level" from an explicit one.
func (rc ReadConcern) IsZero() bool { return rc.Level == "" }

// WriteConcern is the acknowledgment level a write requires, mirroring the
// server's {w, j, wtimeout} write concern document.
type WriteConcern struct {
	W        interface{} // nil (server default), int, or "majority"/a tag set name
	Journal  *bool
	WTimeout int64 // milliseconds, 0 means unset
}

// Acknowledged reports whether the concern requires a server reply at all;
// w:0 write concerns are fire-and-forget and never carry a session,
// txnNumber, or retry (spec.md §4.9 step 4).
func (wc WriteConcern) Acknowledged() bool {
	switch w := wc.W.(type) {
	case int:
		return w != 0
	case int32:
		return w != 0
	case nil:
		return true
	default:
		return true
	}
}

// IsZero reports whether wc carries no explicit settings at all, so the
// executor can skip appending a writeConcern document entirely.
func (wc WriteConcern) IsZero() bool {
	return wc.W == nil && wc.Journal == nil && wc.WTimeout == 0
}
