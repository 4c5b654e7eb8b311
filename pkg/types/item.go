package types

// WorkItem is the envelope that travels between stages.
//
// SequenceNo never changes once the item is created; stages emit successor
// items carrying a new Payload rather than mutating the received one.
type WorkItem[P any] struct {
	// Payload is the item's current value
	Payload P

	// RunID identifies the run the item belongs to
	RunID int64

	// SequenceNo is the item's position in the run's input
	SequenceNo int

	// Err is the failure cause when Failed is set
	Err error

	// Failed marks an item that must bypass all further processing
	Failed bool
}

// NewWorkItem creates a work item for a run
func NewWorkItem[P any](runID int64, seq int, payload P) WorkItem[P] {
	return WorkItem[P]{
		Payload:    payload,
		RunID:      runID,
		SequenceNo: seq,
	}
}

// WithPayload returns the successor item carrying payload
func (w WorkItem[P]) WithPayload(payload P) WorkItem[P] {
	return WorkItem[P]{
		Payload:    payload,
		RunID:      w.RunID,
		SequenceNo: w.SequenceNo,
	}
}

// AsFailed returns a copy of the item marked failed with cause.
// The payload is kept so callers can inspect what was being processed.
func (w WorkItem[P]) AsFailed(cause error) WorkItem[P] {
	w.Failed = true
	w.Err = cause
	return w
}
