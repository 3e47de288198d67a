package model

// ChangeKind classifies a ChangeEvent.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
	ChangeError   ChangeKind = "error"
)

// ChangeEvent is one entry of a change feed. OldValue is nil for a create,
// NewValue is nil for a delete. A non-nil Err is terminal: the feed is closed
// after delivering it.
type ChangeEvent struct {
	OldValue Document
	NewValue Document
	Err      error
}

// Kind derives the change kind from which values are present.
func (e ChangeEvent) Kind() ChangeKind {
	switch {
	case e.Err != nil:
		return ChangeError
	case e.OldValue == nil:
		return ChangeCreated
	case e.NewValue == nil:
		return ChangeDeleted
	default:
		return ChangeUpdated
	}
}

// ChangeFunc receives change events. It is called from the feed's own
// goroutine, one event at a time, in backend order.
type ChangeFunc func(ChangeEvent)
