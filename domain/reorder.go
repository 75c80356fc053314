package domain

// DropResult describes the end of a drag gesture. Destination is nil when the
// card was released outside any column.
type DropResult struct {
	DraggableID string  `json:"draggableId"`
	Source      Status  `json:"source"`
	Destination *Status `json:"destination,omitempty"`
}

// MoveCommand is the single status transition a drop can produce.
type MoveCommand struct {
	TaskID string `json:"taskId"`
	Status Status `json:"status"`
}

// ResolveDrop decides whether a drop moves a task. Reordering inside a column
// is not modelled, so a drop on the source column is a no-op.
func ResolveDrop(r DropResult) (MoveCommand, bool) {
	if r.Destination == nil || r.DraggableID == "" {
		return MoveCommand{}, false
	}
	dest := *r.Destination
	if !dest.Valid() || dest == r.Source {
		return MoveCommand{}, false
	}
	return MoveCommand{TaskID: r.DraggableID, Status: dest}, true
}
