package domain

const (
	TaskCreated = "task-created"
	TaskUpdated = "task-updated"
	TaskDeleted = "task-deleted"
)

// Change announces that a task document was written. OwnerID is empty when the
// writer did not know it, which subscribers treat as relevant to every owner.
type Change struct {
	Type    string `json:"type"`
	TaskID  string `json:"taskId"`
	OwnerID string `json:"ownerId,omitempty"`
	Time    int64  `json:"time"`
}
