package storage

import (
	"encoding/json"
	"errors"
	"time"

	"taskflow/domain"
)

var errMissingRowKey = errors.New("task document has no RowKey")

// decodeTask reads a stored document leniently: absent or malformed fields take
// their defaults, only an unreadable payload or a missing key is an error.
func decodeTask(data []byte) (domain.Task, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Task{}, err
	}
	id := stringField(raw, "RowKey")
	if id == "" {
		return domain.Task{}, errMissingRowKey
	}
	task := domain.Task{
		ID:          id,
		Title:       stringField(raw, "Title"),
		Description: stringField(raw, "Description"),
		Category:    stringField(raw, "Category"),
		Status:      domain.StatusTodo,
		Priority:    domain.PriorityMedium,
		DueDate:     stringField(raw, "DueDate"),
		OwnerID:     stringField(raw, "OwnerID"),
		Order:       numberField(raw, "Order"),
		CreatedAt:   timeField(raw, "CreatedAt"),
		UpdatedAt:   timeField(raw, "UpdatedAt"),
	}
	if s := domain.Status(stringField(raw, "Status")); s.Valid() {
		task.Status = s
	}
	if p := domain.Priority(stringField(raw, "Priority")); p.Valid() {
		task.Priority = p
	}
	return task, nil
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

func numberField(raw map[string]any, key string) float64 {
	f, _ := raw[key].(float64)
	return f
}

func timeField(raw map[string]any, key string) *time.Time {
	s, ok := raw[key].(string)
	if !ok || s == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &ts
}
