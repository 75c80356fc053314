package domain

import (
	"slices"
	"strings"
	"time"
)

// DueDateLayout is the format of Task.DueDate.
const DueDateLayout = "2006-01-02"

// Categories are the labels a task may carry.
var Categories = []string{
	"Development",
	"Design",
	"Marketing",
	"Documentation",
	"Meetings",
	"Testing",
	"Research",
	"QA",
	"Other",
}

// NormalizeDraft trims free text and fills the form defaults for status and priority.
func NormalizeDraft(d TaskDraft) TaskDraft {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	d.Category = strings.TrimSpace(d.Category)
	d.DueDate = strings.TrimSpace(d.DueDate)
	if d.Status == "" {
		d.Status = StatusTodo
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	return d
}

// NormalizePatch trims the free text fields a patch sets, like NormalizeDraft.
func NormalizePatch(p TaskPatch) TaskPatch {
	p.Title = trimmed(p.Title)
	p.Description = trimmed(p.Description)
	p.Category = trimmed(p.Category)
	p.DueDate = trimmed(p.DueDate)
	return p
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// ValidateDraft applies the task form rules to an already normalized draft.
func ValidateDraft(d TaskDraft) error {
	if d.Title == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if d.Category == "" {
		return &ValidationError{Field: "category", Message: "category is required"}
	}
	if !slices.Contains(Categories, d.Category) {
		return &ValidationError{Field: "category", Message: "unknown category " + d.Category}
	}
	if !d.Status.Valid() {
		return &ValidationError{Field: "status", Message: "unknown status " + string(d.Status)}
	}
	if !d.Priority.Valid() {
		return &ValidationError{Field: "priority", Message: "unknown priority " + string(d.Priority)}
	}
	if d.DueDate != "" {
		if _, err := time.Parse(DueDateLayout, d.DueDate); err != nil {
			return &ValidationError{Field: "dueDate", Message: "due date must be YYYY-MM-DD"}
		}
	}
	return nil
}

// ValidatePatch applies the form rules to an already normalized patch.
func ValidatePatch(p TaskPatch) error {
	if p.Empty() {
		return &ValidationError{Field: "patch", Message: "no fields to update"}
	}
	if p.Title != nil && *p.Title == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if p.Category != nil && !slices.Contains(Categories, *p.Category) {
		return &ValidationError{Field: "category", Message: "unknown category " + *p.Category}
	}
	if p.Status != nil && !p.Status.Valid() {
		return &ValidationError{Field: "status", Message: "unknown status " + string(*p.Status)}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return &ValidationError{Field: "priority", Message: "unknown priority " + string(*p.Priority)}
	}
	if p.DueDate != nil && *p.DueDate != "" {
		if _, err := time.Parse(DueDateLayout, *p.DueDate); err != nil {
			return &ValidationError{Field: "dueDate", Message: "due date must be YYYY-MM-DD"}
		}
	}
	return nil
}
