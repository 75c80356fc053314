package domain

import (
	"errors"
	"testing"
)

func TestNormalizeDraftDefaults(t *testing.T) {
	d := NormalizeDraft(TaskDraft{Title: "  Ship it  ", Description: " notes ", Category: "QA"})
	if d.Title != "Ship it" || d.Description != "notes" {
		t.Fatalf("text not trimmed: %+v", d)
	}
	if d.Status != StatusTodo || d.Priority != PriorityMedium {
		t.Fatalf("defaults not applied: %+v", d)
	}
}

func TestValidateDraft(t *testing.T) {
	valid := TaskDraft{Title: "t", Category: "Design", Status: StatusTodo, Priority: PriorityHigh, DueDate: "2025-10-20"}

	tests := []struct {
		name      string
		mutate    func(*TaskDraft)
		wantField string
	}{
		{name: "valid", mutate: func(*TaskDraft) {}},
		{name: "missing title", mutate: func(d *TaskDraft) { d.Title = "" }, wantField: "title"},
		{name: "missing category", mutate: func(d *TaskDraft) { d.Category = "" }, wantField: "category"},
		{name: "unknown category", mutate: func(d *TaskDraft) { d.Category = "Gardening" }, wantField: "category"},
		{name: "bad status", mutate: func(d *TaskDraft) { d.Status = "blocked" }, wantField: "status"},
		{name: "bad priority", mutate: func(d *TaskDraft) { d.Priority = "urgent" }, wantField: "priority"},
		{name: "bad due date", mutate: func(d *TaskDraft) { d.DueDate = "20/10/2025" }, wantField: "dueDate"},
		{name: "no due date", mutate: func(d *TaskDraft) { d.DueDate = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			err := ValidateDraft(d)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.wantField {
				t.Fatalf("field = %s, want %s", verr.Field, tt.wantField)
			}
		})
	}
}

func TestValidatePatch(t *testing.T) {
	str := func(s string) *string { return &s }
	status := func(s Status) *Status { return &s }
	priority := func(p Priority) *Priority { return &p }

	tests := []struct {
		name      string
		patch     TaskPatch
		wantField string
	}{
		{name: "status only", patch: StatusPatch(StatusDone)},
		{name: "title and category", patch: TaskPatch{Title: str("New"), Category: str("QA")}},
		{name: "clear due date", patch: TaskPatch{DueDate: str("")}},
		{name: "padded category", patch: TaskPatch{Category: str("  Design ")}},
		{name: "empty", patch: TaskPatch{}, wantField: "patch"},
		{name: "blank title", patch: TaskPatch{Title: str("  ")}, wantField: "title"},
		{name: "unknown category", patch: TaskPatch{Category: str("Gardening")}, wantField: "category"},
		{name: "bad status", patch: TaskPatch{Status: status("blocked")}, wantField: "status"},
		{name: "bad priority", patch: TaskPatch{Priority: priority("urgent")}, wantField: "priority"},
		{name: "bad due date", patch: TaskPatch{DueDate: str("tomorrow")}, wantField: "dueDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePatch(NormalizePatch(tt.patch))
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.wantField {
				t.Fatalf("expected %s error, got %v", tt.wantField, err)
			}
		})
	}
}

func TestNormalizePatch(t *testing.T) {
	str := func(s string) *string { return &s }
	p := NormalizePatch(TaskPatch{
		Title:       str(" Ship it "),
		Description: str("\tnotes\n"),
		Category:    str("  Design  "),
		DueDate:     str(" 2024-05-01 "),
	})
	if *p.Title != "Ship it" || *p.Description != "notes" || *p.Category != "Design" || *p.DueDate != "2024-05-01" {
		t.Fatalf("unexpected patch: title=%q description=%q category=%q due=%q", *p.Title, *p.Description, *p.Category, *p.DueDate)
	}
	if q := NormalizePatch(StatusPatch(StatusDone)); q.Title != nil || q.Category != nil || q.Status == nil {
		t.Fatalf("unset fields must stay nil: %+v", q)
	}
}
