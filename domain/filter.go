package domain

import "strings"

// FilterTasks returns the tasks whose title or category contains query,
// ignoring case. An empty query matches every task.
func FilterTasks(tasks []Task, query string) []Task {
	if query == "" {
		out := make([]Task, len(tasks))
		copy(out, tasks)
		return out
	}
	needle := strings.ToLower(query)
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Title), needle) ||
			strings.Contains(strings.ToLower(t.Category), needle) {
			out = append(out, t)
		}
	}
	return out
}
