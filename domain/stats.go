package domain

// Stats is a projection of a task list partitioned by status.
type Stats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"inProgress"`
	Pending    int `json:"pending"`
}

// ComputeStats counts tasks per status. It keeps no state between calls.
func ComputeStats(tasks []Task) Stats {
	stats := Stats{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case StatusDone:
			stats.Completed++
		case StatusInProgress:
			stats.InProgress++
		case StatusTodo:
			stats.Pending++
		}
	}
	return stats
}
