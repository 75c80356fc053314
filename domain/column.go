package domain

// Column is one board lane.
type Column struct {
	Status Status `json:"status"`
	Title  string `json:"title"`
	Tasks  []Task `json:"tasks"`
}

// Columns lists the board lanes in display order.
var Columns = []Column{
	{Status: StatusTodo, Title: "To Do"},
	{Status: StatusInProgress, Title: "In Progress"},
	{Status: StatusDone, Title: "Done"},
}

// GroupByStatus splits tasks into the board columns, preserving input order
// within each column.
func GroupByStatus(tasks []Task) []Column {
	out := make([]Column, len(Columns))
	index := make(map[Status]int, len(Columns))
	for i, c := range Columns {
		out[i] = Column{Status: c.Status, Title: c.Title, Tasks: []Task{}}
		index[c.Status] = i
	}
	for _, t := range tasks {
		i, ok := index[t.Status]
		if !ok {
			continue
		}
		out[i].Tasks = append(out[i].Tasks, t)
	}
	return out
}
