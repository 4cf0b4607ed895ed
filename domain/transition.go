package domain

// Column is a computed view over the tasks sharing one workflow state.
type Column struct {
	Status Status `json:"status"`
	Title  string `json:"title"`
	Tasks  []Task `json:"tasks"`
}

var columnTitles = map[Status]string{
	StatusTodo:       "To Do",
	StatusInProgress: "In Progress",
	StatusReview:     "Review",
	StatusDone:       "Done",
}

// CanTransition reports whether a task in state from may move to state to.
// The workflow does not restrict ordering: any state may move to any other,
// including done back to todo. Only the target has to be a known state.
func CanTransition(from, to Status) bool {
	if from != "" && !from.Valid() {
		return false
	}
	return to.Valid()
}

// ColumnFor resolves a drop target identifier to the column it names.
func ColumnFor(targetID string) (Status, bool) {
	s := Status(targetID)
	return s, s.Valid()
}

// Columns groups tasks by status in board column order. Every column is
// present, possibly empty, and keeps the input order of its tasks.
func Columns(tasks []Task) []Column {
	idx := make(map[Status]int, len(Statuses))
	cols := make([]Column, len(Statuses))
	for i, s := range Statuses {
		idx[s] = i
		cols[i] = Column{Status: s, Title: columnTitles[s], Tasks: []Task{}}
	}
	for _, t := range tasks {
		i, ok := idx[t.Status]
		if !ok {
			continue
		}
		cols[i].Tasks = append(cols[i].Tasks, t)
	}
	return cols
}
