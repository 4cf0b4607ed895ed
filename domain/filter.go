package domain

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// FilterAll disables the status or priority predicate.
const FilterAll = "all"

// Criteria selects the visible subset of the board.
type Criteria struct {
	SearchText string `json:"search,omitempty"`
	// Status is a workflow state, FilterAll or empty.
	Status string `json:"status,omitempty"`
	// Priority is a priority level, FilterAll or empty.
	Priority string `json:"priority,omitempty"`
}

// ParseCriteria validates raw selector values.
func ParseCriteria(search, status, priority string) (Criteria, error) {
	c := Criteria{SearchText: search, Status: status, Priority: priority}
	if !isAll(status) && !Status(status).Valid() {
		return Criteria{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if !isAll(priority) && !Priority(priority).Valid() {
		return Criteria{}, fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}
	return c, nil
}

func isAll(v string) bool { return v == "" || v == FilterAll }

// Filter returns the tasks satisfying every active predicate of c, in input order.
// It never modifies tasks.
func Filter(tasks []Task, c Criteria) []Task {
	m := newMatcher(c)
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if m.match(t) {
			out = append(out, t)
		}
	}
	return out
}

// Match reports whether a single task passes c.
func (c Criteria) Match(t Task) bool {
	return newMatcher(c).match(t)
}

type matcher struct {
	fold     cases.Caser
	needle   string
	status   Status
	priority Priority
}

func newMatcher(c Criteria) *matcher {
	m := &matcher{fold: cases.Fold()}
	if c.SearchText != "" {
		m.needle = m.fold.String(c.SearchText)
	}
	if !isAll(c.Status) {
		m.status = Status(c.Status)
	}
	if !isAll(c.Priority) {
		m.priority = Priority(c.Priority)
	}
	return m
}

func (m *matcher) match(t Task) bool {
	if m.status != "" && t.Status != m.status {
		return false
	}
	if m.priority != "" && t.Priority != m.priority {
		return false
	}
	if m.needle == "" {
		return true
	}
	return strings.Contains(m.fold.String(t.Title), m.needle) ||
		strings.Contains(m.fold.String(t.Description), m.needle)
}
