package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the workflow state of a task. It is the only source of column membership.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
)

// Statuses lists the workflow states in board column order.
var Statuses = [...]Status{StatusTodo, StatusInProgress, StatusReview, StatusDone}

// Valid reports whether s is one of the fixed workflow states.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

// ParseStatus converts raw input into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities lists the priority levels from lowest to highest.
var Priorities = [...]Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ParsePriority converts raw input into a Priority. Empty input yields PriorityMedium.
func ParsePriority(raw string) (Priority, error) {
	if raw == "" {
		return PriorityMedium, nil
	}
	p := Priority(raw)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, raw)
	}
	return p, nil
}

// Labels is a set of free-text tags kept sorted and free of duplicates.
type Labels []string

// NewLabels trims the given tags, drops empty ones and suppresses duplicates.
func NewLabels(tags ...string) Labels {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make(Labels, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// Has reports whether the set contains tag.
func (l Labels) Has(tag string) bool {
	i := sort.SearchStrings(l, tag)
	return i < len(l) && l[i] == tag
}

// Task represents a single work item on the board.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       Status     `json:"status"`
	Priority     Priority   `json:"priority"`
	Labels       Labels     `json:"labels,omitempty"`
	Assignee     string     `json:"assignee,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	Organization string     `json:"organization"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Normalize applies defaults and validates the task invariants.
func (t Task) Normalize() (Task, error) {
	if t.ID == "" {
		return Task{}, ErrMissingID
	}
	if strings.TrimSpace(t.Title) == "" {
		return Task{}, fmt.Errorf("task %s: %w", t.ID, ErrEmptyTitle)
	}
	if t.Organization == "" {
		return Task{}, fmt.Errorf("task %s: %w", t.ID, ErrMissingOrganization)
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if !t.Status.Valid() {
		return Task{}, fmt.Errorf("task %s: %w: %q", t.ID, ErrInvalidStatus, t.Status)
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if !t.Priority.Valid() {
		return Task{}, fmt.Errorf("task %s: %w: %q", t.ID, ErrInvalidPriority, t.Priority)
	}
	t.Labels = NewLabels(t.Labels...)
	return t.Clone(), nil
}

// Clone returns a copy that shares no mutable state with t.
func (t Task) Clone() Task {
	if t.Labels != nil {
		t.Labels = append(Labels(nil), t.Labels...)
	}
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	return t
}

// StatusUpdate is the persistence payload of a single status transition.
type StatusUpdate struct {
	Organization string
	TaskID       string
	Status       Status
	// UpdatedAt is the local mutation time and acts as the last-writer-wins key.
	UpdatedAt time.Time
	Version   uint64
}
