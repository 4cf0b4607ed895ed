package api

import (
	"context"
	"time"

	"taskboard/board"
	"taskboard/domain"
)

// Workspaces resolves the board of an organization.
type Workspaces interface {
	Board(ctx context.Context, org string) (*board.Board, error)
}

// Authenticator is implemented by types able to identify the caller from headers.
type Authenticator interface {
	IdentityFromAuthHeader(string) (Identity, error)
}

// Deduper prevents a drop from being applied twice.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, scope, key string) (bool, error)
	// Remove deletes a previously added key, used when the drop fails.
	Remove(ctx context.Context, scope, key string) error
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type boardResponse struct {
	Columns []domain.Column `json:"columns"`
}

type createTaskRequest struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

type dragStartRequest struct {
	TaskID string `json:"taskId"`
}

type dragStartResponse struct {
	Accepted     bool   `json:"accepted"`
	ActiveTaskID string `json:"activeTaskId,omitempty"`
}

type dragEndRequest struct {
	TaskID string `json:"taskId"`
	Target string `json:"target"`
}

type dropResponse struct {
	Outcome board.DropOutcome `json:"outcome"`
	Task    *domain.Task      `json:"task,omitempty"`
	From    domain.Status     `json:"from,omitempty"`
	Error   string            `json:"error,omitempty"`
}

type notificationsResponse struct {
	Notifications []board.Notification `json:"notifications"`
}
