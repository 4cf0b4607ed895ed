package board

import (
	"sync"
	"time"

	"taskboard/domain"
)

// Notification reports a status change the remote store did not accept.
type Notification struct {
	TaskID string        `json:"taskId"`
	Status domain.Status `json:"status"`
	// Reverted is set when the board rolled the task back to RevertedTo.
	Reverted   bool          `json:"reverted"`
	RevertedTo domain.Status `json:"revertedTo,omitempty"`
	Message    string        `json:"message"`
	At         time.Time     `json:"at"`
}

// Notifier surfaces reconciliation failures to the user.
type Notifier interface {
	Notify(n Notification)
}

const defaultNotificationLimit = 64

// NotificationLog keeps the most recent notifications until they are drained.
type NotificationLog struct {
	mu    sync.Mutex
	limit int
	items []Notification
}

func NewNotificationLog(limit int) *NotificationLog {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	return &NotificationLog{limit: limit}
}

func (l *NotificationLog) Notify(n Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, n)
	if over := len(l.items) - l.limit; over > 0 {
		l.items = append([]Notification(nil), l.items[over:]...)
	}
}

// Drain returns the pending notifications oldest first and clears the log.
func (l *NotificationLog) Drain() []Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.items
	l.items = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}
