package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"taskboard/domain"
)

const edmInt64 = "Edm.Int64"

// Entity carries the table keys: PartitionKey is the organization, RowKey the task id.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// taskEntity is a task row in the tasks table. Timestamps are Unix nanoseconds.
type taskEntity struct {
	Entity
	Title         string `json:"Title"`
	Description   string `json:"Description,omitempty"`
	Status        string `json:"Status"`
	Priority      string `json:"Priority"`
	Labels        string `json:"Labels,omitempty"`
	Assignee      string `json:"Assignee,omitempty"`
	DueDate       *int64 `json:"DueDate,omitempty,string"`
	DueDateType   string `json:"DueDate@odata.type,omitempty"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

// taskStatusPatch is merged into an existing row on a status change.
type taskStatusPatch struct {
	Entity
	Status        string `json:"Status"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

func newTaskEntity(t domain.Task) (taskEntity, error) {
	ent := taskEntity{
		Entity:        Entity{PartitionKey: t.Organization, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		Assignee:      t.Assignee,
		CreatedAt:     t.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
		UpdatedAt:     t.UpdatedAt.UnixNano(),
		UpdatedAtType: edmInt64,
	}
	if len(t.Labels) > 0 {
		raw, err := json.Marshal([]string(t.Labels))
		if err != nil {
			return taskEntity{}, err
		}
		ent.Labels = string(raw)
	}
	if t.DueDate != nil {
		due := t.DueDate.UnixNano()
		ent.DueDate = &due
		ent.DueDateType = edmInt64
	}
	return ent, nil
}

func (e taskEntity) task() (domain.Task, error) {
	t := domain.Task{
		ID:           e.RowKey,
		Title:        e.Title,
		Description:  e.Description,
		Status:       domain.Status(e.Status),
		Priority:     domain.Priority(e.Priority),
		Assignee:     e.Assignee,
		Organization: e.PartitionKey,
		CreatedAt:    time.Unix(0, e.CreatedAt).UTC(),
		UpdatedAt:    time.Unix(0, e.UpdatedAt).UTC(),
	}
	if e.Labels != "" {
		var labels []string
		if err := json.Unmarshal([]byte(e.Labels), &labels); err != nil {
			return domain.Task{}, fmt.Errorf("task %s labels: %w", e.RowKey, err)
		}
		t.Labels = domain.NewLabels(labels...)
	}
	if e.DueDate != nil {
		due := time.Unix(0, *e.DueDate).UTC()
		t.DueDate = &due
	}
	return t, nil
}

func decodeTaskEntity(data []byte) (taskEntity, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return taskEntity{}, err
	}
	return ent, nil
}

// statusChangedEvent is enqueued after every persisted status change.
type statusChangedEvent struct {
	Type         string        `json:"type"`
	Organization string        `json:"organization"`
	TaskID       string        `json:"taskId"`
	Status       domain.Status `json:"status"`
	UpdatedAt    int64         `json:"updatedAt"`
	Version      uint64        `json:"version"`
}

const taskStatusChanged = "task-status-changed"
