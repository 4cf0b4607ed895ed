package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// maxConflictRetries bounds the read-modify-write loop of a status update.
const maxConflictRetries = 5

type tableClient interface {
	NewListEntitiesPager(opts *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	GetEntity(ctx context.Context, partitionKey, rowKey string, opts *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, opts *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, opts *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, opts *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, opts *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage persists tasks in Azure Table Storage and publishes status changes
// to an Azure queue.
type Storage struct {
	tasks  tableClient
	events queueClient
	logger *log.Logger
}

// New creates a Storage from the given connection string. eventsQueue may be
// empty, in which case no status events are published.
func New(connStr, tasksTable, eventsQueue string, logger *log.Logger) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, fmt.Errorf("tables client: %w", err)
	}
	var events queueClient
	if eventsQueue != "" {
		queueClientOptions := azqueue.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries:    5,
					TryTimeout:    time.Minute,
					RetryDelay:    time.Second,
					MaxRetryDelay: 30 * time.Second,
					StatusCodes:   []int{408, 429, 500, 502, 503, 504},
				},
			},
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
		if err != nil {
			return nil, fmt.Errorf("queue client: %w", err)
		}
		events = q
	}
	return newStorage(svc.NewClient(tasksTable), events, logger), nil
}

func newStorage(tasks tableClient, events queueClient, logger *log.Logger) *Storage {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Storage{tasks: tasks, events: events, logger: logger}
}

// FetchTasks retrieves every task of the organization.
func (s *Storage) FetchTasks(ctx context.Context, org string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + escapeODataString(org) + "'"
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		for _, raw := range resp.Entities {
			ent, err := decodeTaskEntity(raw)
			if err != nil {
				return nil, fmt.Errorf("decode task: %w", err)
			}
			t, err := ent.task()
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (s *Storage) getTask(ctx context.Context, org, id string) (taskEntity, azcore.ETag, error) {
	resp, err := s.tasks.GetEntity(ctx, org, id, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return taskEntity{}, "", fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
		}
		return taskEntity{}, "", err
	}
	ent, err := decodeTaskEntity(resp.Value)
	if err != nil {
		return taskEntity{}, "", fmt.Errorf("decode task %s: %w", id, err)
	}
	return ent, resp.ETag, nil
}

// UpdateTaskStatus merges the new status into the stored row. The write is
// rejected with domain.ErrStaleUpdate when the stored row is not older than
// upd.UpdatedAt. Concurrent writers are detected through the row ETag.
func (s *Storage) UpdateTaskStatus(ctx context.Context, upd domain.StatusUpdate) (domain.Task, error) {
	if !upd.Status.Valid() {
		return domain.Task{}, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, upd.Status)
	}
	ts := upd.UpdatedAt.UnixNano()
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		ent, etag, err := s.getTask(ctx, upd.Organization, upd.TaskID)
		if err != nil {
			return domain.Task{}, err
		}
		if ts <= ent.UpdatedAt {
			s.logger.WithFields(log.Fields{"org": upd.Organization, "task": upd.TaskID, "ts": ts, "current": ent.UpdatedAt}).Warn("stale task status update")
			return domain.Task{}, fmt.Errorf("task %s: %w", upd.TaskID, domain.ErrStaleUpdate)
		}
		patch := taskStatusPatch{
			Entity:        ent.Entity,
			Status:        string(upd.Status),
			UpdatedAt:     ts,
			UpdatedAtType: edmInt64,
		}
		payload, err := json.Marshal(patch)
		if err != nil {
			return domain.Task{}, err
		}
		_, err = s.tasks.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge})
		if err != nil {
			switch {
			case isStatus(err, http.StatusPreconditionFailed):
				s.logger.WithFields(log.Fields{"task": upd.TaskID, "attempt": attempt + 1}).Debug("task changed concurrently, retrying")
				continue
			case isStatus(err, http.StatusNotFound):
				return domain.Task{}, fmt.Errorf("task %s: %w", upd.TaskID, domain.ErrNotFound)
			}
			return domain.Task{}, err
		}
		ent.Status = patch.Status
		ent.UpdatedAt = ts
		s.publishStatusChanged(ctx, upd)
		return ent.task()
	}
	return domain.Task{}, fmt.Errorf("task %s: %w", upd.TaskID, domain.ErrConcurrencyConflict)
}

func (s *Storage) publishStatusChanged(ctx context.Context, upd domain.StatusUpdate) {
	if s.events == nil {
		return
	}
	data, err := sonic.Marshal(statusChangedEvent{
		Type:         taskStatusChanged,
		Organization: upd.Organization,
		TaskID:       upd.TaskID,
		Status:       upd.Status,
		UpdatedAt:    upd.UpdatedAt.UnixNano(),
		Version:      upd.Version,
	})
	if err == nil {
		_, err = s.events.EnqueueMessage(ctx, string(data), nil)
	}
	if err != nil {
		// The row is already written; a lost event only delays downstream consumers.
		s.logger.WithError(err).WithField("task", upd.TaskID).Warn("failed to publish status event")
	}
}

// InsertTask adds a new row. An existing row yields domain.ErrAlreadyExists.
func (s *Storage) InsertTask(ctx context.Context, t domain.Task) error {
	ent, err := newTaskEntity(t)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := s.tasks.AddEntity(ctx, payload, nil); err != nil {
		if isStatus(err, http.StatusConflict) {
			return fmt.Errorf("task %s: %w", t.ID, domain.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

// DeleteTask removes a row. Deleting a missing row succeeds.
func (s *Storage) DeleteTask(ctx context.Context, org, id string) error {
	et := azcore.ETagAny
	_, err := s.tasks.DeleteEntity(ctx, org, id, &aztables.DeleteEntityOptions{IfMatch: &et})
	if err != nil && !isStatus(err, http.StatusNotFound) {
		return err
	}
	return nil
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

func escapeODataString(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
