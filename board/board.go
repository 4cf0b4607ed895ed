package board

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// TaskWriter is implemented by persistence backends that can create and delete tasks.
type TaskWriter interface {
	InsertTask(ctx context.Context, t domain.Task) error
	DeleteTask(ctx context.Context, org, id string) error
}

type Options struct {
	Reconcile ReconcilerConfig
	// Notifier receives reconciliation failures in addition to the board's own log.
	Notifier Notifier
	Logger   *log.Logger
}

// Board is the task board of one workspace.
type Board struct {
	org        string
	remote     Persistence
	store      *Store
	reconciler *Reconciler
	notes      *NotificationLog
	logger     *log.Logger

	mu    sync.Mutex
	drags map[string]*DragController
}

func New(org string, remote Persistence, opts Options) *Board {
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	notes := NewNotificationLog(0)
	var notifier Notifier = notes
	if opts.Notifier != nil {
		notifier = fanout{notes, opts.Notifier}
	}
	store := NewStore(org, logger)
	return &Board{
		org:        org,
		remote:     remote,
		store:      store,
		reconciler: NewReconciler(store, remote, notifier, logger, opts.Reconcile),
		notes:      notes,
		logger:     logger,
		drags:      make(map[string]*DragController),
	}
}

type fanout []Notifier

func (f fanout) Notify(n Notification) {
	for _, nt := range f {
		nt.Notify(n)
	}
}

func (b *Board) Organization() string { return b.org }

func (b *Board) Store() *Store { return b.store }

// Load replaces the local tasks with the remote ones.
func (b *Board) Load(ctx context.Context) error {
	tasks, err := b.remote.FetchTasks(ctx, b.org)
	if err != nil {
		return fmt.Errorf("load tasks for %s: %w", b.org, err)
	}
	b.store.Load(tasks)
	b.logger.WithFields(log.Fields{"org": b.org, "tasks": b.store.Len()}).Debug("board loaded")
	return nil
}

// Transition moves task id to target. Any state may move to any other state.
func (b *Board) Transition(id string, target domain.Status) (Move, error) {
	cur, ok := b.store.Get(id)
	if !ok {
		b.logger.WithFields(log.Fields{"org": b.org, "task": id}).Warn("transition for missing task")
		return Move{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if !domain.CanTransition(cur.Status, target) {
		return Move{}, fmt.Errorf("%w: %s -> %q", domain.ErrInvalidStatus, cur.Status, target)
	}
	return b.reconciler.Apply(id, target)
}

// Visible returns the tasks matching c in store order.
func (b *Board) Visible(c domain.Criteria) []domain.Task {
	return domain.Filter(b.store.List(), c)
}

// Columns returns the visible tasks grouped by workflow state.
func (b *Board) Columns(c domain.Criteria) []domain.Column {
	return domain.Columns(b.Visible(c))
}

// Create appends a task produced by the creation dialog and persists it when
// the backend supports writes. An id already on the board is rejected with
// domain.ErrAlreadyExists.
func (b *Board) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	t.Organization = b.org
	created, version, err := b.store.insert(t)
	if err != nil {
		return domain.Task{}, err
	}
	if w, ok := b.remote.(TaskWriter); ok {
		if err := w.InsertTask(ctx, created); err != nil {
			b.store.removeVersion(created.ID, version)
			return domain.Task{}, fmt.Errorf("insert task %s: %w", created.ID, err)
		}
	}
	return created, nil
}

// Delete removes task id. Deleting an unknown task is not an error.
func (b *Board) Delete(ctx context.Context, id string) (bool, error) {
	if w, ok := b.remote.(TaskWriter); ok {
		if err := w.DeleteTask(ctx, b.org, id); err != nil {
			return false, fmt.Errorf("delete task %s: %w", id, err)
		}
	}
	return b.store.Remove(id), nil
}

// DragSession returns the drag controller of user, creating it on first use.
func (b *Board) DragSession(user string) *DragController {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.drags[user]
	if !ok {
		c = NewDragController(b, b.logger)
		b.drags[user] = c
	}
	return c
}

// Notifications drains the reconciliation failures recorded so far.
func (b *Board) Notifications() []Notification {
	return b.notes.Drain()
}

// Wait blocks until all pending persistence calls have finished.
func (b *Board) Wait() { b.reconciler.Wait() }

func (b *Board) Close(ctx context.Context) error {
	return b.reconciler.Close(ctx)
}
