package board

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
)

type fakeRemote struct {
	mu       sync.Mutex
	tasks    []domain.Task
	fetchErr error
	fetches  int
	calls    []domain.StatusUpdate
	updateFn func(ctx context.Context, upd domain.StatusUpdate) (domain.Task, error)
}

func (f *fakeRemote) FetchTasks(ctx context.Context, org string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]domain.Task(nil), f.tasks...), nil
}

func (f *fakeRemote) UpdateTaskStatus(ctx context.Context, upd domain.StatusUpdate) (domain.Task, error) {
	f.mu.Lock()
	f.calls = append(f.calls, upd)
	fn := f.updateFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, upd)
	}
	return domain.Task{ID: upd.TaskID, Status: upd.Status}, nil
}

func (f *fakeRemote) Calls() []domain.StatusUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.StatusUpdate(nil), f.calls...)
}

type writableRemote struct {
	fakeRemote
	insertErr error
	inserted  []domain.Task
	deleted   []string
}

func (w *writableRemote) InsertTask(ctx context.Context, t domain.Task) error {
	if w.insertErr != nil {
		return w.insertErr
	}
	w.inserted = append(w.inserted, t)
	return nil
}

func (w *writableRemote) DeleteTask(ctx context.Context, org, id string) error {
	w.deleted = append(w.deleted, id)
	return nil
}

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func task(id string, status domain.Status) domain.Task {
	return domain.Task{
		ID:           id,
		Title:        "Task " + id,
		Status:       status,
		Organization: "org",
		CreatedAt:    baseTime,
		UpdatedAt:    baseTime,
	}
}

// newTestBoard returns a loaded board with fast retries and a null logger.
func newTestBoard(remote Persistence, policy Policy, attempts int) *Board {
	logger, _ := test.NewNullLogger()
	b := New("org", remote, Options{
		Logger: logger,
		Reconcile: ReconcilerConfig{
			Policy:       policy,
			MaxAttempts:  attempts,
			RetryInitial: time.Millisecond,
			RetryMax:     2 * time.Millisecond,
			CallTimeout:  time.Second,
		},
	})
	if err := b.Load(context.Background()); err != nil {
		panic(err)
	}
	return b
}
