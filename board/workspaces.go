package board

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Workspaces hands out one loaded Board per organization.
type Workspaces struct {
	remote Persistence
	opts   Options
	logger *log.Logger

	mu     sync.Mutex
	boards map[string]*Board
}

func NewWorkspaces(remote Persistence, opts Options) *Workspaces {
	if remote == nil {
		panic("board.NewWorkspaces: persistence is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
		opts.Logger = logger
	}
	return &Workspaces{remote: remote, opts: opts, logger: logger, boards: make(map[string]*Board)}
}

// Board returns the board of org, fetching its tasks on first access. A
// failed load is not cached so the next call retries.
func (w *Workspaces) Board(ctx context.Context, org string) (*Board, error) {
	if org == "" {
		return nil, errors.New("organization is required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if b, ok := w.boards[org]; ok {
		return b, nil
	}
	b := New(org, w.remote, w.opts)
	if err := b.Load(ctx); err != nil {
		w.logger.WithError(err).WithField("org", org).Error("workspace load failed")
		_ = b.Close(ctx)
		return nil, err
	}
	w.boards[org] = b
	return b, nil
}

// Close shuts down every board, waiting for in-flight persistence calls.
func (w *Workspaces) Close(ctx context.Context) error {
	w.mu.Lock()
	boards := make([]*Board, 0, len(w.boards))
	for _, b := range w.boards {
		boards = append(boards, b)
	}
	w.boards = make(map[string]*Board)
	w.mu.Unlock()

	var errs []error
	for _, b := range boards {
		if err := b.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
