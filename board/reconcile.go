package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskboard/domain"
)

const tracerName = "taskboard/board"

// Persistence is the remote task service the board reconciles with.
type Persistence interface {
	FetchTasks(ctx context.Context, org string) ([]domain.Task, error)
	UpdateTaskStatus(ctx context.Context, upd domain.StatusUpdate) (domain.Task, error)
}

// Policy decides what happens to the optimistic local state when the remote
// store keeps rejecting a status change.
type Policy int

const (
	// PolicyRollback restores the previous status unless a newer local change exists.
	PolicyRollback Policy = iota
	// PolicyKeepOptimistic only notifies and leaves the local state as is.
	PolicyKeepOptimistic
)

func (p Policy) String() string {
	if p == PolicyKeepOptimistic {
		return "keep-optimistic"
	}
	return "rollback"
}

func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "rollback":
		return PolicyRollback, nil
	case "keep", "keep-optimistic", "notify":
		return PolicyKeepOptimistic, nil
	}
	return PolicyRollback, fmt.Errorf("unknown reconcile policy %q", raw)
}

type ReconcilerConfig struct {
	Policy       Policy
	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
	CallTimeout  time.Duration

	// Jitter is the fraction a retry delay may vary by. Zero selects the
	// default of 0.2; a negative value disables it.
	Jitter float64
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 250 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5 * time.Second
	}
	if c.Jitter == 0 {
		c.Jitter = 0.2
	}
	if c.Jitter > 1 {
		c.Jitter = 1
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	return c
}

// Move is the local outcome of a status transition.
type Move struct {
	Task    domain.Task   `json:"task"`
	From    domain.Status `json:"from"`
	Changed bool          `json:"changed"`
}

var errReconcilerClosed = errors.New("reconciler closed")

type mutation struct {
	change change
	update domain.StatusUpdate
}

// Reconciler applies status changes optimistically to the Store and persists
// them in the background. Calls for the same task run strictly one after
// another in issue order; different tasks proceed in parallel.
type Reconciler struct {
	store    *Store
	remote   Persistence
	notifier Notifier
	logger   *log.Logger
	tracer   trace.Tracer
	cfg      ReconcilerConfig
	now      func() time.Time

	mu      sync.Mutex
	lanes   map[string][]mutation
	closing bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewReconciler(store *Store, remote Persistence, notifier Notifier, logger *log.Logger, cfg ReconcilerConfig) *Reconciler {
	if store == nil {
		panic("board.NewReconciler: store is nil")
	}
	if remote == nil {
		panic("board.NewReconciler: persistence is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	if notifier == nil {
		notifier = NewNotificationLog(0)
	}
	return &Reconciler{
		store:    store,
		remote:   remote,
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		lanes:    make(map[string][]mutation),
		stopCh:   make(chan struct{}),
	}
}

// Apply updates the store immediately and schedules the remote update.
// It never waits for the network.
func (r *Reconciler) Apply(id string, status domain.Status) (Move, error) {
	ch, err := r.store.applyStatus(id, status)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.WithFields(log.Fields{"org": r.store.org, "task": id}).Warn("status change for missing task")
		}
		return Move{}, err
	}
	mv := Move{Task: ch.next, From: ch.prev.Status, Changed: ch.changed}
	if !ch.changed {
		return mv, nil
	}
	r.dispatch(mutation{
		change: ch,
		update: domain.StatusUpdate{
			Organization: ch.next.Organization,
			TaskID:       id,
			Status:       status,
			UpdatedAt:    ch.next.UpdatedAt,
			Version:      ch.version,
		},
	})
	return mv, nil
}

func (r *Reconciler) dispatch(m mutation) {
	id := m.update.TaskID
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		r.fail(m, errReconcilerClosed)
		return
	}
	pending, busy := r.lanes[id]
	r.lanes[id] = append(pending, m)
	if !busy {
		r.wg.Add(1)
		go r.drain(id)
	}
	r.mu.Unlock()
}

func (r *Reconciler) drain(id string) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		pending := r.lanes[id]
		if len(pending) == 0 {
			delete(r.lanes, id)
			r.mu.Unlock()
			return
		}
		m := pending[0]
		r.lanes[id] = pending[1:]
		r.mu.Unlock()

		r.persist(m)
	}
}

func (r *Reconciler) persist(m mutation) {
	upd := m.update
	ctx, span := r.tracer.Start(context.Background(), "board.persist_status",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("taskboard.org", upd.Organization),
			attribute.String("taskboard.task_id", upd.TaskID),
			attribute.String("taskboard.status", string(upd.Status)),
			attribute.Int64("taskboard.version", int64(upd.Version)),
		))
	defer span.End()

	fields := log.Fields{"org": upd.Organization, "task": upd.TaskID, "status": upd.Status, "version": upd.Version}
	var err error
	attempt := 0
	for attempt < r.cfg.MaxAttempts {
		if attempt > 0 {
			if r.store.version(upd.TaskID) != m.change.version {
				span.SetAttributes(attribute.Bool("taskboard.superseded", true))
				r.logger.WithFields(fields).Debug("retry dropped, newer local change pending")
				return
			}
			if !r.wait(r.cfg.retryDelay(attempt)) {
				err = errReconcilerClosed
				break
			}
		}
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		_, err = r.remote.UpdateTaskStatus(callCtx, upd)
		cancel()
		span.SetAttributes(attribute.Int("taskboard.attempts", attempt))
		if err == nil {
			r.store.confirm(upd)
			r.logger.WithFields(fields).Debug("task status persisted")
			return
		}
		if errors.Is(err, domain.ErrStaleUpdate) {
			span.SetAttributes(attribute.Bool("taskboard.stale", true))
			r.logger.WithError(err).WithFields(fields).Warn("remote holds a newer write, status change skipped")
			return
		}
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidStatus) {
			break
		}
		r.logger.WithError(err).WithFields(fields).WithField("attempt", attempt).Warn("persisting task status failed")
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.fail(m, err)
}

func (r *Reconciler) fail(m mutation, err error) {
	upd := m.update
	n := Notification{
		TaskID:  upd.TaskID,
		Status:  upd.Status,
		Message: fmt.Sprintf("could not move task %q to %s: %v", m.change.next.Title, upd.Status, err),
		At:      r.now().UTC(),
	}
	fields := log.Fields{"org": upd.Organization, "task": upd.TaskID, "status": upd.Status, "policy": r.cfg.Policy.String()}
	if r.cfg.Policy == PolicyRollback {
		if to, ok := r.store.revert(m.change); ok {
			n.Reverted = true
			n.RevertedTo = to
			fields["reverted_to"] = to
		} else {
			r.logger.WithFields(fields).Info("rollback skipped, task changed locally since")
		}
	}
	r.logger.WithError(err).WithFields(fields).Error("task status not persisted")
	r.notifier.Notify(n)
}

func (r *Reconciler) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.stopCh:
		return false
	}
}

// Wait blocks until every dispatched mutation has finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// Close stops pending retries and waits for in-flight calls to return.
func (r *Reconciler) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closing {
		r.closing = true
		close(r.stopCh)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
