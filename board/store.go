package board

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Store is the authoritative in-memory task collection of one workspace.
// All mutations are serialized; readers always receive copies.
type Store struct {
	org    string
	logger *log.Logger
	now    func() time.Time

	mu    sync.RWMutex
	order []string
	tasks map[string]domain.Task
	// versions survive Load and Remove so a late rollback can never
	// resurrect state older than what the store has since seen.
	versions map[string]uint64
	// persisted is the last state of each task the remote store is known to
	// hold. Rollbacks return to it.
	persisted map[string]persistedState
}

type persistedState struct {
	status    domain.Status
	updatedAt time.Time
}

// change describes one applied status mutation.
type change struct {
	prev    domain.Task
	next    domain.Task
	version uint64
	changed bool
}

func NewStore(org string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{
		org:       org,
		logger:    logger,
		now:       time.Now,
		tasks:     make(map[string]domain.Task),
		versions:  make(map[string]uint64),
		persisted: make(map[string]persistedState),
	}
}

// Load replaces the collection wholesale. Tasks violating the model invariants
// or owned by another organization are skipped.
func (s *Store) Load(tasks []domain.Task) {
	order := make([]string, 0, len(tasks))
	byID := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		norm, err := t.Normalize()
		if err != nil {
			s.logger.WithError(err).WithField("org", s.org).Warn("skipping invalid task on load")
			continue
		}
		if s.org != "" && norm.Organization != s.org {
			s.logger.WithFields(log.Fields{"org": s.org, "task": norm.ID, "owner": norm.Organization}).Warn("skipping task from another organization")
			continue
		}
		if _, dup := byID[norm.ID]; !dup {
			order = append(order, norm.ID)
		}
		byID[norm.ID] = norm
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = order
	s.tasks = byID
	s.persisted = make(map[string]persistedState, len(byID))
	for id, t := range byID {
		s.persisted[id] = persistedState{status: t.Status, updatedAt: t.UpdatedAt}
		s.versions[id]++
	}
}

// ApplyStatusChange sets the status of task id and refreshes its updated_at.
// Setting the current status again leaves the task untouched.
func (s *Store) ApplyStatusChange(id string, status domain.Status) (domain.Task, error) {
	ch, err := s.applyStatus(id, status)
	if err != nil {
		return domain.Task{}, err
	}
	return ch.next, nil
}

func (s *Store) applyStatus(id string, status domain.Status) (change, error) {
	if !status.Valid() {
		return change{}, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[id]
	if !ok {
		return change{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if cur.Status == status {
		return change{prev: cur.Clone(), next: cur.Clone(), version: s.versions[id]}, nil
	}
	next := cur
	next.Status = status
	next.UpdatedAt = s.stampLocked(cur.UpdatedAt)
	s.tasks[id] = next
	s.versions[id]++
	return change{prev: cur.Clone(), next: next.Clone(), version: s.versions[id], changed: true}, nil
}

// revert undoes the mutation captured in ch unless the task was mutated
// since. The task returns to its last persisted state, which is ch.prev unless
// an earlier mutation of the same task also failed to persist.
func (s *Store) revert(ch change) (domain.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := ch.next.ID
	cur, ok := s.tasks[id]
	if !ok || s.versions[id] != ch.version {
		return "", false
	}
	target := persistedState{status: ch.prev.Status, updatedAt: ch.prev.UpdatedAt}
	if p, ok := s.persisted[id]; ok {
		target = p
	}
	cur.Status = target.status
	cur.UpdatedAt = target.updatedAt
	s.tasks[id] = cur
	s.versions[id]++
	return target.status, true
}

// confirm records that the remote store accepted upd.
func (s *Store) confirm(upd domain.StatusUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[upd.TaskID]; !ok {
		return
	}
	if p, ok := s.persisted[upd.TaskID]; ok && !upd.UpdatedAt.After(p.updatedAt) {
		return
	}
	s.persisted[upd.TaskID] = persistedState{status: upd.Status, updatedAt: upd.UpdatedAt}
}

// stampLocked returns a timestamp strictly after prev.
func (s *Store) stampLocked(prev time.Time) time.Time {
	ts := s.now().UTC()
	if !ts.After(prev) {
		ts = prev.Add(time.Nanosecond)
	}
	return ts
}

func (s *Store) admit(t domain.Task) (domain.Task, error) {
	norm, err := t.Normalize()
	if err != nil {
		return domain.Task{}, err
	}
	if s.org != "" && norm.Organization != s.org {
		return domain.Task{}, fmt.Errorf("task %s belongs to %s: %w", norm.ID, norm.Organization, domain.ErrNotFound)
	}
	return norm, nil
}

// Upsert inserts or replaces a task. New tasks are appended to the end.
func (s *Store) Upsert(t domain.Task) (domain.Task, error) {
	norm, err := s.admit(t)
	if err != nil {
		return domain.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, exists := s.tasks[norm.ID]
	if exists && norm.CreatedAt.IsZero() {
		norm.CreatedAt = prev.CreatedAt
	}
	norm = s.putLocked(norm, prev.UpdatedAt, !exists)
	return norm.Clone(), nil
}

// insert adds a task whose id must not be present yet. It returns the version
// of the new entry so the caller can undo exactly this insert.
func (s *Store) insert(t domain.Task) (domain.Task, uint64, error) {
	norm, err := s.admit(t)
	if err != nil {
		return domain.Task{}, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[norm.ID]; exists {
		return domain.Task{}, 0, fmt.Errorf("task %s: %w", norm.ID, domain.ErrAlreadyExists)
	}
	norm = s.putLocked(norm, time.Time{}, true)
	return norm.Clone(), s.versions[norm.ID], nil
}

func (s *Store) putLocked(t domain.Task, prevUpdated time.Time, isNew bool) domain.Task {
	if isNew {
		s.order = append(s.order, t.ID)
		if t.CreatedAt.IsZero() {
			t.CreatedAt = s.now().UTC()
		}
	}
	t.UpdatedAt = s.stampLocked(prevUpdated)
	if t.UpdatedAt.Before(t.CreatedAt) {
		t.UpdatedAt = t.CreatedAt
	}
	s.tasks[t.ID] = t
	s.versions[t.ID]++
	if isNew {
		s.persisted[t.ID] = persistedState{status: t.Status, updatedAt: t.UpdatedAt}
	}
	return t
}

// Remove deletes task id. Removing an absent task is a no-op that returns false.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

// removeVersion deletes task id only while it is still at version.
func (s *Store) removeVersion(id string, version uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versions[id] != version {
		return false
	}
	return s.removeLocked(id)
}

func (s *Store) removeLocked(id string) bool {
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	delete(s.persisted, id)
	s.versions[id]++
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *Store) Get(id string) (domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return t.Clone(), true
}

// List returns every task in insertion order.
func (s *Store) List() []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Clone())
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func (s *Store) version(id string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[id]
}
