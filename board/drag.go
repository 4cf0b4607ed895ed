package board

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// DragSession is the contract between a pointer or touch backend and the board.
type DragSession interface {
	// OnDragStart lifts taskID. It reports false when another drag is in flight.
	OnDragStart(taskID string) bool
	// OnDragEnd drops taskID on targetID and always ends the session.
	OnDragEnd(taskID, targetID string) DropResult
	// Cancel ends the session without a transition.
	Cancel()
	// Active returns the lifted task, if any.
	Active() (string, bool)
}

type DropOutcome string

const (
	// DropIgnored means no matching drag was in flight.
	DropIgnored DropOutcome = "ignored"
	// DropInvalidTarget means the task went back to its column.
	DropInvalidTarget DropOutcome = "invalid_target"
	// DropUnchanged means the task was dropped on its own column.
	DropUnchanged DropOutcome = "unchanged"
	DropMoved     DropOutcome = "moved"
	DropFailed    DropOutcome = "failed"
)

type DropResult struct {
	Outcome DropOutcome   `json:"outcome"`
	Task    *domain.Task  `json:"task,omitempty"`
	From    domain.Status `json:"from,omitempty"`
	Err     error         `json:"-"`
}

type transitioner interface {
	Transition(id string, target domain.Status) (Move, error)
}

// DragController tracks a single drag gesture: Idle -> Dragging(id) -> Idle.
type DragController struct {
	board  transitioner
	logger *log.Logger

	mu       sync.Mutex
	active   string
	dragging bool
}

var _ DragSession = (*DragController)(nil)

func NewDragController(board transitioner, logger *log.Logger) *DragController {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &DragController{board: board, logger: logger}
}

func (c *DragController) OnDragStart(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dragging {
		c.logger.WithFields(log.Fields{"active": c.active, "task": taskID}).Debug("drag start ignored, another drag in flight")
		return false
	}
	c.active = taskID
	c.dragging = true
	return true
}

func (c *DragController) OnDragEnd(taskID, targetID string) DropResult {
	c.mu.Lock()
	active, dragging := c.active, c.dragging
	c.active = ""
	c.dragging = false
	c.mu.Unlock()

	if !dragging || active != taskID {
		c.logger.WithFields(log.Fields{"active": active, "task": taskID}).Debug("drag end without matching drag start")
		return DropResult{Outcome: DropIgnored}
	}
	target, ok := domain.ColumnFor(targetID)
	if !ok {
		return DropResult{Outcome: DropInvalidTarget}
	}
	mv, err := c.board.Transition(taskID, target)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.WithError(err).WithField("task", taskID).Error("drop transition failed")
		}
		return DropResult{Outcome: DropFailed, Err: err}
	}
	res := DropResult{Outcome: DropMoved, Task: &mv.Task, From: mv.From}
	if !mv.Changed {
		res.Outcome = DropUnchanged
	}
	return res
}

func (c *DragController) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = ""
	c.dragging = false
}

func (c *DragController) Active() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.dragging
}
