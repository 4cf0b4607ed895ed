package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/board"
	"taskboard/domain"
)

const (
	maxBodySize          = 64 << 10
	headerIdempotencyKey = "Idempotency-Key"
)

// Register wires up all API routes on the provided Echo instance. dedupe may
// be nil, in which case Idempotency-Key headers are ignored.
func Register(e *echo.Echo, boards Workspaces, auth Authenticator, dedupe Deduper, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	e.GET("/api/tasks", withBoard("/api/tasks", boards, auth, logger, getTasks))
	e.GET("/api/board", withBoard("/api/board", boards, auth, logger, getBoard))
	e.POST("/api/tasks", withBoard("/api/tasks", boards, auth, logger, postTask))
	e.DELETE("/api/tasks/:id", withBoard("/api/tasks/:id", boards, auth, logger, deleteTask))
	e.POST("/api/drag/start", withBoard("/api/drag/start", boards, auth, logger, postDragStart))
	e.POST("/api/drag/end", withBoard("/api/drag/end", boards, auth, logger, postDragEnd(dedupe, logger)))
	e.POST("/api/drag/cancel", withBoard("/api/drag/cancel", boards, auth, logger, postDragCancel))
	e.GET("/api/notifications", withBoard("/api/notifications", boards, auth, logger, getNotifications))
	e.GET("/healthz", healthz)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// requestScope is the authenticated context of a board request.
type requestScope struct {
	ctx     context.Context
	id      Identity
	board   *board.Board
	metrics *requestMetrics
	err     error
}

// fail records err against stage and writes body with the given status.
func (rs *requestScope) fail(c echo.Context, stage string, status int, err error, body any) error {
	rs.metrics.SetErrorStage(stage)
	rs.err = err
	if s, ok := body.(string); ok {
		return c.String(status, s)
	}
	return c.JSON(status, body)
}

type boardHandler func(c echo.Context, rs *requestScope) error

func withBoard(route string, boards Workspaces, auth Authenticator, logger *log.Logger, next boardHandler) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), logger, c.Request().Method, route)
		c.SetRequest(c.Request().WithContext(ctx))
		rs := &requestScope{ctx: ctx, metrics: metrics}
		defer func() {
			logErr := err
			if logErr == nil {
				logErr = rs.err
			}
			metrics.Log(c.Response().Status, logErr)
		}()

		authStart := time.Now()
		id, authErr := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			return rs.fail(c, "auth", http.StatusUnauthorized, authErr, authErr.Error())
		}
		rs.id = id
		metrics.SetOrganization(id.OrganizationID)

		boardStart := time.Now()
		b, boardErr := boards.Board(ctx, id.OrganizationID)
		metrics.ObserveBoard(time.Since(boardStart))
		if boardErr != nil {
			logger.WithError(boardErr).WithField("org", id.OrganizationID).Error("board unavailable")
			return rs.fail(c, "board", http.StatusInternalServerError, boardErr, "failed to load board")
		}
		rs.board = b
		return next(c, rs)
	}
}

func criteriaFromQuery(c echo.Context) (domain.Criteria, error) {
	return domain.ParseCriteria(c.QueryParam("search"), c.QueryParam("status"), c.QueryParam("priority"))
}

func getTasks(c echo.Context, rs *requestScope) error {
	criteria, err := criteriaFromQuery(c)
	if err != nil {
		return rs.fail(c, "criteria", http.StatusBadRequest, err, err.Error())
	}
	tasks := rs.board.Visible(criteria)
	rs.metrics.SetTasksReturned(len(tasks))
	return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
}

func getBoard(c echo.Context, rs *requestScope) error {
	criteria, err := criteriaFromQuery(c)
	if err != nil {
		return rs.fail(c, "criteria", http.StatusBadRequest, err, err.Error())
	}
	cols := rs.board.Columns(criteria)
	n := 0
	for _, col := range cols {
		n += len(col.Tasks)
	}
	rs.metrics.SetTasksReturned(n)
	return c.JSON(http.StatusOK, boardResponse{Columns: cols})
}

func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func postTask(c echo.Context, rs *requestScope) error {
	var req createTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return rs.fail(c, "decode", http.StatusBadRequest, err, "invalid body")
	}
	status := domain.StatusTodo
	if req.Status != "" {
		s, err := domain.ParseStatus(req.Status)
		if err != nil {
			return rs.fail(c, "validate", http.StatusBadRequest, err, err.Error())
		}
		status = s
	}
	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		return rs.fail(c, "validate", http.StatusBadRequest, err, err.Error())
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	created, err := rs.board.Create(rs.ctx, domain.Task{
		ID:          req.ID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Status:      status,
		Priority:    priority,
		Labels:      domain.NewLabels(req.Labels...),
		Assignee:    req.Assignee,
		DueDate:     req.DueDate,
	})
	if err != nil {
		return rs.fail(c, "create", statusForError(err), err, err.Error())
	}
	rs.metrics.SetTasksReturned(1)
	return c.JSON(http.StatusCreated, created)
}

func deleteTask(c echo.Context, rs *requestScope) error {
	id := c.Param("id")
	if id == "" {
		return rs.fail(c, "validate", http.StatusBadRequest, domain.ErrMissingID, domain.ErrMissingID.Error())
	}
	removed, err := rs.board.Delete(rs.ctx, id)
	if err != nil {
		return rs.fail(c, "delete", statusForError(err), err, "failed to delete task")
	}
	if removed {
		rs.metrics.SetOutcome("removed")
	} else {
		rs.metrics.SetOutcome("absent")
	}
	return c.NoContent(http.StatusNoContent)
}

func postDragStart(c echo.Context, rs *requestScope) error {
	var req dragStartRequest
	if err := decodeBody(c, &req); err != nil || req.TaskID == "" {
		return rs.fail(c, "decode", http.StatusBadRequest, err, "invalid body")
	}
	if _, ok := rs.board.Store().Get(req.TaskID); !ok {
		err := fmt.Errorf("task %s: %w", req.TaskID, domain.ErrNotFound)
		return rs.fail(c, "drag_start", http.StatusNotFound, err, err.Error())
	}
	session := rs.board.DragSession(rs.id.UserID)
	accepted := session.OnDragStart(req.TaskID)
	active, _ := session.Active()
	if accepted {
		rs.metrics.SetOutcome("started")
	} else {
		rs.metrics.SetOutcome("ignored")
	}
	return c.JSON(http.StatusOK, dragStartResponse{Accepted: accepted, ActiveTaskID: active})
}

func postDragEnd(dedupe Deduper, logger *log.Logger) boardHandler {
	return func(c echo.Context, rs *requestScope) error {
		var req dragEndRequest
		if err := decodeBody(c, &req); err != nil || req.TaskID == "" {
			return rs.fail(c, "decode", http.StatusBadRequest, err, "invalid body")
		}

		key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
		scope := rs.id.OrganizationID + ":" + rs.id.UserID
		dedupeKey := key != "" && dedupe != nil
		if dedupeKey {
			added, err := dedupe.Add(rs.ctx, scope, key)
			if err != nil {
				return rs.fail(c, "dedupe", http.StatusInternalServerError, err, "failed to record idempotency key")
			}
			if !added {
				rs.metrics.SetOutcome("duplicate")
				return c.String(http.StatusConflict, "duplicate drop")
			}
		}

		res := rs.board.DragSession(rs.id.UserID).OnDragEnd(req.TaskID, req.Target)
		rs.metrics.SetOutcome(string(res.Outcome))
		resp := dropResponse{Outcome: res.Outcome, Task: res.Task, From: res.From}
		if res.Outcome != board.DropFailed {
			return c.JSON(http.StatusOK, resp)
		}

		if dedupeKey {
			if err := dedupe.Remove(rs.ctx, scope, key); err != nil {
				logger.WithError(err).WithField("key", key).Warn("failed to release idempotency key")
			}
		}
		resp.Error = res.Err.Error()
		return rs.fail(c, "transition", statusForError(res.Err), res.Err, resp)
	}
}

func postDragCancel(c echo.Context, rs *requestScope) error {
	rs.board.DragSession(rs.id.UserID).Cancel()
	rs.metrics.SetOutcome("cancelled")
	return c.NoContent(http.StatusNoContent)
}

func getNotifications(c echo.Context, rs *requestScope) error {
	notes := rs.board.Notifications()
	return c.JSON(http.StatusOK, notificationsResponse{Notifications: notes})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMissingID),
		errors.Is(err, domain.ErrEmptyTitle),
		errors.Is(err, domain.ErrMissingOrganization),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidPriority):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
