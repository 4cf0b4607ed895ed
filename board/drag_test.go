package board

import (
	"context"
	"errors"
	"testing"

	"taskboard/domain"
)

func TestDragMovesTaskAndPersistsOnce(t *testing.T) {
	remote := &fakeRemote{tasks: []domain.Task{task("t1", domain.StatusTodo), task("t2", domain.StatusTodo)}}
	b := newTestBoard(remote, PolicyRollback, 3)
	defer b.Close(context.Background())
	drag := b.DragSession("alice")

	if !drag.OnDragStart("t1") {
		t.Fatalf("expected drag start to be accepted")
	}
	if id, ok := drag.Active(); !ok || id != "t1" {
		t.Fatalf("expected t1 to be active, got %q %v", id, ok)
	}

	res := drag.OnDragEnd("t1", "in_progress")
	if res.Outcome != DropMoved || res.From != domain.StatusTodo {
		t.Fatalf("unexpected drop result: %+v", res)
	}
	if res.Task == nil || res.Task.Status != domain.StatusInProgress {
		t.Fatalf("expected moved task in result, got %+v", res.Task)
	}
	if _, ok := drag.Active(); ok {
		t.Fatalf("expected drag session to be cleared")
	}
	got, _ := b.Store().Get("t1")
	if got.Status != domain.StatusInProgress {
		t.Fatalf("expected local status to change before persistence, got %s", got.Status)
	}

	b.Wait()
	calls := remote.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one remote update, got %d", len(calls))
	}
	if calls[0].TaskID != "t1" || calls[0].Status != domain.StatusInProgress || calls[0].Organization != "org" {
		t.Fatalf("unexpected remote update: %+v", calls[0])
	}
	if !calls[0].UpdatedAt.Equal(got.UpdatedAt) {
		t.Fatalf("expected remote update to carry local timestamp %v, got %v", got.UpdatedAt, calls[0].UpdatedAt)
	}
	if n := b.Notifications(); len(n) != 0 {
		t.Fatalf("expected no notifications, got %+v", n)
	}
}

func TestDropOnInvalidTargetIsNoop(t *testing.T) {
	remote := &fakeRemote{tasks: []domain.Task{task("t1", domain.StatusTodo)}}
	b := newTestBoard(remote, PolicyRollback, 1)
	defer b.Close(context.Background())
	drag := b.DragSession("alice")
	before, _ := b.Store().Get("t1")

	drag.OnDragStart("t1")
	res := drag.OnDragEnd("t1", "header")
	if res.Outcome != DropInvalidTarget {
		t.Fatalf("expected invalid target, got %s", res.Outcome)
	}
	if _, ok := drag.Active(); ok {
		t.Fatalf("expected drag session to be cleared")
	}
	b.Wait()
	after, _ := b.Store().Get("t1")
	if after.Status != before.Status || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("task changed on invalid drop: %+v", after)
	}
	if len(remote.Calls()) != 0 {
		t.Fatalf("expected no remote calls")
	}
}

func TestDropOnSameColumn(t *testing.T) {
	remote := &fakeRemote{tasks: []domain.Task{task("t1", domain.StatusReview)}}
	b := newTestBoard(remote, PolicyRollback, 1)
	defer b.Close(context.Background())
	drag := b.DragSession("alice")

	drag.OnDragStart("t1")
	res := drag.OnDragEnd("t1", "review")
	if res.Outcome != DropUnchanged {
		t.Fatalf("expected unchanged, got %s", res.Outcome)
	}
	b.Wait()
	got, _ := b.Store().Get("t1")
	if !got.UpdatedAt.Equal(baseTime) {
		t.Fatalf("expected updated_at untouched, got %v", got.UpdatedAt)
	}
	if len(remote.Calls()) != 0 {
		t.Fatalf("expected no remote calls")
	}
}

func TestOverlappingDragStartIgnored(t *testing.T) {
	remote := &fakeRemote{tasks: []domain.Task{task("t1", domain.StatusTodo), task("t2", domain.StatusTodo)}}
	b := newTestBoard(remote, PolicyRollback, 1)
	defer b.Close(context.Background())
	drag := b.DragSession("alice")

	drag.OnDragStart("t1")
	if drag.OnDragStart("t2") {
		t.Fatalf("expected second drag start to be refused")
	}
	if id, _ := drag.Active(); id != "t1" {
		t.Fatalf("expected t1 to remain active, got %q", id)
	}

	if res := drag.OnDragEnd("t2", "done"); res.Outcome != DropIgnored {
		t.Fatalf("expected mismatched drag end to be ignored, got %s", res.Outcome)
	}
	if _, ok := drag.Active(); ok {
		t.Fatalf("expected mismatched drag end to clear the session")
	}
	b.Wait()
	for _, id := range []string{"t1", "t2"} {
		if got, _ := b.Store().Get(id); got.Status != domain.StatusTodo {
			t.Fatalf("%s moved unexpectedly to %s", id, got.Status)
		}
	}
}

func TestDragSessionsArePerUser(t *testing.T) {
	remote := &fakeRemote{tasks: []domain.Task{task("t1", domain.StatusTodo), task("t2", domain.StatusTodo)}}
	b := newTestBoard(remote, PolicyRollback, 1)
	defer b.Close(context.Background())

	if b.DragSession("alice") != b.DragSession("alice") {
		t.Fatalf("expected session to be reused")
	}
	b.DragSession("alice").OnDragStart("t1")
	if !b.DragSession("bob").OnDragStart("t2") {
		t.Fatalf("expected independent session for another user")
	}
}

func TestDragEndWithoutStart(t *testing.T) {
	remote := &fakeRemote{tasks: []domain.Task{task("t1", domain.StatusTodo)}}
	b := newTestBoard(remote, PolicyRollback, 1)
	defer b.Close(context.Background())

	if res := b.DragSession("alice").OnDragEnd("t1", "done"); res.Outcome != DropIgnored {
		t.Fatalf("expected ignored, got %s", res.Outcome)
	}
	if len(remote.Calls()) != 0 {
		t.Fatalf("expected no remote calls")
	}
}

func TestDropAfterTaskRemoved(t *testing.T) {
	remote := &fakeRemote{tasks: []domain.Task{task("t1", domain.StatusTodo)}}
	b := newTestBoard(remote, PolicyRollback, 1)
	defer b.Close(context.Background())
	drag := b.DragSession("alice")

	drag.OnDragStart("t1")
	b.Store().Remove("t1")
	res := drag.OnDragEnd("t1", "done")
	if res.Outcome != DropFailed || !errors.Is(res.Err, domain.ErrNotFound) {
		t.Fatalf("expected not found failure, got %+v", res)
	}
	if _, ok := drag.Active(); ok {
		t.Fatalf("expected drag session to be cleared")
	}
}

func TestDragCancel(t *testing.T) {
	drag := NewDragController(nil, nil)
	drag.OnDragStart("t1")
	drag.Cancel()
	if _, ok := drag.Active(); ok {
		t.Fatalf("expected cancel to clear the session")
	}
	if !drag.OnDragStart("t2") {
		t.Fatalf("expected new drag after cancel")
	}
}
