// Package tasklist computes stable pages over a user's active tasks
// and exposes the completion transitions.
package tasklist

import (
	"fmt"
	"log/slog"

	"github.com/polyedr/taskbot/internal/models"
	"github.com/polyedr/taskbot/internal/store"
)

// Page is one slice of a user's active task list. HasNext reports
// whether another page follows; Total is the full active count.
type Page struct {
	Tasks   []models.Task
	Index   int
	HasNext bool
	Total   int
}

// Engine computes pages and completion transitions over the store.
// Ordering is total and stable: deadline tasks ascending by deadline,
// then no-deadline tasks, ties by creation time (enforced by the store
// backends).
type Engine struct {
	st       store.Store
	pageSize int
}

// NewEngine creates a listing engine with the given page size.
// Non-positive sizes fall back to the default.
func NewEngine(st store.Store, pageSize int) *Engine {
	if pageSize <= 0 {
		pageSize = models.DefaultPageSize
	}
	return &Engine{st: st, pageSize: pageSize}
}

// PageSize returns the configured page size.
func (e *Engine) PageSize() int { return e.pageSize }

// ListActivePage returns the requested page of active tasks. A page
// index past the end yields an empty page with HasNext=false.
func (e *Engine) ListActivePage(userID string, pageIndex int) (Page, error) {
	if pageIndex < 0 {
		pageIndex = 0
	}

	total, err := e.st.CountActiveTasks(userID)
	if err != nil {
		slog.Error("Engine ListActivePage count failed", "error", err, "userID", userID)
		return Page{}, fmt.Errorf("failed to count active tasks: %w", err)
	}

	tasks, err := e.st.ListActiveTasks(userID, e.pageSize, pageIndex*e.pageSize)
	if err != nil {
		slog.Error("Engine ListActivePage list failed", "error", err, "userID", userID, "page", pageIndex)
		return Page{}, fmt.Errorf("failed to list active tasks: %w", err)
	}

	page := Page{
		Tasks:   tasks,
		Index:   pageIndex,
		HasNext: (pageIndex+1)*e.pageSize < total,
		Total:   total,
	}
	slog.Debug("Engine ListActivePage", "userID", userID, "page", pageIndex, "count", len(tasks), "hasNext", page.HasNext)
	return page, nil
}

// MarkDone completes a task. It returns true only when the task
// exists, belongs to the requesting user and was not already done;
// every other case is a soft false with no mutation.
func (e *Engine) MarkDone(taskID int64, requestingUserID string) (bool, error) {
	ok, err := e.st.MarkTaskDone(taskID, requestingUserID)
	if err != nil {
		slog.Error("Engine MarkDone failed", "error", err, "taskID", taskID, "userID", requestingUserID)
		return false, fmt.Errorf("failed to mark task done: %w", err)
	}
	slog.Info("Engine MarkDone", "taskID", taskID, "userID", requestingUserID, "ok", ok)
	return ok, nil
}

// ListDone returns the most recently completed tasks, newest first,
// capped at models.DoneHistoryLimit.
func (e *Engine) ListDone(userID string) ([]models.Task, error) {
	tasks, err := e.st.ListDoneTasks(userID, models.DoneHistoryLimit)
	if err != nil {
		slog.Error("Engine ListDone failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to list done tasks: %w", err)
	}
	return tasks, nil
}
