// Package store provides storage backends for the task bot.
//
// It includes an in-memory store for tests and single-process use, and
// persistent SQLite and PostgreSQL backends.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/polyedr/taskbot/internal/models"
	"github.com/polyedr/taskbot/internal/util"
)

// Store is the repository consumed by the bot core. Implementations
// must make GetOrCreateCategory and MarkTaskDone atomic per call.
type Store interface {
	EnsureUser(id, username string) (models.User, error)
	GetOrCreateCategory(ownerID *string, name string) (models.Category, error)
	ListCategories(ownerID *string) ([]models.Category, error)
	CreateTask(userID, title string, categoryID *int64, deadline *time.Time) (models.Task, error)
	ListActiveTasks(userID string, limit, offset int) ([]models.Task, error)
	CountActiveTasks(userID string) (int, error)
	ListDoneTasks(userID string, limit int) ([]models.Task, error)
	MarkTaskDone(taskID int64, userID string) (bool, error)
	SaveFeedback(report models.FeedbackReport) error
	Close() error
}

// InMemoryStore is a map-backed Store for tests and ephemeral runs.
type InMemoryStore struct {
	mu         sync.Mutex
	users      map[string]models.User
	categories []models.Category
	tasks      []models.Task
	feedback   []models.FeedbackReport
	nextCatID  int64
	nextTaskID int64
	now        func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:      make(map[string]models.User),
		nextCatID:  1,
		nextTaskID: 1,
		now:        time.Now,
	}
}

// SetClock overrides the store clock (for tests).
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *InMemoryStore) EnsureUser(id, username string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		if username != "" && u.Username != username {
			u.Username = username
			s.users[id] = u
		}
		return u, nil
	}
	u := models.User{ID: id, Username: username, CreatedAt: s.now()}
	s.users[id] = u
	return u, nil
}

func (s *InMemoryStore) GetOrCreateCategory(ownerID *string, name string) (models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.categories {
		if c.Name == name && sameOwner(c.OwnerID, ownerID) {
			return c, nil
		}
	}
	c := models.Category{ID: s.nextCatID, Name: name, OwnerID: ownerID}
	s.nextCatID++
	s.categories = append(s.categories, c)
	return c, nil
}

func (s *InMemoryStore) ListCategories(ownerID *string) ([]models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Category
	for _, c := range s.categories {
		if sameOwner(c.OwnerID, ownerID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *InMemoryStore) CreateTask(userID, title string, categoryID *int64, deadline *time.Time) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := models.Task{
		ID:         s.nextTaskID,
		UserID:     userID,
		CategoryID: categoryID,
		Title:      title,
		Deadline:   deadline,
		CreatedAt:  s.now(),
	}
	if categoryID != nil {
		for _, c := range s.categories {
			if c.ID == *categoryID {
				t.CategoryName = c.Name
			}
		}
	}
	s.nextTaskID++
	s.tasks = append(s.tasks, t)
	return t, nil
}

func (s *InMemoryStore) ListActiveTasks(userID string, limit, offset int) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := s.activeTasksLocked(userID)
	sortActiveTasks(active)
	if offset >= len(active) {
		return nil, nil
	}
	end := offset + limit
	if end > len(active) {
		end = len(active)
	}
	out := make([]models.Task, end-offset)
	copy(out, active[offset:end])
	return out, nil
}

func (s *InMemoryStore) CountActiveTasks(userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeTasksLocked(userID)), nil
}

func (s *InMemoryStore) ListDoneTasks(userID string, limit int) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var done []models.Task
	for _, t := range s.tasks {
		if t.UserID == userID && t.Done {
			done = append(done, t)
		}
	}
	sort.SliceStable(done, func(i, j int) bool {
		return done[i].DoneAt.After(*done[j].DoneAt)
	})
	if limit > 0 && len(done) > limit {
		done = done[:limit]
	}
	return done, nil
}

func (s *InMemoryStore) MarkTaskDone(taskID int64, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		t := &s.tasks[i]
		if t.ID == taskID && t.UserID == userID && !t.Done {
			doneAt := s.now()
			t.Done = true
			t.DoneAt = &doneAt
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) SaveFeedback(report models.FeedbackReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if report.ID == "" {
		report.ID = util.GenerateFeedbackID()
	}
	s.feedback = append(s.feedback, report)
	return nil
}

// GetFeedback returns all saved feedback reports (for tests).
func (s *InMemoryStore) GetFeedback() []models.FeedbackReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FeedbackReport, len(s.feedback))
	copy(out, s.feedback)
	return out
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) activeTasksLocked(userID string) []models.Task {
	var active []models.Task
	for _, t := range s.tasks {
		if t.UserID == userID && !t.Done {
			active = append(active, t)
		}
	}
	return active
}

// sortActiveTasks orders tasks with deadlines first (ascending), then
// no-deadline tasks, ties broken by creation time.
func sortActiveTasks(tasks []models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		switch {
		case a.Deadline == nil && b.Deadline == nil:
			return a.CreatedAt.Before(b.CreatedAt)
		case a.Deadline == nil:
			return false
		case b.Deadline == nil:
			return true
		case a.Deadline.Equal(*b.Deadline):
			return a.CreatedAt.Before(b.CreatedAt)
		default:
			return a.Deadline.Before(*b.Deadline)
		}
	})
}

func sameOwner(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
