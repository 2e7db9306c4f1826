package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/polyedr/taskbot/internal/models"
)

// storeFactory builds a fresh Store for each conformance test run.
type storeFactory func(t *testing.T) Store

// runStoreConformance exercises the Store contract against a backend.
func runStoreConformance(t *testing.T, newStore storeFactory) {
	t.Run("EnsureUserUpsertsUsername", func(t *testing.T) {
		st := newStore(t)
		defer st.Close()

		u, err := st.EnsureUser("user1", "alice")
		if err != nil {
			t.Fatalf("EnsureUser failed: %v", err)
		}
		if u.ID != "user1" || u.Username != "alice" {
			t.Errorf("user = %+v", u)
		}

		u, err = st.EnsureUser("user1", "alice_renamed")
		if err != nil {
			t.Fatalf("second EnsureUser failed: %v", err)
		}
		if u.Username != "alice_renamed" {
			t.Errorf("username = %q, want updated value", u.Username)
		}
	})

	t.Run("CategoriesDedupedPerOwner", func(t *testing.T) {
		st := newStore(t)
		defer st.Close()

		shared1, err := st.GetOrCreateCategory(nil, "Development")
		if err != nil {
			t.Fatalf("GetOrCreateCategory failed: %v", err)
		}
		shared2, err := st.GetOrCreateCategory(nil, "Development")
		if err != nil {
			t.Fatalf("second GetOrCreateCategory failed: %v", err)
		}
		if shared1.ID != shared2.ID {
			t.Errorf("shared category duplicated: %d vs %d", shared1.ID, shared2.ID)
		}

		owner := "user1"
		private, err := st.GetOrCreateCategory(&owner, "Development")
		if err != nil {
			t.Fatalf("private GetOrCreateCategory failed: %v", err)
		}
		if private.ID == shared1.ID {
			t.Error("private category must not collide with the shared one")
		}
	})

	t.Run("TaskLifecycle", func(t *testing.T) {
		st := newStore(t)
		defer st.Close()

		if _, err := st.EnsureUser("user1", "alice"); err != nil {
			t.Fatalf("EnsureUser failed: %v", err)
		}
		cat, err := st.GetOrCreateCategory(nil, "Testing")
		if err != nil {
			t.Fatalf("GetOrCreateCategory failed: %v", err)
		}
		due := time.Date(2024, 4, 1, 18, 0, 0, 0, time.UTC)
		task, err := st.CreateTask("user1", "check the backups", &cat.ID, &due)
		if err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
		if task.ID == 0 {
			t.Error("task got no id")
		}

		active, err := st.ListActiveTasks("user1", 10, 0)
		if err != nil {
			t.Fatalf("ListActiveTasks failed: %v", err)
		}
		if len(active) != 1 {
			t.Fatalf("active = %d, want 1", len(active))
		}
		if active[0].CategoryName != "Testing" {
			t.Errorf("category name = %q, want Testing", active[0].CategoryName)
		}
		if active[0].Deadline == nil || !active[0].Deadline.Equal(due) {
			t.Errorf("deadline = %v, want %v", active[0].Deadline, due)
		}

		ok, err := st.MarkTaskDone(task.ID, "user1")
		if err != nil || !ok {
			t.Fatalf("MarkTaskDone = (%v, %v), want (true, nil)", ok, err)
		}
		// Guarded update: second attempt is a soft false.
		ok, err = st.MarkTaskDone(task.ID, "user1")
		if err != nil || ok {
			t.Errorf("repeat MarkTaskDone = (%v, %v), want (false, nil)", ok, err)
		}

		if n, _ := st.CountActiveTasks("user1"); n != 0 {
			t.Errorf("active count = %d after completion", n)
		}
		done, err := st.ListDoneTasks("user1", 10)
		if err != nil {
			t.Fatalf("ListDoneTasks failed: %v", err)
		}
		if len(done) != 1 || !done[0].Done || done[0].DoneAt == nil {
			t.Errorf("done history = %+v", done)
		}
	})

	t.Run("ActiveOrdering", func(t *testing.T) {
		st := newStore(t)
		defer st.Close()

		if _, err := st.EnsureUser("user1", "alice"); err != nil {
			t.Fatalf("EnsureUser failed: %v", err)
		}
		far := time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)
		near := time.Date(2024, 4, 1, 18, 0, 0, 0, time.UTC)
		for _, c := range []struct {
			title string
			due   *time.Time
		}{
			{"open ended", nil},
			{"far", &far},
			{"near", &near},
		} {
			if _, err := st.CreateTask("user1", c.title, nil, c.due); err != nil {
				t.Fatalf("CreateTask(%s) failed: %v", c.title, err)
			}
		}

		active, err := st.ListActiveTasks("user1", 10, 0)
		if err != nil {
			t.Fatalf("ListActiveTasks failed: %v", err)
		}
		want := []string{"near", "far", "open ended"}
		if len(active) != len(want) {
			t.Fatalf("active = %d tasks, want %d", len(active), len(want))
		}
		for i := range want {
			if active[i].Title != want[i] {
				t.Fatalf("order = [%s %s %s], want %v", active[0].Title, active[1].Title, active[2].Title, want)
			}
		}
	})

	t.Run("FeedbackRoundTrip", func(t *testing.T) {
		st := newStore(t)
		defer st.Close()

		if _, err := st.EnsureUser("user1", "alice"); err != nil {
			t.Fatalf("EnsureUser failed: %v", err)
		}
		report := models.FeedbackReport{
			ID:        "fb_roundtrip",
			UserID:    "user1",
			Username:  "alice",
			Category:  models.FeedbackKindIdea,
			Text:      "ordering of image handles matters",
			Images:    []string{"a", "b", "c"},
			CreatedAt: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
		}
		if err := st.SaveFeedback(report); err != nil {
			t.Fatalf("SaveFeedback failed: %v", err)
		}
	})
}

func TestInMemoryStore(t *testing.T) {
	runStoreConformance(t, func(t *testing.T) Store {
		return NewInMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreConformance(t, func(t *testing.T) Store {
		st, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "taskbot.db")))
		if err != nil {
			t.Fatalf("failed to open sqlite store: %v", err)
		}
		return st
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TASKBOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TASKBOT_TEST_POSTGRES_DSN not set, skipping postgres integration test")
	}
	runStoreConformance(t, func(t *testing.T) Store {
		st, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			t.Fatalf("failed to open postgres store: %v", err)
		}
		if _, err := st.db.Exec(`TRUNCATE tasks, categories, feedback, users RESTART IDENTITY CASCADE`); err != nil {
			t.Fatalf("failed to reset postgres test database: %v", err)
		}
		return st
	})
}

func TestDetectDSNType(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost/db":   "postgres",
		"postgresql://u:p@localhost/db": "postgres",
		"host=localhost user=taskbot":   "postgres",
		"/var/lib/taskbot/taskbot.db":   "sqlite",
		"":                              "sqlite",
	}
	for dsn, want := range cases {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}
