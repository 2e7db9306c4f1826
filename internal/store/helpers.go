package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/polyedr/taskbot/internal/models"
)

// nullableString returns nil for a nil pointer, otherwise the value.
// Used for nullable database columns.
func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// nullableInt64 returns nil for a nil pointer, otherwise the value.
func nullableInt64(i *int64) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

// nullableTime returns nil for a nil pointer, otherwise the value.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// scanTasks scans task rows shared by the SQLite and Postgres stores.
// Column order: id, user_id, category_id, category_name, title,
// deadline, is_done, created_at, done_at.
func scanTasks(rows *sql.Rows) ([]models.Task, error) {
	var tasks []models.Task
	for rows.Next() {
		var t models.Task
		var categoryID sql.NullInt64
		var deadline, doneAt sql.NullTime
		err := rows.Scan(&t.ID, &t.UserID, &categoryID, &t.CategoryName, &t.Title,
			&deadline, &t.Done, &t.CreatedAt, &doneAt)
		if err != nil {
			return nil, fmt.Errorf("scan task failed: %w", err)
		}
		if categoryID.Valid {
			t.CategoryID = &categoryID.Int64
		}
		if deadline.Valid {
			d := deadline.Time
			t.Deadline = &d
		}
		if doneAt.Valid {
			d := doneAt.Time
			t.DoneAt = &d
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
