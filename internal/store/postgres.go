// Package store provides storage backends for the task bot.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/polyedr/taskbot/internal/models"
	"github.com/polyedr/taskbot/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) EnsureUser(id, username string) (models.User, error) {
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO users (id, username, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET username = CASE WHEN EXCLUDED.username != '' THEN EXCLUDED.username ELSE users.username END`,
		id, username, now)
	if err != nil {
		slog.Error("PostgresStore EnsureUser failed", "error", err, "userID", id)
		return models.User{}, fmt.Errorf("failed to ensure user %s: %w", id, err)
	}

	var u models.User
	var uname sql.NullString
	err = s.db.QueryRow(`SELECT id, username, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &uname, &u.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore EnsureUser select failed", "error", err, "userID", id)
		return models.User{}, err
	}
	u.Username = uname.String
	slog.Debug("PostgresStore EnsureUser succeeded", "userID", id)
	return u, nil
}

func (s *PostgresStore) GetOrCreateCategory(ownerID *string, name string) (models.Category, error) {
	// Insert-then-select under the unique expression index keeps the
	// lookup-or-create atomic.
	_, err := s.db.Exec(
		`INSERT INTO categories (name, owner_id) VALUES ($1, $2)
		 ON CONFLICT ((COALESCE(owner_id, '')), name) DO NOTHING`,
		name, nullableString(ownerID))
	if err != nil {
		slog.Error("PostgresStore GetOrCreateCategory insert failed", "error", err, "name", name)
		return models.Category{}, fmt.Errorf("failed to create category %q: %w", name, err)
	}

	var c models.Category
	var owner sql.NullString
	err = s.db.QueryRow(
		`SELECT id, name, owner_id FROM categories WHERE COALESCE(owner_id, '') = COALESCE($1, '') AND name = $2`,
		nullableString(ownerID), name).Scan(&c.ID, &c.Name, &owner)
	if err != nil {
		slog.Error("PostgresStore GetOrCreateCategory select failed", "error", err, "name", name)
		return models.Category{}, err
	}
	if owner.Valid {
		c.OwnerID = &owner.String
	}
	slog.Debug("PostgresStore GetOrCreateCategory succeeded", "name", name, "id", c.ID)
	return c, nil
}

func (s *PostgresStore) ListCategories(ownerID *string) ([]models.Category, error) {
	rows, err := s.db.Query(
		`SELECT id, name, owner_id FROM categories WHERE COALESCE(owner_id, '') = COALESCE($1, '') ORDER BY name`,
		nullableString(ownerID))
	if err != nil {
		slog.Error("PostgresStore ListCategories query failed", "error", err)
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var c models.Category
		var owner sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &owner); err != nil {
			slog.Error("PostgresStore ListCategories scan failed", "error", err)
			return nil, err
		}
		if owner.Valid {
			c.OwnerID = &owner.String
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *PostgresStore) CreateTask(userID, title string, categoryID *int64, deadline *time.Time) (models.Task, error) {
	now := time.Now()
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO tasks (user_id, category_id, title, deadline, is_done, created_at)
		 VALUES ($1, $2, $3, $4, FALSE, $5) RETURNING id`,
		userID, nullableInt64(categoryID), title, nullableTime(deadline), now).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore CreateTask failed", "error", err, "userID", userID)
		return models.Task{}, fmt.Errorf("failed to insert task for %s: %w", userID, err)
	}

	t := models.Task{ID: id, UserID: userID, CategoryID: categoryID, Title: title, Deadline: deadline, CreatedAt: now}
	if categoryID != nil {
		var name sql.NullString
		if err := s.db.QueryRow(`SELECT name FROM categories WHERE id = $1`, *categoryID).Scan(&name); err == nil {
			t.CategoryName = name.String
		}
	}
	slog.Debug("PostgresStore CreateTask succeeded", "userID", userID, "taskID", id)
	return t, nil
}

func (s *PostgresStore) ListActiveTasks(userID string, limit, offset int) ([]models.Task, error) {
	rows, err := s.db.Query(
		`SELECT t.id, t.user_id, t.category_id, COALESCE(c.name, ''), t.title, t.deadline, t.is_done, t.created_at, t.done_at
		 FROM tasks t LEFT JOIN categories c ON c.id = t.category_id
		 WHERE t.user_id = $1 AND t.is_done = FALSE
		 ORDER BY t.deadline ASC NULLS LAST, t.created_at ASC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		slog.Error("PostgresStore ListActiveTasks query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query active tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *PostgresStore) CountActiveTasks(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE user_id = $1 AND is_done = FALSE`, userID).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore CountActiveTasks failed", "error", err, "userID", userID)
		return 0, fmt.Errorf("failed to count active tasks: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListDoneTasks(userID string, limit int) ([]models.Task, error) {
	rows, err := s.db.Query(
		`SELECT t.id, t.user_id, t.category_id, COALESCE(c.name, ''), t.title, t.deadline, t.is_done, t.created_at, t.done_at
		 FROM tasks t LEFT JOIN categories c ON c.id = t.category_id
		 WHERE t.user_id = $1 AND t.is_done = TRUE
		 ORDER BY t.done_at DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		slog.Error("PostgresStore ListDoneTasks query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query done tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *PostgresStore) MarkTaskDone(taskID int64, userID string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE tasks SET is_done = TRUE, done_at = $1 WHERE id = $2 AND user_id = $3 AND is_done = FALSE`,
		time.Now(), taskID, userID)
	if err != nil {
		slog.Error("PostgresStore MarkTaskDone failed", "error", err, "taskID", taskID, "userID", userID)
		return false, fmt.Errorf("failed to mark task %d done: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	slog.Debug("PostgresStore MarkTaskDone", "taskID", taskID, "userID", userID, "updated", n > 0)
	return n > 0, nil
}

func (s *PostgresStore) SaveFeedback(report models.FeedbackReport) error {
	if report.ID == "" {
		report.ID = util.GenerateFeedbackID()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}
	var imagesJSON string
	if len(report.Images) > 0 {
		b, err := json.Marshal(report.Images)
		if err != nil {
			slog.Error("PostgresStore SaveFeedback JSON marshal failed", "error", err, "userID", report.UserID)
			return err
		}
		imagesJSON = string(b)
	}
	_, err := s.db.Exec(
		`INSERT INTO feedback (id, user_id, username, category, body, images, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		report.ID, report.UserID, report.Username, string(report.Category), report.Text, imagesJSON, report.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveFeedback failed", "error", err, "userID", report.UserID)
		return fmt.Errorf("failed to insert feedback from %s: %w", report.UserID, err)
	}
	slog.Debug("PostgresStore SaveFeedback succeeded", "userID", report.UserID, "id", report.ID)
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
