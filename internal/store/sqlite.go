// Package store provides storage backends for the task bot.
//
// This file implements an SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/polyedr/taskbot/internal/models"
	"github.com/polyedr/taskbot/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) EnsureUser(id, username string) (models.User, error) {
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET username = CASE WHEN excluded.username != '' THEN excluded.username ELSE users.username END`,
		id, username, now)
	if err != nil {
		slog.Error("SQLiteStore EnsureUser failed", "error", err, "userID", id)
		return models.User{}, fmt.Errorf("failed to ensure user %s: %w", id, err)
	}

	var u models.User
	var uname sql.NullString
	err = s.db.QueryRow(`SELECT id, username, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &uname, &u.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore EnsureUser select failed", "error", err, "userID", id)
		return models.User{}, err
	}
	u.Username = uname.String
	slog.Debug("SQLiteStore EnsureUser succeeded", "userID", id)
	return u, nil
}

func (s *SQLiteStore) GetOrCreateCategory(ownerID *string, name string) (models.Category, error) {
	// INSERT OR IGNORE + SELECT keeps the lookup-or-create atomic under
	// the unique (owner, name) index.
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO categories (name, owner_id) VALUES (?, ?)`,
		name, nullableString(ownerID))
	if err != nil {
		slog.Error("SQLiteStore GetOrCreateCategory insert failed", "error", err, "name", name)
		return models.Category{}, fmt.Errorf("failed to create category %q: %w", name, err)
	}

	var c models.Category
	var owner sql.NullString
	err = s.db.QueryRow(
		`SELECT id, name, owner_id FROM categories WHERE COALESCE(owner_id, '') = COALESCE(?, '') AND name = ?`,
		nullableString(ownerID), name).Scan(&c.ID, &c.Name, &owner)
	if err != nil {
		slog.Error("SQLiteStore GetOrCreateCategory select failed", "error", err, "name", name)
		return models.Category{}, err
	}
	if owner.Valid {
		c.OwnerID = &owner.String
	}
	slog.Debug("SQLiteStore GetOrCreateCategory succeeded", "name", name, "id", c.ID)
	return c, nil
}

func (s *SQLiteStore) ListCategories(ownerID *string) ([]models.Category, error) {
	rows, err := s.db.Query(
		`SELECT id, name, owner_id FROM categories WHERE COALESCE(owner_id, '') = COALESCE(?, '') ORDER BY name`,
		nullableString(ownerID))
	if err != nil {
		slog.Error("SQLiteStore ListCategories query failed", "error", err)
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var c models.Category
		var owner sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &owner); err != nil {
			slog.Error("SQLiteStore ListCategories scan failed", "error", err)
			return nil, err
		}
		if owner.Valid {
			c.OwnerID = &owner.String
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *SQLiteStore) CreateTask(userID, title string, categoryID *int64, deadline *time.Time) (models.Task, error) {
	now := time.Now()
	res, err := s.db.Exec(
		`INSERT INTO tasks (user_id, category_id, title, deadline, is_done, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		userID, nullableInt64(categoryID), title, nullableTime(deadline), now)
	if err != nil {
		slog.Error("SQLiteStore CreateTask failed", "error", err, "userID", userID)
		return models.Task{}, fmt.Errorf("failed to insert task for %s: %w", userID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Task{}, err
	}

	t := models.Task{ID: id, UserID: userID, CategoryID: categoryID, Title: title, Deadline: deadline, CreatedAt: now}
	if categoryID != nil {
		var name sql.NullString
		if err := s.db.QueryRow(`SELECT name FROM categories WHERE id = ?`, *categoryID).Scan(&name); err == nil {
			t.CategoryName = name.String
		}
	}
	slog.Debug("SQLiteStore CreateTask succeeded", "userID", userID, "taskID", id)
	return t, nil
}

func (s *SQLiteStore) ListActiveTasks(userID string, limit, offset int) ([]models.Task, error) {
	rows, err := s.db.Query(
		`SELECT t.id, t.user_id, t.category_id, COALESCE(c.name, ''), t.title, t.deadline, t.is_done, t.created_at, t.done_at
		 FROM tasks t LEFT JOIN categories c ON c.id = t.category_id
		 WHERE t.user_id = ? AND t.is_done = 0
		 ORDER BY t.deadline IS NULL, t.deadline, t.created_at
		 LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		slog.Error("SQLiteStore ListActiveTasks query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query active tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *SQLiteStore) CountActiveTasks(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE user_id = ? AND is_done = 0`, userID).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore CountActiveTasks failed", "error", err, "userID", userID)
		return 0, fmt.Errorf("failed to count active tasks: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) ListDoneTasks(userID string, limit int) ([]models.Task, error) {
	rows, err := s.db.Query(
		`SELECT t.id, t.user_id, t.category_id, COALESCE(c.name, ''), t.title, t.deadline, t.is_done, t.created_at, t.done_at
		 FROM tasks t LEFT JOIN categories c ON c.id = t.category_id
		 WHERE t.user_id = ? AND t.is_done = 1
		 ORDER BY t.done_at DESC
		 LIMIT ?`,
		userID, limit)
	if err != nil {
		slog.Error("SQLiteStore ListDoneTasks query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query done tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *SQLiteStore) MarkTaskDone(taskID int64, userID string) (bool, error) {
	// Existence, ownership and not-already-done are checked atomically
	// with the mutation by the WHERE clause.
	res, err := s.db.Exec(
		`UPDATE tasks SET is_done = 1, done_at = ? WHERE id = ? AND user_id = ? AND is_done = 0`,
		time.Now(), taskID, userID)
	if err != nil {
		slog.Error("SQLiteStore MarkTaskDone failed", "error", err, "taskID", taskID, "userID", userID)
		return false, fmt.Errorf("failed to mark task %d done: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	slog.Debug("SQLiteStore MarkTaskDone", "taskID", taskID, "userID", userID, "updated", n > 0)
	return n > 0, nil
}

func (s *SQLiteStore) SaveFeedback(report models.FeedbackReport) error {
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
			slog.Error("SQLiteStore SaveFeedback JSON marshal failed", "error", err, "userID", report.UserID)
			return err
		}
		imagesJSON = string(b)
	}
	_, err := s.db.Exec(
		`INSERT INTO feedback (id, user_id, username, category, body, images, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.UserID, report.Username, string(report.Category), report.Text, imagesJSON, report.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveFeedback failed", "error", err, "userID", report.UserID)
		return fmt.Errorf("failed to insert feedback from %s: %w", report.UserID, err)
	}
	slog.Debug("SQLiteStore SaveFeedback succeeded", "userID", report.UserID, "id", report.ID)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
