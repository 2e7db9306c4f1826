// Package models defines the core data structures for the task bot.
//
// It includes types for users, tasks, categories, feedback reports and
// inbound chat events, which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Validation constants for input validation
const (
	// MaxTitleLength defines the maximum allowed length for a task title
	MaxTitleLength = 200
	// MinFeedbackTextLength defines the minimum length for feedback text
	MinFeedbackTextLength = 10
	// DefaultPageSize defines how many active tasks fit on one list page
	DefaultPageSize = 5
	// DoneHistoryLimit caps the completed-task history listing
	DoneHistoryLimit = 10
)

// Error variables for better error handling and testability
var (
	ErrEmptyTitle           = errors.New("task title cannot be empty")
	ErrTitleTooLong         = errors.New("task title exceeds maximum length")
	ErrFeedbackTextTooShort = errors.New("feedback text is too short")
	ErrInvalidFeedbackKind  = errors.New("invalid feedback category")
	ErrEmptyRecipient       = errors.New("recipient cannot be empty")
)

// User represents a registered conversant. Users are created implicitly
// on first contact.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Category groups tasks. A nil OwnerID marks a shared (system) category
// visible to all users.
type Category struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	OwnerID *string `json:"owner_id,omitempty"`
}

// Task is a single tracked item. DoneAt is set iff Done is true, and a
// done task never becomes undone.
type Task struct {
	ID           int64      `json:"id"`
	UserID       string     `json:"user_id"`
	CategoryID   *int64     `json:"category_id,omitempty"`
	CategoryName string     `json:"category_name,omitempty"`
	Title        string     `json:"title"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	Done         bool       `json:"done"`
	CreatedAt    time.Time  `json:"created_at"`
	DoneAt       *time.Time `json:"done_at,omitempty"`
}

// ValidateTitle checks a task title against the length rules.
// The title is expected to be trimmed already.
func ValidateTitle(title string) error {
	if title == "" {
		return ErrEmptyTitle
	}
	if len([]rune(title)) > MaxTitleLength {
		return ErrTitleTooLong
	}
	return nil
}

// FeedbackKind tags a feedback report.
type FeedbackKind string

const (
	// FeedbackKindBug reports a defect.
	FeedbackKindBug FeedbackKind = "bug"
	// FeedbackKindIdea suggests an improvement.
	FeedbackKindIdea FeedbackKind = "idea"
	// FeedbackKindReview is a general review.
	FeedbackKindReview FeedbackKind = "review"
)

// IsValidFeedbackKind checks if the given feedback kind is supported.
func IsValidFeedbackKind(k FeedbackKind) bool {
	switch k {
	case FeedbackKindBug, FeedbackKindIdea, FeedbackKindReview:
		return true
	default:
		return false
	}
}

// FeedbackReport is an immutable user-submitted report with an ordered
// list of image handles.
type FeedbackReport struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Username  string       `json:"username,omitempty"`
	Category  FeedbackKind `json:"category"`
	Text      string       `json:"text"`
	Images    []string     `json:"images,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Validate performs validation on a FeedbackReport structure.
func (r *FeedbackReport) Validate() error {
	if !IsValidFeedbackKind(r.Category) {
		return ErrInvalidFeedbackKind
	}
	if len([]rune(strings.TrimSpace(r.Text))) < MinFeedbackTextLength {
		return ErrFeedbackTextTooShort
	}
	return nil
}

// EventKind classifies an inbound chat event.
type EventKind string

const (
	// EventKindCommand is a slash command such as "/start".
	EventKindCommand EventKind = "command"
	// EventKindText is a plain text message.
	EventKindText EventKind = "text"
	// EventKindButton is a button press carrying a structured payload.
	EventKindButton EventKind = "button"
	// EventKindImage is an image or document attachment.
	EventKindImage EventKind = "image"
)

// Attachment carries the opaque content handles of an inbound
// attachment. A message may expose both a photo and a document
// representation; consumers prefer the photo handle.
type Attachment struct {
	PhotoHandle    string `json:"photo_handle,omitempty"`
	DocumentHandle string `json:"document_handle,omitempty"`
}

// Handle returns the preferred content handle, or "" if the attachment
// carries neither representation.
func (a Attachment) Handle() string {
	if a.PhotoHandle != "" {
		return a.PhotoHandle
	}
	return a.DocumentHandle
}

// Event represents one inbound user action delivered by the transport.
type Event struct {
	From       string      `json:"from"`
	Kind       EventKind   `json:"kind"`
	Body       string      `json:"body,omitempty"`
	Data       string      `json:"data,omitempty"` // button payload, e.g. "task:save"
	Attachment *Attachment `json:"attachment,omitempty"`
	Username   string      `json:"username,omitempty"`
	Time       int64       `json:"time"`
}
