// Package menu renders numbered text menus and task listings.
//
// The chat transports here have no rich inline keyboards, so menus are
// numbered options the user answers by replying with the number (or
// the transport delivers a button payload directly in webhook mode).
package menu

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/polyedr/taskbot/internal/models"
)

// Option is one selectable menu entry. Data is the structured payload
// a button press for this entry carries.
type Option struct {
	Label string
	Data  string
}

// DefaultCategories are the task categories offered to every user.
var DefaultCategories = []string{"Analytics", "Development", "Design", "Testing", "Other"}

// Well-known button payloads.
const (
	DataCategoryNone  = "cat:none"
	DataTaskSave      = "task:save"
	DataTaskCancel    = "task:cancel"
	DataFeedbackSend  = "fb:send"
	DataFeedbackShot  = "fb:add_screenshot"
	DataFeedbackClose = "fb:cancel"
)

// MainMenuText is the greeting with the top-level actions.
const MainMenuText = "Hi! I track your tasks. Add tasks, set deadlines and mark them done.\n\n" +
	"➕ add — add a task\n" +
	"📋 list — show active tasks\n" +
	"✅ done — show completed tasks\n" +
	"✉️ feedback — send feedback"

// CategoryOptions builds the category selection menu for the add-task
// wizard, including a "no category" entry and cancel.
func CategoryOptions(categories []string) []Option {
	opts := make([]Option, 0, len(categories)+2)
	for _, name := range categories {
		opts = append(opts, Option{Label: name, Data: "cat:" + name})
	}
	opts = append(opts, Option{Label: "No category", Data: DataCategoryNone})
	opts = append(opts, Option{Label: "Cancel", Data: DataTaskCancel})
	return opts
}

// ConfirmOptions is the save/cancel menu at the end of the add-task wizard.
func ConfirmOptions() []Option {
	return []Option{
		{Label: "💾 Save", Data: DataTaskSave},
		{Label: "❌ Cancel", Data: DataTaskCancel},
	}
}

// FeedbackCategoryOptions is the entry menu of the feedback wizard.
func FeedbackCategoryOptions() []Option {
	return []Option{
		{Label: "🐞 Bug", Data: "fb:cat:bug"},
		{Label: "💡 Idea/suggestion", Data: "fb:cat:idea"},
		{Label: "🗣 Review", Data: "fb:cat:review"},
		{Label: "❌ Cancel", Data: DataFeedbackClose},
	}
}

// AttachOptions is the screenshot/send/cancel menu of the feedback wizard.
func AttachOptions() []Option {
	return []Option{
		{Label: "➕ Add screenshot", Data: DataFeedbackShot},
		{Label: "✅ Send", Data: DataFeedbackSend},
		{Label: "❌ Cancel", Data: DataFeedbackClose},
	}
}

// Render formats a prompt with its numbered options.
func Render(title string, opts []Option) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	for i, opt := range opts {
		fmt.Fprintf(&b, "\n%d. %s", i+1, opt.Label)
	}
	b.WriteString("\n\n(Reply with a number)")
	return b.String()
}

// Match resolves an inbound event against a menu. A button event
// matches by payload; a text event matches by option number. Returns
// the matched payload.
func Match(opts []Option, ev models.Event) (string, bool) {
	switch ev.Kind {
	case models.EventKindButton:
		for _, opt := range opts {
			if opt.Data == ev.Data {
				return opt.Data, true
			}
		}
	case models.EventKindText:
		n, err := strconv.Atoi(strings.TrimSpace(ev.Body))
		if err == nil && n >= 1 && n <= len(opts) {
			return opts[n-1].Data, true
		}
	}
	return "", false
}

// TaskLine renders one task list row: "[#id] [Category] title — due ...".
func TaskLine(t models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[#%d] ", t.ID)
	if t.CategoryName != "" {
		fmt.Fprintf(&b, "[%s] ", t.CategoryName)
	}
	b.WriteString(t.Title)
	if t.Deadline != nil {
		fmt.Fprintf(&b, " — due %s", t.Deadline.Format("2006-01-02 15:04"))
	}
	return b.String()
}

// RenderActivePage formats a page of active tasks together with the
// navigation hints the dispatcher understands.
func RenderActivePage(tasks []models.Task, page int, hasNext bool) string {
	if len(tasks) == 0 && page == 0 {
		return "No active tasks."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Active tasks (page %d):\n", page+1)
	for _, t := range tasks {
		b.WriteString("\n")
		b.WriteString(TaskLine(t))
	}
	b.WriteString("\n\nReply 'done <id>' to complete a task.")
	if hasNext {
		fmt.Fprintf(&b, "\nReply 'page %d' for more.", page+2)
	}
	if page > 0 {
		fmt.Fprintf(&b, "\nReply 'page %d' to go back.", page)
	}
	return b.String()
}

// RenderDoneHistory formats the completed-task history listing.
func RenderDoneHistory(tasks []models.Task) string {
	if len(tasks) == 0 {
		return "No completed tasks yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Completed (last %d):\n", len(tasks))
	for _, t := range tasks {
		b.WriteString("\n")
		fmt.Fprintf(&b, "[#%d] %s", t.ID, t.Title)
		if t.DoneAt != nil {
			fmt.Fprintf(&b, " — %s", t.DoneAt.Format("2006-01-02 15:04"))
		}
	}
	return b.String()
}
