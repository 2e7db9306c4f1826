package menu

import (
	"strings"
	"testing"
	"time"

	"github.com/polyedr/taskbot/internal/models"
)

func TestMatchByNumber(t *testing.T) {
	opts := CategoryOptions([]string{"Analytics", "Development"})

	data, ok := Match(opts, models.Event{Kind: models.EventKindText, Body: " 2 "})
	if !ok || data != "cat:Development" {
		t.Errorf("Match(2) = (%q, %v)", data, ok)
	}

	// Out of range and non-numeric replies don't match.
	if _, ok := Match(opts, models.Event{Kind: models.EventKindText, Body: "9"}); ok {
		t.Error("out-of-range number matched")
	}
	if _, ok := Match(opts, models.Event{Kind: models.EventKindText, Body: "two"}); ok {
		t.Error("non-numeric reply matched")
	}
}

func TestMatchByPayload(t *testing.T) {
	opts := ConfirmOptions()

	data, ok := Match(opts, models.Event{Kind: models.EventKindButton, Data: DataTaskSave})
	if !ok || data != DataTaskSave {
		t.Errorf("Match(save payload) = (%q, %v)", data, ok)
	}
	if _, ok := Match(opts, models.Event{Kind: models.EventKindButton, Data: "unknown"}); ok {
		t.Error("unknown payload matched")
	}
	// An image never matches a menu.
	if _, ok := Match(opts, models.Event{Kind: models.EventKindImage}); ok {
		t.Error("image event matched")
	}
}

func TestRenderNumbersOptions(t *testing.T) {
	out := Render("Pick one:", ConfirmOptions())
	if !strings.Contains(out, "1. 💾 Save") || !strings.Contains(out, "2. ❌ Cancel") {
		t.Errorf("render output missing numbered options: %q", out)
	}
}

func TestTaskLine(t *testing.T) {
	due := time.Date(2024, 4, 1, 18, 0, 0, 0, time.Local)
	task := models.Task{ID: 7, CategoryName: "Design", Title: "mockups", Deadline: &due}
	line := TaskLine(task)
	if line != "[#7] [Design] mockups — due 2024-04-01 18:00" {
		t.Errorf("TaskLine = %q", line)
	}

	bare := models.Task{ID: 8, Title: "no frills"}
	if got := TaskLine(bare); got != "[#8] no frills" {
		t.Errorf("TaskLine = %q", got)
	}
}

func TestRenderActivePageHints(t *testing.T) {
	tasks := []models.Task{{ID: 1, Title: "a"}}

	withNext := RenderActivePage(tasks, 0, true)
	if !strings.Contains(withNext, "page 2") {
		t.Errorf("missing next hint: %q", withNext)
	}

	lastPage := RenderActivePage(tasks, 1, false)
	if !strings.Contains(lastPage, "page 1") || strings.Contains(lastPage, "for more") {
		t.Errorf("back-page hints wrong: %q", lastPage)
	}

	if got := RenderActivePage(nil, 0, false); got != "No active tasks." {
		t.Errorf("empty page = %q", got)
	}
}
