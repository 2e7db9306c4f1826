package bot

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/polyedr/taskbot/internal/dialog"
	"github.com/polyedr/taskbot/internal/fanout"
	"github.com/polyedr/taskbot/internal/messaging"
	"github.com/polyedr/taskbot/internal/models"
	"github.com/polyedr/taskbot/internal/ratelimit"
	"github.com/polyedr/taskbot/internal/store"
	"github.com/polyedr/taskbot/internal/tasklist"
)

type fixture struct {
	bot *Bot
	svc *messaging.MockService
	st  *store.InMemoryStore
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := messaging.NewMockService()
	st := store.NewInMemoryStore()
	sessions := dialog.NewSessionStore()

	addTask := dialog.NewAddTaskWizard(dialog.AddTaskDeps{
		Sessions:         sessions,
		Svc:              svc,
		Store:            st,
		SharedCategories: true,
	})
	feedback := dialog.NewFeedbackWizard(dialog.FeedbackDeps{
		Sessions:    sessions,
		Svc:         svc,
		Store:       st,
		Broadcaster: fanout.NewBroadcaster(svc, []string{"admin1"}),
	})

	f := &fixture{
		svc: svc,
		st:  st,
		now: time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local),
	}
	clock := func() time.Time { return f.now }
	addTask.SetClock(clock)
	feedback.SetClock(clock)

	f.bot = New(Opts{
		Svc:      svc,
		Gate:     ratelimit.NewGate(500*time.Millisecond, nil),
		Sessions: sessions,
		AddTask:  addTask,
		Feedback: feedback,
		Tasks:    tasklist.NewEngine(st, models.DefaultPageSize),
		Store:    st,
	})
	f.bot.SetClock(clock)
	return f
}

// send advances the clock past the cooldown and dispatches a text event.
func (f *fixture) send(userID, body string) {
	f.now = f.now.Add(time.Second)
	f.bot.ProcessEvent(context.Background(), models.Event{
		From: userID, Kind: models.EventKindText, Body: body, Username: "alice",
	})
}

func (f *fixture) seedTasks(t *testing.T, userID string, n int) []models.Task {
	t.Helper()
	if _, err := f.st.EnsureUser(userID, "alice"); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	tasks := make([]models.Task, 0, n)
	for i := 0; i < n; i++ {
		task, err := f.st.CreateTask(userID, fmt.Sprintf("task %d", i+1), nil, nil)
		if err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
		tasks = append(tasks, task)
	}
	return tasks
}

func TestStartShowsMainMenu(t *testing.T) {
	f := newFixture(t)
	f.send("user1", "/start")
	if !strings.Contains(f.svc.LastMessage(), "add — add a task") {
		t.Errorf("expected main menu, got %q", f.svc.LastMessage())
	}
}

func TestStartAbortsActiveWizard(t *testing.T) {
	f := newFixture(t)
	f.send("user1", "add")
	f.send("user1", "1") // category chosen, now typing title
	f.send("user1", "/start")
	f.send("user1", "anything")

	// The title step is gone; free text falls through to the menu hint.
	if !strings.Contains(f.svc.LastMessage(), "add — add a task") {
		t.Errorf("wizard survived /start: %q", f.svc.LastMessage())
	}
	if n, _ := f.st.CountActiveTasks("user1"); n != 0 {
		t.Errorf("aborted wizard stored %d tasks", n)
	}
}

func TestAddFlowEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.send("user1", "add")
	f.send("user1", "2")
	f.send("user1", "Ship the release")
	f.send("user1", "tomorrow")
	f.send("user1", "1") // save

	if n, _ := f.st.CountActiveTasks("user1"); n != 1 {
		t.Fatalf("stored %d tasks, want 1", n)
	}
	if !strings.Contains(f.svc.LastMessage(), "saved") {
		t.Errorf("expected save ack, got %q", f.svc.LastMessage())
	}
}

func TestListPagination(t *testing.T) {
	f := newFixture(t)
	f.seedTasks(t, "user1", 7)

	f.send("user1", "list")
	first := f.svc.LastMessage()
	if !strings.Contains(first, "page 1") {
		t.Errorf("expected page 1 header, got %q", first)
	}
	if !strings.Contains(first, "task 5") || strings.Contains(first, "task 6") {
		t.Errorf("page 1 boundary wrong: %q", first)
	}
	if !strings.Contains(first, "page 2") {
		t.Errorf("expected next-page hint, got %q", first)
	}

	f.send("user1", "page 2")
	second := f.svc.LastMessage()
	if !strings.Contains(second, "task 6") || !strings.Contains(second, "task 7") {
		t.Errorf("page 2 missing tail tasks: %q", second)
	}
	if strings.Contains(second, "for more") {
		t.Errorf("last page must not advertise more: %q", second)
	}
}

func TestListEmpty(t *testing.T) {
	f := newFixture(t)
	f.send("user1", "list")
	if f.svc.LastMessage() != "No active tasks." {
		t.Errorf("got %q", f.svc.LastMessage())
	}
}

func TestDoneById(t *testing.T) {
	f := newFixture(t)
	tasks := f.seedTasks(t, "user1", 2)

	f.send("user1", fmt.Sprintf("done %d", tasks[0].ID))
	msgs := f.svc.MessagesTo("user1")
	if len(msgs) < 2 {
		t.Fatalf("expected ack plus refreshed page, got %v", msgs)
	}
	if !strings.Contains(msgs[len(msgs)-2], "Done") {
		t.Errorf("expected done ack, got %q", msgs[len(msgs)-2])
	}
	if strings.Contains(msgs[len(msgs)-1], "task 1") {
		t.Errorf("completed task still listed: %q", msgs[len(msgs)-1])
	}

	if n, _ := f.st.CountActiveTasks("user1"); n != 1 {
		t.Errorf("active count = %d, want 1", n)
	}
}

func TestDoneForeignTaskRejected(t *testing.T) {
	f := newFixture(t)
	tasks := f.seedTasks(t, "owner", 1)

	f.send("intruder", fmt.Sprintf("done %d", tasks[0].ID))
	if !strings.Contains(f.svc.LastMessage(), "not") {
		t.Errorf("expected rejection, got %q", f.svc.LastMessage())
	}
	if n, _ := f.st.CountActiveTasks("owner"); n != 1 {
		t.Error("foreign done request mutated the task")
	}
}

func TestDoneTwiceSecondIsSoftFailure(t *testing.T) {
	f := newFixture(t)
	tasks := f.seedTasks(t, "user1", 1)
	cmd := fmt.Sprintf("done %d", tasks[0].ID)

	f.send("user1", cmd)
	f.send("user1", cmd)
	if !strings.Contains(f.svc.LastMessage(), "already done") {
		t.Errorf("expected soft failure, got %q", f.svc.LastMessage())
	}
}

func TestDoneHistory(t *testing.T) {
	f := newFixture(t)
	tasks := f.seedTasks(t, "user1", 3)
	f.send("user1", fmt.Sprintf("done %d", tasks[1].ID))

	f.send("user1", "done")
	got := f.svc.LastMessage()
	if !strings.Contains(got, "Completed") || !strings.Contains(got, "task 2") {
		t.Errorf("history missing completed task: %q", got)
	}
	if strings.Contains(got, "task 1") {
		t.Errorf("history lists active task: %q", got)
	}
}

func TestRateGateRepliesTooFrequent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTasks(t, "user1", 1)

	f.send("user1", "/start")
	before := len(f.svc.MessagesTo("user1"))

	// Same instant, under the 500ms cooldown: the command is not
	// processed, the user gets the notice instead of the task list.
	f.bot.ProcessEvent(ctx, models.Event{From: "user1", Kind: models.EventKindText, Body: "list"})
	msgs := f.svc.MessagesTo("user1")
	if len(msgs) != before+1 {
		t.Fatalf("rate-limited event produced %d replies, want 1", len(msgs)-before)
	}
	if msgs[len(msgs)-1] != tooFrequentReply {
		t.Errorf("got %q, want the too-frequent notice", msgs[len(msgs)-1])
	}

	// The rejection must not have extended the cooldown window.
	f.send("user1", "list")
	if !strings.Contains(f.svc.LastMessage(), "task 1") {
		t.Errorf("command after cooldown was not processed: %q", f.svc.LastMessage())
	}
}

func TestUnknownTextShowsMenu(t *testing.T) {
	f := newFixture(t)
	f.send("user1", "blah blah")
	if !strings.Contains(f.svc.LastMessage(), "add — add a task") {
		t.Errorf("expected menu hint, got %q", f.svc.LastMessage())
	}
}

func TestGlobalButtonPayloads(t *testing.T) {
	f := newFixture(t)
	tasks := f.seedTasks(t, "user1", 6)

	f.now = f.now.Add(time.Second)
	f.bot.ProcessEvent(context.Background(), models.Event{
		From: "user1", Kind: models.EventKindButton, Data: fmt.Sprintf("taskdone:%d", tasks[0].ID),
	})
	if n, _ := f.st.CountActiveTasks("user1"); n != 5 {
		t.Errorf("active count = %d, want 5", n)
	}

	f.now = f.now.Add(time.Second)
	f.bot.ProcessEvent(context.Background(), models.Event{
		From: "user1", Kind: models.EventKindButton, Data: "page:0",
	})
	if !strings.Contains(f.svc.LastMessage(), "Active tasks") {
		t.Errorf("expected task page, got %q", f.svc.LastMessage())
	}
}

func TestEventLoopDeliversFromService(t *testing.T) {
	f := newFixture(t)
	if err := f.bot.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	f.now = f.now.Add(time.Second)
	f.svc.Inject(models.Event{From: "user1", Kind: models.EventKindCommand, Body: "/start"})

	deadline := time.After(2 * time.Second)
	for f.svc.LastMessage() == "" {
		select {
		case <-deadline:
			t.Fatal("event loop did not process the injected event")
		case <-time.After(10 * time.Millisecond):
		}
	}
	f.bot.Stop()

	if !strings.Contains(f.svc.LastMessage(), "add — add a task") {
		t.Errorf("expected main menu, got %q", f.svc.LastMessage())
	}
}
