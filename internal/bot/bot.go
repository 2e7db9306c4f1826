// Package bot wires the transport event stream to the wizards and the
// global commands. It owns the dispatch order: rate gate first, then
// /start, then the active wizard, then the keyword commands.
package bot

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/polyedr/taskbot/internal/dialog"
	"github.com/polyedr/taskbot/internal/menu"
	"github.com/polyedr/taskbot/internal/messaging"
	"github.com/polyedr/taskbot/internal/models"
	"github.com/polyedr/taskbot/internal/ratelimit"
	"github.com/polyedr/taskbot/internal/store"
	"github.com/polyedr/taskbot/internal/tasklist"
)

const genericErrorReply = "Something went wrong. Please try again."

const tooFrequentReply = "Too frequent. Please wait a moment…"

// Opts configures the Bot.
type Opts struct {
	Svc      messaging.Service
	Gate     *ratelimit.Gate
	Sessions *dialog.SessionStore
	AddTask  *dialog.Wizard
	Feedback *dialog.Wizard
	Tasks    *tasklist.Engine
	Store    store.Store
}

// Bot consumes the transport event stream and routes each event.
// Events are processed one at a time on a single goroutine, which
// keeps per-user ordering without extra locking.
type Bot struct {
	svc      messaging.Service
	gate     *ratelimit.Gate
	sessions *dialog.SessionStore
	addTask  *dialog.Wizard
	feedback *dialog.Wizard
	tasks    *tasklist.Engine
	st       store.Store
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Bot from its collaborators.
func New(opts Opts) *Bot {
	return &Bot{
		svc:      opts.Svc,
		gate:     opts.Gate,
		sessions: opts.Sessions,
		addTask:  opts.AddTask,
		feedback: opts.Feedback,
		tasks:    opts.Tasks,
		st:       opts.Store,
		now:      time.Now,
	}
}

// SetClock overrides the bot clock (for tests).
func (b *Bot) SetClock(now func() time.Time) { b.now = now }

// Start launches the event loop. It returns immediately; the loop runs
// until Stop is called or the context is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		slog.Info("Bot event loop started")
		for {
			select {
			case <-ctx.Done():
				slog.Info("Bot event loop stopped", "reason", ctx.Err())
				return
			case ev, ok := <-b.svc.Events():
				if !ok {
					slog.Info("Bot event channel closed")
					return
				}
				b.ProcessEvent(ctx, ev)
			}
		}
	}()
	return nil
}

// Stop shuts the event loop down and waits for the in-flight event.
func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

// ProcessEvent routes one inbound event. Dispatch order: rate gate,
// /start, the user's active wizard, then the global commands.
func (b *Bot) ProcessEvent(ctx context.Context, ev models.Event) {
	if ev.From == "" {
		slog.Warn("Bot dropped event without sender")
		return
	}

	if !b.gate.Admit(ev.From, b.now()) {
		// The event is not processed, but the user is told why. The
		// notice cannot snowball: rejections never touch the gate state.
		slog.Debug("Bot rejected rate-limited event", "userID", ev.From, "kind", ev.Kind)
		b.reply(ctx, ev.From, tooFrequentReply)
		return
	}

	if isStartCommand(ev) {
		// /start always aborts whatever dialogue was in progress.
		b.sessions.Clear(ev.From)
		if b.st != nil {
			if _, err := b.st.EnsureUser(ev.From, ev.Username); err != nil {
				slog.Error("Bot failed to ensure user", "error", err, "userID", ev.From)
			}
		}
		b.reply(ctx, ev.From, menu.MainMenuText)
		return
	}

	for _, w := range []*dialog.Wizard{b.addTask, b.feedback} {
		handled, err := w.HandleEvent(ctx, ev)
		if err != nil {
			b.reply(ctx, ev.From, genericErrorReply)
			return
		}
		if handled {
			return
		}
	}

	if b.handleGlobal(ctx, ev) {
		return
	}

	b.reply(ctx, ev.From, menu.MainMenuText)
}

// handleGlobal runs the keyword commands and button payloads available
// outside any wizard. Returns false when the event matches nothing.
func (b *Bot) handleGlobal(ctx context.Context, ev models.Event) bool {
	if ev.Kind == models.EventKindButton {
		return b.handleGlobalButton(ctx, ev)
	}
	if ev.Kind != models.EventKindText && ev.Kind != models.EventKindCommand {
		return false
	}

	body := strings.ToLower(strings.TrimSpace(ev.Body))
	body = strings.TrimPrefix(body, "/")

	switch {
	case body == "add" || body == "new":
		if err := b.addTask.Start(ctx, ev); err != nil {
			slog.Error("Bot failed to start add-task flow", "error", err, "userID", ev.From)
			b.reply(ctx, ev.From, genericErrorReply)
		}
		return true
	case body == "feedback":
		if err := b.feedback.Start(ctx, ev); err != nil {
			slog.Error("Bot failed to start feedback flow", "error", err, "userID", ev.From)
			b.reply(ctx, ev.From, genericErrorReply)
		}
		return true
	case body == "list" || body == "tasks":
		b.sendActivePage(ctx, ev.From, 0)
		return true
	case body == "done":
		b.sendDoneHistory(ctx, ev.From)
		return true
	case strings.HasPrefix(body, "done "):
		id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(body, "done ")), 10, 64)
		if err != nil {
			return false
		}
		b.markDone(ctx, ev.From, id)
		return true
	case strings.HasPrefix(body, "page "):
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(body, "page ")))
		if err != nil {
			return false
		}
		b.sendActivePage(ctx, ev.From, n-1)
		return true
	}
	return false
}

func (b *Bot) handleGlobalButton(ctx context.Context, ev models.Event) bool {
	switch {
	case strings.HasPrefix(ev.Data, "taskdone:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(ev.Data, "taskdone:"), 10, 64)
		if err != nil {
			return false
		}
		b.markDone(ctx, ev.From, id)
		return true
	case strings.HasPrefix(ev.Data, "page:"):
		n, err := strconv.Atoi(strings.TrimPrefix(ev.Data, "page:"))
		if err != nil {
			return false
		}
		b.sendActivePage(ctx, ev.From, n)
		return true
	}
	return false
}

func (b *Bot) sendActivePage(ctx context.Context, userID string, pageIndex int) {
	page, err := b.tasks.ListActivePage(userID, pageIndex)
	if err != nil {
		slog.Error("Bot failed to list active tasks", "error", err, "userID", userID)
		b.reply(ctx, userID, genericErrorReply)
		return
	}
	b.reply(ctx, userID, menu.RenderActivePage(page.Tasks, page.Index, page.HasNext))
}

func (b *Bot) sendDoneHistory(ctx context.Context, userID string) {
	tasks, err := b.tasks.ListDone(userID)
	if err != nil {
		slog.Error("Bot failed to list done tasks", "error", err, "userID", userID)
		b.reply(ctx, userID, genericErrorReply)
		return
	}
	b.reply(ctx, userID, menu.RenderDoneHistory(tasks))
}

func (b *Bot) markDone(ctx context.Context, userID string, taskID int64) {
	ok, err := b.tasks.MarkDone(taskID, userID)
	if err != nil {
		slog.Error("Bot failed to mark task done", "error", err, "userID", userID, "taskID", taskID)
		b.reply(ctx, userID, genericErrorReply)
		return
	}
	if !ok {
		b.reply(ctx, userID, "Task not found, already done, or not yours.")
		return
	}
	b.reply(ctx, userID, "✅ Done!")
	// Show the refreshed first page so the user sees what's left.
	b.sendActivePage(ctx, userID, 0)
}

func (b *Bot) reply(ctx context.Context, to, body string) {
	if err := b.svc.SendMessage(ctx, to, body); err != nil {
		slog.Error("Bot reply failed", "error", err, "to", to)
	}
}

func isStartCommand(ev models.Event) bool {
	if ev.Kind != models.EventKindCommand && ev.Kind != models.EventKindText {
		return false
	}
	body := strings.ToLower(strings.TrimSpace(ev.Body))
	return body == "/start" || body == "start" || body == "menu" || body == "/menu"
}
