package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/polyedr/taskbot/internal/deadline"
	"github.com/polyedr/taskbot/internal/menu"
	"github.com/polyedr/taskbot/internal/messaging"
	"github.com/polyedr/taskbot/internal/models"
	"github.com/polyedr/taskbot/internal/store"
)

// Add-task wizard states.
const (
	StateChoosingCategory State = "add_task:choosing_category"
	StateTypingTitle      State = "add_task:typing_title"
	StateTypingDeadline   State = "add_task:typing_deadline"
	StateConfirm          State = "add_task:confirm"
)

// Scratch keys shared by the wizards.
const (
	KeyUsername Key = "username"
	KeyCategory Key = "category"
	KeyTitle    Key = "title"
	KeyDeadline Key = "deadline"
)

const deadlinePrompt = "When is it due?\n\n" +
	"• today\n" +
	"• tomorrow\n" +
	"• YYYY-MM-DD\n" +
	"• YYYY-MM-DD HH:MM\n" +
	"• '-' for no deadline"

// AddTaskDeps are the collaborators of the add-task wizard.
type AddTaskDeps struct {
	Sessions *SessionStore
	Svc      messaging.Service
	Store    store.Store
	// Categories offered on the first step.
	Categories []string
	// SharedCategories stores picked categories without an owner so
	// every user shares one namespace; when false each user gets a
	// private copy.
	SharedCategories bool
}

// NewAddTaskWizard builds the guided task creation flow:
// category -> title -> deadline -> confirm.
func NewAddTaskWizard(deps AddTaskDeps) *Wizard {
	if len(deps.Categories) == 0 {
		deps.Categories = menu.DefaultCategories
	}
	a := &addTaskFlow{deps: deps}

	graph := Graph{
		StateChoosingCategory: {
			{Match: anyEvent, Handle: a.chooseCategory},
		},
		StateTypingTitle: {
			{Match: textEvent, Handle: a.typeTitle},
		},
		StateTypingDeadline: {
			{Match: textEvent, Handle: a.typeDeadline},
		},
		StateConfirm: {
			{Match: anyEvent, Handle: a.confirm},
		},
	}

	w := NewWizard(FlowAddTask, StateChoosingCategory, graph, deps.Sessions, a.begin)
	a.w = w
	return w
}

type addTaskFlow struct {
	deps AddTaskDeps
	w    *Wizard
}

func (a *addTaskFlow) categoryOptions() []menu.Option {
	return menu.CategoryOptions(a.deps.Categories)
}

func (a *addTaskFlow) begin(ctx context.Context, s *Session, ev models.Event) (StepResult, error) {
	prompt := menu.Render("New task. Choose a category:", a.categoryOptions())
	if err := a.deps.Svc.SendMessage(ctx, s.UserID, prompt); err != nil {
		return Stay(), err
	}
	return Stay(), nil
}

func (a *addTaskFlow) chooseCategory(ctx context.Context, s *Session, ev models.Event) (StepResult, error) {
	data, ok := menu.Match(a.categoryOptions(), ev)
	if !ok {
		prompt := menu.Render("Please pick a category:", a.categoryOptions())
		return Stay(), a.deps.Svc.SendMessage(ctx, s.UserID, prompt)
	}

	switch data {
	case menu.DataTaskCancel:
		return End(), a.deps.Svc.SendMessage(ctx, s.UserID, "Cancelled.")
	case menu.DataCategoryNone:
		s.Scratch[KeyCategory] = ""
	default:
		s.Scratch[KeyCategory] = strings.TrimPrefix(data, "cat:")
	}

	if err := a.deps.Svc.SendMessage(ctx, s.UserID, "What's the task? (short title)"); err != nil {
		return Stay(), err
	}
	return Goto(StateTypingTitle), nil
}

func (a *addTaskFlow) typeTitle(ctx context.Context, s *Session, ev models.Event) (StepResult, error) {
	title := strings.TrimSpace(ev.Body)
	if err := models.ValidateTitle(title); err != nil {
		var reply string
		switch {
		case errors.Is(err, models.ErrEmptyTitle):
			reply = "The title can't be empty. Try again:"
		case errors.Is(err, models.ErrTitleTooLong):
			reply = fmt.Sprintf("That's too long (max %d characters). Try again:", models.MaxTitleLength)
		default:
			reply = "That title won't work. Try again:"
		}
		return Stay(), a.deps.Svc.SendMessage(ctx, s.UserID, reply)
	}

	s.Scratch[KeyTitle] = title
	if err := a.deps.Svc.SendMessage(ctx, s.UserID, deadlinePrompt); err != nil {
		return Stay(), err
	}
	return Goto(StateTypingDeadline), nil
}

func (a *addTaskFlow) typeDeadline(ctx context.Context, s *Session, ev models.Event) (StepResult, error) {
	due, err := deadline.Parse(ev.Body, a.w.Now())
	if err != nil {
		if errors.Is(err, deadline.ErrInvalidFormat) {
			return Stay(), a.deps.Svc.SendMessage(ctx, s.UserID,
				"I couldn't read that date. "+deadlinePrompt)
		}
		return Stay(), err
	}

	if due != nil {
		s.Scratch[KeyDeadline] = due.Format(time.RFC3339)
	} else {
		delete(s.Scratch, KeyDeadline)
	}

	summary := a.renderSummary(s, due)
	if err := a.deps.Svc.SendMessage(ctx, s.UserID, menu.Render(summary, menu.ConfirmOptions())); err != nil {
		return Stay(), err
	}
	return Goto(StateConfirm), nil
}

func (a *addTaskFlow) renderSummary(s *Session, due *time.Time) string {
	var b strings.Builder
	b.WriteString("Here's your task:\n\n")
	fmt.Fprintf(&b, "📌 %s\n", s.Scratch[KeyTitle])
	if cat := s.Scratch[KeyCategory]; cat != "" {
		fmt.Fprintf(&b, "🗂 %s\n", cat)
	}
	if due != nil {
		fmt.Fprintf(&b, "⏰ %s\n", due.Format(deadline.FormatDateTime))
	} else {
		b.WriteString("⏰ no deadline\n")
	}
	b.WriteString("\nSave it?")
	return b.String()
}

func (a *addTaskFlow) confirm(ctx context.Context, s *Session, ev models.Event) (StepResult, error) {
	data, ok := menu.Match(menu.ConfirmOptions(), ev)
	if !ok {
		prompt := menu.Render("Save the task?", menu.ConfirmOptions())
		return Stay(), a.deps.Svc.SendMessage(ctx, s.UserID, prompt)
	}

	if data == menu.DataTaskCancel {
		return End(), a.deps.Svc.SendMessage(ctx, s.UserID, "Cancelled.")
	}

	if err := a.save(ctx, s); err != nil {
		return Stay(), err
	}
	return End(), a.deps.Svc.SendMessage(ctx, s.UserID, "✅ Task saved!")
}

func (a *addTaskFlow) save(ctx context.Context, s *Session) error {
	if _, err := a.deps.Store.EnsureUser(s.UserID, s.Scratch[KeyUsername]); err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}

	var categoryID *int64
	if name := s.Scratch[KeyCategory]; name != "" {
		var owner *string
		if !a.deps.SharedCategories {
			userID := s.UserID
			owner = &userID
		}
		cat, err := a.deps.Store.GetOrCreateCategory(owner, name)
		if err != nil {
			return fmt.Errorf("failed to resolve category: %w", err)
		}
		categoryID = &cat.ID
	}

	var due *time.Time
	if raw, ok := s.Scratch[KeyDeadline]; ok {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("failed to decode stored deadline: %w", err)
		}
		due = &t
	}

	if _, err := a.deps.Store.CreateTask(s.UserID, s.Scratch[KeyTitle], categoryID, due); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}
