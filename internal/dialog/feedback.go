package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/polyedr/taskbot/internal/fanout"
	"github.com/polyedr/taskbot/internal/menu"
	"github.com/polyedr/taskbot/internal/messaging"
	"github.com/polyedr/taskbot/internal/models"
	"github.com/polyedr/taskbot/internal/store"
	"github.com/polyedr/taskbot/internal/util"
)

// Feedback wizard states.
const (
	StateFeedbackCategory   State = "feedback:choosing_category"
	StateFeedbackText       State = "feedback:typing_text"
	StateFeedbackConfirm    State = "feedback:confirm_send"
	StateFeedbackScreenshot State = "feedback:waiting_screenshot"
)

// Feedback scratch keys.
const (
	KeyFeedbackKind Key = "fb_kind"
	KeyFeedbackText Key = "fb_text"
)

// FeedbackDeps are the collaborators of the feedback wizard.
type FeedbackDeps struct {
	Sessions    *SessionStore
	Svc         messaging.Service
	Store       store.Store
	Broadcaster *fanout.Broadcaster
}

// NewFeedbackWizard builds the guided feedback flow:
// category -> text -> optional screenshots -> send.
func NewFeedbackWizard(deps FeedbackDeps) *Wizard {
	f := &feedbackFlow{deps: deps}

	graph := Graph{
		StateFeedbackCategory: {
			{Match: anyEvent, Handle: f.chooseCategory},
		},
		StateFeedbackText: {
			{Match: textEvent, Handle: f.typeText},
		},
		StateFeedbackConfirm: {
			{Match: imageEvent, Handle: f.addScreenshot},
			{Match: anyEvent, Handle: f.confirmMenu},
		},
		StateFeedbackScreenshot: {
			{Match: imageEvent, Handle: f.addScreenshot},
			{Match: anyEvent, Handle: f.confirmMenu},
		},
	}

	w := NewWizard(FlowFeedback, StateFeedbackCategory, graph, deps.Sessions, f.begin)
	f.w = w
	return w
}

type feedbackFlow struct {
	deps FeedbackDeps
	w    *Wizard
}

func (f *feedbackFlow) begin(ctx context.Context, s *Session, ev models.Event) (StepResult, error) {
	prompt := menu.Render("What's the feedback about?", menu.FeedbackCategoryOptions())
	return Stay(), f.deps.Svc.SendMessage(ctx, s.UserID, prompt)
}

func (f *feedbackFlow) chooseCategory(ctx context.Context, s *Session, ev models.Event) (StepResult, error) {
	data, ok := menu.Match(menu.FeedbackCategoryOptions(), ev)
	if !ok {
		prompt := menu.Render("Please pick a category:", menu.FeedbackCategoryOptions())
		return Stay(), f.deps.Svc.SendMessage(ctx, s.UserID, prompt)
	}

	if data == menu.DataFeedbackClose {
		return End(), f.deps.Svc.SendMessage(ctx, s.UserID, "Cancelled.")
	}

	kind := models.FeedbackKind(strings.TrimPrefix(data, "fb:cat:"))
	if !models.IsValidFeedbackKind(kind) {
		prompt := menu.Render("Please pick a category:", menu.FeedbackCategoryOptions())
		return Stay(), f.deps.Svc.SendMessage(ctx, s.UserID, prompt)
	}
	s.Scratch[KeyFeedbackKind] = string(kind)

	prompt := fmt.Sprintf("Tell me more (at least %d characters):", models.MinFeedbackTextLength)
	if err := f.deps.Svc.SendMessage(ctx, s.UserID, prompt); err != nil {
		return Stay(), err
	}
	return Goto(StateFeedbackText), nil
}

func (f *feedbackFlow) typeText(ctx context.Context, s *Session, ev models.Event) (StepResult, error) {
	text := strings.TrimSpace(ev.Body)
	if len([]rune(text)) < models.MinFeedbackTextLength {
		reply := fmt.Sprintf("A bit more detail please (at least %d characters):", models.MinFeedbackTextLength)
		return Stay(), f.deps.Svc.SendMessage(ctx, s.UserID, reply)
	}

	s.Scratch[KeyFeedbackText] = text
	prompt := menu.Render("Got it. Attach a screenshot, or send as is?", menu.AttachOptions())
	if err := f.deps.Svc.SendMessage(ctx, s.UserID, prompt); err != nil {
		return Stay(), err
	}
	return Goto(StateFeedbackConfirm), nil
}

func (f *feedbackFlow) confirmMenu(ctx context.Context, s *Session, ev models.Event) (StepResult, error) {
	data, ok := menu.Match(menu.AttachOptions(), ev)
	if !ok {
		prompt := menu.Render("Attach a screenshot, or send as is?", menu.AttachOptions())
		return Stay(), f.deps.Svc.SendMessage(ctx, s.UserID, prompt)
	}

	switch data {
	case menu.DataFeedbackClose:
		return End(), f.deps.Svc.SendMessage(ctx, s.UserID, "Cancelled.")
	case menu.DataFeedbackShot:
		if err := f.deps.Svc.SendMessage(ctx, s.UserID, "Send the screenshot as a photo or image file."); err != nil {
			return Stay(), err
		}
		return Goto(StateFeedbackScreenshot), nil
	case menu.DataFeedbackSend:
		return f.finalize(ctx, s)
	}
	return Stay(), nil
}

func (f *feedbackFlow) addScreenshot(ctx context.Context, s *Session, ev models.Event) (StepResult, error) {
	var handle string
	if ev.Attachment != nil {
		handle = ev.Attachment.Handle()
	}
	if handle == "" {
		return Stay(), f.deps.Svc.SendMessage(ctx, s.UserID,
			"I couldn't read that attachment. Send a photo or image file.")
	}

	s.Images = append(s.Images, handle)
	reply := menu.Render(fmt.Sprintf("Screenshot added (%d total). Anything else?", len(s.Images)),
		menu.AttachOptions())
	if err := f.deps.Svc.SendMessage(ctx, s.UserID, reply); err != nil {
		return Stay(), err
	}
	return Goto(StateFeedbackScreenshot), nil
}

// finalize persists the report, fans it out to the admins and thanks
// the user. The thank-you goes out even when no admin could be
// reached; delivery problems are the operator's to notice in the logs.
func (f *feedbackFlow) finalize(ctx context.Context, s *Session) (StepResult, error) {
	report := models.FeedbackReport{
		ID:        util.GenerateFeedbackID(),
		UserID:    s.UserID,
		Username:  s.Scratch[KeyUsername],
		Category:  models.FeedbackKind(s.Scratch[KeyFeedbackKind]),
		Text:      s.Scratch[KeyFeedbackText],
		Images:    s.Images,
		CreatedAt: f.w.Now(),
	}
	if err := report.Validate(); err != nil {
		if errors.Is(err, models.ErrFeedbackTextTooShort) {
			reply := fmt.Sprintf("A bit more detail please (at least %d characters):", models.MinFeedbackTextLength)
			if sendErr := f.deps.Svc.SendMessage(ctx, s.UserID, reply); sendErr != nil {
				return Stay(), sendErr
			}
			return Goto(StateFeedbackText), nil
		}
		return Stay(), fmt.Errorf("invalid feedback report: %w", err)
	}

	if _, err := f.deps.Store.EnsureUser(s.UserID, s.Scratch[KeyUsername]); err != nil {
		return Stay(), fmt.Errorf("failed to ensure user: %w", err)
	}
	if err := f.deps.Store.SaveFeedback(report); err != nil {
		return Stay(), fmt.Errorf("failed to save feedback: %w", err)
	}

	f.deps.Broadcaster.Broadcast(ctx, report)

	return End(), f.deps.Svc.SendMessage(ctx, s.UserID, "🙏 Thanks for your feedback!")
}
