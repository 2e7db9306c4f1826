// Package fanout delivers feedback reports to the configured admin list.
//
// Delivery is best-effort and independent per recipient: one admin
// being unreachable never blocks the others, and nothing is retried.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polyedr/taskbot/internal/messaging"
	"github.com/polyedr/taskbot/internal/models"
)

// Result collects the per-recipient delivery outcome. Callers may
// ignore it, but the contract stays testable. An admin counts as
// succeeded once the captioned first send goes through; follow-up
// image failures are logged but do not demote the recipient.
type Result struct {
	Succeeded []string
	Failed    []string
}

// Broadcaster sends rendered feedback reports to a fixed admin list.
type Broadcaster struct {
	svc    messaging.Service
	admins []string
}

// NewBroadcaster creates a Broadcaster for the given admin identities.
func NewBroadcaster(svc messaging.Service, admins []string) *Broadcaster {
	return &Broadcaster{svc: svc, admins: admins}
}

// Broadcast delivers the report to every configured admin. If the
// report carries images, the first image is sent with the caption and
// the remaining images follow only when that first send succeeded.
// An empty admin list is a no-op, not a failure.
func (b *Broadcaster) Broadcast(ctx context.Context, report models.FeedbackReport) Result {
	var res Result
	if len(b.admins) == 0 {
		slog.Debug("Broadcaster no admins configured, skipping fan-out")
		return res
	}

	caption := RenderCaption(report)
	for _, admin := range b.admins {
		if err := b.deliverOne(ctx, admin, caption, report.Images); err != nil {
			slog.Error("Broadcaster delivery failed", "error", err, "admin", admin, "report", report.ID)
			res.Failed = append(res.Failed, admin)
			continue
		}
		res.Succeeded = append(res.Succeeded, admin)
	}
	slog.Info("Broadcaster fan-out finished", "report", report.ID, "succeeded", len(res.Succeeded), "failed", len(res.Failed))
	return res
}

func (b *Broadcaster) deliverOne(ctx context.Context, admin, caption string, images []string) error {
	if len(images) == 0 {
		return b.svc.SendMessage(ctx, admin, caption)
	}

	if err := b.svc.SendImage(ctx, admin, images[0], caption); err != nil {
		return err
	}
	// Follow-up images only after the first delivery succeeded.
	for _, img := range images[1:] {
		if err := b.svc.SendImage(ctx, admin, img, ""); err != nil {
			slog.Warn("Broadcaster follow-up image failed", "error", err, "admin", admin)
		}
	}
	return nil
}

// RenderCaption builds the admin-facing report text.
func RenderCaption(report models.FeedbackReport) string {
	from := report.Username
	if from == "" {
		from = "—"
	}
	created := report.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return fmt.Sprintf("🆕 New feedback\nCategory: %s\nFrom: %s (ID: %s)\nTime: %s\n\n%s",
		HumanCategory(report.Category), from, report.UserID,
		created.Format("2006-01-02 15:04"), report.Text)
}

// HumanCategory maps a feedback kind to its display name.
func HumanCategory(k models.FeedbackKind) string {
	switch k {
	case models.FeedbackKindBug:
		return "Bug report"
	case models.FeedbackKindIdea:
		return "Idea/suggestion"
	case models.FeedbackKindReview:
		return "Review"
	default:
		return string(k)
	}
}
