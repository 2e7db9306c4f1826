package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/polyedr/taskbot/internal/models"
	"github.com/polyedr/taskbot/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio REST API. It runs
// in push mode: inbound traffic arrives through the HTTP webhook,
// which feeds Inject; there is no upstream connection to poll.
type TwilioService struct {
	client twiliowhatsapp.Sender
	events chan models.Event
}

// NewTwilioService creates a TwilioService wrapping the given sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client: client,
		events: make(chan models.Event, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient normalizes a recipient to the
// "+E.164" form the Twilio API expects.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	r := strings.TrimSpace(recipient)
	r = strings.TrimPrefix(r, "whatsapp:")
	if r == "" {
		return "", models.ErrEmptyRecipient
	}
	digits := strings.TrimPrefix(r, "+")
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("recipient %q is not a phone number", recipient)
		}
	}
	return "+" + digits, nil
}

// SendMessage sends a text message through the Twilio API.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("TwilioService SendMessage invoked", "to", to, "body_length", len(body))
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("TwilioService SendMessage failed", "error", err, "to", to)
		return err
	}
	return nil
}

// SendImage sends a media message. The handle is a public media URL,
// as delivered by the inbound webhook.
func (s *TwilioService) SendImage(ctx context.Context, to string, imageHandle string, caption string) error {
	slog.Debug("TwilioService SendImage invoked", "to", to, "handle", imageHandle)
	if err := s.client.SendImage(ctx, to, imageHandle, caption); err != nil {
		slog.Error("TwilioService SendImage failed", "error", err, "to", to)
		return err
	}
	return nil
}

// Start is a no-op: events come from the webhook, not a connection.
func (s *TwilioService) Start(ctx context.Context) error {
	slog.Debug("TwilioService Start invoked (push mode, nothing to poll)")
	return nil
}

// Stop closes the event channel.
func (s *TwilioService) Stop() error {
	slog.Info("TwilioService Stop invoked")
	close(s.events)
	return nil
}

// Events returns the inbound event channel.
func (s *TwilioService) Events() <-chan models.Event {
	return s.events
}

// Inject feeds a webhook-decoded event into the event stream. It drops
// the event rather than blocking the HTTP handler.
func (s *TwilioService) Inject(ev models.Event) {
	select {
	case s.events <- ev:
		slog.Debug("TwilioService event injected", "from", ev.From, "kind", ev.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService event channel blocked, dropping event", "from", ev.From, "timeout", DefaultChannelTimeout)
	}
}
