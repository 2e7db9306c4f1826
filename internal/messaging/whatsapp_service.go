package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/polyedr/taskbot/internal/models"
	"github.com/polyedr/taskbot/internal/util"
	"github.com/polyedr/taskbot/internal/whatsapp"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the event channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// DefaultMediaDir is where inbound attachments are written
	DefaultMediaDir = "/var/lib/taskbot/media"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
// It runs in pull mode: the upstream connection delivers events, no
// inbound HTTP surface is needed.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // access to the underlying client for event handling
	mediaDir string
	events   chan models.Event
	done     chan struct{}

	// mu serializes event forwarding against Stop so the handler never
	// sends on the closed channel.
	mu     sync.Mutex
	closed bool
}

// WhatsAppOption configures a WhatsAppService.
type WhatsAppOption func(*WhatsAppService)

// WithMediaDir sets the directory inbound attachments are saved to.
func WithMediaDir(dir string) WhatsAppOption {
	return func(s *WhatsAppService) {
		s.mediaDir = dir
	}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender, opts ...WhatsAppOption) *WhatsAppService {
	service := &WhatsAppService{
		client:   client,
		mediaDir: DefaultMediaDir,
		events:   make(chan models.Event, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(service)
	}

	// A full Client gives us the event stream; an interface-only sender
	// (likely a mock) sends but never receives.
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient normalizes a phone number to the
// digits-only form whatsmeow JIDs use.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	r := strings.TrimSpace(recipient)
	r = strings.TrimPrefix(r, "whatsapp:")
	r = strings.TrimPrefix(r, "+")
	if r == "" {
		return "", models.ErrEmptyRecipient
	}
	for _, c := range r {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("recipient %q is not a phone number", recipient)
		}
	}
	return r, nil
}

// Start begins event polling when a full client is available.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient != nil {
		if err := os.MkdirAll(s.mediaDir, 0o755); err != nil {
			return fmt.Errorf("failed to create media directory: %w", err)
		}
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	}
	return nil
}

// Stop stops background processing and closes the event channel.
// Safe to call more than once.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	close(s.events)
	return nil
}

// SendMessage sends a text message over WhatsApp.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage failed", "error", err, "to", to)
		return err
	}
	return nil
}

// SendImage sends an image over WhatsApp. The handle is a local file
// path produced by the inbound download path.
func (s *WhatsAppService) SendImage(ctx context.Context, to string, imageHandle string, caption string) error {
	slog.Debug("WhatsAppService SendImage invoked", "to", to, "handle", imageHandle)
	if err := s.client.SendImage(ctx, to, imageHandle, caption); err != nil {
		slog.Error("WhatsAppService SendImage failed", "error", err, "to", to)
		return err
	}
	return nil
}

// Events returns the inbound event channel.
func (s *WhatsAppService) Events() <-chan models.Event {
	return s.events
}

// handleEvents registers the whatsmeow event handler and keeps it
// running until the context is cancelled.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(ctx, v)
		default:
			// Ignore receipts, presence and connection events.
		}
	})

	slog.Debug("WhatsAppService event handler registered")
	select {
	case <-ctx.Done():
	case <-s.done:
	}
	slog.Debug("WhatsAppService handleEvents stopping")
}

// handleIncomingMessage converts one whatsmeow message into a bot event.
func (s *WhatsAppService) handleIncomingMessage(ctx context.Context, evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}

	from := evt.Info.Sender.User
	ev := models.Event{
		From:     from,
		Username: evt.Info.PushName,
		Time:     evt.Info.Timestamp.Unix(),
	}

	switch {
	case evt.Message.Conversation != nil:
		ev.Body = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		ev.Body = *evt.Message.ExtendedTextMessage.Text
	case evt.Message.ImageMessage != nil:
		path, err := s.downloadMedia(ctx, evt.Message.ImageMessage, evt.Message.ImageMessage.GetMimetype())
		if err != nil {
			slog.Error("WhatsAppService failed to download image", "error", err, "from", from)
			return
		}
		ev.Kind = models.EventKindImage
		ev.Attachment = &models.Attachment{PhotoHandle: path}
		ev.Body = evt.Message.ImageMessage.GetCaption()
	case evt.Message.DocumentMessage != nil:
		doc := evt.Message.DocumentMessage
		if !strings.HasPrefix(doc.GetMimetype(), "image/") {
			slog.Debug("WhatsAppService ignoring non-image document", "from", from, "mimetype", doc.GetMimetype())
			return
		}
		path, err := s.downloadMedia(ctx, doc, doc.GetMimetype())
		if err != nil {
			slog.Error("WhatsAppService failed to download document", "error", err, "from", from)
			return
		}
		ev.Kind = models.EventKindImage
		ev.Attachment = &models.Attachment{DocumentHandle: path}
	default:
		slog.Debug("WhatsAppService ignoring unsupported message type", "from", from)
		return
	}

	if ev.Kind == "" {
		if strings.HasPrefix(strings.TrimSpace(ev.Body), "/") {
			ev.Kind = models.EventKindCommand
		} else {
			ev.Kind = models.EventKindText
		}
	}

	s.forwardEvent(ev)
}

// forwardEvent hands an event to the consumer, dropping it when the
// channel stays blocked or the service has been stopped.
func (s *WhatsAppService) forwardEvent(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		slog.Debug("WhatsAppService dropping event after shutdown", "from", ev.From)
		return
	}
	select {
	case s.events <- ev:
		slog.Debug("WhatsAppService event forwarded", "from", ev.From, "kind", ev.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService event channel blocked, dropping event", "from", ev.From, "timeout", DefaultChannelTimeout)
	}
}

// downloadMedia writes an inbound attachment to the media directory and
// returns its path, which doubles as the attachment handle.
func (s *WhatsAppService) downloadMedia(ctx context.Context, msg whatsmeow.DownloadableMessage, mimetype string) (string, error) {
	if s.waClient == nil {
		return "", fmt.Errorf("no full client available for media download")
	}
	data, err := s.waClient.Download(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("failed to download media: %w", err)
	}

	ext := ".jpg"
	switch mimetype {
	case "image/png":
		ext = ".png"
	case "image/webp":
		ext = ".webp"
	}
	path := filepath.Join(s.mediaDir, util.GenerateRandomHex(16)+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save media: %w", err)
	}
	slog.Debug("WhatsAppService media saved", "path", path, "size", len(data))
	return path, nil
}
