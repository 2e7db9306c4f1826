package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/polyedr/taskbot/internal/models"
)

// SentMessage records one outbound text send on the mock service.
type SentMessage struct {
	To   string
	Body string
}

// SentImage records one outbound image send on the mock service.
type SentImage struct {
	To      string
	Handle  string
	Caption string
}

// MockService implements Service for tests. It records every send and
// can be told to fail deliveries to specific recipients.
type MockService struct {
	mu       sync.Mutex
	Messages []SentMessage
	Images   []SentImage
	// FailTo makes every send to the listed recipients return an error.
	FailTo map[string]bool
	events chan models.Event
}

// NewMockService creates an empty MockService.
func NewMockService() *MockService {
	return &MockService{
		FailTo: make(map[string]bool),
		events: make(chan models.Event, 16),
	}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	return recipient, nil
}

func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTo[to] {
		return fmt.Errorf("mock delivery failure to %s", to)
	}
	m.Messages = append(m.Messages, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockService) SendImage(ctx context.Context, to string, imageHandle string, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTo[to] {
		return fmt.Errorf("mock delivery failure to %s", to)
	}
	m.Images = append(m.Images, SentImage{To: to, Handle: imageHandle, Caption: caption})
	return nil
}

func (m *MockService) Start(ctx context.Context) error { return nil }

func (m *MockService) Stop() error {
	close(m.events)
	return nil
}

func (m *MockService) Events() <-chan models.Event {
	return m.events
}

// Inject feeds an event into the mock event channel (for tests).
func (m *MockService) Inject(ev models.Event) {
	m.events <- ev
}

// MessagesTo returns the bodies of all messages sent to a recipient.
func (m *MockService) MessagesTo(to string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.Messages {
		if msg.To == to {
			out = append(out, msg.Body)
		}
	}
	return out
}

// ImagesTo returns the handles of all images sent to a recipient.
func (m *MockService) ImagesTo(to string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, img := range m.Images {
		if img.To == to {
			out = append(out, img.Handle)
		}
	}
	return out
}

// LastMessage returns the most recent message body, or "".
func (m *MockService) LastMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Body
}
