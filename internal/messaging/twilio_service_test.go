package messaging

import (
	"context"
	"testing"

	"github.com/polyedr/taskbot/internal/models"
	"github.com/polyedr/taskbot/internal/twiliowhatsapp"
)

func TestTwilioValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+15551234567", "+15551234567", false},
		{"15551234567", "+15551234567", false},
		{"whatsapp:+15551234567", "+15551234567", false},
		{"", "", true},
		{"abc", "", true},
	}
	for _, c := range cases {
		got, err := svc.ValidateAndCanonicalizeRecipient(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ValidateAndCanonicalizeRecipient(%q) expected error", c.in)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = (%q, %v), want %q", c.in, got, err, c.want)
		}
	}
}

func TestTwilioServiceInjectFeedsEvents(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	svc.Inject(models.Event{From: "+15551234567", Kind: models.EventKindText, Body: "list"})
	select {
	case ev := <-svc.Events():
		if ev.From != "+15551234567" || ev.Body != "list" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("injected event not available on the channel")
	}
}

func TestTwilioServiceSendImageUsesMediaURL(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(client)

	if err := svc.SendImage(context.Background(), "+15551234567", "https://media/0", "look"); err != nil {
		t.Fatalf("SendImage failed: %v", err)
	}
	if len(client.SentImages) != 1 {
		t.Fatalf("sent %d images, want 1", len(client.SentImages))
	}
	img := client.SentImages[0]
	if img.MediaURL != "https://media/0" || img.Caption != "look" {
		t.Errorf("image = %+v", img)
	}
}
