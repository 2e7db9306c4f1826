package messaging

import (
	"context"
	"testing"

	"github.com/polyedr/taskbot/internal/models"
	"github.com/polyedr/taskbot/internal/whatsapp"
)

func TestWhatsAppValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+15551234567", "15551234567", false},
		{"whatsapp:+15551234567", "15551234567", false},
		{" 15551234567 ", "15551234567", false},
		{"", "", true},
		{"not-a-number", "", true},
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

func TestWhatsAppServiceStopDropsInFlightEvents(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// A handler still running when Stop closes the channel must drop
	// its event instead of panicking on the closed channel.
	svc.forwardEvent(models.Event{From: "15551234567", Kind: models.EventKindText, Body: "late"})

	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestWhatsAppServiceSendsThroughClient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.SendMessage(context.Background(), "15551234567", "hello"); err != nil {
		t.Errorf("SendMessage failed: %v", err)
	}
	if err := svc.SendImage(context.Background(), "15551234567", "/tmp/img.jpg", "caption"); err != nil {
		t.Errorf("SendImage failed: %v", err)
	}
}
