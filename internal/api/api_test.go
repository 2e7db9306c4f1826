package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/polyedr/taskbot/internal/dialog"
	"github.com/polyedr/taskbot/internal/models"
)

type recordingInjector struct {
	events []models.Event
}

func (r *recordingInjector) Inject(ev models.Event) {
	r.events = append(r.events, ev)
}

func newTestServer(inj EventInjector) *Server {
	return NewServer(
		WithAddr("127.0.0.1:0"),
		WithInjector(inj),
		WithSessions(dialog.NewSessionStore()),
	)
}

func postForm(t *testing.T, srv *Server, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	srv := newTestServer(&recordingInjector{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("health body = %q", rr.Body.String())
	}
}

func TestTwilioWebhookTextMessage(t *testing.T) {
	inj := &recordingInjector{}
	srv := newTestServer(inj)

	rr := postForm(t, srv, url.Values{
		"From":        {"whatsapp:+15551234567"},
		"Body":        {"list"},
		"ProfileName": {"alice"},
		"NumMedia":    {"0"},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("webhook status = %d, want 200", rr.Code)
	}
	if len(inj.events) != 1 {
		t.Fatalf("injected %d events, want 1", len(inj.events))
	}
	ev := inj.events[0]
	if ev.From != "+15551234567" || ev.Kind != models.EventKindText || ev.Body != "list" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Username != "alice" {
		t.Errorf("username = %q, want alice", ev.Username)
	}
}

func TestTwilioWebhookSlashCommand(t *testing.T) {
	inj := &recordingInjector{}
	srv := newTestServer(inj)

	postForm(t, srv, url.Values{
		"From": {"whatsapp:+15551234567"},
		"Body": {"/start"},
	})

	if len(inj.events) != 1 || inj.events[0].Kind != models.EventKindCommand {
		t.Fatalf("events = %+v, want one command event", inj.events)
	}
}

func TestTwilioWebhookButtonPayload(t *testing.T) {
	inj := &recordingInjector{}
	srv := newTestServer(inj)

	postForm(t, srv, url.Values{
		"From":          {"whatsapp:+15551234567"},
		"Body":          {"Save"},
		"ButtonPayload": {"task:save"},
	})

	if len(inj.events) != 1 {
		t.Fatalf("injected %d events, want 1", len(inj.events))
	}
	ev := inj.events[0]
	if ev.Kind != models.EventKindButton || ev.Data != "task:save" {
		t.Errorf("event = %+v", ev)
	}
}

func TestTwilioWebhookMediaFanOut(t *testing.T) {
	inj := &recordingInjector{}
	srv := newTestServer(inj)

	postForm(t, srv, url.Values{
		"From":      {"whatsapp:+15551234567"},
		"Body":      {"here are two screenshots"},
		"NumMedia":  {"2"},
		"MediaUrl0": {"https://api.twilio.com/media/0"},
		"MediaUrl1": {"https://api.twilio.com/media/1"},
	})

	if len(inj.events) != 2 {
		t.Fatalf("injected %d events, want 2", len(inj.events))
	}
	for i, ev := range inj.events {
		if ev.Kind != models.EventKindImage || ev.Attachment == nil {
			t.Fatalf("event %d = %+v, want image with attachment", i, ev)
		}
	}
	if inj.events[0].Attachment.PhotoHandle != "https://api.twilio.com/media/0" {
		t.Errorf("first handle = %q", inj.events[0].Attachment.PhotoHandle)
	}
	if inj.events[0].Body == "" || inj.events[1].Body != "" {
		t.Error("only the first media event should carry the text body")
	}
}

func TestTwilioWebhookRejectsMissingFrom(t *testing.T) {
	inj := &recordingInjector{}
	srv := newTestServer(inj)

	rr := postForm(t, srv, url.Values{"Body": {"hello"}})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if len(inj.events) != 0 {
		t.Errorf("injected %d events from invalid request", len(inj.events))
	}
}

func TestWebhookRouteAbsentWithoutInjector(t *testing.T) {
	srv := NewServer(WithAddr("127.0.0.1:0"))
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when no injector is configured", rr.Code)
	}
}

func TestStartRequiresAddr(t *testing.T) {
	srv := NewServer()
	if err := srv.Start(); err == nil {
		t.Error("Start without an address must fail")
	}
}
