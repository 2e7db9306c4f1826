// Package api provides the HTTP surface of the task bot: the health
// and stats endpoints, plus the Twilio inbound webhook used in push
// mode.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/polyedr/taskbot/internal/dialog"
	"github.com/polyedr/taskbot/internal/models"
)

// DefaultShutdownTimeout bounds graceful HTTP shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// EventInjector accepts webhook-decoded events into the bot's stream.
// The Twilio messaging service implements it.
type EventInjector interface {
	Inject(ev models.Event)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr     string
	Injector EventInjector
	Sessions *dialog.SessionStore
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithInjector enables the Twilio webhook, feeding decoded events into
// the given injector.
func WithInjector(inj EventInjector) Option {
	return func(o *Opts) { o.Injector = inj }
}

// WithSessions exposes session counts on the stats endpoint.
func WithSessions(ss *dialog.SessionStore) Option {
	return func(o *Opts) { o.Sessions = ss }
}

// Server is the task bot HTTP server.
type Server struct {
	addr     string
	injector EventInjector
	sessions *dialog.SessionStore
	httpSrv  *http.Server
	started  time.Time
}

// NewServer creates the API server. The Twilio webhook route is only
// registered when an injector is configured.
func NewServer(opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		addr:     cfg.Addr,
		injector: cfg.Injector,
		sessions: cfg.Sessions,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	if s.injector != nil {
		mux.HandleFunc("/webhook/twilio", s.twilioWebhookHandler)
	}
	s.httpSrv = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

// Start begins serving in the background. Listen errors after startup
// are logged, not returned.
func (s *Server) Start() error {
	if s.addr == "" {
		return fmt.Errorf("api server address not set")
	}
	s.started = time.Now()
	go func() {
		slog.Info("Server listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server stopped unexpectedly", "error", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the server's HTTP handler (for tests).
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, successResult(map[string]string{"status": "ok"}))
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats := map[string]any{
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	}
	if s.sessions != nil {
		stats["active_sessions"] = s.sessions.Count()
	}
	writeJSONResponse(w, http.StatusOK, successResult(stats))
}

// twilioWebhookHandler decodes a Twilio inbound message callback into
// bot events. Media attachments each become their own image event so
// the wizard collects them one by one.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, errorResult("invalid form data"))
		return
	}

	from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
	if from == "" {
		slog.Warn("Server.twilioWebhookHandler: missing From field")
		writeJSONResponse(w, http.StatusBadRequest, errorResult("missing From field"))
		return
	}

	base := models.Event{
		From:     from,
		Username: r.FormValue("ProfileName"),
		Time:     time.Now().Unix(),
	}

	numMedia, _ := strconv.Atoi(r.FormValue("NumMedia"))
	body := r.FormValue("Body")
	payload := r.FormValue("ButtonPayload")

	switch {
	case numMedia > 0:
		for i := 0; i < numMedia; i++ {
			url := r.FormValue(fmt.Sprintf("MediaUrl%d", i))
			if url == "" {
				continue
			}
			ev := base
			ev.Kind = models.EventKindImage
			ev.Attachment = &models.Attachment{PhotoHandle: url}
			if i == 0 {
				ev.Body = body
			}
			s.injector.Inject(ev)
		}
	case payload != "":
		ev := base
		ev.Kind = models.EventKindButton
		ev.Data = payload
		ev.Body = body
		s.injector.Inject(ev)
	default:
		ev := base
		if strings.HasPrefix(strings.TrimSpace(body), "/") {
			ev.Kind = models.EventKindCommand
		} else {
			ev.Kind = models.EventKindText
		}
		ev.Body = body
		s.injector.Inject(ev)
	}

	// Empty TwiML: replies go out through the REST API, not the webhook.
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`)
}
