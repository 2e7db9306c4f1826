package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/polyedr/taskbot/internal/api"
	"github.com/polyedr/taskbot/internal/bot"
	"github.com/polyedr/taskbot/internal/dialog"
	"github.com/polyedr/taskbot/internal/fanout"
	"github.com/polyedr/taskbot/internal/lockfile"
	"github.com/polyedr/taskbot/internal/messaging"
	"github.com/polyedr/taskbot/internal/ratelimit"
	"github.com/polyedr/taskbot/internal/store"
	"github.com/polyedr/taskbot/internal/tasklist"
	"github.com/polyedr/taskbot/internal/twiliowhatsapp"
	"github.com/polyedr/taskbot/internal/util"
	"github.com/polyedr/taskbot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for bot state data
	DefaultStateDir = "/var/lib/taskbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "taskbot.db"
	// DefaultCooldown is the default per-user rate gate window
	DefaultCooldown = 700 * time.Millisecond

	// ModePolling pulls events over the upstream WhatsApp connection
	ModePolling = "polling"
	// ModeWebhook receives events through the Twilio HTTP webhook
	ModeWebhook = "webhook"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("Task bot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Task bot exited successfully")
}

// Config holds environment configuration
type Config struct {
	Mode             string
	DatabaseURL      string
	WhatsAppDSN      string
	StateDir         string
	APIAddr          string
	Admins           []string
	Whitelist        []string
	CooldownMS       string
	SharedCategories bool
	MediaDir         string
}

// Flags holds command line flag values
type Flags struct {
	mode       *string
	dbDSN      *string
	waDSN      *string
	stateDir   *string
	apiAddr    *string
	admins     *string
	whitelist  *string
	cooldown   *time.Duration
	sharedCats *bool
	mediaDir   *string
	qrOutput   *string
	numeric    *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Mode:             os.Getenv("TASKBOT_MODE"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		WhatsAppDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:         os.Getenv("TASKBOT_STATE_DIR"),
		APIAddr:          os.Getenv("API_ADDR"),
		Admins:           util.ParseListEnv("TASKBOT_ADMINS"),
		Whitelist:        util.ParseListEnv("TASKBOT_WHITELIST"),
		CooldownMS:       os.Getenv("TASKBOT_COOLDOWN_MS"),
		SharedCategories: util.ParseBoolEnv("TASKBOT_SHARED_CATEGORIES", true),
		MediaDir:         os.Getenv("TASKBOT_MEDIA_DIR"),
	}

	if config.Mode == "" {
		config.Mode = ModePolling
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No TASKBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, "whatsmeow.db")
	}
	if config.MediaDir == "" {
		config.MediaDir = filepath.Join(config.StateDir, "media")
	}

	slog.Debug("environment variables loaded",
		"TASKBOT_MODE", config.Mode,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"TASKBOT_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"TASKBOT_ADMINS", len(config.Admins),
		"TASKBOT_WHITELIST", len(config.Whitelist),
		"TASKBOT_SHARED_CATEGORIES", config.SharedCategories)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	cooldown := DefaultCooldown
	if config.CooldownMS != "" {
		if d, err := time.ParseDuration(config.CooldownMS + "ms"); err == nil {
			cooldown = d
		} else {
			slog.Warn("Invalid TASKBOT_COOLDOWN_MS, using default", "value", config.CooldownMS)
		}
	}

	flags := Flags{
		mode:       flag.String("mode", config.Mode, "transport mode: polling (whatsmeow connection) or webhook (Twilio callbacks) (overrides $TASKBOT_MODE)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "task database DSN, SQLite path or PostgreSQL URL (overrides $DATABASE_URL)"),
		waDSN:      flag.String("wa-db-dsn", config.WhatsAppDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)"),
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for bot data (overrides $TASKBOT_STATE_DIR)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "HTTP server address (overrides $API_ADDR)"),
		admins:     flag.String("admins", strings.Join(config.Admins, ","), "comma-separated admin recipients for feedback fan-out (overrides $TASKBOT_ADMINS)"),
		whitelist:  flag.String("whitelist", strings.Join(config.Whitelist, ","), "comma-separated users exempt from the rate gate (overrides $TASKBOT_WHITELIST)"),
		cooldown:   flag.Duration("cooldown", cooldown, "per-user rate gate window (overrides $TASKBOT_COOLDOWN_MS)"),
		sharedCats: flag.Bool("shared-categories", config.SharedCategories, "share one category namespace across all users (overrides $TASKBOT_SHARED_CATEGORIES)"),
		mediaDir:   flag.String("media-dir", config.MediaDir, "directory for inbound attachments (overrides $TASKBOT_MEDIA_DIR)"),
		qrOutput:   flag.String("qr-output", "", "path to write login QR code"),
		numeric:    flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"mode", *flags.mode,
		"dbDSN_set", *flags.dbDSN != "",
		"stateDir", *flags.stateDir,
		"apiAddr", *flags.apiAddr,
		"cooldown", *flags.cooldown,
		"sharedCategories", *flags.sharedCats)

	return flags
}

func run(flags Flags) error {
	// One instance per state directory.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(*flags.dbDSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	svc, injector, err := buildMessagingService(flags)
	if err != nil {
		return fmt.Errorf("failed to build messaging service: %w", err)
	}

	admins := canonicalizeAll(svc, splitList(*flags.admins))
	whitelist := canonicalizeAll(svc, splitList(*flags.whitelist))

	sessions := dialog.NewSessionStore()
	addTask := dialog.NewAddTaskWizard(dialog.AddTaskDeps{
		Sessions:         sessions,
		Svc:              svc,
		Store:            st,
		SharedCategories: *flags.sharedCats,
	})
	feedback := dialog.NewFeedbackWizard(dialog.FeedbackDeps{
		Sessions:    sessions,
		Svc:         svc,
		Store:       st,
		Broadcaster: fanout.NewBroadcaster(svc, admins),
	})

	b := bot.New(bot.Opts{
		Svc:      svc,
		Gate:     ratelimit.NewGate(*flags.cooldown, whitelist),
		Sessions: sessions,
		AddTask:  addTask,
		Feedback: feedback,
		Tasks:    tasklist.NewEngine(st, 0),
		Store:    st,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}

	var apiSrv *api.Server
	if *flags.mode == ModeWebhook {
		// Webhook mode is dead in the water without an inbound address.
		if *flags.apiAddr == "" {
			return fmt.Errorf("webhook mode requires -api-addr (or $API_ADDR)")
		}
		apiSrv = api.NewServer(
			api.WithAddr(*flags.apiAddr),
			api.WithInjector(injector),
			api.WithSessions(sessions),
		)
	} else if *flags.apiAddr != "" {
		apiSrv = api.NewServer(
			api.WithAddr(*flags.apiAddr),
			api.WithSessions(sessions),
		)
	}
	if apiSrv != nil {
		if err := apiSrv.Start(); err != nil {
			return fmt.Errorf("failed to start api server: %w", err)
		}
	}

	slog.Info("Task bot running", "mode", *flags.mode, "admins", len(admins), "api_addr", *flags.apiAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig)

	cancel()
	b.Stop()
	if apiSrv != nil {
		if err := apiSrv.Stop(); err != nil {
			slog.Error("Failed to stop api server", "error", err)
		}
	}
	if err := svc.Stop(); err != nil {
		slog.Error("Failed to stop messaging service", "error", err)
	}
	return nil
}

// openStore picks the store backend from the DSN.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildMessagingService builds the transport for the selected mode.
// The injector return value is non-nil only in webhook mode.
func buildMessagingService(flags Flags) (messaging.Service, api.EventInjector, error) {
	switch *flags.mode {
	case ModeWebhook:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		return svc, svc, nil
	case ModePolling:
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.waDSN)}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		svc := messaging.NewWhatsAppService(client, messaging.WithMediaDir(*flags.mediaDir))
		return svc, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown mode %q, want %s or %s", *flags.mode, ModePolling, ModeWebhook)
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// canonicalizeAll normalizes recipients through the transport, dropping
// (and logging) anything invalid.
func canonicalizeAll(svc messaging.Service, recipients []string) []string {
	var out []string
	for _, r := range recipients {
		canonical, err := svc.ValidateAndCanonicalizeRecipient(r)
		if err != nil {
			slog.Warn("Dropping invalid recipient", "recipient", r, "error", err)
			continue
		}
		out = append(out, canonical)
	}
	return out
}
