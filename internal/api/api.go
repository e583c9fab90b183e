// Package api provides HTTP handlers and the main API server logic for
// ReplyDesk.
//
// It exposes the Twilio inbound webhook, the token-gated exchange log
// viewer, and health endpoints, and wires the store, reply engine,
// alert dispatcher, and optional WhatsApp relay together in Run.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/ReplyDesk/internal/alert"
	"github.com/BTreeMap/ReplyDesk/internal/genai"
	"github.com/BTreeMap/ReplyDesk/internal/messaging"
	"github.com/BTreeMap/ReplyDesk/internal/reply"
	"github.com/BTreeMap/ReplyDesk/internal/scheduler"
	"github.com/BTreeMap/ReplyDesk/internal/store"
	"github.com/BTreeMap/ReplyDesk/internal/twiliomsg"
	"github.com/BTreeMap/ReplyDesk/internal/util"
	"github.com/BTreeMap/ReplyDesk/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultAddr is the API server listen address when API_ADDR is unset.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful HTTP server shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultScheduledJobTimeout bounds one scheduled digest run.
	DefaultScheduledJobTimeout = 2 * time.Minute
	// DefaultExchangeListLimit is the page size for the exchange list
	// endpoint when no limit parameter is given.
	DefaultExchangeListLimit = 50
)

// Backend is the storage surface the server needs: the exchange log
// plus webhook dedup and the alert outbox. All store backends satisfy
// it.
type Backend interface {
	store.Store
	store.DedupRepo
	store.AlertOutboxRepo
}

// Opts holds API server configuration options.
type Opts struct {
	// Addr is the listen address (e.g. ":8080").
	Addr string
	// DashToken unlocks the log viewer endpoints. Empty disables them.
	DashToken string
	// DigestCron schedules the daily handoff digest. Empty disables it.
	DigestCron string
	// EnableWhatsApp starts the whatsmeow relay alongside the webhook.
	EnableWhatsApp bool
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr overrides the API server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithDashToken sets the token that unlocks the log viewer endpoints.
func WithDashToken(token string) Option {
	return func(o *Opts) {
		o.DashToken = token
	}
}

// WithDigestCron sets the cron schedule for the daily handoff digest.
func WithDigestCron(expr string) Option {
	return func(o *Opts) {
		o.DigestCron = expr
	}
}

// WithWhatsApp enables or disables the WhatsApp relay transport.
func WithWhatsApp(enabled bool) Option {
	return func(o *Opts) {
		o.EnableWhatsApp = enabled
	}
}

// Server exposes the HTTP surface over an already-wired engine and
// store. Run performs the full wiring; tests construct Server directly.
type Server struct {
	st         Backend
	engine     *reply.Engine
	msgService *messaging.TwilioService
	dashToken  string
}

// NewServer creates a Server. msgService provides the inbound webhook
// handler; dashToken may be empty to disable the log viewer.
func NewServer(st Backend, engine *reply.Engine, msgService *messaging.TwilioService, dashToken string) *Server {
	return &Server{
		st:         st,
		engine:     engine,
		msgService: msgService,
		dashToken:  dashToken,
	}
}

// Handler returns the route table for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/inbound", s.msgService.WebhookHandler(s.engine, s.st))
	mux.HandleFunc("/logs", s.logsHandler)
	mux.HandleFunc("/api/exchanges", s.exchangesHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/", s.rootHandler)
	return mux
}

// newBackend opens the store selected by the configured DSN. A missing
// DSN falls back to the in-memory store, which is fine for local runs
// but loses the exchange log on restart.
func newBackend(storeOpts []store.Option) (Backend, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("api.Run: no database DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		slog.Debug("api.Run: opening PostgreSQL store", "dsn_set", true)
		return store.NewPostgresStore(storeOpts...)
	}
	slog.Debug("api.Run: opening SQLite store", "path", cfg.DSN)
	return store.NewSQLiteStore(storeOpts...)
}

// Run wires all modules together and serves HTTP until the process
// receives an interrupt or termination signal. Environment variables
// provide defaults; explicit options override them.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, twilioOpts []twiliomsg.Option, waOpts []whatsapp.Option, apiOpts []Option) error {
	cfg := Opts{
		Addr:           util.EnvOrDefault("API_ADDR", DefaultAddr),
		DashToken:      os.Getenv("DASH_TOKEN"),
		DigestCron:     os.Getenv("REPLYDESK_DIGEST_CRON"),
		EnableWhatsApp: util.ParseBoolEnv("REPLYDESK_WHATSAPP_ENABLED", false),
	}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	backend, err := newBackend(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer backend.Close()

	profile := reply.ProfileFromEnv()

	// A missing OpenAI key degrades to canned handoff replies rather
	// than refusing to start; the cascade covers most traffic anyway.
	var completer reply.Completer
	if gaClient, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("api.Run: generative fallback disabled", "reason", err)
	} else {
		completer = gaClient
	}

	responder := reply.NewFallbackResponder(completer, profile,
		reply.WithStrictSubstitution(util.ParseBoolEnv("REPLYDESK_STRICT_FALLBACK", true)),
	)
	engine := reply.NewEngine(backend,
		reply.WithProfile(profile),
		reply.WithResponder(responder),
		reply.WithAlerts(backend),
	)

	notifier := alert.NewNotifierFromEnv()
	dispatcher := alert.NewDispatcher(backend, notifier, 0)
	if err := dispatcher.RecoverStaleAlerts(); err != nil {
		slog.Warn("api.Run: failed to requeue stale alerts", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go dispatcher.Run(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if cfg.DigestCron != "" {
		digest := alert.NewDigest(backend, notifier)
		if err := sched.AddJob(cfg.DigestCron, func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), DefaultScheduledJobTimeout)
			defer cancel()
			if err := digest.Send(jobCtx); err != nil {
				slog.Error("api.Run: digest job failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule digest job: %w", err)
		}
		slog.Info("api.Run: handoff digest scheduled", "cron", cfg.DigestCron)
	}

	// The webhook path renders replies inline as TwiML and never
	// touches the REST sender, so missing Twilio credentials only
	// disable direct sends.
	var sender twiliomsg.Sender
	if twilioClient, err := twiliomsg.NewClient(twilioOpts...); err != nil {
		slog.Warn("api.Run: Twilio sender not configured, webhook replies still served", "reason", err)
	} else {
		sender = twilioClient
	}
	msgService := messaging.NewTwilioService(sender, messaging.WithClarifyReply(profile.ShortClarifyReply))

	var relay *messaging.Relay
	if cfg.EnableWhatsApp {
		waClient, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		waService := messaging.NewWhatsAppService(waClient)
		relay = messaging.NewRelay(waService, engine)
		if err := relay.Start(ctx); err != nil {
			return fmt.Errorf("failed to start WhatsApp relay: %w", err)
		}
		slog.Info("api.Run: WhatsApp relay started")
	}

	server := NewServer(backend, engine, msgService, cfg.DashToken)
	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ReplyDesk API listening", "addr", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		stopRelay(relay)
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
		slog.Info("api.Run: shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("api.Run: HTTP server shutdown failed", "error", err)
	}
	stopRelay(relay)
	slog.Info("api.Run: shutdown complete")
	return nil
}

func stopRelay(relay *messaging.Relay) {
	if relay == nil {
		return
	}
	if err := relay.Stop(); err != nil {
		slog.Error("api.Run: failed to stop WhatsApp relay", "error", err)
	}
}
