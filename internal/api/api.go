// Package api provides HTTP handlers and the main API server logic for Alfred.
//
// It exposes the Google login flow, the Twilio inbound webhook, and REST
// endpoints for chat and email orchestration.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wayneworks/alfred/internal/genai"
	"github.com/wayneworks/alfred/internal/intent"
	"github.com/wayneworks/alfred/internal/models"
	"github.com/wayneworks/alfred/internal/store"
)

// Default server configuration
const (
	// DefaultAddr is the default listen address for the API server
	DefaultAddr = ":8080"
	// DefaultReadTimeout bounds request reads
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds response writes
	DefaultWriteTimeout = 30 * time.Second
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
)

// Authenticator is the Google login surface the server exposes over HTTP.
// Satisfied by auth.Service.
type Authenticator interface {
	LoginURL(channelID string) string
	HandleCallback(ctx context.Context, state, code string) (*models.User, error)
}

// Drafter generates an email draft from a free-text prompt.
type Drafter interface {
	GenerateDraft(ctx context.Context, prompt string) (*models.Draft, error)
}

// EmailService performs Gmail side effects for a user.
type EmailService interface {
	CreateDraft(ctx context.Context, userID string, draft *models.Draft) (string, error)
	SendDraft(ctx context.Context, userID string, draft *models.Draft) error
}

// IntentClassifier maps a command onto the email action taxonomy.
type IntentClassifier interface {
	Classify(ctx context.Context, command string) (*intent.Classification, error)
}

// WebhookHandler receives inbound transport webhooks. Satisfied by
// messaging.TwilioService.
type WebhookHandler interface {
	WebhookHandler(w http.ResponseWriter, r *http.Request)
}

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address. Defaults to DefaultAddr.
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the HTTP surface to the service collaborators.
type Server struct {
	addr       string
	mux        *http.ServeMux
	httpServer *http.Server

	auth       Authenticator
	store      store.Store
	completer  genai.ClientInterface
	drafter    Drafter
	email      EmailService
	classifier IntentClassifier
	webhook    WebhookHandler
}

// NewServer creates the API server. The webhook handler may be nil when the
// Twilio transport is not configured; the webhook route then returns 404.
func NewServer(auth Authenticator, st store.Store, completer genai.ClientInterface, drafter Drafter, email EmailService, classifier IntentClassifier, webhook WebhookHandler, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{
		addr:       cfg.Addr,
		mux:        http.NewServeMux(),
		auth:       auth,
		store:      st,
		completer:  completer,
		drafter:    drafter,
		email:      email,
		classifier: classifier,
		webhook:    webhook,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.healthHandler)
	s.mux.HandleFunc("/auth", s.authHandler)
	s.mux.HandleFunc("/auth/callback", s.authCallbackHandler)
	s.mux.HandleFunc("/webhook/twilio", s.twilioWebhookHandler)
	s.mux.HandleFunc("/chat", s.chatHandler)
	s.mux.HandleFunc("/orchestrate", s.orchestrateHandler)
	s.mux.HandleFunc("/receipts", s.receiptsHandler)
}

// Handler returns the server's HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts the HTTP server and blocks until it exits.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
	slog.Info("API server listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, DefaultShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
