package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/wayneworks/alfred/internal/genai"
	"github.com/wayneworks/alfred/internal/models"
	"github.com/wayneworks/alfred/internal/session"
)

// Default engine configuration.
const (
	// DefaultAuthURL is the login endpoint embedded in authentication prompts.
	DefaultAuthURL = "http://localhost:8000/auth"
	// DefaultHistoryWindow bounds how many prior chat turns are sent to the
	// completion collaborator. The full history stays on the session.
	DefaultHistoryWindow = 5
)

// UserDirectory resolves a channel identifier to a known user.
type UserDirectory interface {
	// FindUserByWhatsAppNumber returns models.ErrUserNotFound for unknown numbers.
	FindUserByWhatsAppNumber(ctx context.Context, number string) (*models.User, error)
}

// Drafter generates a structured email draft from a free-text prompt.
type Drafter interface {
	GenerateDraft(ctx context.Context, prompt string) (*models.Draft, error)
}

// EmailService is the email-account collaborator used on send confirmation.
type EmailService interface {
	CreateDraft(ctx context.Context, userID string, draft *models.Draft) (string, error)
	SendDraft(ctx context.Context, userID string, draft *models.Draft) error
}

// ReminderScheduler schedules a reminder described in free text and returns
// a user-facing confirmation. Unparsable requests return an error wrapping
// the scheduler's unparsable sentinel.
type ReminderScheduler interface {
	Set(ctx context.Context, channelID, request string) (string, error)

	// Unparsable reports whether err means the request text could not be
	// understood, as opposed to a scheduling failure.
	Unparsable(err error) bool
}

// Engine is the per-channel session state machine. For every inbound message
// it decides which step of which workflow the channel is in, what to extract,
// which collaborator to call, and what state to transition to. It returns
// the ordered outbound message chunks instead of sending them, so it is
// testable without a transport.
type Engine struct {
	sessions      *session.Store
	users         UserDirectory
	drafter       Drafter
	email         EmailService
	completer     genai.ClientInterface
	reminders     ReminderScheduler
	authURL       string
	historyWindow int
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuthURL overrides the login URL used in authentication prompts.
func WithAuthURL(u string) Option {
	return func(e *Engine) { e.authURL = u }
}

// WithHistoryWindow overrides the number of history turns sent to the model.
func WithHistoryWindow(n int) Option {
	return func(e *Engine) { e.historyWindow = n }
}

// NewEngine creates the state machine with its collaborators injected.
func NewEngine(sessions *session.Store, users UserDirectory, drafter Drafter, email EmailService, completer genai.ClientInterface, reminders ReminderScheduler, opts ...Option) *Engine {
	e := &Engine{
		sessions:      sessions,
		users:         users,
		drafter:       drafter,
		email:         email,
		completer:     completer,
		reminders:     reminders,
		authURL:       DefaultAuthURL,
		historyWindow: DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	slog.Debug("flow.NewEngine: engine created", "authURL", e.authURL, "historyWindow", e.historyWindow)
	return e
}

// HandleMessage runs one state-machine step for an inbound message and
// returns the outbound chunks to emit, in order. Processing for the same
// channel is serialized; different channels do not contend.
//
// A non-nil error means a collaborator failed; the returned messages still
// carry the persona-appropriate notice for the user, and the session is left
// in a re-enterable state. Technical detail never reaches the channel.
func (e *Engine) HandleMessage(ctx context.Context, channelID, text string) ([]string, error) {
	unlock := e.sessions.Lock(channelID)
	defer unlock()

	msg := NewMessage(text)

	user, err := e.users.FindUserByWhatsAppNumber(ctx, channelID)
	if err != nil && !errors.Is(err, models.ErrUserNotFound) {
		slog.Error("Engine.HandleMessage: user lookup failed", "error", err, "channelID", channelID)
		return []string{msgChatFailed}, fmt.Errorf("user lookup failed: %w", err)
	}
	if !user.Authenticated() {
		slog.Info("Engine.HandleMessage: unauthenticated channel, prompting login", "channelID", channelID)
		return []string{loginPrompt(e.authURL, url.QueryEscape(channelID))}, nil
	}

	sess, created := e.sessions.GetOrCreate(channelID, user.ID, user.Email)
	if created {
		slog.Debug("Engine.HandleMessage: new session", "channelID", channelID, "userID", user.ID)
	}

	// Global short-circuits, evaluated before the per-step switch.
	if msg.IsAboutMe() {
		slog.Debug("Engine.HandleMessage: about-me short-circuit", "channelID", channelID, "step", sess.Step)
		return SplitBySentences(aboutReply(DisplayName(user.Email))), nil
	}

	// Greeting resets to the capability menu from any step, except mid-draft:
	// discarding an in-progress draft because the user said "hi" would lose
	// their work, so the confirm/edit states handle the message themselves.
	if msg.IsGreetingOnly() && !sess.DraftActive() {
		slog.Debug("Engine.HandleMessage: greeting short-circuit", "channelID", channelID, "from_step", sess.Step)
		sess.Step = session.StepWaitingForIntent
		return []string{capabilityMenu(DisplayName(user.Email))}, nil
	}

	if addr, ok := msg.InlineEmailAddress(); ok && msg.IsEmailRequest() {
		return e.handleCompressedEmailRequest(ctx, channelID, sess, msg, addr)
	}

	switch sess.Step {
	case session.StepInitial, session.StepWaitingForIntent, session.StepChatting:
		return e.handleIntentSelection(ctx, channelID, sess, msg)
	case session.StepGetRecipient:
		return e.handleGetRecipient(sess, msg)
	case session.StepGetPurpose:
		return e.handleGetPurpose(ctx, channelID, sess, msg)
	case session.StepConfirmDraft:
		return e.handleConfirmDraft(ctx, channelID, sess, msg)
	case session.StepEditDraft:
		return e.handleEditDraft(sess, msg)
	case session.StepEditSubject, session.StepEditBody, session.StepEditRecipient:
		return e.handleEditField(sess, msg)
	case session.StepSetReminder:
		return e.handleSetReminder(ctx, channelID, sess, msg)
	case session.StepReplyEmail:
		return e.handleReplyEmail(sess)
	default:
		slog.Warn("Engine.HandleMessage: unknown step, resetting to intent menu", "channelID", channelID, "step", sess.Step)
		sess.Step = session.StepWaitingForIntent
		return []string{capabilityMenu(DisplayName(user.Email))}, nil
	}
}
