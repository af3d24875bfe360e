// Package models defines the core data structures for Alfred.
//
// It includes types for users, email drafts, and message transport events,
// which are shared across modules.
package models

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Validation constants for input validation
const (
	// MaxDraftSubjectLength defines the maximum allowed length for a draft subject
	MaxDraftSubjectLength = 256
	// MaxDraftBodyLength defines the maximum allowed length for a draft body
	MaxDraftBodyLength = 16384
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient      = errors.New("recipient cannot be empty")
	ErrInvalidRecipient    = errors.New("recipient is not a valid email address")
	ErrEmptySubject        = errors.New("draft subject cannot be empty")
	ErrEmptyBody           = errors.New("draft body cannot be empty")
	ErrSubjectTooLong      = errors.New("draft subject exceeds maximum length")
	ErrBodyTooLong         = errors.New("draft body exceeds maximum length")
	ErrUserNotFound        = errors.New("user not found")
	ErrNotAuthenticated    = errors.New("user has no linked Google account")
	ErrMalformedDraft      = errors.New("generated draft is missing required fields")
	ErrNoCompletionContent = errors.New("no content in completion response")
)

// emailAddressRegex matches a full string that looks like an email address.
var emailAddressRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsEmailAddress reports whether s as a whole is a plausible email address.
func IsEmailAddress(s string) bool {
	return emailAddressRegex.MatchString(strings.TrimSpace(s))
}

// Draft is a structured candidate outgoing email awaiting confirmation.
type Draft struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Validate performs validation on a Draft structure.
func (d *Draft) Validate() error {
	if d.To == "" {
		return ErrEmptyRecipient
	}
	if !IsEmailAddress(d.To) {
		return ErrInvalidRecipient
	}
	if d.Subject == "" {
		return ErrEmptySubject
	}
	if len(d.Subject) > MaxDraftSubjectLength {
		return ErrSubjectTooLong
	}
	if d.Body == "" {
		return ErrEmptyBody
	}
	if len(d.Body) > MaxDraftBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// GoogleTokens holds the OAuth credentials linked to a user account.
type GoogleTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Expired reports whether the access token has passed its expiry time.
// Tokens without a recorded expiry are treated as expired so callers refresh.
func (t GoogleTokens) Expired() bool {
	if t.Expiry.IsZero() {
		return true
	}
	return !time.Now().Before(t.Expiry)
}

// User is an account known to Alfred, keyed by its WhatsApp number.
type User struct {
	ID             string       `json:"id"`
	WhatsAppNumber string       `json:"whatsapp_number"`
	Email          string       `json:"email"`
	Name           string       `json:"name,omitempty"`
	Tokens         GoogleTokens `json:"tokens"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Authenticated reports whether the user has a linked Google credential.
// Users without one never get a conversation session.
func (u *User) Authenticated() bool {
	return u != nil && u.Tokens.AccessToken != ""
}

// ChatTurn is a single prior turn in a conversation history.
type ChatTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatMessage is a persisted chat turn with ownership and ordering metadata.
type ChatMessage struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
