// Package gmail sends user email through the Gmail REST API using the
// OAuth tokens linked at login.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/wayneworks/alfred/internal/models"
	"github.com/wayneworks/alfred/internal/store"
)

// DefaultBaseURL is the Gmail API endpoint for the authenticated mailbox.
const DefaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

// DefaultTimeout bounds each Gmail API call.
const DefaultTimeout = 30 * time.Second

// placeholderRegex matches bracketed template fragments the draft model
// sometimes leaves in place of the sender identity.
var placeholderRegex = regexp.MustCompile(`(?i)\[\s*(your|my|sender'?s?)?\s*(name|email|phone|address|company|position|title)[^\]]*\]`)

// TokenProvider returns a valid access token for a user, refreshing it if
// needed. Satisfied by auth.Service.
type TokenProvider interface {
	AccessToken(ctx context.Context, user *models.User) (string, error)
}

// Opts holds configuration options for the Gmail service.
type Opts struct {
	// BaseURL overrides the Gmail API endpoint (used in tests).
	BaseURL string
	// HTTPClient overrides the HTTP client used for API calls.
	HTTPClient *http.Client
}

// Option configures the Gmail service.
type Option func(*Opts)

// WithBaseURL overrides the Gmail API endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithHTTPClient overrides the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Service implements the email side effects of the draft workflow.
type Service struct {
	store   store.Store
	tokens  TokenProvider
	client  *http.Client
	baseURL string
}

// NewService creates a Gmail service resolving users and tokens through the
// given store and token provider.
func NewService(st store.Store, tokens TokenProvider, opts ...Option) *Service {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	slog.Debug("Gmail.NewService: service created", "baseURL", cfg.BaseURL)
	return &Service{store: st, tokens: tokens, client: cfg.HTTPClient, baseURL: cfg.BaseURL}
}

// CreateDraft stores the draft in the user's Gmail drafts folder and returns
// the Gmail draft ID.
func (s *Service) CreateDraft(ctx context.Context, userID string, draft *models.Draft) (string, error) {
	user, token, err := s.resolve(ctx, userID)
	if err != nil {
		return "", err
	}

	raw := encodeMessage(user, draft)
	payload := map[string]interface{}{"message": map[string]string{"raw": raw}}

	var result struct {
		ID string `json:"id"`
	}
	if err := s.post(ctx, token, "/users/me/drafts", payload, &result); err != nil {
		slog.Error("Gmail.CreateDraft: API call failed", "error", err, "userID", userID)
		return "", fmt.Errorf("gmail create draft failed: %w", err)
	}

	slog.Info("Gmail.CreateDraft: draft created", "userID", userID, "draftID", result.ID, "to", draft.To)
	return result.ID, nil
}

// SendDraft sends the draft as a message from the user's mailbox.
func (s *Service) SendDraft(ctx context.Context, userID string, draft *models.Draft) error {
	user, token, err := s.resolve(ctx, userID)
	if err != nil {
		return err
	}

	raw := encodeMessage(user, draft)
	payload := map[string]string{"raw": raw}

	var result struct {
		ID string `json:"id"`
	}
	if err := s.post(ctx, token, "/users/me/messages/send", payload, &result); err != nil {
		slog.Error("Gmail.SendDraft: API call failed", "error", err, "userID", userID)
		return fmt.Errorf("gmail send failed: %w", err)
	}

	slog.Info("Gmail.SendDraft: message sent", "userID", userID, "messageID", result.ID, "to", draft.To)
	return nil
}

// resolve loads the user and obtains a fresh access token.
func (s *Service) resolve(ctx context.Context, userID string) (*models.User, string, error) {
	user, err := s.store.GetUserByID(userID)
	if err != nil {
		slog.Error("Gmail.resolve: user lookup failed", "error", err, "userID", userID)
		return nil, "", fmt.Errorf("user lookup failed: %w", err)
	}
	token, err := s.tokens.AccessToken(ctx, user)
	if err != nil {
		return nil, "", fmt.Errorf("token resolution failed: %w", err)
	}
	return user, token, nil
}

func (s *Service) post(ctx context.Context, token, path string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gmail API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// encodeMessage builds the RFC 2822 message and encodes it the way the API
// expects (URL-safe base64 as the raw message field).
func encodeMessage(user *models.User, draft *models.Draft) string {
	body := scrubPlaceholders(draft.Body, signatureName(user))

	var b strings.Builder
	if user.Name != "" {
		fmt.Fprintf(&b, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", user.Name), user.Email)
	} else {
		fmt.Fprintf(&b, "From: %s\r\n", user.Email)
	}
	fmt.Fprintf(&b, "To: %s\r\n", draft.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", draft.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)

	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}

// scrubPlaceholders replaces bracketed identity placeholders the model left
// in the body with the sender's actual name.
func scrubPlaceholders(body, name string) string {
	return placeholderRegex.ReplaceAllString(body, name)
}

// signatureName picks the name to sign with: the account display name, or
// the email local part when Google gave us none.
func signatureName(user *models.User) string {
	if user.Name != "" {
		return user.Name
	}
	local, _, found := strings.Cut(user.Email, "@")
	if !found || local == "" {
		return user.Email
	}
	return local
}
