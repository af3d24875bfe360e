// Package auth links WhatsApp channels to Google accounts via the OAuth
// authorization-code flow and keeps stored tokens fresh.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/wayneworks/alfred/internal/models"
	"github.com/wayneworks/alfred/internal/store"
)

const userInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Scopes requested at login. Gmail compose and send cover the draft
// workflow; the userinfo scopes identify the account.
var defaultScopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/gmail.compose",
	"https://www.googleapis.com/auth/gmail.send",
}

// Opts holds configuration options for the auth service.
type Opts struct {
	// ClientID is the Google OAuth client ID. If empty, GOOGLE_CLIENT_ID is used.
	ClientID string
	// ClientSecret is the Google OAuth client secret. If empty, GOOGLE_CLIENT_SECRET is used.
	ClientSecret string
	// RedirectURL is the OAuth callback URL. If empty, GOOGLE_REDIRECT_URL is used.
	RedirectURL string
}

// Option configures the auth service.
type Option func(*Opts)

// WithClientID sets the Google OAuth client ID.
func WithClientID(id string) Option {
	return func(o *Opts) { o.ClientID = id }
}

// WithClientSecret sets the Google OAuth client secret.
func WithClientSecret(secret string) Option {
	return func(o *Opts) { o.ClientSecret = secret }
}

// WithRedirectURL sets the OAuth callback URL.
func WithRedirectURL(url string) Option {
	return func(o *Opts) { o.RedirectURL = url }
}

// Service performs the Google login flow and token refresh against a store.
type Service struct {
	config      *oauth2.Config
	store       store.Store
	httpClient  *http.Client
	userInfoURL string
}

// NewService creates the auth service. Unset options fall back to the
// GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET, and GOOGLE_REDIRECT_URL
// environment variables.
func NewService(st store.Store, opts ...Option) (*Service, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = os.Getenv("GOOGLE_CLIENT_ID")
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		slog.Error("Auth.NewService: Google OAuth client credentials not set")
		return nil, fmt.Errorf("google oauth client credentials not set")
	}

	slog.Debug("Auth.NewService: auth service created", "redirectURL", cfg.RedirectURL)
	return &Service{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       defaultScopes,
			Endpoint:     google.Endpoint,
		},
		store:       st,
		httpClient:  http.DefaultClient,
		userInfoURL: userInfoURL,
	}, nil
}

// LoginURL returns the Google consent URL for a channel. The channel ID
// rides in the state parameter so the callback can bind the account to the
// WhatsApp number that asked to log in. Offline access with forced consent
// is required or Google omits the refresh token on repeat logins.
func (s *Service) LoginURL(channelID string) string {
	return s.config.AuthCodeURL(channelID, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// googleUserInfo is the subset of the userinfo response the service needs.
type googleUserInfo struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// HandleCallback exchanges the authorization code, fetches the account
// identity, and upserts the user bound to the channel carried in state.
func (s *Service) HandleCallback(ctx context.Context, state, code string) (*models.User, error) {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		slog.Error("Auth.HandleCallback: code exchange failed", "error", err)
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	info, err := s.fetchUserInfo(ctx, token.AccessToken)
	if err != nil {
		slog.Error("Auth.HandleCallback: userinfo fetch failed", "error", err)
		return nil, err
	}
	if info.Email == "" {
		return nil, fmt.Errorf("userinfo response missing email")
	}

	user, err := s.store.UpsertUser(models.User{
		Email:          info.Email,
		Name:           info.Name,
		WhatsAppNumber: state,
		Tokens: models.GoogleTokens{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			TokenType:    token.TokenType,
			Expiry:       token.Expiry,
		},
	})
	if err != nil {
		slog.Error("Auth.HandleCallback: user upsert failed", "error", err, "email", info.Email)
		return nil, fmt.Errorf("failed to store user %s: %w", info.Email, err)
	}

	slog.Info("Auth.HandleCallback: account linked", "userID", user.ID, "email", user.Email, "channelID", state)
	return user, nil
}

// AccessToken returns a valid access token for the user, refreshing and
// persisting it when the stored one has expired.
func (s *Service) AccessToken(ctx context.Context, user *models.User) (string, error) {
	if !user.Authenticated() {
		return "", models.ErrNotAuthenticated
	}
	if !user.Tokens.Expired() {
		return user.Tokens.AccessToken, nil
	}
	if user.Tokens.RefreshToken == "" {
		slog.Warn("Auth.AccessToken: expired token with no refresh token", "userID", user.ID)
		return "", models.ErrNotAuthenticated
	}

	source := s.config.TokenSource(ctx, &oauth2.Token{
		AccessToken:  user.Tokens.AccessToken,
		RefreshToken: user.Tokens.RefreshToken,
		TokenType:    user.Tokens.TokenType,
		Expiry:       user.Tokens.Expiry,
	})
	fresh, err := source.Token()
	if err != nil {
		slog.Error("Auth.AccessToken: token refresh failed", "error", err, "userID", user.ID)
		return "", fmt.Errorf("token refresh failed: %w", err)
	}

	// Google often omits the refresh token on renewal; keep the old one.
	refreshToken := fresh.RefreshToken
	if refreshToken == "" {
		refreshToken = user.Tokens.RefreshToken
	}
	user.Tokens = models.GoogleTokens{
		AccessToken:  fresh.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    fresh.TokenType,
		Expiry:       fresh.Expiry,
	}
	if err := s.store.SaveTokens(user.ID, user.Tokens); err != nil {
		slog.Error("Auth.AccessToken: failed to persist refreshed tokens", "error", err, "userID", user.ID)
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	slog.Debug("Auth.AccessToken: token refreshed", "userID", user.ID, "expiry", fresh.Expiry)
	return fresh.AccessToken, nil
}

func (s *Service) fetchUserInfo(ctx context.Context, accessToken string) (*googleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read userinfo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request returned status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse userinfo response: %w", err)
	}
	return &info, nil
}
