package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/wayneworks/alfred/internal/models"
	"github.com/wayneworks/alfred/internal/store"
)

func newTestService(t *testing.T, st store.Store) *Service {
	t.Helper()
	s, err := NewService(st,
		WithClientID("client-id"),
		WithClientSecret("client-secret"),
		WithRedirectURL("http://localhost:8080/auth/callback"),
	)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return s
}

func TestLoginURLCarriesChannelState(t *testing.T) {
	s := newTestService(t, store.NewInMemoryStore())

	raw := s.LoginURL("wa:123")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("LoginURL() not parsable: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "wa:123" {
		t.Errorf("state = %q, want channel ID", q.Get("state"))
	}
	if q.Get("access_type") != "offline" {
		t.Errorf("access_type = %q, want offline", q.Get("access_type"))
	}
	if !strings.Contains(q.Get("scope"), "gmail.send") {
		t.Errorf("scope = %q, want gmail.send included", q.Get("scope"))
	}
}

func TestHandleCallbackLinksAccount(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	infoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"email":"bruce@wayne.com","name":"Bruce Wayne"}`))
	}))
	defer infoSrv.Close()

	st := store.NewInMemoryStore()
	s := newTestService(t, st)
	s.config.Endpoint = oauth2.Endpoint{AuthURL: tokenSrv.URL + "/auth", TokenURL: tokenSrv.URL + "/token"}
	s.userInfoURL = infoSrv.URL

	user, err := s.HandleCallback(context.Background(), "wa:123", "auth-code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if user.Email != "bruce@wayne.com" || user.WhatsAppNumber != "wa:123" {
		t.Errorf("linked user = %+v", user)
	}
	if !user.Authenticated() {
		t.Error("expected authenticated user after callback")
	}

	stored, err := st.GetUserByWhatsAppNumber("wa:123")
	if err != nil {
		t.Fatalf("user not persisted: %v", err)
	}
	if stored.Tokens.RefreshToken != "rt" {
		t.Errorf("RefreshToken = %q, want rt", stored.Tokens.RefreshToken)
	}
}

func TestHandleCallbackExchangeFailure(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad code", http.StatusBadRequest)
	}))
	defer tokenSrv.Close()

	s := newTestService(t, store.NewInMemoryStore())
	s.config.Endpoint = oauth2.Endpoint{TokenURL: tokenSrv.URL}

	if _, err := s.HandleCallback(context.Background(), "wa:123", "bad"); err == nil {
		t.Error("HandleCallback() error = nil, want exchange failure")
	}
}

func TestAccessTokenValidTokenNotRefreshed(t *testing.T) {
	s := newTestService(t, store.NewInMemoryStore())
	user := &models.User{
		ID: "u1",
		Tokens: models.GoogleTokens{
			AccessToken: "still-good",
			Expiry:      time.Now().Add(time.Hour),
		},
	}

	got, err := s.AccessToken(context.Background(), user)
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if got != "still-good" {
		t.Errorf("AccessToken() = %q", got)
	}
}

func TestAccessTokenRefreshesAndPersists(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	st := store.NewInMemoryStore()
	seeded, _ := st.UpsertUser(models.User{Email: "bruce@wayne.com"})
	_ = st.SaveTokens(seeded.ID, models.GoogleTokens{
		AccessToken:  "stale",
		RefreshToken: "rt",
		Expiry:       time.Now().Add(-time.Hour),
	})
	user, _ := st.GetUserByID(seeded.ID)

	s := newTestService(t, st)
	s.config.Endpoint = oauth2.Endpoint{TokenURL: tokenSrv.URL}

	got, err := s.AccessToken(context.Background(), user)
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if got != "fresh" {
		t.Errorf("AccessToken() = %q, want fresh", got)
	}

	stored, _ := st.GetUserByID(seeded.ID)
	if stored.Tokens.AccessToken != "fresh" {
		t.Errorf("persisted token = %q, want fresh", stored.Tokens.AccessToken)
	}
	// Refresh responses without a refresh token keep the stored one.
	if stored.Tokens.RefreshToken != "rt" {
		t.Errorf("persisted refresh token = %q, want rt", stored.Tokens.RefreshToken)
	}
}

func TestAccessTokenUnauthenticated(t *testing.T) {
	s := newTestService(t, store.NewInMemoryStore())

	_, err := s.AccessToken(context.Background(), &models.User{ID: "u1"})
	if !errors.Is(err, models.ErrNotAuthenticated) {
		t.Errorf("AccessToken() error = %v, want ErrNotAuthenticated", err)
	}
}
