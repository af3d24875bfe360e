package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wayneworks/alfred/internal/models"
	"github.com/wayneworks/alfred/internal/store"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) AccessToken(_ context.Context, _ *models.User) (string, error) {
	return s.token, s.err
}

func seedUser(t *testing.T, st store.Store) *models.User {
	t.Helper()
	u, err := st.UpsertUser(models.User{
		Email: "bruce@wayne.com",
		Name:  "Bruce Wayne",
		Tokens: models.GoogleTokens{
			AccessToken: "at",
		},
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// decodeRaw pulls the raw RFC 2822 message out of a Gmail API request body.
func decodeRaw(t *testing.T, r *http.Request, nested bool) string {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read request body: %v", err)
	}
	var raw string
	if nested {
		var payload struct {
			Message struct {
				Raw string `json:"raw"`
			} `json:"message"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("parse request body: %v", err)
		}
		raw = payload.Message.Raw
	} else {
		var payload struct {
			Raw string `json:"raw"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("parse request body: %v", err)
		}
		raw = payload.Raw
	}
	decoded, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		t.Fatalf("decode raw message: %v", err)
	}
	return string(decoded)
}

func TestCreateDraft(t *testing.T) {
	var gotPath, gotAuth, gotMessage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotMessage = decodeRaw(t, r, true)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"draft-42"}`))
	}))
	defer srv.Close()

	st := store.NewInMemoryStore()
	u := seedUser(t, st)
	svc := NewService(st, staticTokens{token: "at"}, WithBaseURL(srv.URL))

	draft := &models.Draft{To: "lucius@wayne.com", Subject: "Board meeting", Body: "Dear Lucius, Thursday it is."}
	id, err := svc.CreateDraft(context.Background(), u.ID, draft)
	if err != nil {
		t.Fatalf("CreateDraft() error = %v", err)
	}
	if id != "draft-42" {
		t.Errorf("draft ID = %q", id)
	}
	if gotPath != "/users/me/drafts" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer at" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if !strings.Contains(gotMessage, "To: lucius@wayne.com") {
		t.Errorf("message missing To header:\n%s", gotMessage)
	}
	if !strings.Contains(gotMessage, "bruce@wayne.com") {
		t.Errorf("message missing From address:\n%s", gotMessage)
	}
	if !strings.Contains(gotMessage, "Thursday it is.") {
		t.Errorf("message missing body:\n%s", gotMessage)
	}
}

func TestSendDraft(t *testing.T) {
	var gotPath, gotMessage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMessage = decodeRaw(t, r, false)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg-7"}`))
	}))
	defer srv.Close()

	st := store.NewInMemoryStore()
	u := seedUser(t, st)
	svc := NewService(st, staticTokens{token: "at"}, WithBaseURL(srv.URL))

	draft := &models.Draft{To: "lucius@wayne.com", Subject: "s", Body: "b"}
	if err := svc.SendDraft(context.Background(), u.ID, draft); err != nil {
		t.Fatalf("SendDraft() error = %v", err)
	}
	if gotPath != "/users/me/messages/send" {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.Contains(gotMessage, "Subject: s") {
		t.Errorf("message missing subject:\n%s", gotMessage)
	}
}

func TestSendDraftAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":401}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	st := store.NewInMemoryStore()
	u := seedUser(t, st)
	svc := NewService(st, staticTokens{token: "stale"}, WithBaseURL(srv.URL))

	err := svc.SendDraft(context.Background(), u.ID, &models.Draft{To: "a@b.com", Subject: "s", Body: "b"})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("SendDraft() error = %v, want status 401 propagated", err)
	}
}

func TestSendDraftUnknownUser(t *testing.T) {
	svc := NewService(store.NewInMemoryStore(), staticTokens{token: "at"})

	err := svc.SendDraft(context.Background(), "missing", &models.Draft{To: "a@b.com", Subject: "s", Body: "b"})
	if !errors.Is(err, models.ErrUserNotFound) {
		t.Errorf("SendDraft() error = %v, want ErrUserNotFound", err)
	}
}

func TestSendDraftTokenFailure(t *testing.T) {
	st := store.NewInMemoryStore()
	u := seedUser(t, st)
	svc := NewService(st, staticTokens{err: models.ErrNotAuthenticated})

	err := svc.SendDraft(context.Background(), u.ID, &models.Draft{To: "a@b.com", Subject: "s", Body: "b"})
	if !errors.Is(err, models.ErrNotAuthenticated) {
		t.Errorf("SendDraft() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestScrubPlaceholders(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{"Warm regards,\n[Your Name]", "Warm regards,\nBruce Wayne"},
		{"Respectfully,\n[YOUR NAME]", "Respectfully,\nBruce Wayne"},
		{"Signed, [Sender's Name]", "Signed, Bruce Wayne"},
		{"No placeholder here.", "No placeholder here."},
	}
	for _, tc := range cases {
		if got := scrubPlaceholders(tc.body, "Bruce Wayne"); got != tc.want {
			t.Errorf("scrubPlaceholders(%q) = %q, want %q", tc.body, got, tc.want)
		}
	}
}

func TestSignatureName(t *testing.T) {
	if got := signatureName(&models.User{Name: "Bruce Wayne", Email: "bruce@wayne.com"}); got != "Bruce Wayne" {
		t.Errorf("signatureName() = %q", got)
	}
	if got := signatureName(&models.User{Email: "bruce@wayne.com"}); got != "bruce" {
		t.Errorf("signatureName() = %q, want local part fallback", got)
	}
}
