package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/wayneworks/alfred/internal/models"
)

// newSQLiteTestStore opens a SQLite store against a temp file, skipping when
// the driver is unavailable (cgo-less builds).
func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "alfred_test.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteUserRoundTrip(t *testing.T) {
	s := newSQLiteTestStore(t)

	created, err := s.UpsertUser(models.User{
		Email:          "bruce@wayne.com",
		WhatsAppNumber: "wa:123",
		Name:           "Bruce",
	})
	if err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated ID")
	}

	got, err := s.GetUserByWhatsAppNumber("wa:123")
	if err != nil {
		t.Fatalf("GetUserByWhatsAppNumber() error = %v", err)
	}
	if got.Email != "bruce@wayne.com" || got.Name != "Bruce" {
		t.Errorf("round-tripped user = %+v", got)
	}

	// Upsert by email updates in place and keeps the channel binding.
	updated, err := s.UpsertUser(models.User{Email: "bruce@wayne.com", Name: "B. Wayne"})
	if err != nil {
		t.Fatalf("UpsertUser() update error = %v", err)
	}
	if updated.ID != created.ID {
		t.Errorf("expected same user ID, got %q and %q", created.ID, updated.ID)
	}
	if updated.WhatsAppNumber != "wa:123" {
		t.Errorf("WhatsAppNumber = %q, want preserved", updated.WhatsAppNumber)
	}
}

func TestSQLiteSaveTokens(t *testing.T) {
	s := newSQLiteTestStore(t)

	u, err := s.UpsertUser(models.User{Email: "bruce@wayne.com"})
	if err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	err = s.SaveTokens(u.ID, models.GoogleTokens{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", Expiry: expiry})
	if err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}

	got, err := s.GetUserByID(u.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if got.Tokens.AccessToken != "at" || got.Tokens.RefreshToken != "rt" {
		t.Errorf("tokens not persisted: %+v", got.Tokens)
	}
	if got.Tokens.Expired() {
		t.Error("expected unexpired token after round trip")
	}

	if err := s.SaveTokens("missing", models.GoogleTokens{}); !errors.Is(err, models.ErrUserNotFound) {
		t.Errorf("SaveTokens(missing) error = %v, want ErrUserNotFound", err)
	}
}

func TestSQLiteChatMessagesWindow(t *testing.T) {
	s := newSQLiteTestStore(t)

	u, err := s.UpsertUser(models.User{Email: "bruce@wayne.com"})
	if err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}

	base := time.Now().Truncate(time.Second)
	contents := []string{"a", "b", "c", "d", "e", "f"}
	for i, c := range contents {
		err := s.AddChatMessage(models.ChatMessage{
			UserID:    u.ID,
			Role:      "user",
			Content:   c,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AddChatMessage() error = %v", err)
		}
	}

	got, err := s.GetChatMessages(u.ID, 4)
	if err != nil {
		t.Fatalf("GetChatMessages() error = %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if got[0].Content != "c" || got[3].Content != "f" {
		t.Errorf("window = %q..%q, want c..f", got[0].Content, got[3].Content)
	}
}

func TestSQLiteReceiptsAndResponses(t *testing.T) {
	s := newSQLiteTestStore(t)

	if err := s.AddReceipt(models.Receipt{To: "wa:123", Status: models.StatusTypeSent, Time: 7}); err != nil {
		t.Fatalf("AddReceipt() error = %v", err)
	}
	receipts, err := s.GetReceipts()
	if err != nil || len(receipts) != 1 {
		t.Fatalf("GetReceipts() = %v, %v", receipts, err)
	}

	if err := s.AddResponse(models.Response{From: "wa:123", Body: "as you wish", Time: 8}); err != nil {
		t.Fatalf("AddResponse() error = %v", err)
	}
	responses, err := s.GetResponses()
	if err != nil || len(responses) != 1 || responses[0].Body != "as you wish" {
		t.Fatalf("GetResponses() = %v, %v", responses, err)
	}
}
