// Package store provides storage backends for Alfred.
//
// It includes an in-memory store for development and tests, plus SQLite and
// PostgreSQL stores selected by DSN at startup.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wayneworks/alfred/internal/models"
)

// Store is the persistence surface shared by all backends. Users are keyed
// by ID, unique on email, and optionally bound to a WhatsApp number.
type Store interface {
	UpsertUser(u models.User) (*models.User, error)
	GetUserByID(id string) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	GetUserByWhatsAppNumber(number string) (*models.User, error)
	SaveTokens(userID string, tokens models.GoogleTokens) error

	AddChatMessage(m models.ChatMessage) error
	GetChatMessages(userID string, limit int) ([]models.ChatMessage, error)

	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)
	AddResponse(r models.Response) error
	GetResponses() ([]models.Response, error)

	Close() error
}

// Opts holds configuration for store construction.
type Opts struct {
	// DSN is the database connection string. A postgres:// URL or key=value
	// string selects PostgreSQL; anything else is treated as a SQLite path.
	DSN string
}

// Option configures store construction.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path as the DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string as the DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns the database driver name implied by a DSN:
// "postgres" for PostgreSQL URLs or key=value connection strings,
// "sqlite3" for anything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	// key=value form, e.g. "host=localhost user=alfred dbname=alfred"
	if strings.Contains(dsn, "=") && strings.Contains(dsn, " ") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// InMemoryStore is a mutex-guarded in-memory Store for development and tests.
type InMemoryStore struct {
	mu        sync.RWMutex
	users     map[string]models.User // keyed by user ID
	messages  map[string][]models.ChatMessage
	receipts  []models.Receipt
	responses []models.Response
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    make(map[string]models.User),
		messages: make(map[string][]models.ChatMessage),
	}
}

// UpsertUser inserts or updates a user, matching existing users by ID first
// and then by email. Missing IDs and timestamps are filled in.
func (s *InMemoryStore) UpsertUser(u models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if u.ID == "" {
		for _, existing := range s.users {
			if strings.EqualFold(existing.Email, u.Email) {
				u.ID = existing.ID
				u.CreatedAt = existing.CreatedAt
				break
			}
		}
	}
	if u.ID == "" {
		u.ID = uuid.New().String()
		u.CreatedAt = now
	} else if existing, ok := s.users[u.ID]; ok {
		u.CreatedAt = existing.CreatedAt
		if u.WhatsAppNumber == "" {
			u.WhatsAppNumber = existing.WhatsAppNumber
		}
	}
	u.UpdatedAt = now
	s.users[u.ID] = u
	stored := u
	return &stored, nil
}

// GetUserByID returns the user with the given ID, or models.ErrUserNotFound.
func (s *InMemoryStore) GetUserByID(id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		stored := u
		return &stored, nil
	}
	return nil, models.ErrUserNotFound
}

// GetUserByEmail returns the user with the given email, case-insensitively.
func (s *InMemoryStore) GetUserByEmail(email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			stored := u
			return &stored, nil
		}
	}
	return nil, models.ErrUserNotFound
}

// GetUserByWhatsAppNumber returns the user bound to the given channel number.
func (s *InMemoryStore) GetUserByWhatsAppNumber(number string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.WhatsAppNumber == number && number != "" {
			stored := u
			return &stored, nil
		}
	}
	return nil, models.ErrUserNotFound
}

// SaveTokens replaces the stored OAuth tokens for a user.
func (s *InMemoryStore) SaveTokens(userID string, tokens models.GoogleTokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return models.ErrUserNotFound
	}
	u.Tokens = tokens
	u.UpdatedAt = time.Now()
	s.users[userID] = u
	return nil
}

// AddChatMessage appends a chat turn to a user's history log.
func (s *InMemoryStore) AddChatMessage(m models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	s.messages[m.UserID] = append(s.messages[m.UserID], m)
	return nil
}

// GetChatMessages returns up to limit most recent messages for a user in
// chronological order. limit <= 0 returns the full history.
func (s *InMemoryStore) GetChatMessages(userID string, limit int) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.messages[userID]
	out := append([]models.ChatMessage(nil), history...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// AddReceipt records a delivery/read event.
func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

// GetReceipts returns all recorded delivery events.
func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Receipt(nil), s.receipts...), nil
}

// AddResponse records an inbound message event.
func (s *InMemoryStore) AddResponse(r models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return nil
}

// GetResponses returns all recorded inbound messages.
func (s *InMemoryStore) GetResponses() ([]models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Response(nil), s.responses...), nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
