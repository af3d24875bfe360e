// Package store provides storage backends for Alfred.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/wayneworks/alfred/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// UpsertUser inserts or updates a user, matching existing users by ID first
// and then by email. Missing IDs and timestamps are filled in.
func (s *SQLiteStore) UpsertUser(u models.User) (*models.User, error) {
	now := time.Now()

	existing, err := s.findExisting(u)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if u.ID == "" {
			u.ID = uuid.New().String()
		}
		u.CreatedAt = now
		u.UpdatedAt = now
		_, err := s.db.Exec(
			`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, nilIfEmpty(u.WhatsAppNumber), u.Email, nilIfEmpty(u.Name),
			nilIfEmpty(u.Tokens.AccessToken), nilIfEmpty(u.Tokens.RefreshToken),
			nilIfEmpty(u.Tokens.TokenType), nilIfZero(u.Tokens.Expiry),
			u.CreatedAt, u.UpdatedAt,
		)
		if err != nil {
			slog.Error("SQLiteStore UpsertUser insert failed", "error", err, "email", u.Email)
			return nil, fmt.Errorf("failed to insert user %s: %w", u.Email, err)
		}
		slog.Debug("SQLiteStore UpsertUser inserted", "userID", u.ID, "email", u.Email)
		return &u, nil
	}

	u.ID = existing.ID
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = now
	if u.WhatsAppNumber == "" {
		u.WhatsAppNumber = existing.WhatsAppNumber
	}
	_, err = s.db.Exec(
		`UPDATE users SET whatsapp_number = ?, email = ?, name = ?, access_token = ?, refresh_token = ?, token_type = ?, token_expiry = ?, updated_at = ? WHERE id = ?`,
		nilIfEmpty(u.WhatsAppNumber), u.Email, nilIfEmpty(u.Name),
		nilIfEmpty(u.Tokens.AccessToken), nilIfEmpty(u.Tokens.RefreshToken),
		nilIfEmpty(u.Tokens.TokenType), nilIfZero(u.Tokens.Expiry),
		u.UpdatedAt, u.ID,
	)
	if err != nil {
		slog.Error("SQLiteStore UpsertUser update failed", "error", err, "userID", u.ID)
		return nil, fmt.Errorf("failed to update user %s: %w", u.ID, err)
	}
	slog.Debug("SQLiteStore UpsertUser updated", "userID", u.ID, "email", u.Email)
	return &u, nil
}

// findExisting resolves an incoming upsert to a stored row, or nil.
func (s *SQLiteStore) findExisting(u models.User) (*models.User, error) {
	if u.ID != "" {
		existing, err := s.GetUserByID(u.ID)
		if err == nil {
			return existing, nil
		}
		if err != models.ErrUserNotFound {
			return nil, err
		}
	}
	existing, err := s.GetUserByEmail(u.Email)
	if err == nil {
		return existing, nil
	}
	if err != models.ErrUserNotFound {
		return nil, err
	}
	return nil, nil
}

func (s *SQLiteStore) GetUserByID(id string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *SQLiteStore) GetUserByEmail(email string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ? COLLATE NOCASE`, email)
	return scanUser(row)
}

func (s *SQLiteStore) GetUserByWhatsAppNumber(number string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE whatsapp_number = ?`, number)
	return scanUser(row)
}

// SaveTokens replaces the stored OAuth tokens for a user.
func (s *SQLiteStore) SaveTokens(userID string, tokens models.GoogleTokens) error {
	res, err := s.db.Exec(
		`UPDATE users SET access_token = ?, refresh_token = ?, token_type = ?, token_expiry = ?, updated_at = ? WHERE id = ?`,
		nilIfEmpty(tokens.AccessToken), nilIfEmpty(tokens.RefreshToken),
		nilIfEmpty(tokens.TokenType), nilIfZero(tokens.Expiry), time.Now(), userID,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveTokens failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to save tokens for %s: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrUserNotFound
	}
	slog.Debug("SQLiteStore SaveTokens succeeded", "userID", userID)
	return nil
}

// AddChatMessage appends a chat turn to a user's history log.
func (s *SQLiteStore) AddChatMessage(m models.ChatMessage) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO chat_messages (user_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		m.UserID, m.Role, m.Content, m.Timestamp,
	)
	if err != nil {
		slog.Error("SQLiteStore AddChatMessage failed", "error", err, "userID", m.UserID)
		return fmt.Errorf("failed to insert chat message for %s: %w", m.UserID, err)
	}
	return nil
}

// GetChatMessages returns up to limit most recent messages for a user in
// chronological order. limit <= 0 returns the full history.
func (s *SQLiteStore) GetChatMessages(userID string, limit int) ([]models.ChatMessage, error) {
	query := `SELECT user_id, role, content, timestamp FROM (
			SELECT id, user_id, role, content, timestamp FROM chat_messages
			WHERE user_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?
		) ORDER BY timestamp ASC, id ASC`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(query, userID, limit)
	if err != nil {
		slog.Error("SQLiteStore GetChatMessages query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.UserID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			slog.Error("SQLiteStore GetChatMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan chat message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat message rows: %w", err)
	}
	return messages, nil
}

func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *SQLiteStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

func (s *SQLiteStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (sender, body, time) VALUES (?, ?, ?)`, r.From, r.Body, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	return nil
}

func (s *SQLiteStore) GetResponses() ([]models.Response, error) {
	rows, err := s.db.Query(`SELECT sender, body, time FROM responses`)
	if err != nil {
		slog.Error("SQLiteStore GetResponses query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.From, &r.Body, &r.Time); err != nil {
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
