// Package store provides storage backends for Alfred.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/wayneworks/alfred/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// UpsertUser inserts or updates a user, matching existing users by ID first
// and then by email. Missing IDs and timestamps are filled in.
func (s *PostgresStore) UpsertUser(u models.User) (*models.User, error) {
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
			`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			u.ID, nilIfEmpty(u.WhatsAppNumber), u.Email, nilIfEmpty(u.Name),
			nilIfEmpty(u.Tokens.AccessToken), nilIfEmpty(u.Tokens.RefreshToken),
			nilIfEmpty(u.Tokens.TokenType), nilIfZero(u.Tokens.Expiry),
			u.CreatedAt, u.UpdatedAt,
		)
		if err != nil {
			slog.Error("PostgresStore UpsertUser insert failed", "error", err, "email", u.Email)
			return nil, fmt.Errorf("failed to insert user %s: %w", u.Email, err)
		}
		slog.Debug("PostgresStore UpsertUser inserted", "userID", u.ID, "email", u.Email)
		return &u, nil
	}

	u.ID = existing.ID
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = now
	if u.WhatsAppNumber == "" {
		u.WhatsAppNumber = existing.WhatsAppNumber
	}
	_, err = s.db.Exec(
		`UPDATE users SET whatsapp_number = $1, email = $2, name = $3, access_token = $4, refresh_token = $5, token_type = $6, token_expiry = $7, updated_at = $8 WHERE id = $9`,
		nilIfEmpty(u.WhatsAppNumber), u.Email, nilIfEmpty(u.Name),
		nilIfEmpty(u.Tokens.AccessToken), nilIfEmpty(u.Tokens.RefreshToken),
		nilIfEmpty(u.Tokens.TokenType), nilIfZero(u.Tokens.Expiry),
		u.UpdatedAt, u.ID,
	)
	if err != nil {
		slog.Error("PostgresStore UpsertUser update failed", "error", err, "userID", u.ID)
		return nil, fmt.Errorf("failed to update user %s: %w", u.ID, err)
	}
	slog.Debug("PostgresStore UpsertUser updated", "userID", u.ID, "email", u.Email)
	return &u, nil
}

func (s *PostgresStore) findExisting(u models.User) (*models.User, error) {
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

func (s *PostgresStore) GetUserByID(id string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByEmail(email string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByWhatsAppNumber(number string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE whatsapp_number = $1`, number)
	return scanUser(row)
}

// SaveTokens replaces the stored OAuth tokens for a user.
func (s *PostgresStore) SaveTokens(userID string, tokens models.GoogleTokens) error {
	res, err := s.db.Exec(
		`UPDATE users SET access_token = $1, refresh_token = $2, token_type = $3, token_expiry = $4, updated_at = $5 WHERE id = $6`,
		nilIfEmpty(tokens.AccessToken), nilIfEmpty(tokens.RefreshToken),
		nilIfEmpty(tokens.TokenType), nilIfZero(tokens.Expiry), time.Now(), userID,
	)
	if err != nil {
		slog.Error("PostgresStore SaveTokens failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to save tokens for %s: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrUserNotFound
	}
	slog.Debug("PostgresStore SaveTokens succeeded", "userID", userID)
	return nil
}

// AddChatMessage appends a chat turn to a user's history log.
func (s *PostgresStore) AddChatMessage(m models.ChatMessage) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO chat_messages (user_id, role, content, timestamp) VALUES ($1, $2, $3, $4)`,
		m.UserID, m.Role, m.Content, m.Timestamp,
	)
	if err != nil {
		slog.Error("PostgresStore AddChatMessage failed", "error", err, "userID", m.UserID)
		return fmt.Errorf("failed to insert chat message for %s: %w", m.UserID, err)
	}
	return nil
}

// GetChatMessages returns up to limit most recent messages for a user in
// chronological order. limit <= 0 returns the full history.
func (s *PostgresStore) GetChatMessages(userID string, limit int) ([]models.ChatMessage, error) {
	query := `SELECT user_id, role, content, timestamp FROM (
			SELECT id, user_id, role, content, timestamp FROM chat_messages
			WHERE user_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2
		) recent ORDER BY timestamp ASC, id ASC`
	var limitArg interface{}
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.Query(query, userID, limitArg)
	if err != nil {
		slog.Error("PostgresStore GetChatMessages query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.UserID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			slog.Error("PostgresStore GetChatMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan chat message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat message rows: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES ($1, $2, $3)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *PostgresStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
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

func (s *PostgresStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (sender, body, time) VALUES ($1, $2, $3)`, r.From, r.Body, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	return nil
}

func (s *PostgresStore) GetResponses() ([]models.Response, error) {
	rows, err := s.db.Query(`SELECT sender, body, time FROM responses`)
	if err != nil {
		slog.Error("PostgresStore GetResponses query failed", "error", err)
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.From, &r.Body, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan response row: %w", err)
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
