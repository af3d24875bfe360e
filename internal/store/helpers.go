package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/wayneworks/alfred/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZero returns nil if t is the zero time, otherwise returns t.
func nilIfZero(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// userColumns is the column list every user query selects, in scan order.
const userColumns = `id, whatsapp_number, email, name, access_token, refresh_token, token_type, token_expiry, created_at, updated_at`

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUser scans a user row, mapping NULL columns to zero values.
func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var whatsappNumber, name, accessToken, refreshToken, tokenType sql.NullString
	var tokenExpiry sql.NullTime
	err := row.Scan(
		&u.ID, &whatsappNumber, &u.Email, &name, &accessToken, &refreshToken,
		&tokenType, &tokenExpiry, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row failed: %w", err)
	}
	u.WhatsAppNumber = whatsappNumber.String
	u.Name = name.String
	u.Tokens = models.GoogleTokens{
		AccessToken:  accessToken.String,
		RefreshToken: refreshToken.String,
		TokenType:    tokenType.String,
	}
	if tokenExpiry.Valid {
		u.Tokens.Expiry = tokenExpiry.Time
	}
	return &u, nil
}
