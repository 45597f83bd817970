package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linkpass/server/internal/model"
)

// WhitelistRepo defines the interface for allow-list lookups
type WhitelistRepo interface {
	GetByEmail(ctx context.Context, email string) (model.WhitelistEntry, error)
	// StampRegistered sets registered_at once; a later call is a no-op.
	StampRegistered(ctx context.Context, email string, at time.Time) error
}

type whitelistRepo struct {
	db *sql.DB
}

// NewWhitelistRepo creates a new WhitelistRepo instance
func NewWhitelistRepo(db *sql.DB) WhitelistRepo {
	return &whitelistRepo{db: db}
}

// GetByEmail retrieves a whitelist entry by email (case-insensitive)
func (r *whitelistRepo) GetByEmail(ctx context.Context, email string) (model.WhitelistEntry, error) {
	var entry model.WhitelistEntry
	var roleStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT email, role, expiration_date, registered_at, created_at
		FROM whitelist_entries
		WHERE email = $1
	`, strings.ToLower(email)).Scan(
		&entry.Email,
		&roleStr,
		&entry.ExpirationDate,
		&entry.RegisteredAt,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WhitelistEntry{}, ErrNotFound
		}
		return model.WhitelistEntry{}, fmt.Errorf("query whitelist entry: %w", err)
	}
	entry.Role = model.ParseRole(roleStr)
	return entry, nil
}

// StampRegistered records first registration time, idempotently
func (r *whitelistRepo) StampRegistered(ctx context.Context, email string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE whitelist_entries
		SET registered_at = $2
		WHERE email = $1 AND registered_at IS NULL
	`, strings.ToLower(email), at)
	if err != nil {
		return fmt.Errorf("stamp registered_at: %w", err)
	}
	return nil
}
