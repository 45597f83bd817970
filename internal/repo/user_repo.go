package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/linkpass/server/internal/model"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// UserRepo defines the interface for user directory operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.UserProfile, error)
	GetByEmail(ctx context.Context, email string) (model.UserProfile, error)
	// Create provisions the profile at most once per email: a concurrent
	// create for the same email returns the row that won, not an error.
	Create(ctx context.Context, profile model.UserProfile) (model.UserProfile, error)
	TouchLastActive(ctx context.Context, id uuid.UUID, at time.Time) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, email, role, is_deactivated, expiration_date, registration_method, created_at, updated_at, last_active_at`

func scanUser(row *sql.Row) (model.UserProfile, error) {
	var u model.UserProfile
	var idStr, roleStr string
	err := row.Scan(
		&idStr,
		&u.Email,
		&roleStr,
		&u.IsDeactivated,
		&u.ExpirationDate,
		&u.RegistrationMethod,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.LastActiveAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.UserProfile{}, ErrNotFound
		}
		return model.UserProfile{}, fmt.Errorf("scan user: %w", err)
	}
	u.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("parse user ID: %w", err)
	}
	// Unrecognized roles coerce to basic rather than failing the login.
	u.Role = model.ParseRole(roleStr)
	return u, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.UserProfile, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())
	return scanUser(row)
}

// GetByEmail retrieves a user by email (case-insensitive)
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.UserProfile, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, strings.ToLower(email))
	return scanUser(row)
}

// Create inserts the profile unless one exists for the email, then returns
// whichever row is durable. Two concurrent verifications of the same
// identity both land on the same profile.
func (r *userRepo) Create(ctx context.Context, profile model.UserProfile) (model.UserProfile, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, role, is_deactivated, expiration_date, registration_method)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO NOTHING
	`,
		profile.ID.String(),
		strings.ToLower(profile.Email),
		string(profile.Role),
		profile.IsDeactivated,
		profile.ExpirationDate,
		profile.RegistrationMethod,
	)
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("insert user: %w", err)
	}
	return r.GetByEmail(ctx, profile.Email)
}

// TouchLastActive stamps last_active_at for the user
func (r *userRepo) TouchLastActive(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET last_active_at = $2, updated_at = now() WHERE id = $1
	`, id.String(), at)
	if err != nil {
		return fmt.Errorf("touch last_active_at: %w", err)
	}
	return nil
}
