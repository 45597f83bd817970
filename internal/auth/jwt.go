package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/linkpass/server/internal/model"
	"github.com/linkpass/server/internal/secrets"
)

const (
	// SessionLifetime is the validity window of a signed session credential.
	SessionLifetime = 14 * 24 * time.Hour
	// RefreshWindow is how close to expiry a session must be before refresh
	// actually reissues; outside it refresh is a no-op.
	RefreshWindow = 7 * 24 * time.Hour
	// MagicLinkLifetime is the redemption window of an issued link.
	MagicLinkLifetime = 15 * time.Minute
)

// SessionClaims are the subject claims carried by a session credential.
// Subject holds the user id.
type SessionClaims struct {
	Email      string     `json:"email"`
	Role       model.Role `json:"role"`
	DeviceID   string     `json:"device_id,omitempty"`
	IsBackdoor bool       `json:"is_backdoor,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *SessionClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Signer signs and verifies session credentials with the HS256 key held in
// the secret vault.
type Signer struct {
	keys *secrets.Cache
}

// NewSigner creates a Signer backed by the given secret cache.
func NewSigner(keys *secrets.Cache) *Signer {
	return &Signer{keys: keys}
}

// Sign produces a signed credential for the claims.
func (s *Signer) Sign(ctx context.Context, claims *SessionClaims) (string, error) {
	key, err := s.keys.Get(ctx, secrets.SessionSigningKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInternal, err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(key))
	if err != nil {
		return "", fmt.Errorf("sign session credential: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a credential. Expired signatures map to
// ErrTokenExpired, everything else invalid to ErrTokenInvalid.
func (s *Signer) Verify(ctx context.Context, credential string) (*SessionClaims, error) {
	key, err := s.keys.Get(ctx, secrets.SessionSigningKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	token, err := jwt.ParseWithClaims(credential, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(key), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
