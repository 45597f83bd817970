package model

import (
	"time"

	"github.com/google/uuid"
)

// TokenType discriminates the two kinds of records in the token store.
type TokenType string

const (
	TokenTypeMagicLink TokenType = "magic_link"
	TokenTypeSession   TokenType = "session"
)

// Channel records how a token reached (or will reach) the user.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelBackdoor Channel = "backdoor"
	ChannelRefresh  Channel = "refresh"
)

// Role is a user's access level.
type Role string

const (
	RoleBasic Role = "basic"
	RoleAdmin Role = "admin"
)

// ParseRole coerces unrecognized values to RoleBasic.
func ParseRole(s string) Role {
	if Role(s) == RoleAdmin {
		return RoleAdmin
	}
	return RoleBasic
}

// Token is any credential-bearing record: a redeemable magic link or a live
// session. A magic link flips used=false->true exactly once; a session is
// created already used (it represents a credential, not something to redeem).
type Token struct {
	ID         string
	Type       TokenType
	Email      string
	UserID     uuid.UUID
	DeviceID   string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Used       bool
	UsedAt     *time.Time
	Credential string // signed JWT, session tokens only
	Channel    Channel

	// Deep-link routing hints carried through to the client.
	App       string
	PageID    string
	Variables map[string]string
}

// UserProfile is the durable identity record, created lazily on first
// successful verification and never deleted (only deactivated).
type UserProfile struct {
	ID                 uuid.UUID
	Email              string
	Role               Role
	IsDeactivated      bool
	ExpirationDate     *time.Time
	RegistrationMethod string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastActiveAt       *time.Time
}

// Expired reports whether the profile's expiration date has passed.
func (u UserProfile) Expired(now time.Time) bool {
	return u.ExpirationDate != nil && !u.ExpirationDate.After(now)
}

// WhitelistEntry pre-approves a non-privileged-domain identity. The expiry
// boundary is inclusive: an entry expiring exactly "now" is already dead.
type WhitelistEntry struct {
	Email          string
	Role           Role
	ExpirationDate *time.Time
	RegisteredAt   *time.Time
	CreatedAt      time.Time
}

// Live reports whether the entry still approves new registrations.
func (w WhitelistEntry) Live(now time.Time) bool {
	return w.ExpirationDate == nil || w.ExpirationDate.After(now)
}

// ShortLink maps a compact id to a full redirect URL for SMS delivery.
type ShortLink struct {
	ShortID   string
	FullURL   string
	TokenID   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ActivityType labels audit entries.
type ActivityType string

const (
	ActivityLogin        ActivityType = "login"
	ActivityFailedLogin  ActivityType = "failed_login"
	ActivityTokenRefresh ActivityType = "token_refresh"
)

// ActivityRecord is an immutable audit entry for a login attempt.
type ActivityRecord struct {
	Type            ActivityType
	UserID          string
	DisplayIdentity string
	Metadata        map[string]string
	DeviceID        string
	IPAddress       string
	Timestamp       time.Time
}
