package auth

import "errors"

// Sentinel errors for every rejection category the engine can produce.
// Handlers map these to HTTP statuses; services compare with errors.Is.
var (
	// ErrValidation covers malformed emails, phone numbers and link types.
	ErrValidation = errors.New("validation failed")
	// ErrNotApproved means the identity is neither on a privileged domain
	// nor covered by a live whitelist entry.
	ErrNotApproved = errors.New("not approved for registration")
	// ErrAccountExpired means the profile's expiration date has passed.
	ErrAccountExpired = errors.New("account expired")
	// ErrAccountDeactivated means the profile was deactivated by an admin.
	ErrAccountDeactivated = errors.New("account deactivated")
	// ErrTokenInvalid means the token id is unknown or the wrong type.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenUsed means the magic link was already redeemed.
	ErrTokenUsed = errors.New("token already used")
	// ErrTokenExpired means the token's expiry window has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrRegistrationBlocked means the token was valid but the whitelist
	// entry lapsed between issuance and redemption.
	ErrRegistrationBlocked = errors.New("registration blocked")
	// ErrAccessDenied is the single, deliberately generic backdoor failure.
	ErrAccessDenied = errors.New("access denied")
	// ErrUpstreamDelivery means the email or SMS provider failed.
	ErrUpstreamDelivery = errors.New("delivery provider failure")
	// ErrInternal covers store and secret-vault failures; callers fail closed.
	ErrInternal = errors.New("internal error")
)

// RejectionError decorates a sentinel with the identity it concerns, so the
// already-used and expired-token responses can surface the email to the
// client without exposing the token payload.
type RejectionError struct {
	Err   error
	Email string
}

func (e *RejectionError) Error() string { return e.Err.Error() }

func (e *RejectionError) Unwrap() error { return e.Err }

// RejectedEmail returns the identity attached to err, if any.
func RejectedEmail(err error) string {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Email
	}
	return ""
}
