package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linkpass/server/internal/model"
	"github.com/linkpass/server/internal/secrets"
)

// backdoorDisplay replaces the real identity in every audit entry the
// backdoor path writes, so the address never lands in the activity log.
const backdoorDisplay = "backdoor-user"

// backdoorSecret is the vault payload gating the two-step challenge.
type backdoorSecret struct {
	EmailHash    string `json:"email_hash"`
	PasswordHash string `json:"password_hash"`
}

// BackdoorRequest is the two-step shared-secret challenge. Hash and
// PasswordHash are client-side SHA-256 hex digests of the shared constants;
// nothing secret travels in cleartext.
type BackdoorRequest struct {
	Email        string
	Hash         string
	PasswordHash string
	DeviceID     string
	IP           string
}

// BackdoorResult is either the step-1 acknowledgement or a full session.
type BackdoorResult struct {
	RequiresPassword bool
	Session          *Session
}

func (s *Service) loadBackdoorSecret(ctx context.Context) (backdoorSecret, error) {
	raw, err := s.keys.Get(ctx, secrets.BackdoorSecret)
	if err != nil {
		return backdoorSecret{}, fmt.Errorf("%w: backdoor secret: %v", ErrInternal, err)
	}
	var secret backdoorSecret
	if err := json.Unmarshal([]byte(raw), &secret); err != nil {
		return backdoorSecret{}, fmt.Errorf("%w: backdoor secret malformed", ErrInternal)
	}
	return secret, nil
}

// BackdoorChallenge reports whether the identity hash matches the backdoor
// constant. A match starts the two-step challenge; it issues nothing and
// writes nothing, so probing it looks identical to a plain link request.
func (s *Service) BackdoorChallenge(ctx context.Context, hash string) (bool, error) {
	if strings.TrimSpace(hash) == "" {
		return false, nil
	}
	secret, err := s.loadBackdoorSecret(ctx)
	if err != nil {
		return false, err
	}
	return hashesEqual(hash, secret.EmailHash), nil
}

// AuthenticateBackdoor runs the challenge. Step 1 (no password hash)
// validates the identity hash and issues nothing. Step 2 additionally
// validates the password hash, then provisions and issues exactly like link
// verification. Every mismatch is the same generic AccessDenied, whichever
// step it happened in.
func (s *Service) AuthenticateBackdoor(ctx context.Context, req BackdoorRequest) (*BackdoorResult, error) {
	secret, err := s.loadBackdoorSecret(ctx)
	if err != nil {
		return nil, err
	}

	deny := func(reason string) (*BackdoorResult, error) {
		s.auditFailure(ctx, backdoorDisplay, "", req.DeviceID, req.IP, reason)
		return nil, ErrAccessDenied
	}

	if !hashesEqual(req.Hash, secret.EmailHash) {
		return deny("backdoor_denied")
	}

	if req.PasswordHash == "" {
		// Step 1: acknowledge, issue nothing, persist nothing.
		return &BackdoorResult{RequiresPassword: true}, nil
	}

	if !hashesEqual(req.PasswordHash, secret.PasswordHash) {
		return deny("backdoor_denied")
	}

	email := normalizeEmail(req.Email)
	if !validEmail(email) {
		return deny("backdoor_denied")
	}

	user, err := s.resolveOrProvisionUser(ctx, email, s.provisionalUserID(ctx, email), model.ChannelBackdoor)
	if err != nil {
		s.auditFailure(ctx, backdoorDisplay, "", req.DeviceID, req.IP, "backdoor_provisioning")
		return nil, err
	}

	session, err := s.issueSession(ctx, user, req.DeviceID, model.ChannelBackdoor, true)
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, model.ActivityRecord{
		Type:            model.ActivityLogin,
		UserID:          user.ID.String(),
		DisplayIdentity: backdoorDisplay,
		Metadata:        map[string]string{"channel": string(model.ChannelBackdoor)},
		DeviceID:        req.DeviceID,
		IPAddress:       req.IP,
	})

	return &BackdoorResult{Session: session}, nil
}

// displayIdentity substitutes the audit placeholder for backdoor sessions.
func displayIdentity(email string, isBackdoor bool) string {
	if isBackdoor {
		return backdoorDisplay
	}
	return email
}

// hashesEqual compares two hex digests in constant time.
func hashesEqual(provided, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare(
		[]byte(strings.ToLower(strings.TrimSpace(provided))),
		[]byte(strings.ToLower(expected)),
	) == 1
}
