package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/linkpass/server/internal/model"
	"github.com/linkpass/server/internal/store"
)

// VerifyMagicLink redeems a magic-link token exactly once and issues a
// session: lookup -> type -> expiry -> atomic mark-used -> lazy provision ->
// status check -> signed credential. Already-used and expired rejections
// carry the associated identity for client UX; the token payload never
// leaves the store.
func (s *Service) VerifyMagicLink(ctx context.Context, tokenID, deviceID, ip string) (*Session, error) {
	now := s.now()

	tok, err := s.tokens.Get(ctx, tokenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.auditFailure(ctx, "", "", deviceID, ip, "token_unknown")
			return nil, ErrTokenInvalid
		}
		s.auditFailure(ctx, "", "", deviceID, ip, "token_lookup_failed")
		return nil, fmt.Errorf("%w: token lookup: %v", ErrInternal, err)
	}

	fail := func(reason string, err error) (*Session, error) {
		s.auditFailure(ctx, tok.Email, tok.UserID.String(), deviceID, ip, reason)
		return nil, err
	}

	status, err := s.tokens.Consume(ctx, tokenID, deviceID, now)
	if err != nil {
		return fail("token_consume_failed", fmt.Errorf("%w: consume token: %v", ErrInternal, err))
	}
	switch status {
	case store.ConsumeOK:
	case store.ConsumeNotFound, store.ConsumeWrongType:
		return fail("token_invalid", ErrTokenInvalid)
	case store.ConsumeAlreadyUsed:
		return fail("token_used", &RejectionError{Err: ErrTokenUsed, Email: tok.Email})
	case store.ConsumeExpired:
		return fail("token_expired", &RejectionError{Err: ErrTokenExpired, Email: tok.Email})
	default:
		return fail("token_consume_failed", ErrInternal)
	}

	user, err := s.resolveOrProvisionUser(ctx, tok.Email, tok.UserID, tok.Channel)
	if err != nil {
		reason := "provisioning_failed"
		switch {
		case errors.Is(err, ErrRegistrationBlocked):
			reason = "registration_blocked"
		case errors.Is(err, ErrAccountDeactivated):
			reason = "account_deactivated"
		case errors.Is(err, ErrAccountExpired):
			reason = "account_expired"
		}
		return fail(reason, err)
	}

	session, err := s.issueSession(ctx, user, deviceID, tok.Channel, false)
	if err != nil {
		return fail("session_issue_failed", err)
	}

	s.recordActivity(ctx, model.ActivityRecord{
		Type:            model.ActivityLogin,
		UserID:          user.ID.String(),
		DisplayIdentity: user.Email,
		Metadata:        map[string]string{"channel": string(tok.Channel)},
		DeviceID:        deviceID,
		IPAddress:       ip,
	})
	if err := s.users.TouchLastActive(ctx, user.ID, now); err != nil {
		s.log.Warn("failed to update last_active_at", zap.Error(err))
	}

	return session, nil
}
