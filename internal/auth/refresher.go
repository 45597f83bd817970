package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/linkpass/server/internal/model"
	"github.com/linkpass/server/internal/repo"
)

// RefreshSession validates a session credential and reissues it when it is
// inside the final RefreshWindow. Outside that window the call is an
// idempotent no-op returning the same credential (but still bumps
// last_active_at). Current profile status always overrides a valid
// signature.
func (s *Service) RefreshSession(ctx context.Context, credential, ip string) (*Session, error) {
	now := s.now()

	claims, err := s.signer.Verify(ctx, credential)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrTokenInvalid
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: user lookup: %v", ErrInternal, err)
	}
	if statusErr := s.checkUserStatus(user, now); statusErr != nil {
		s.auditFailure(ctx, displayIdentity(user.Email, claims.IsBackdoor), user.ID.String(), claims.DeviceID, ip, "account_status")
		return nil, statusErr
	}

	if claims.ExpiresAt == nil {
		return nil, ErrTokenInvalid
	}
	expiresAt := claims.ExpiresAt.Time
	if expiresAt.Sub(now) > RefreshWindow {
		// Plenty of runway left: hand the same credential back.
		if err := s.users.TouchLastActive(ctx, user.ID, now); err != nil {
			s.log.Warn("failed to update last_active_at", zap.Error(err))
		}
		return &Session{
			Credential: credential,
			ExpiresAt:  expiresAt,
			User:       user,
			IsBackdoor: claims.IsBackdoor,
		}, nil
	}

	session, err := s.issueSession(ctx, user, claims.DeviceID, model.ChannelRefresh, claims.IsBackdoor)
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, model.ActivityRecord{
		Type:            model.ActivityTokenRefresh,
		UserID:          user.ID.String(),
		DisplayIdentity: displayIdentity(user.Email, claims.IsBackdoor),
		DeviceID:        claims.DeviceID,
		IPAddress:       ip,
	})
	if err := s.users.TouchLastActive(ctx, user.ID, now); err != nil {
		s.log.Warn("failed to update last_active_at", zap.Error(err))
	}

	return session, nil
}
