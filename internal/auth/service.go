package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linkpass/server/internal/logging"
	"github.com/linkpass/server/internal/model"
	"github.com/linkpass/server/internal/notify"
	"github.com/linkpass/server/internal/repo"
	"github.com/linkpass/server/internal/secrets"
	"github.com/linkpass/server/internal/shortlink"
	"github.com/linkpass/server/internal/store"
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)
)

// Links configures how redirect targets are built.
type Links struct {
	// AppScheme is the custom scheme prefix for direct links ("linkpass://").
	AppScheme string
	// UniversalBase is the HTTPS redirect page that universal links target.
	UniversalBase string
	// ShortBase is the public base URL serving GET /s/{id}.
	ShortBase string
}

// Service orchestrates the token and session lifecycle: magic-link issuance,
// verification, session refresh and the backdoor path.
type Service struct {
	users     repo.UserRepo
	whitelist repo.WhitelistRepo
	activity  repo.ActivityRepo
	tokens    *store.TokenStore
	links     *shortlink.Service
	email     notify.EmailDispatcher
	sms       notify.SMSGateway
	signer    *Signer
	keys      *secrets.Cache
	log       *zap.Logger

	privilegedDomain string
	linkCfg          Links

	now func() time.Time
}

// Deps bundles the service's collaborators.
type Deps struct {
	Users            repo.UserRepo
	Whitelist        repo.WhitelistRepo
	Activity         repo.ActivityRepo
	Tokens           *store.TokenStore
	ShortLinks       *shortlink.Service
	Email            notify.EmailDispatcher
	SMS              notify.SMSGateway
	Signer           *Signer
	Keys             *secrets.Cache
	Logger           *zap.Logger
	PrivilegedDomain string
	Links            Links
}

// NewService creates the auth service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:            d.Users,
		whitelist:        d.Whitelist,
		activity:         d.Activity,
		tokens:           d.Tokens,
		links:            d.ShortLinks,
		email:            d.Email,
		sms:              d.SMS,
		signer:           d.Signer,
		keys:             d.Keys,
		log:              logger,
		privilegedDomain: strings.ToLower(d.PrivilegedDomain),
		linkCfg:          d.Links,
		now:              time.Now,
	}
}

// Session is a successfully issued (or refreshed) credential.
type Session struct {
	Credential string
	ExpiresAt  time.Time
	User       model.UserProfile
	IsBackdoor bool
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	return emailPattern.MatchString(email)
}

func validPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

func (s *Service) isPrivileged(email string) bool {
	at := strings.LastIndexByte(email, '@')
	return at >= 0 && email[at+1:] == s.privilegedDomain
}

// checkApproval answers whether the identity may register, and with which
// role/expiration. Any lookup failure denies: approval fails closed.
func (s *Service) checkApproval(ctx context.Context, email string, now time.Time) (model.Role, *time.Time, string, error) {
	if s.isPrivileged(email) {
		return model.RoleAdmin, nil, "domain", nil
	}

	entry, err := s.whitelist.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			s.log.Warn("whitelist lookup failed, denying",
				zap.String("email", logging.MaskEmail(email)), zap.Error(err))
		}
		return "", nil, "", ErrNotApproved
	}
	if !entry.Live(now) {
		return "", nil, "", ErrNotApproved
	}
	return entry.Role, entry.ExpirationDate, "whitelist", nil
}

// checkUserStatus rejects deactivated and expired profiles.
func (s *Service) checkUserStatus(u model.UserProfile, now time.Time) error {
	if u.IsDeactivated {
		return ErrAccountDeactivated
	}
	if u.Expired(now) {
		return ErrAccountExpired
	}
	return nil
}

// resolveOrProvisionUser returns the existing profile for the identity, or
// lazily creates one gated by the allow-list. The whitelist's role and
// expiration transfer to the profile; registered_at is stamped once.
func (s *Service) resolveOrProvisionUser(ctx context.Context, email string, provisionalID uuid.UUID, channel model.Channel) (model.UserProfile, error) {
	now := s.now()

	user, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		// Existing profile status is authoritative, even over a valid token.
		if statusErr := s.checkUserStatus(user, now); statusErr != nil {
			return model.UserProfile{}, statusErr
		}
		return user, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.UserProfile{}, fmt.Errorf("%w: user lookup: %v", ErrInternal, err)
	}

	role, expiration, method, err := s.checkApproval(ctx, email, now)
	if err != nil {
		// Valid token, lapsed approval: a distinct category.
		return model.UserProfile{}, &RejectionError{Err: ErrRegistrationBlocked, Email: email}
	}
	if channel == model.ChannelBackdoor {
		method = "backdoor"
	}

	user, err = s.users.Create(ctx, model.UserProfile{
		ID:                 provisionalID,
		Email:              email,
		Role:               role,
		ExpirationDate:     expiration,
		RegistrationMethod: method,
	})
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("%w: provision user: %v", ErrInternal, err)
	}

	if method == "whitelist" {
		if err := s.whitelist.StampRegistered(ctx, email, now); err != nil {
			s.log.Warn("failed to stamp whitelist registration",
				zap.String("email", logging.MaskEmail(email)), zap.Error(err))
		}
	}

	// Re-check after provisioning: a copied expiration may already be past,
	// and covers status changes racing the provisioning read.
	if statusErr := s.checkUserStatus(user, now); statusErr != nil {
		return model.UserProfile{}, statusErr
	}
	return user, nil
}

// issueSession signs a fresh 14-day credential and persists its session
// token row.
func (s *Service) issueSession(ctx context.Context, user model.UserProfile, deviceID string, channel model.Channel, isBackdoor bool) (*Session, error) {
	now := s.now()
	expiresAt := now.Add(SessionLifetime)

	claims := &SessionClaims{
		Email:      user.Email,
		Role:       user.Role,
		DeviceID:   deviceID,
		IsBackdoor: isBackdoor,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	credential, err := s.signer.Sign(ctx, claims)
	if err != nil {
		return nil, err
	}

	tokenID, err := NewTokenID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	usedAt := now
	sessionRow := model.Token{
		ID:         tokenID,
		Type:       model.TokenTypeSession,
		Email:      user.Email,
		UserID:     user.ID,
		DeviceID:   deviceID,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
		Used:       true, // a session is a live credential, not redeemable
		UsedAt:     &usedAt,
		Credential: credential,
		Channel:    channel,
	}
	if err := s.tokens.Create(ctx, sessionRow); err != nil {
		return nil, fmt.Errorf("%w: persist session: %v", ErrInternal, err)
	}

	return &Session{
		Credential: credential,
		ExpiresAt:  expiresAt,
		User:       user,
		IsBackdoor: isBackdoor,
	}, nil
}

// recordActivity appends an audit entry, best-effort: failures are logged
// and swallowed so they never mask the request's real outcome.
func (s *Service) recordActivity(ctx context.Context, rec model.ActivityRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	if err := s.activity.Record(ctx, rec); err != nil {
		s.log.Warn("activity log write failed",
			zap.String("activity_type", string(rec.Type)), zap.Error(err))
	}
}

func (s *Service) auditFailure(ctx context.Context, display, userID, deviceID, ip, reason string) {
	s.recordActivity(ctx, model.ActivityRecord{
		Type:            model.ActivityFailedLogin,
		UserID:          userID,
		DisplayIdentity: display,
		Metadata:        map[string]string{"reason": reason},
		DeviceID:        deviceID,
		IPAddress:       ip,
	})
}

// provisionalUserID reuses the user id from a prior token for the identity
// when one is discoverable, otherwise mints a new one.
func (s *Service) provisionalUserID(ctx context.Context, email string) uuid.UUID {
	id, found, err := s.tokens.KnownUserID(ctx, email)
	if err != nil {
		s.log.Warn("identity index lookup failed",
			zap.String("email", logging.MaskEmail(email)), zap.Error(err))
	}
	if found {
		return id
	}
	return uuid.New()
}
