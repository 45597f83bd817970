package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/linkpass/server/internal/logging"
	"github.com/linkpass/server/internal/model"
	"github.com/linkpass/server/internal/notify"
	"github.com/linkpass/server/internal/repo"
	"go.uber.org/zap"
)

// Link styles accepted on issuance.
const (
	LinkTypeDirect    = "direct"
	LinkTypeUniversal = "universal"
)

// IssueRequest asks for a magic link to be delivered.
type IssueRequest struct {
	Email    string
	Phone    string // E.164, SMS channel only
	Channel  model.Channel
	LinkType string

	// Deep-link routing hints.
	App       string
	PageID    string
	Variables map[string]string

	IP string
}

// IssueResult reports a successful issuance.
type IssueResult struct {
	// ExpiresIn is the redemption window in seconds.
	ExpiresIn int
}

// RequestMagicLink validates the identity, checks approval and user status,
// mints a single-use token and dispatches it over the requested channel.
// Every rejection writes a failed_login audit entry before returning.
func (s *Service) RequestMagicLink(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	email := normalizeEmail(req.Email)
	now := s.now()

	fail := func(reason string, err error) (*IssueResult, error) {
		s.auditFailure(ctx, email, "", "", req.IP, reason)
		return nil, err
	}

	if !validEmail(email) {
		return fail("malformed_email", ErrValidation)
	}
	linkType := req.LinkType
	if linkType == "" {
		linkType = LinkTypeUniversal
	}
	if linkType != LinkTypeDirect && linkType != LinkTypeUniversal {
		return fail("invalid_link_type", ErrValidation)
	}
	channel := req.Channel
	if channel == "" {
		channel = model.ChannelEmail
	}
	switch channel {
	case model.ChannelEmail:
	case model.ChannelSMS:
		if !validPhone(strings.TrimSpace(req.Phone)) {
			return fail("malformed_phone", ErrValidation)
		}
	default:
		return fail("invalid_channel", ErrValidation)
	}

	if _, _, _, err := s.checkApproval(ctx, email, now); err != nil {
		return fail("not_approved", err)
	}

	// An already-provisioned profile must still be in good standing before
	// any token or message exists.
	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if statusErr := s.checkUserStatus(user, now); statusErr != nil {
			return fail("account_status", statusErr)
		}
	case errors.Is(err, repo.ErrNotFound):
		// Lazy provisioning happens at verification, never here.
	default:
		return fail("user_lookup_failed", fmt.Errorf("%w: user lookup: %v", ErrInternal, err))
	}

	tokenID, err := NewTokenID()
	if err != nil {
		return fail("token_mint_failed", fmt.Errorf("%w: %v", ErrInternal, err))
	}
	tok := model.Token{
		ID:        tokenID,
		Type:      model.TokenTypeMagicLink,
		Email:     email,
		UserID:    s.provisionalUserID(ctx, email),
		CreatedAt: now,
		ExpiresAt: now.Add(MagicLinkLifetime),
		Channel:   channel,
		App:       req.App,
		PageID:    req.PageID,
		Variables: req.Variables,
	}
	if err := s.tokens.Create(ctx, tok); err != nil {
		return fail("token_store_failed", fmt.Errorf("%w: persist token: %v", ErrInternal, err))
	}

	target := s.buildRedirectTarget(tok, linkType)

	switch channel {
	case model.ChannelEmail:
		if err := s.email.Send(ctx, magicLinkEmail(email, target)); err != nil {
			s.log.Warn("email dispatch failed",
				zap.String("email", logging.MaskEmail(email)), zap.Error(err))
			return fail("email_dispatch_failed", fmt.Errorf("%w: %v", ErrUpstreamDelivery, err))
		}
	case model.ChannelSMS:
		link, err := s.links.Create(ctx, target, tok.ID, tok.ExpiresAt)
		if err != nil {
			return fail("short_link_failed", fmt.Errorf("%w: short link: %v", ErrInternal, err))
		}
		text := "Your sign-in link: " + strings.TrimRight(s.linkCfg.ShortBase, "/") + "/s/" + link.ShortID
		if err := s.sms.Send(ctx, strings.TrimSpace(req.Phone), text); err != nil {
			s.log.Warn("sms dispatch failed",
				zap.String("email", logging.MaskEmail(email)), zap.Error(err))
			return fail("sms_dispatch_failed", fmt.Errorf("%w: %v", ErrUpstreamDelivery, err))
		}
	}

	return &IssueResult{ExpiresIn: int(MagicLinkLifetime.Seconds())}, nil
}

// buildRedirectTarget renders the URL the user will open. Direct links carry
// only the token behind the custom scheme; universal links go through the
// HTTPS redirect page with every routing hint attached.
func (s *Service) buildRedirectTarget(tok model.Token, linkType string) string {
	if linkType == LinkTypeDirect {
		return s.linkCfg.AppScheme + "auth?token=" + url.QueryEscape(tok.ID)
	}

	q := url.Values{}
	q.Set("token", tok.ID)
	if tok.App != "" {
		q.Set("app", tok.App)
	}
	if tok.PageID != "" {
		q.Set("pageId", tok.PageID)
	}
	for k, v := range tok.Variables {
		q.Set("var_"+k, v)
	}
	return s.linkCfg.UniversalBase + "?" + q.Encode()
}

func magicLinkEmail(to, target string) notify.EmailMessage {
	return notify.EmailMessage{
		To:      to,
		Subject: "Your sign-in link",
		HTMLBody: `<p>Tap the button below to sign in. The link works once and expires in 15 minutes.</p>` +
			`<p><a href="` + target + `">Sign in</a></p>` +
			`<p>If you did not request this, you can ignore this email.</p>`,
		TextBody: "Sign in using this link (valid for 15 minutes, works once):\n\n" + target + "\n\nIf you did not request this, ignore this message.",
	}
}
