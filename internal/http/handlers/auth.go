package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/linkpass/server/internal/auth"
	"github.com/linkpass/server/internal/logging"
	"github.com/linkpass/server/internal/middleware"
	"github.com/linkpass/server/internal/model"
	"github.com/linkpass/server/internal/secrets"
)

// AuthHandler handles the authentication endpoints
type AuthHandler struct {
	service *auth.Service
	keys    *secrets.Cache
	log     *zap.Logger

	requestLimiter *middleware.RateLimiter
	verifyLimiter  *middleware.RateLimiter
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(service *auth.Service, keys *secrets.Cache, log *zap.Logger) *AuthHandler {
	// IP limits: 10 issuances and 20 verifications per 10 minutes.
	return &AuthHandler{
		service:        service,
		keys:           keys,
		log:            log,
		requestLimiter: middleware.NewRateLimiter(10*time.Minute, 10),
		verifyLimiter:  middleware.NewRateLimiter(10*time.Minute, 20),
	}
}

// requestMagicLinkRequest is the body for POST /auth/request-magic-link.
// UsernameHash lets the client probe for the backdoor challenge in the same
// request shape as an ordinary link request.
type requestMagicLinkRequest struct {
	Email        string            `json:"email"`
	LinkType     string            `json:"linkType,omitempty"`
	UsernameHash string            `json:"usernameHash,omitempty"`
	App          string            `json:"app,omitempty"`
	PageID       string            `json:"pageId,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
}

// sendToMobileRequest is the body for POST /auth/send-to-mobile
type sendToMobileRequest struct {
	Email       string            `json:"email"`
	PhoneNumber string            `json:"phoneNumber"`
	EmailHash   string            `json:"emailhash"`
	App         string            `json:"app,omitempty"`
	PageID      string            `json:"pageId,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
	LinkType    string            `json:"linkType,omitempty"`
}

// verifyMagicLinkRequest is the body for POST /auth/verify-magic-link
type verifyMagicLinkRequest struct {
	Token    string `json:"token"`
	DeviceID string `json:"deviceId"`
}

// refreshTokenRequest is the body for POST /auth/refresh-token
type refreshTokenRequest struct {
	Token string `json:"token"`
}

// backdoorRequest is the body for POST /auth/authenticate-backdoor
type backdoorRequest struct {
	Email        string `json:"email"`
	Hash         string `json:"hash"`
	DeviceID     string `json:"deviceId"`
	PasswordHash string `json:"passwordHash,omitempty"`
}

type issueResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ExpiresIn int    `json:"expiresIn"`
}

type sessionUser struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type sessionResponse struct {
	Success   bool         `json:"success"`
	Token     string       `json:"token"`
	ExpiresAt int64        `json:"expiresAt"`
	User      *sessionUser `json:"user,omitempty"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Email   string `json:"email,omitempty"`
}

// HandleRequestMagicLink handles POST /auth/request-magic-link
func (h *AuthHandler) HandleRequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req requestMagicLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "email is required", "")
		return
	}

	if !h.requestLimiter.AllowAll(middleware.GetIPKey(r), middleware.GetEmailKey(req.Email)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "")
		return
	}

	// A matching identity hash diverts into the backdoor challenge instead of
	// sending a link. Vault trouble here never blocks the ordinary flow.
	if req.UsernameHash != "" {
		match, err := h.service.BackdoorChallenge(r.Context(), req.UsernameHash)
		if err != nil {
			h.log.Warn("backdoor challenge lookup failed", zap.Error(err))
		} else if match {
			writeJSON(w, http.StatusOK, map[string]bool{"requiresPassword": true})
			return
		}
	}

	result, err := h.service.RequestMagicLink(r.Context(), auth.IssueRequest{
		Email:     req.Email,
		Channel:   model.ChannelEmail,
		LinkType:  req.LinkType,
		App:       req.App,
		PageID:    req.PageID,
		Variables: req.Variables,
		IP:        clientIP(r),
	})
	if err != nil {
		h.log.Info("magic link request rejected",
			zap.String("email", logging.MaskEmail(req.Email)), zap.Error(err))
		h.writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, issueResponse{
		Success:   true,
		Message:   "link_sent",
		ExpiresIn: result.ExpiresIn,
	})
}

// HandleSendToMobile handles POST /auth/send-to-mobile. The route sits
// behind the X-API-Key middleware; the emailhash proof is checked here since
// it covers the body.
func (h *AuthHandler) HandleSendToMobile(w http.ResponseWriter, r *http.Request) {
	var req sendToMobileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.PhoneNumber) == "" {
		writeError(w, http.StatusBadRequest, "email and phoneNumber are required", "")
		return
	}

	apiKey, err := h.keys.Get(r.Context(), secrets.MobileAPIKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	if !auth.VerifyEmailProof(apiKey, req.Email, req.EmailHash) {
		writeError(w, http.StatusForbidden, "invalid email proof", "")
		return
	}

	result, err := h.service.RequestMagicLink(r.Context(), auth.IssueRequest{
		Email:     req.Email,
		Phone:     req.PhoneNumber,
		Channel:   model.ChannelSMS,
		LinkType:  req.LinkType,
		App:       req.App,
		PageID:    req.PageID,
		Variables: req.Variables,
		IP:        clientIP(r),
	})
	if err != nil {
		h.log.Info("send-to-mobile rejected",
			zap.String("email", logging.MaskEmail(req.Email)), zap.Error(err))
		h.writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, issueResponse{
		Success:   true,
		Message:   "link_sent",
		ExpiresIn: result.ExpiresIn,
	})
}

// HandleVerifyMagicLink handles POST /auth/verify-magic-link
func (h *AuthHandler) HandleVerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	var req verifyMagicLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.Token == "" || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "token and deviceId are required", "")
		return
	}

	if !h.verifyLimiter.Allow(middleware.GetIPKey(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "")
		return
	}

	session, err := h.service.VerifyMagicLink(r.Context(), req.Token, req.DeviceID, clientIP(r))
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Success:   true,
		Token:     session.Credential,
		ExpiresAt: session.ExpiresAt.Unix(),
		User: &sessionUser{
			UserID: session.User.ID.String(),
			Email:  session.User.Email,
			Role:   string(session.User.Role),
		},
	})
}

// HandleRefreshToken handles POST /auth/refresh-token
func (h *AuthHandler) HandleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required", "")
		return
	}

	session, err := h.service.RefreshSession(r.Context(), req.Token, clientIP(r))
	if err != nil {
		// Credential problems are 401 on this endpoint, not 404.
		if errors.Is(err, auth.ErrTokenInvalid) || errors.Is(err, auth.ErrTokenExpired) {
			writeError(w, http.StatusUnauthorized, "invalid or expired token", "")
			return
		}
		h.writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Success:   true,
		Token:     session.Credential,
		ExpiresAt: session.ExpiresAt.Unix(),
	})
}

// HandleBackdoor handles POST /auth/authenticate-backdoor
func (h *AuthHandler) HandleBackdoor(w http.ResponseWriter, r *http.Request) {
	var req backdoorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	result, err := h.service.AuthenticateBackdoor(r.Context(), auth.BackdoorRequest{
		Email:        req.Email,
		Hash:         req.Hash,
		PasswordHash: req.PasswordHash,
		DeviceID:     req.DeviceID,
		IP:           clientIP(r),
	})
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	if result.RequiresPassword {
		writeJSON(w, http.StatusOK, map[string]bool{"requiresPassword": true})
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Success:   true,
		Token:     result.Session.Credential,
		ExpiresAt: result.Session.ExpiresAt.Unix(),
		User: &sessionUser{
			UserID: result.Session.User.ID.String(),
			Email:  result.Session.User.Email,
			Role:   string(result.Session.User.Role),
		},
	})
}

// HandleMe handles GET /me (requires a valid session).
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	writeJSON(w, http.StatusOK, sessionUser{
		UserID: user.ID.String(),
		Email:  user.Email,
		Role:   string(user.Role),
	})
}

// writeAuthError maps the service error taxonomy to HTTP responses. Messages
// stay generic enough to avoid confirming account existence beyond the
// documented categories.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, err error) {
	email := auth.RejectedEmail(err)

	switch {
	case errors.Is(err, auth.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid request", "")
	case errors.Is(err, auth.ErrNotApproved):
		writeError(w, http.StatusForbidden, "this address is not approved for access", "")
	case errors.Is(err, auth.ErrAccountDeactivated):
		writeError(w, http.StatusForbidden, "this account has been deactivated; contact your administrator to restore access", "")
	case errors.Is(err, auth.ErrAccountExpired):
		writeError(w, http.StatusForbidden, "this account has expired; contact your administrator to extend access", "")
	case errors.Is(err, auth.ErrTokenUsed):
		writeError(w, http.StatusBadRequest, "this sign-in link was already used; request a new one", email)
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusBadRequest, "this sign-in link has expired; request a new one", email)
	case errors.Is(err, auth.ErrTokenInvalid):
		writeError(w, http.StatusNotFound, "invalid sign-in link", "")
	case errors.Is(err, auth.ErrRegistrationBlocked):
		writeError(w, http.StatusForbidden, "this address is no longer approved for registration", "")
	case errors.Is(err, auth.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "access denied", "")
	case errors.Is(err, auth.ErrUpstreamDelivery):
		writeError(w, http.StatusInternalServerError, "could not deliver the sign-in link; try again shortly", "")
	default:
		h.log.Error("unhandled auth error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, email string) {
	writeJSON(w, status, errorResponse{Success: false, Error: message, Email: email})
}

// clientIP extracts the client IP from the request
func clientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	return r.RemoteAddr
}
