package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/linkpass/server/internal/model"
)

// ErrNotFound is returned when a token id resolves to nothing.
var ErrNotFound = errors.New("token not found")

const (
	tokenKeyPrefix    = "token:"
	identityKeyPrefix = "identity:"

	// Expired tokens are kept around briefly so verification can report
	// "expired" instead of "unknown". The TTL is the real garbage collector;
	// the engine never deletes rows itself.
	expiredRetention = 24 * time.Hour

	// identityTTL bounds how long a provisional user id is discoverable for
	// reuse across issuances.
	identityTTL = 14 * 24 * time.Hour
)

// ConsumeStatus is the outcome of the atomic mark-used operation.
type ConsumeStatus int

const (
	ConsumeNotFound ConsumeStatus = iota
	ConsumeWrongType
	ConsumeAlreadyUsed
	ConsumeExpired
	ConsumeOK
)

// consumeScript flips used=0->1 for a magic-link token in one atomic step,
// so two concurrent verifications of the same id yield exactly one success.
// Expiry is checked before the used flag: a token past its window always
// reports expired, whatever its used state.
var consumeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "token_type") ~= "magic_link" then
  return 1
end
local exp = tonumber(redis.call("HGET", KEYS[1], "expires_at"))
if exp == nil or exp <= tonumber(ARGV[1]) then
  return 3
end
if redis.call("HGET", KEYS[1], "used") == "1" then
  return 2
end
redis.call("HSET", KEYS[1], "used", "1", "used_at", ARGV[1], "device_id", ARGV[2])
return 4
`)

// TokenStore keeps all issued tokens in Redis hashes whose TTL matches the
// token's expiry window (plus a short retention tail for expired-vs-unknown
// reporting).
type TokenStore struct {
	rdb *redis.Client
}

// NewTokenStore creates a TokenStore on the given client.
func NewTokenStore(rdb *redis.Client) *TokenStore {
	return &TokenStore{rdb: rdb}
}

func tokenKey(id string) string    { return tokenKeyPrefix + id }
func identityKey(email string) string { return identityKeyPrefix + strings.ToLower(email) }

// Create persists the token and indexes its identity so later issuances can
// reuse the same provisional user id.
func (s *TokenStore) Create(ctx context.Context, t model.Token) error {
	fields := map[string]interface{}{
		"token_type": string(t.Type),
		"email":      strings.ToLower(t.Email),
		"user_id":    t.UserID.String(),
		"device_id":  t.DeviceID,
		"created_at": strconv.FormatInt(t.CreatedAt.Unix(), 10),
		"expires_at": strconv.FormatInt(t.ExpiresAt.Unix(), 10),
		"used":       boolField(t.Used),
		"credential": t.Credential,
		"channel":    string(t.Channel),
		"app":        t.App,
		"page_id":    t.PageID,
	}
	if t.UsedAt != nil {
		fields["used_at"] = strconv.FormatInt(t.UsedAt.Unix(), 10)
	}
	if len(t.Variables) > 0 {
		vars, err := json.Marshal(t.Variables)
		if err != nil {
			return fmt.Errorf("marshal token variables: %w", err)
		}
		fields["variables"] = string(vars)
	}

	key := tokenKey(t.ID)
	ttl := time.Until(t.ExpiresAt) + expiredRetention

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	if t.Email != "" {
		pipe.Set(ctx, identityKey(t.Email), t.UserID.String(), identityTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

// Get returns the token record, or ErrNotFound.
func (s *TokenStore) Get(ctx context.Context, id string) (model.Token, error) {
	fields, err := s.rdb.HGetAll(ctx, tokenKey(id)).Result()
	if err != nil {
		return model.Token{}, fmt.Errorf("load token: %w", err)
	}
	if len(fields) == 0 {
		return model.Token{}, ErrNotFound
	}
	return decodeToken(id, fields)
}

// Consume atomically marks a magic-link token used and stamps the device id.
// Exactly one of any set of concurrent calls for the same id returns
// ConsumeOK.
func (s *TokenStore) Consume(ctx context.Context, id, deviceID string, now time.Time) (ConsumeStatus, error) {
	res, err := consumeScript.Run(ctx, s.rdb,
		[]string{tokenKey(id)},
		strconv.FormatInt(now.Unix(), 10),
		deviceID,
	).Int64()
	if err != nil {
		return ConsumeNotFound, fmt.Errorf("consume token: %w", err)
	}
	switch res {
	case 0:
		return ConsumeNotFound, nil
	case 1:
		return ConsumeWrongType, nil
	case 2:
		return ConsumeAlreadyUsed, nil
	case 3:
		return ConsumeExpired, nil
	case 4:
		return ConsumeOK, nil
	default:
		return ConsumeNotFound, fmt.Errorf("unexpected consume status %d", res)
	}
}

// KnownUserID returns the provisional user id most recently associated with
// the identity, if one is still discoverable.
func (s *TokenStore) KnownUserID(ctx context.Context, email string) (uuid.UUID, bool, error) {
	v, err := s.rdb.Get(ctx, identityKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("load identity index: %w", err)
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, false, nil
	}
	return id, true, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func decodeToken(id string, fields map[string]string) (model.Token, error) {
	t := model.Token{
		ID:         id,
		Type:       model.TokenType(fields["token_type"]),
		Email:      fields["email"],
		DeviceID:   fields["device_id"],
		Used:       fields["used"] == "1",
		Credential: fields["credential"],
		Channel:    model.Channel(fields["channel"]),
		App:        fields["app"],
		PageID:     fields["page_id"],
	}

	if v := fields["user_id"]; v != "" {
		parsed, err := uuid.Parse(v)
		if err != nil {
			return model.Token{}, fmt.Errorf("parse token user id: %w", err)
		}
		t.UserID = parsed
	}

	createdAt, err := parseUnixField(fields, "created_at")
	if err != nil {
		return model.Token{}, err
	}
	t.CreatedAt = createdAt

	expiresAt, err := parseUnixField(fields, "expires_at")
	if err != nil {
		return model.Token{}, err
	}
	t.ExpiresAt = expiresAt

	if v := fields["used_at"]; v != "" {
		usedAt, err := parseUnixField(fields, "used_at")
		if err != nil {
			return model.Token{}, err
		}
		t.UsedAt = &usedAt
	}

	if v := fields["variables"]; v != "" {
		if err := json.Unmarshal([]byte(v), &t.Variables); err != nil {
			return model.Token{}, fmt.Errorf("unmarshal token variables: %w", err)
		}
	}

	return t, nil
}

func parseUnixField(fields map[string]string, name string) (time.Time, error) {
	v := fields[name]
	if v == "" {
		return time.Time{}, fmt.Errorf("token field %q missing", name)
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse token field %q: %w", name, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}
