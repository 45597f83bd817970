package shortlink

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/linkpass/server/internal/model"
)

// ErrNotFound is returned when a short id is unknown or its TTL has elapsed.
var ErrNotFound = errors.New("short link not found")

// ErrIDSpaceExhausted is returned when every allocation attempt collided.
var ErrIDSpaceExhausted = errors.New("short link id allocation exhausted")

const (
	keyPrefix   = "shortlink:"
	idLength    = 6
	maxAttempts = 5

	base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

type record struct {
	FullURL   string `json:"full_url"`
	TokenID   string `json:"token_id"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// Service allocates and resolves short ids backed by Redis. Allocation is
// optimistic: SETNX detects a collision and a bounded retry picks a new id.
type Service struct {
	rdb *redis.Client

	now        func() time.Time
	generateID func() (string, error)
}

// NewService creates a short-link service on the given client.
func NewService(rdb *redis.Client) *Service {
	return &Service{
		rdb:        rdb,
		now:        time.Now,
		generateID: randomID,
	}
}

// Create allocates a fresh short id wrapping fullURL. The record's TTL
// matches the originating token's remaining window.
func (s *Service) Create(ctx context.Context, fullURL, tokenID string, expiresAt time.Time) (model.ShortLink, error) {
	now := s.now().UTC()
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return model.ShortLink{}, fmt.Errorf("short link would already be expired")
	}

	payload, err := json.Marshal(record{
		FullURL:   fullURL,
		TokenID:   tokenID,
		CreatedAt: now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	})
	if err != nil {
		return model.ShortLink{}, fmt.Errorf("marshal short link: %w", err)
	}

	var shortID string
	backoff := retry.WithMaxRetries(maxAttempts-1, retry.NewConstant(time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		id, err := s.generateID()
		if err != nil {
			return err
		}
		ok, err := s.rdb.SetNX(ctx, keyPrefix+id, payload, ttl).Result()
		if err != nil {
			return fmt.Errorf("allocate short id: %w", err)
		}
		if !ok {
			// Collision: retry with a new id.
			return retry.RetryableError(ErrIDSpaceExhausted)
		}
		shortID = id
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrIDSpaceExhausted) {
			return model.ShortLink{}, fmt.Errorf("%w after %d attempts", ErrIDSpaceExhausted, maxAttempts)
		}
		return model.ShortLink{}, err
	}

	return model.ShortLink{
		ShortID:   shortID,
		FullURL:   fullURL,
		TokenID:   tokenID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}, nil
}

// Resolve returns the full URL for the short id, or ErrNotFound. An id whose
// TTL elapsed is indistinguishable from one that never existed.
func (s *Service) Resolve(ctx context.Context, shortID string) (string, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+shortID).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load short link: %w", err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", fmt.Errorf("unmarshal short link: %w", err)
	}
	if rec.FullURL == "" {
		return "", ErrNotFound
	}
	return rec.FullURL, nil
}

// randomID returns a 6-character base62 id from crypto/rand. Bytes at or
// above 248 (= 4*62) are rejected so the modulo stays uniform over the
// alphabet.
func randomID() (string, error) {
	const limit = byte(4 * len(base62Alphabet))

	id := make([]byte, 0, idLength)
	buf := make([]byte, 2*idLength)
	for len(id) < idLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate short id: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			id = append(id, base62Alphabet[int(b)%len(base62Alphabet)])
			if len(id) == idLength {
				break
			}
		}
	}
	return string(id), nil
}
