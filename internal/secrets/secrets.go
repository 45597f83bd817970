package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Well-known secret names. The vault backing these is deployment-specific;
// the engine only ever asks for them by name.
const (
	SessionSigningKey = "session-signing-key"
	MobileAPIKey      = "mobile-api-key"
	BackdoorSecret    = "backdoor-secret"
	SMSProviderKey    = "sms-provider-key"
	EmailProviderKey  = "email-provider-key"
)

// Provider fetches a named secret from a vault.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
}

// Cache memoizes secrets for the life of the process. Rotation requires an
// explicit Invalidate call (or a restart); there is no background refresh.
type Cache struct {
	provider Provider

	mu     sync.RWMutex
	values map[string]string
}

// NewCache wraps a provider with process-lifetime memoization.
func NewCache(provider Provider) *Cache {
	return &Cache{
		provider: provider,
		values:   make(map[string]string),
	}
}

// Get returns the cached value, fetching it from the vault on first use.
func (c *Cache) Get(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	v, ok := c.values[name]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err := c.provider.Get(ctx, name)
	if err != nil {
		return "", fmt.Errorf("fetch secret %q: %w", name, err)
	}

	c.mu.Lock()
	c.values[name] = v
	c.mu.Unlock()
	return v, nil
}

// Invalidate drops a cached value so the next Get refetches it. With an
// empty name the whole cache is dropped.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" {
		c.values = make(map[string]string)
		return
	}
	delete(c.values, name)
}

// EnvVault resolves secrets from environment variables: the secret name is
// upper-cased, dashes become underscores, and the configured prefix is
// prepended ("session-signing-key" -> "SECRET_SESSION_SIGNING_KEY").
type EnvVault struct {
	Prefix string
}

// Get implements Provider.
func (v EnvVault) Get(_ context.Context, name string) (string, error) {
	key := v.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("secret %q not set (env %s)", name, key)
	}
	return value, nil
}

// Static is a fixed-map provider for tests.
type Static map[string]string

// Get implements Provider.
func (s Static) Get(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("secret %q not found", name)
	}
	return v, nil
}
