package config

import (
	"fmt"
	"os"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string
	Environment string

	// SecretPrefix namespaces the env-backed secret vault.
	SecretPrefix string

	// PrivilegedDomain identities are auto-approved; everyone else needs a
	// whitelist entry.
	PrivilegedDomain string

	// AppScheme is the custom scheme for direct links (e.g. "linkpass://").
	AppScheme string
	// UniversalLinkBase is the HTTPS redirect page for universal links.
	UniversalLinkBase string
	// ShortLinkBase is the public base URL of the /s/{id} redirect endpoint.
	ShortLinkBase string

	EmailAPIURL string
	EmailFrom   string
	SMSAPIURL   string
	SMSFrom     string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:             "8080",
		Environment:      "development",
		SecretPrefix:     "SECRET_",
		PrivilegedDomain: "sigmacomputing.com",
		AppScheme:        "linkpass://",
		EmailFrom:        "login@linkpass.app",
		SMSFrom:          "+15550100000",
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL environment variable is required")
	}

	cfg.UniversalLinkBase = os.Getenv("UNIVERSAL_LINK_BASE")
	if cfg.UniversalLinkBase == "" {
		return nil, fmt.Errorf("UNIVERSAL_LINK_BASE environment variable is required")
	}

	cfg.ShortLinkBase = os.Getenv("SHORT_LINK_BASE")
	if cfg.ShortLinkBase == "" {
		cfg.ShortLinkBase = cfg.UniversalLinkBase
	}

	cfg.EmailAPIURL = os.Getenv("EMAIL_API_URL")
	if cfg.EmailAPIURL == "" {
		return nil, fmt.Errorf("EMAIL_API_URL environment variable is required")
	}

	cfg.SMSAPIURL = os.Getenv("SMS_API_URL")
	if cfg.SMSAPIURL == "" {
		return nil, fmt.Errorf("SMS_API_URL environment variable is required")
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Environment = env
	}
	if prefix := os.Getenv("SECRET_PREFIX"); prefix != "" {
		cfg.SecretPrefix = prefix
	}
	if domain := os.Getenv("PRIVILEGED_DOMAIN"); domain != "" {
		cfg.PrivilegedDomain = domain
	}
	if scheme := os.Getenv("APP_SCHEME"); scheme != "" {
		cfg.AppScheme = scheme
	}
	if from := os.Getenv("EMAIL_FROM"); from != "" {
		cfg.EmailFrom = from
	}
	if from := os.Getenv("SMS_FROM"); from != "" {
		cfg.SMSFrom = from
	}

	return cfg, nil
}
