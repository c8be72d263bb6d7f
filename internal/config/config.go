// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/ericfisherdev/ratingsync/internal/domain/model"
)

// Prefix is prepended to every environment variable name.
const Prefix = "RATINGSYNC_"

// Supported credential store backends.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:"127.0.0.1:8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	Store       string `env:"STORE" envDefault:"sqlite"`
	DBPath      string `env:"DB_PATH" envDefault:"ratingsync.db"`
	PostgresURL string `env:"POSTGRES_URL"`
	// SecretKeyHex is the 64-character hex encoding of the AES-256 key that
	// seals access tokens at rest.
	SecretKeyHex string `env:"SECRET_KEY,unset"`

	APIKey     string        `env:"SHOPIFY_API_KEY"`
	APISecret  string        `env:"SHOPIFY_API_SECRET,unset"`
	Scopes     []string      `env:"SHOPIFY_SCOPES" envDefault:"read_products,write_products" envSeparator:","`
	APIVersion string        `env:"SHOPIFY_API_VERSION" envDefault:"2025-01"`
	AppURL     string        `env:"APP_URL"`
	Timeout    time.Duration `env:"SHOPIFY_TIMEOUT" envDefault:"15s"`
	RPS        float64       `env:"SHOPIFY_RPS" envDefault:"2"`
	Burst      int           `env:"SHOPIFY_BURST" envDefault:"10"`

	// ShopDomain and ShopAccessToken configure single-tenant mode: the
	// credential is installed at startup and no OAuth round trip is needed.
	// ShopDomain is also the default tenant for storefront requests.
	ShopDomain      string `env:"SHOP_DOMAIN"`
	ShopAccessToken string `env:"SHOP_ACCESS_TOKEN,unset"`

	VerifyCallback       bool          `env:"VERIFY_CALLBACK" envDefault:"true"`
	SerializeSubmissions bool          `env:"SERIALIZE_SUBMISSIONS" envDefault:"false"`
	OAuthStateTTL        time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`
	CORSOrigins          []string      `env:"CORS_ORIGINS" envSeparator:","`

	// SecretKey is decoded from SecretKeyHex by Load.
	SecretKey []byte
}

// MultiTenant reports whether the OAuth install flow is configured.
func (c *Config) MultiTenant() bool {
	return c.APIKey != "" && c.APISecret != "" && c.AppURL != ""
}

// SingleTenant reports whether a fixed shop credential is configured.
func (c *Config) SingleTenant() bool {
	return c.ShopDomain != "" && c.ShopAccessToken != ""
}

// RedirectURL is the OAuth callback registered with the platform.
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.AppURL, "/") + "/auth/callback"
}

// SlogLevel maps LogLevel onto slog levels. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration from environment variables, after loading a .env
// file from the working directory if one exists, and returns a validated
// Config. Every variable is read with the RATINGSYNC_ prefix.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	key, err := decodeSecretKey(c.SecretKeyHex)
	if err != nil {
		return err
	}
	c.SecretKey = key

	switch c.Store {
	case StoreSQLite:
		if c.DBPath == "" {
			return errors.New(Prefix + "DB_PATH must not be empty")
		}
	case StorePostgres:
		if c.PostgresURL == "" {
			return errors.New(Prefix + "POSTGRES_URL is required when " + Prefix + "STORE=postgres")
		}
	default:
		return fmt.Errorf("%sSTORE must be %q or %q, got %q", Prefix, StoreSQLite, StorePostgres, c.Store)
	}

	c.Scopes = trimAll(c.Scopes)
	c.CORSOrigins = trimAll(c.CORSOrigins)
	c.ShopDomain = model.NormalizeShopDomain(c.ShopDomain)

	partialOAuth := (c.APIKey != "" || c.APISecret != "" || c.AppURL != "") && !c.MultiTenant()
	if partialOAuth {
		return errors.New(Prefix + "SHOPIFY_API_KEY, " + Prefix + "SHOPIFY_API_SECRET and " + Prefix + "APP_URL must be set together")
	}
	if c.ShopAccessToken != "" && c.ShopDomain == "" {
		return errors.New(Prefix + "SHOP_ACCESS_TOKEN requires " + Prefix + "SHOP_DOMAIN")
	}
	if !c.MultiTenant() && !c.SingleTenant() {
		return errors.New("no shop access configured: set " + Prefix + "SHOPIFY_API_KEY/" + Prefix +
			"SHOPIFY_API_SECRET/" + Prefix + "APP_URL for OAuth installs, or " + Prefix + "SHOP_DOMAIN/" +
			Prefix + "SHOP_ACCESS_TOKEN for a single shop")
	}

	if c.ShopDomain != "" {
		if err := model.ValidateShopDomain(c.ShopDomain); err != nil {
			return fmt.Errorf("%sSHOP_DOMAIN: %w", Prefix, err)
		}
	}
	if c.AppURL != "" {
		u, err := url.Parse(c.AppURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%sAPP_URL must be an absolute URL, got %q", Prefix, c.AppURL)
		}
	}
	if c.MultiTenant() && len(c.Scopes) == 0 {
		return errors.New(Prefix + "SHOPIFY_SCOPES must not be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%sSHOPIFY_TIMEOUT must be positive, got %s", Prefix, c.Timeout)
	}
	if c.OAuthStateTTL <= 0 {
		return fmt.Errorf("%sOAUTH_STATE_TTL must be positive, got %s", Prefix, c.OAuthStateTTL)
	}
	if c.RPS < 0 {
		return fmt.Errorf("%sSHOPIFY_RPS must not be negative, got %v", Prefix, c.RPS)
	}
	return nil
}

func decodeSecretKey(v string) ([]byte, error) {
	if v == "" {
		return nil, errors.New(Prefix + "SECRET_KEY is required (64 hex characters)")
	}
	key, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%sSECRET_KEY is not valid hex: %w", Prefix, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%sSECRET_KEY must decode to 32 bytes, got %d", Prefix, len(key))
	}
	return key, nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
