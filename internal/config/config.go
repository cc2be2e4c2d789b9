// Package config holds the process-wide configuration. It is loaded once at
// start-up and passed by pointer to the components that need it; nothing
// else in the module reads the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "LUMEN"

const (
	VerifierJWT  = "jwt"
	VerifierOIDC = "oidc"
)

// ErrInvalid is wrapped by every validation failure returned from Load.
var ErrInvalid = errors.New("config: invalid")

type Config struct {
	HTTP        HTTPConfig
	Log         LogConfig
	Store       StoreConfig
	Auth        AuthConfig
	Eligibility EligibilityConfig
}

type HTTPConfig struct {
	Addr            string
	MaxBodyBytes    int64
	RateBurst       int
	RatePerSecond   int
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// StoreConfig describes the backing Postgres database. PrivilegedRole must
// bypass row-level security; ScopedRole must not.
type StoreConfig struct {
	DSN            string
	PrivilegedRole string
	ScopedRole     string
	MaxOpenConns   int
}

type AuthConfig struct {
	// ServiceKeyHeader carries the shared secret for machine-to-machine calls.
	ServiceKeyHeader string
	// ServiceKey is compared verbatim; empty disables service credentials.
	ServiceKey string

	Verifier string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	OIDCIssuerURL string
	OIDCClientID  string
}

type EligibilityConfig struct {
	Jurisdictions []string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.max_body_bytes", int64(1<<20))
	v.SetDefault("http.rate_burst", 20)
	v.SetDefault("http.rate_per_second", 10)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.privileged_role", "service_role")
	v.SetDefault("store.scoped_role", "authenticated")
	v.SetDefault("store.max_open_conns", 10)
	v.SetDefault("auth.service_key_header", "X-Service-Key")
	v.SetDefault("auth.verifier", VerifierJWT)
	v.SetDefault("eligibility.jurisdictions", []string{"AZ"})
}

// NewViper returns a viper instance bound to LUMEN_* environment variables
// with defaults applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load builds and validates a Config from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:            strings.TrimSpace(v.GetString("http.addr")),
			MaxBodyBytes:    v.GetInt64("http.max_body_bytes"),
			RateBurst:       v.GetInt("http.rate_burst"),
			RatePerSecond:   v.GetInt("http.rate_per_second"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(strings.TrimSpace(v.GetString("log.level"))),
			Format: strings.ToLower(strings.TrimSpace(v.GetString("log.format"))),
		},
		Store: StoreConfig{
			DSN:            strings.TrimSpace(v.GetString("store.dsn")),
			PrivilegedRole: strings.TrimSpace(v.GetString("store.privileged_role")),
			ScopedRole:     strings.TrimSpace(v.GetString("store.scoped_role")),
			MaxOpenConns:   v.GetInt("store.max_open_conns"),
		},
		Auth: AuthConfig{
			ServiceKeyHeader: strings.TrimSpace(v.GetString("auth.service_key_header")),
			ServiceKey:       v.GetString("auth.service_key"),
			Verifier:         strings.ToLower(strings.TrimSpace(v.GetString("auth.verifier"))),
			JWTSecret:        v.GetString("auth.jwt_secret"),
			JWTIssuer:        strings.TrimSpace(v.GetString("auth.jwt_issuer")),
			JWTAudience:      strings.TrimSpace(v.GetString("auth.jwt_audience")),
			OIDCIssuerURL:    strings.TrimSpace(v.GetString("auth.oidc_issuer_url")),
			OIDCClientID:     strings.TrimSpace(v.GetString("auth.oidc_client_id")),
		},
		Eligibility: EligibilityConfig{
			Jurisdictions: splitList(v.GetStringSlice("eligibility.jurisdictions")),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first missing or inconsistent value.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return invalid("http.addr is required")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return invalid("http.max_body_bytes must be positive")
	}
	if c.HTTP.RateBurst <= 0 || c.HTTP.RatePerSecond <= 0 {
		return invalid("http.rate_burst and http.rate_per_second must be positive")
	}
	if c.Store.DSN == "" {
		return invalid("store.dsn is required")
	}
	if c.Store.PrivilegedRole == "" || c.Store.ScopedRole == "" {
		return invalid("store.privileged_role and store.scoped_role are required")
	}
	if c.Store.PrivilegedRole == c.Store.ScopedRole {
		return invalid("store.privileged_role and store.scoped_role must differ")
	}
	if c.Auth.ServiceKeyHeader == "" {
		return invalid("auth.service_key_header is required")
	}
	switch c.Auth.Verifier {
	case VerifierJWT:
		if c.Auth.JWTSecret == "" {
			return invalid("auth.jwt_secret is required for the jwt verifier")
		}
	case VerifierOIDC:
		if c.Auth.OIDCIssuerURL == "" || c.Auth.OIDCClientID == "" {
			return invalid("auth.oidc_issuer_url and auth.oidc_client_id are required for the oidc verifier")
		}
	default:
		return invalid(fmt.Sprintf("unknown auth.verifier %q", c.Auth.Verifier))
	}
	if len(c.Eligibility.Jurisdictions) == 0 {
		return invalid("eligibility.jurisdictions must list at least one code")
	}
	return nil
}

// ServiceCredentialsEnabled reports whether a shared secret is configured.
func (c *Config) ServiceCredentialsEnabled() bool {
	return c.Auth.ServiceKey != ""
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalid, msg)
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(raw []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}
