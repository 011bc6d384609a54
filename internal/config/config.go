// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session store backends accepted by SESSION_STORE.
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// DefaultPublicRoutes is the allow-list used when PUBLIC_ROUTES is unset. Every entry bypasses
// identity checks for itself and everything below it; review it whenever routes are added.
const DefaultPublicRoutes = "/,/sign-in,/sign-up,/api/auth,/api/sign-up,/api/invitations/validate,/healthz,/metrics,/static"

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the web server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the ops listener serving grpc.health.v1 (e.g. :9090). Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// BaseURL prefixes invitation links (<base-url>/sign-up/<token>).
	BaseURL string `mapstructure:"BASE_URL"`

	// SessionStore selects where sessions live: "postgres" (default) or "redis".
	SessionStore string `mapstructure:"SESSION_STORE"`
	// RedisAddr is host:port of Redis. Used by the redis session store and the rate limiter.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional Redis AUTH password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB is the Redis logical database index.
	RedisDB int `mapstructure:"REDIS_DB"`

	// SessionCookieName is the cookie carrying the opaque session token.
	SessionCookieName string `mapstructure:"SESSION_COOKIE_NAME"`
	// CookieSecure sets the Secure attribute on the session cookie.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`
	// SessionTTLRaw is the session lifetime (e.g. "720h").
	SessionTTLRaw string `mapstructure:"SESSION_TTL"`
	// SessionLookupTimeoutRaw bounds the single store round trip made per request (e.g. "2s").
	SessionLookupTimeoutRaw string `mapstructure:"SESSION_LOOKUP_TIMEOUT"`
	// InvitationTTLRaw is the invitation validity window (default 168h, 7 days).
	InvitationTTLRaw string `mapstructure:"INVITATION_TTL"`

	// PublicRoutes is a comma-separated list of path prefixes exempt from identity checks.
	PublicRoutes string `mapstructure:"PUBLIC_ROUTES"`
	// SignInPath is where unauthenticated page requests are redirected.
	SignInPath string `mapstructure:"SIGN_IN_PATH"`

	// RateLimitSignIn caps sign-in attempts per client IP per window. Zero disables it.
	RateLimitSignIn int `mapstructure:"RATE_LIMIT_SIGN_IN"`
	// RateLimitInvitations caps invitation validate and redeem calls per client IP per window.
	RateLimitInvitations int `mapstructure:"RATE_LIMIT_INVITATIONS"`
	// RateLimitWindowRaw is the fixed window for both limits (e.g. "1m").
	RateLimitWindowRaw string `mapstructure:"RATE_LIMIT_WINDOW"`
	// TrustedProxies is a comma-separated list of IPs or CIDRs whose X-Forwarded-For and X-Real-IP
	// headers are believed. Empty means the client IP is always the connection's remote address.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`
	// ShutdownDrainRaw bounds graceful shutdown of the listeners (e.g. "15s").
	ShutdownDrainRaw string `mapstructure:"SHUTDOWN_DRAIN"`

	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint. Empty installs no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext OTLP connection even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated broker list. When set, auth and invitation events are
	// also published to TelemetryKafkaTopic.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the topic receiving auth and invitation events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "text".
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("SESSION_STORE", SessionStorePostgres)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SESSION_COOKIE_NAME", "coachhub_session")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("SESSION_TTL", "720h")
	v.SetDefault("SESSION_LOOKUP_TIMEOUT", "2s")
	v.SetDefault("INVITATION_TTL", "168h") // 7d
	v.SetDefault("PUBLIC_ROUTES", DefaultPublicRoutes)
	v.SetDefault("SIGN_IN_PATH", "/sign-in")
	v.SetDefault("RATE_LIMIT_SIGN_IN", 10)
	v.SetDefault("RATE_LIMIT_INVITATIONS", 30)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("SHUTDOWN_DRAIN", "15s")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "coachhub.auth-events")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	switch cfg.SessionStore {
	case "":
		cfg.SessionStore = SessionStorePostgres
	case SessionStorePostgres:
	case SessionStoreRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.New("config: REDIS_ADDR must be set when SESSION_STORE=redis")
		}
	default:
		return nil, errors.New("config: SESSION_STORE must be postgres or redis")
	}

	if cfg.SignInPath == "" || !strings.HasPrefix(cfg.SignInPath, "/") {
		return nil, errors.New("config: SIGN_IN_PATH must be an absolute path")
	}

	if cfg.Env == "production" && !cfg.CookieSecure {
		return nil, errors.New("config: COOKIE_SECURE must be true when APP_ENV=production")
	}

	if cfg.RateLimitSignIn < 0 || cfg.RateLimitInvitations < 0 {
		return nil, errors.New("config: rate limits must not be negative")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// SessionTTL parses SessionTTLRaw. Returns 720h if unset or invalid.
func (c *Config) SessionTTL() time.Duration {
	return parseDuration(c.SessionTTLRaw, 720*time.Hour)
}

// SessionLookupTimeout parses SessionLookupTimeoutRaw. Returns 2s if unset or invalid.
func (c *Config) SessionLookupTimeout() time.Duration {
	return parseDuration(c.SessionLookupTimeoutRaw, 2*time.Second)
}

// InvitationTTL parses InvitationTTLRaw. Returns 168h if unset or invalid.
func (c *Config) InvitationTTL() time.Duration {
	return parseDuration(c.InvitationTTLRaw, 168*time.Hour)
}

// RateLimitWindow parses RateLimitWindowRaw. Returns 1m if unset or invalid.
func (c *Config) RateLimitWindow() time.Duration {
	return parseDuration(c.RateLimitWindowRaw, time.Minute)
}

// ShutdownDrain parses ShutdownDrainRaw. Returns 15s if unset or invalid.
func (c *Config) ShutdownDrain() time.Duration {
	return parseDuration(c.ShutdownDrainRaw, 15*time.Second)
}

// KafkaBrokerList returns the broker addresses from KafkaBrokers, or nil when unset.
func (c *Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

// TrustedProxyList returns the trusted proxy entries, or nil when unset.
func (c *Config) TrustedProxyList() []string {
	return splitList(c.TrustedProxies)
}

// PublicRouteList returns the public-route prefixes from the comma-separated config.
// Blank entries are dropped; entries without a leading slash get one.
func (c *Config) PublicRouteList() []string {
	if c == nil {
		return nil
	}
	out := splitList(c.PublicRoutes)
	for i, s := range out {
		if !strings.HasPrefix(s, "/") {
			out[i] = "/" + s
		}
	}
	return out
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
