package cfg

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port              string
	Environment       string
	LogLevel          string
	Backend           string
	DatabasePath      string
	PostgresDSN       Secret
	RedisURL          string
	RedisUsername     string
	RedisPassword     Secret
	RedisTimeout      time.Duration
	RedisTLSCACert    string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBQueryTimeout    time.Duration
	SlugLength        int
	TokenBytes        int
	TokenPepper       Secret
	TimeZone          string
	Location          *time.Location
	MaxPasteSize      int64
	MaxTitleLength    int
	MaxLanguageLength int
	RateLimit         RateLimitCfg
	TrustedProxies    []string
	AllowedOrigins    []string
	MetricsUser       string
	MetricsPass       Secret
	ContextTimeout    time.Duration
	CleanupInterval   time.Duration
	ShutdownTimeout   time.Duration
}

type RateLimitCfg struct {
	Requests    int
	Window      time.Duration
	MaxKeys     int
	GlobalRPS   float64
	GlobalBurst int
}

func Load() (*Cfg, error) {
	c := &Cfg{}
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.Backend = strings.ToLower(getEnv("BACKEND", BackendSQLite))
	c.DatabasePath = getEnv("DATABASE_PATH", "slugbin.db")
	c.PostgresDSN = NewSecret(getEnv("POSTGRES_DSN", ""))
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.RedisTLSCACert = getEnv("REDIS_TLS_CA_CERT", "")
	c.TokenPepper = NewSecret(getEnv("TOKEN_PEPPER", ""))
	c.TimeZone = getEnv("TIMEZONE", "Local")
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{})
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))

	var err error
	if c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 25); err != nil {
		return nil, err
	}
	if c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 5); err != nil {
		return nil, err
	}
	if c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if c.SlugLength, err = getInt("SLUG_LENGTH", 8); err != nil {
		return nil, err
	}
	if c.TokenBytes, err = getInt("TOKEN_BYTES", 32); err != nil {
		return nil, err
	}
	if c.MaxPasteSize, err = getInt64("MAX_PASTE_SIZE", 0); err != nil {
		return nil, err
	}
	if c.MaxTitleLength, err = getInt("MAX_TITLE_LENGTH", 200); err != nil {
		return nil, err
	}
	if c.MaxLanguageLength, err = getInt("MAX_LANGUAGE_LENGTH", 64); err != nil {
		return nil, err
	}
	if c.RateLimit.Requests, err = getInt("RATE_LIMIT_REQUESTS", 10); err != nil {
		return nil, err
	}
	if c.RateLimit.Window, err = getDuration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if c.RateLimit.MaxKeys, err = getInt("RATE_LIMIT_MAX_KEYS", 10000); err != nil {
		return nil, err
	}
	if c.RateLimit.GlobalRPS, err = getFloat("RATE_LIMIT_GLOBAL_RPS", 0); err != nil {
		return nil, err
	}
	if c.RateLimit.GlobalBurst, err = getInt("RATE_LIMIT_GLOBAL_BURST", 0); err != nil {
		return nil, err
	}
	if c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if c.CleanupInterval, err = getDuration("CLEANUP_INTERVAL", 0); err != nil {
		return nil, err
	}
	if c.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	c.Location, err = time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.TimeZone, err)
	}
	return c, nil
}

func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	switch c.Backend {
	case BackendSQLite:
		if c.DatabasePath == "" {
			return errors.New("DATABASE_PATH is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.PostgresDSN.Value() == "" {
			return errors.New("POSTGRES_DSN is required for the postgres backend")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis backend")
		}
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
	case BackendMemory:
		if c.Environment == "production" {
			return errors.New("the memory backend is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown BACKEND %q", c.Backend)
	}
	if c.SlugLength < 6 || c.SlugLength > 64 {
		return errors.New("SLUG_LENGTH must be between 6 and 64")
	}
	if c.TokenBytes < 32 {
		return errors.New("TOKEN_BYTES must be >= 32")
	}
	if len(c.TokenPepper.Value()) > 64 {
		return errors.New("TOKEN_PEPPER must be at most 64 bytes")
	}
	if c.MaxPasteSize < 0 {
		return errors.New("MAX_PASTE_SIZE must not be negative")
	}
	if c.MaxTitleLength <= 0 || c.MaxLanguageLength <= 0 {
		return errors.New("MAX_TITLE_LENGTH and MAX_LANGUAGE_LENGTH must be positive")
	}
	if c.RateLimit.Requests <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS must be positive")
	}
	if c.RateLimit.Window < time.Second {
		return errors.New("RATE_LIMIT_WINDOW must be at least 1s")
	}
	if c.RateLimit.MaxKeys <= 0 {
		return errors.New("RATE_LIMIT_MAX_KEYS must be positive")
	}
	if c.RateLimit.GlobalRPS < 0 || c.RateLimit.GlobalBurst < 0 {
		return errors.New("RATE_LIMIT_GLOBAL_RPS and RATE_LIMIT_GLOBAL_BURST must not be negative")
	}
	if c.RateLimit.GlobalRPS > 0 && c.RateLimit.GlobalBurst == 0 {
		return errors.New("RATE_LIMIT_GLOBAL_BURST must be set when RATE_LIMIT_GLOBAL_RPS is enabled")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else if net.ParseIP(proxy) == nil {
			return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
		}
	}
	if c.ContextTimeout <= 0 {
		return errors.New("CONTEXT_TIMEOUT must be positive")
	}
	if c.CleanupInterval < 0 || (c.CleanupInterval > 0 && c.CleanupInterval < time.Minute) {
		return errors.New("CLEANUP_INTERVAL must be 0 (disabled) or at least 1m")
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}

func (c *Cfg) Wipe() {
	c.PostgresDSN.Wipe()
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
	c.TokenPepper.Wipe()
}

func (c *Cfg) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getFloat(key string, fallback float64) (float64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
