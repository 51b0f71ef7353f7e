package cfg

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "BACKEND", "SLUG_LENGTH", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW", "TIMEZONE", "CLEANUP_INTERVAL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Port != "8080" || c.Backend != BackendSQLite {
		t.Errorf("unexpected port/backend %q/%q", c.Port, c.Backend)
	}
	if c.SlugLength != 8 || c.TokenBytes != 32 {
		t.Errorf("slug/token defaults wrong: %d/%d", c.SlugLength, c.TokenBytes)
	}
	if c.RateLimit.Requests != 10 || c.RateLimit.Window != time.Minute {
		t.Errorf("rate limit defaults wrong: %+v", c.RateLimit)
	}
	if c.CleanupInterval != 0 {
		t.Errorf("sweeper should be disabled by default, got %v", c.CleanupInterval)
	}
	if c.Location == nil {
		t.Error("location not resolved")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_WINDOW", "sixty")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "RATE_LIMIT_WINDOW") {
		t.Errorf("expected duration error, got %v", err)
	}
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("TIMEZONE", "Mars/Olympus_Mons")
	if _, err := Load(); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func validCfg() *Cfg {
	return &Cfg{
		Port:              "8080",
		Environment:       "test",
		Backend:           BackendMemory,
		SlugLength:        8,
		TokenBytes:        32,
		MaxTitleLength:    200,
		MaxLanguageLength: 64,
		RateLimit:         RateLimitCfg{Requests: 10, Window: time.Minute, MaxKeys: 100},
		ContextTimeout:    5 * time.Second,
		Location:          time.UTC,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Cfg)
		want   string
	}{
		{"ok", func(*Cfg) {}, ""},
		{"port", func(c *Cfg) { c.Port = "http" }, "PORT"},
		{"backend", func(c *Cfg) { c.Backend = "mongo" }, "BACKEND"},
		{"sqlite path", func(c *Cfg) { c.Backend = BackendSQLite }, "DATABASE_PATH"},
		{"postgres dsn", func(c *Cfg) { c.Backend = BackendPostgres }, "POSTGRES_DSN"},
		{"redis scheme", func(c *Cfg) { c.Backend = BackendRedis; c.RedisURL = "http://x" }, "REDIS_URL"},
		{"memory in prod", func(c *Cfg) { c.Environment = "production"; c.MetricsUser = "m"; c.MetricsPass = NewSecret("p") }, "memory"},
		{"slug length", func(c *Cfg) { c.SlugLength = 4 }, "SLUG_LENGTH"},
		{"token bytes", func(c *Cfg) { c.TokenBytes = 16 }, "TOKEN_BYTES"},
		{"pepper", func(c *Cfg) { c.TokenPepper = NewSecret(strings.Repeat("p", 65)) }, "TOKEN_PEPPER"},
		{"requests", func(c *Cfg) { c.RateLimit.Requests = 0 }, "RATE_LIMIT_REQUESTS"},
		{"window", func(c *Cfg) { c.RateLimit.Window = time.Millisecond }, "RATE_LIMIT_WINDOW"},
		{"global burst", func(c *Cfg) { c.RateLimit.GlobalRPS = 5 }, "RATE_LIMIT_GLOBAL_BURST"},
		{"proxy", func(c *Cfg) { c.TrustedProxies = []string{"10.0.0.0/99"} }, "TRUSTED_PROXIES"},
		{"cleanup", func(c *Cfg) { c.CleanupInterval = time.Second }, "CLEANUP_INTERVAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCfg()
			tt.mutate(c)
			err := Validate(c)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSecretRedacted(t *testing.T) {
	s := NewSecret("hunter2")
	if s.String() == "hunter2" {
		t.Error("secret printed in clear")
	}
	s.Wipe()
	if s.Value() == "hunter2" {
		t.Error("secret not wiped")
	}
}
