// Package config loads the server configuration from environment
// variables.
//
// Every variable is read in one pass and every problem is collected, so a
// misconfigured deployment reports all of its mistakes at once instead of
// one per restart.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Metadata providers accepted in METADATA_PROVIDER.
const (
	MetadataNone     = "none"
	MetadataMarkdown = "markdown"
)

// MinJWTSecretLength matches the check in auth.NewTokenService.
const MinJWTSecretLength = 16

// Config is the complete server configuration.
type Config struct {
	Port      int
	DBPath    string
	UploadDir string

	JWTSecret         string
	JWTTTL            time.Duration
	AllowRegistration bool
	AdminEmails       []string

	FeaturedRefresh time.Duration
	YouTubeVideoIDs []string

	MetadataProvider string
	MaxUploadBytes   int64

	CORSOrigins            []string
	AuthRateLimitPerMinute int

	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string

	LogLevel slog.Level
}

// GitHubEnabled reports whether GitHub sign-in is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	return load(os.LookupEnv)
}

// load takes the lookup function so tests don't touch the real environment.
func load(lookup func(string) (string, bool)) (*Config, error) {
	l := loader{lookup: lookup}

	cfg := &Config{
		Port:      l.int("PORT", 8080),
		DBPath:    l.string("DB_PATH", "data/agents.db"),
		UploadDir: l.string("UPLOAD_DIR", "uploads"),

		JWTSecret:         l.required("JWT_SECRET"),
		JWTTTL:            l.duration("JWT_TTL", 7*24*time.Hour),
		AllowRegistration: l.bool("ALLOW_REGISTRATION", true),
		AdminEmails:       l.list("ADMIN_EMAILS", nil),

		FeaturedRefresh: time.Duration(l.int("FEATURED_REFRESH_HOURS", 168)) * time.Hour,
		YouTubeVideoIDs: l.list("YOUTUBE_VIDEO_IDS", nil),

		MetadataProvider: strings.ToLower(l.string("METADATA_PROVIDER", MetadataNone)),
		MaxUploadBytes:   int64(l.int("MAX_UPLOAD_BYTES", 2<<20)),

		CORSOrigins:            l.list("CORS_ORIGINS", []string{"*"}),
		AuthRateLimitPerMinute: l.int("AUTH_RATE_LIMIT_PER_MINUTE", 20),

		GitHubClientID:     l.string("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: l.string("GITHUB_CLIENT_SECRET", ""),
		GitHubCallbackURL:  l.string("GITHUB_CALLBACK_URL", ""),

		LogLevel: l.level("LOG_LEVEL", slog.LevelInfo),
	}

	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < MinJWTSecretLength {
		l.fail("JWT_SECRET must be at least %d characters", MinJWTSecretLength)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		l.fail("PORT must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.FeaturedRefresh <= 0 {
		l.fail("FEATURED_REFRESH_HOURS must be positive")
	}
	if cfg.MaxUploadBytes <= 0 {
		l.fail("MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.AuthRateLimitPerMinute <= 0 {
		l.fail("AUTH_RATE_LIMIT_PER_MINUTE must be positive")
	}
	switch cfg.MetadataProvider {
	case MetadataNone, MetadataMarkdown:
	default:
		l.fail("METADATA_PROVIDER must be %q or %q, got %q", MetadataNone, MetadataMarkdown, cfg.MetadataProvider)
	}
	if cfg.GitHubCallbackURL == "" {
		cfg.GitHubCallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Port)
	}

	if len(l.errors) > 0 {
		return nil, fmt.Errorf("configuration errors:\n- %s", strings.Join(l.errors, "\n- "))
	}
	return cfg, nil
}

// loader reads typed values and collects every parse failure.
type loader struct {
	lookup func(string) (string, bool)
	errors []string
}

func (l *loader) fail(format string, args ...any) {
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
}

// value returns the trimmed variable; unset and blank are the same.
func (l *loader) value(key string) (string, bool) {
	v, ok := l.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (l *loader) required(key string) string {
	v, ok := l.value(key)
	if !ok {
		l.fail("missing required environment variable: %s", key)
	}
	return v
}

func (l *loader) string(key, def string) string {
	if v, ok := l.value(key); ok {
		return v
	}
	return def
}

func (l *loader) int(key string, def int) int {
	v, ok := l.value(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail("invalid value for %s: expected integer, got %q", key, v)
		return def
	}
	return n
}

func (l *loader) bool(key string, def bool) bool {
	v, ok := l.value(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail("invalid value for %s: expected true or false, got %q", key, v)
		return def
	}
	return b
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v, ok := l.value(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		l.fail("invalid value for %s: expected positive duration such as 168h, got %q", key, v)
		return def
	}
	return d
}

func (l *loader) list(key string, def []string) []string {
	v, ok := l.value(key)
	if !ok {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (l *loader) level(key string, def slog.Level) slog.Level {
	v, ok := l.value(key)
	if !ok {
		return def
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		l.fail("invalid value for %s: expected debug, info, warn or error, got %q", key, v)
		return def
	}
	return level
}
