package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

const secret = "0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(env(map[string]string{"JWT_SECRET": secret}))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "data/agents.db", cfg.DBPath)
	assert.Equal(t, "uploads", cfg.UploadDir)
	assert.Equal(t, 7*24*time.Hour, cfg.JWTTTL)
	assert.True(t, cfg.AllowRegistration)
	assert.Empty(t, cfg.AdminEmails)
	assert.Equal(t, 168*time.Hour, cfg.FeaturedRefresh)
	assert.Empty(t, cfg.YouTubeVideoIDs)
	assert.Equal(t, MetadataNone, cfg.MetadataProvider)
	assert.Equal(t, int64(2*1024*1024), cfg.MaxUploadBytes)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 20, cfg.AuthRateLimitPerMinute)
	assert.Equal(t, "http://localhost:8080/auth/github/callback", cfg.GitHubCallbackURL)
	assert.False(t, cfg.GitHubEnabled())
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(env(map[string]string{
		"JWT_SECRET":                 secret,
		"PORT":                       "9000",
		"JWT_TTL":                    "24h",
		"ALLOW_REGISTRATION":         "false",
		"ADMIN_EMAILS":               " root@example.com, ,ops@example.com ",
		"FEATURED_REFRESH_HOURS":     "2",
		"YOUTUBE_VIDEO_IDS":          "abc,def",
		"METADATA_PROVIDER":          "Markdown",
		"MAX_UPLOAD_BYTES":           "1024",
		"CORS_ORIGINS":               "https://a.example,https://b.example",
		"AUTH_RATE_LIMIT_PER_MINUTE": "5",
		"GITHUB_CLIENT_ID":           "id",
		"GITHUB_CLIENT_SECRET":       "shh",
		"LOG_LEVEL":                  "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.False(t, cfg.AllowRegistration)
	assert.Equal(t, []string{"root@example.com", "ops@example.com"}, cfg.AdminEmails)
	assert.Equal(t, 2*time.Hour, cfg.FeaturedRefresh)
	assert.Equal(t, []string{"abc", "def"}, cfg.YouTubeVideoIDs)
	assert.Equal(t, MetadataMarkdown, cfg.MetadataProvider)
	assert.Equal(t, int64(1024), cfg.MaxUploadBytes)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 5, cfg.AuthRateLimitPerMinute)
	assert.Equal(t, "http://localhost:9000/auth/github/callback", cfg.GitHubCallbackURL)
	assert.True(t, cfg.GitHubEnabled())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	_, err := load(env(map[string]string{
		"PORT":              "eighty",
		"JWT_TTL":           "forever",
		"METADATA_PROVIDER": "openai",
		"LOG_LEVEL":         "loud",
	}))
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{"JWT_SECRET", "PORT", "JWT_TTL", "METADATA_PROVIDER", "LOG_LEVEL"} {
		assert.Contains(t, msg, want)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"short secret", "JWT_SECRET", "short"},
		{"port out of range", "PORT", "70000"},
		{"zero refresh", "FEATURED_REFRESH_HOURS", "0"},
		{"zero upload size", "MAX_UPLOAD_BYTES", "0"},
		{"bad bool", "ALLOW_REGISTRATION", "maybe"},
		{"negative ttl", "JWT_TTL", "-1h"},
		{"zero rate limit", "AUTH_RATE_LIMIT_PER_MINUTE", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := map[string]string{"JWT_SECRET": secret, tt.key: tt.val}
			_, err := load(env(vars))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_BlankIsUnset(t *testing.T) {
	cfg, err := load(env(map[string]string{"JWT_SECRET": secret, "PORT": "  ", "CORS_ORIGINS": ""}))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}
