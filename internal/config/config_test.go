package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, time.Second, config.Chat.RateWindow)
	assert.Equal(t, 5, config.Chat.RateLimit)
	assert.Equal(t, 20, config.Chat.DefaultPageSize)
	assert.Equal(t, 100, config.Chat.MaxPageSize)
	assert.Equal(t, "0.0.0.0:8080", config.Address())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing section", func(c *Config) { c.Chat = nil }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"bad port", func(c *Config) { c.HTTP.Port = 70000 }},
		{"zero read timeout", func(c *Config) { c.HTTP.ReadTimeout = 0 }},
		{"ping after read deadline", func(c *Config) { c.WebSocket.PingInterval = c.WebSocket.ReadTimeout }},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"zero rate limit", func(c *Config) { c.Chat.RateLimit = 0 }},
		{"page sizes inverted", func(c *Config) { c.Chat.MaxPageSize = 10 }},
		{"empty secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MENTORMATRIX_HTTP_PORT", "9090")
	t.Setenv("MENTORMATRIX_DATABASE_PATH", "/tmp/test.db")
	t.Setenv("MENTORMATRIX_CHAT_RATE_LIMIT", "10")
	t.Setenv("MENTORMATRIX_CHAT_RATE_WINDOW", "2s")
	t.Setenv("MENTORMATRIX_HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MENTORMATRIX_WEBSOCKET_BUFFER_SIZE", "not-a-number")

	config := LoadFromEnv()

	assert.Equal(t, 9090, config.HTTP.Port)
	assert.Equal(t, "/tmp/test.db", config.Database.Path)
	assert.Equal(t, 10, config.Chat.RateLimit)
	assert.Equal(t, 2*time.Second, config.Chat.RateWindow)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, config.HTTP.AllowedOrigins)
	assert.Equal(t, 100, config.WebSocket.BufferSize, "malformed value keeps the default")
}

func TestLoadFromFile(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"database": {"path": "/var/lib/mm.db", "timeout": "5s"},
		"http": {"port": 3000},
		"chat": {"rate_limit": 3, "max_content_length": 500},
		"auth": {"jwt_secret": "file-secret", "token_ttl": "1h"},
		"log": {"format": "json"}
	}`)

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/mm.db", config.Database.Path)
	assert.Equal(t, 5*time.Second, config.Database.Timeout)
	assert.Equal(t, 3000, config.HTTP.Port)
	assert.Equal(t, "0.0.0.0", config.HTTP.Host)
	assert.Equal(t, 3, config.Chat.RateLimit)
	assert.Equal(t, 500, config.Chat.MaxContentLength)
	assert.Equal(t, "file-secret", config.Auth.JWTSecret)
	assert.Equal(t, time.Hour, config.Auth.TokenTTL)
	assert.Equal(t, "json", config.Log.Format)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeFile(t, "bad.json", `{not json`))
	assert.Error(t, err)

	_, err = LoadFromFile(writeFile(t, "dur.json", `{"chat": {"rate_window": "soon"}}`))
	assert.ErrorContains(t, err, "chat.rate_window")

	_, err = LoadFromFile(writeFile(t, "invalid.json", `{"log": {"format": "xml"}}`))
	assert.ErrorContains(t, err, "log format")
}

func TestLoadPrecedence(t *testing.T) {
	t.Setenv("MENTORMATRIX_HTTP_PORT", "9090")
	t.Setenv("MENTORMATRIX_DATABASE_PATH", "/env.db")
	path := writeFile(t, "config.json", `{"http": {"port": 7070}}`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, config.HTTP.Port, "file wins over env")
	assert.Equal(t, "/env.db", config.Database.Path, "env wins over defaults")

	t.Setenv("MENTORMATRIX_CONFIG_FILE", path)
	config, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, config.HTTP.Port)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("MENTORMATRIX_CONFIG_FILE", "")
	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, config.HTTP.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "MENTORMATRIX_LOG_LEVEL=debug\nMENTORMATRIX_HTTP_PORT=6060\n")
	t.Setenv("MENTORMATRIX_HTTP_PORT", "5050")
	t.Setenv("MENTORMATRIX_LOG_LEVEL", "")
	os.Unsetenv("MENTORMATRIX_LOG_LEVEL")

	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { os.Unsetenv("MENTORMATRIX_LOG_LEVEL") })

	config := LoadFromEnv()
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, 5050, config.HTTP.Port, "existing variables are not overridden")

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}
