// Package config loads server settings from defaults, the environment
// (optionally seeded from a .env file) and a JSON file, in that order.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "MENTORMATRIX_"

// DefaultJWTSecret is only suitable for local development.
const DefaultJWTSecret = "mentormatrix-dev-secret"

// ARCHITECTURAL DISCOVERY: one struct per concern, assembled in internal/app
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Chat      *ChatConfig      `json:"chat"`
	Auth      *AuthConfig      `json:"auth"`
	Log       *LogConfig       `json:"log"`
}

type DatabaseConfig struct {
	Path           string        `json:"path"`
	Timeout        time.Duration `json:"timeout"`
	MaxConnections int           `json:"max_connections"`
}

type HTTPConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	AllowedOrigins  []string      `json:"allowed_origins"`
}

type WebSocketConfig struct {
	PingInterval    time.Duration `json:"ping_interval"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	BufferSize      int           `json:"buffer_size"`
	MaxMessageBytes int64         `json:"max_message_bytes"`
}

// ChatConfig holds the per-connection send limit and message constraints.
type ChatConfig struct {
	RateWindow       time.Duration `json:"rate_window"`
	RateLimit        int           `json:"rate_limit"`
	MaxContentLength int           `json:"max_content_length"`
	DefaultPageSize  int           `json:"default_page_size"`
	MaxPageSize      int           `json:"max_page_size"`
}

type AuthConfig struct {
	JWTSecret string        `json:"jwt_secret"`
	TokenTTL  time.Duration `json:"token_ttl"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// FUNCTIONAL DISCOVERY: five sends per second per connection is the chat
// flood limit; history pages default to 20 and never exceed 100
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./data/mentormatrix.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    5 * time.Second,
			BufferSize:      100,
			MaxMessageBytes: 64 * 1024,
		},
		Chat: &ChatConfig{
			RateWindow:       time.Second,
			RateLimit:        5,
			MaxContentLength: 2000,
			DefaultPageSize:  20,
			MaxPageSize:      100,
		},
		Auth: &AuthConfig{
			JWTSecret: DefaultJWTSecret,
			TokenTTL:  24 * time.Hour,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Address is the host:port the HTTP server listens on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Chat == nil || c.Auth == nil || c.Log == nil {
		return fmt.Errorf("every configuration section is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	// port 0 binds an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		return fmt.Errorf("WebSocket ping interval must be shorter than the read timeout")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WebSocket max message bytes must be positive")
	}

	if c.Chat.RateWindow <= 0 || c.Chat.RateLimit <= 0 {
		return fmt.Errorf("chat rate window and limit must be positive")
	}
	if c.Chat.MaxContentLength <= 0 {
		return fmt.Errorf("chat max content length must be positive")
	}
	if c.Chat.DefaultPageSize <= 0 || c.Chat.MaxPageSize < c.Chat.DefaultPageSize {
		return fmt.Errorf("chat page sizes must satisfy 0 < default <= max")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret cannot be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json")
	}

	return nil
}

// LoadDotEnv loads path (".env" when empty) into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv applies MENTORMATRIX_* variables on top of the defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envString("DATABASE_PATH", &config.Database.Path)
	envDuration("DATABASE_TIMEOUT", &config.Database.Timeout)
	envInt("DATABASE_MAX_CONNECTIONS", &config.Database.MaxConnections)

	envString("HTTP_HOST", &config.HTTP.Host)
	envInt("HTTP_PORT", &config.HTTP.Port)
	envDuration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &config.HTTP.ShutdownTimeout)
	if origins := os.Getenv(EnvPrefix + "HTTP_ALLOWED_ORIGINS"); origins != "" {
		config.HTTP.AllowedOrigins = splitList(origins)
	}

	envDuration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)

	envDuration("CHAT_RATE_WINDOW", &config.Chat.RateWindow)
	envInt("CHAT_RATE_LIMIT", &config.Chat.RateLimit)
	envInt("CHAT_MAX_CONTENT_LENGTH", &config.Chat.MaxContentLength)
	envInt("CHAT_DEFAULT_PAGE_SIZE", &config.Chat.DefaultPageSize)
	envInt("CHAT_MAX_PAGE_SIZE", &config.Chat.MaxPageSize)

	envString("JWT_SECRET", &config.Auth.JWTSecret)
	envDuration("TOKEN_TTL", &config.Auth.TokenTTL)

	envString("LOG_LEVEL", &config.Log.Level)
	envString("LOG_FORMAT", &config.Log.Format)
}

// Malformed numbers and durations are ignored and the previous value kept.
func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FUNCTIONAL DISCOVERY: the file format spells durations as strings ("30s")
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Chat      *ChatConfigFile      `json:"chat"`
	Auth      *AuthConfigFile      `json:"auth"`
	Log       *LogConfig           `json:"log"`
}

type DatabaseConfigFile struct {
	Path           string `json:"path"`
	Timeout        string `json:"timeout"`
	MaxConnections int    `json:"max_connections"`
}

type HTTPConfigFile struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	ReadTimeout     string   `json:"read_timeout"`
	WriteTimeout    string   `json:"write_timeout"`
	ShutdownTimeout string   `json:"shutdown_timeout"`
	AllowedOrigins  []string `json:"allowed_origins"`
}

type WebSocketConfigFile struct {
	PingInterval    string `json:"ping_interval"`
	ReadTimeout     string `json:"read_timeout"`
	WriteTimeout    string `json:"write_timeout"`
	BufferSize      int    `json:"buffer_size"`
	MaxMessageBytes int64  `json:"max_message_bytes"`
}

type ChatConfigFile struct {
	RateWindow       string `json:"rate_window"`
	RateLimit        int    `json:"rate_limit"`
	MaxContentLength int    `json:"max_content_length"`
	DefaultPageSize  int    `json:"default_page_size"`
	MaxPageSize      int    `json:"max_page_size"`
}

type AuthConfigFile struct {
	JWTSecret string `json:"jwt_secret"`
	TokenTTL  string `json:"token_ttl"`
}

// LoadFromFile reads filepath on top of the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	var errs []error
	duration := func(name, value string, dst *time.Duration) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}

	if f := file.Database; f != nil {
		setString(&config.Database.Path, f.Path)
		duration("database.timeout", f.Timeout, &config.Database.Timeout)
		setInt(&config.Database.MaxConnections, f.MaxConnections)
	}
	if f := file.HTTP; f != nil {
		setString(&config.HTTP.Host, f.Host)
		setInt(&config.HTTP.Port, f.Port)
		duration("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		duration("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
		duration("http.shutdown_timeout", f.ShutdownTimeout, &config.HTTP.ShutdownTimeout)
		if len(f.AllowedOrigins) > 0 {
			config.HTTP.AllowedOrigins = f.AllowedOrigins
		}
	}
	if f := file.WebSocket; f != nil {
		duration("websocket.ping_interval", f.PingInterval, &config.WebSocket.PingInterval)
		duration("websocket.read_timeout", f.ReadTimeout, &config.WebSocket.ReadTimeout)
		duration("websocket.write_timeout", f.WriteTimeout, &config.WebSocket.WriteTimeout)
		setInt(&config.WebSocket.BufferSize, f.BufferSize)
		if f.MaxMessageBytes > 0 {
			config.WebSocket.MaxMessageBytes = f.MaxMessageBytes
		}
	}
	if f := file.Chat; f != nil {
		duration("chat.rate_window", f.RateWindow, &config.Chat.RateWindow)
		setInt(&config.Chat.RateLimit, f.RateLimit)
		setInt(&config.Chat.MaxContentLength, f.MaxContentLength)
		setInt(&config.Chat.DefaultPageSize, f.DefaultPageSize)
		setInt(&config.Chat.MaxPageSize, f.MaxPageSize)
	}
	if f := file.Auth; f != nil {
		setString(&config.Auth.JWTSecret, f.JWTSecret)
		duration("auth.token_ttl", f.TokenTTL, &config.Auth.TokenTTL)
	}
	if f := file.Log; f != nil {
		setString(&config.Log.Level, f.Level)
		setString(&config.Log.Format, f.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config file %s: %w", filepath, errors.Join(errs...))
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// Load resolves the configuration with precedence file > environment >
// defaults. filepath falls back to MENTORMATRIX_CONFIG_FILE; an empty path
// skips the file layer. Unlike the environment layer, a named file that
// cannot be read or parsed is an error.
func Load(filepath string) (*Config, error) {
	config := LoadFromEnv()

	if filepath == "" {
		filepath = os.Getenv(EnvPrefix + "CONFIG_FILE")
	}
	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
