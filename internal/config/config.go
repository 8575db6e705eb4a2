// Package config handles server configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex
// string suitable for use as a JWT secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level server configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Storage   StorageConfig   `json:"storage"`
	Chat      ChatConfig      `json:"chat"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// ServerConfig defines the listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"`                      // e.g. ":8080"
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	UIStaticDir    string   `json:"ui_static_dir,omitempty"`   // path to built web UI files
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS + WebSocket origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // max request body size; default 1MB
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	JWTSecret   string   `json:"jwt_secret"`
	JWTExpiry   Duration `json:"jwt_expiry,omitempty"`
	AllowGuests bool     `json:"allow_guests,omitempty"` // enable nickname-only guest login
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver    string   `json:"driver"`              // "sqlite" (default) or "postgres"
	DSN       string   `json:"dsn"`                 // e.g. "parley.db" or ":memory:"
	Retention Duration `json:"retention,omitempty"` // message retention; 0 keeps forever
}

// ChatConfig defines chat and presence behavior.
type ChatConfig struct {
	MaxConnsPerIdentity int      `json:"max_conns_per_identity,omitempty"` // simultaneous connections per identity; default 10
	MaxMessageBytes     int64    `json:"max_message_bytes,omitempty"`      // WebSocket read limit; default 1MB
	MaxInlineImageBytes int64    `json:"max_inline_image_bytes,omitempty"` // decoded inline image ceiling; default 500KB
	HistoryLimit        int      `json:"history_limit,omitempty"`          // messages returned per history fetch; default 100
	TypingTimeout       Duration `json:"typing_timeout,omitempty"`         // client-side hint; default 3s
	PingInterval        Duration `json:"ping_interval,omitempty"`          // WebSocket keepalive ping cadence; default 30s
	PongTimeout         Duration `json:"pong_timeout,omitempty"`           // read deadline waiting for a pong; default 2x ping interval
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level      string `json:"level,omitempty"`
	Format     string `json:"format,omitempty"` // "json" or "text"
	File       string `json:"file,omitempty"`   // rotate to this file when set
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// RateLimitConfig defines login rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 5
	Burst             int     `json:"burst,omitempty"`               // default 10
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if knownWeakSecrets[c.Auth.JWTSecret] {
		return fmt.Errorf("auth.jwt_secret is a well-known weak secret, generate a new one")
	}
	if c.Chat.MaxInlineImageBytes < 0 {
		return fmt.Errorf("chat.max_inline_image_bytes must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Auth.JWTExpiry.Duration == 0 {
		c.Auth.JWTExpiry.Duration = 24 * time.Hour
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "parley.db"
	}
	if c.Chat.MaxConnsPerIdentity == 0 {
		c.Chat.MaxConnsPerIdentity = 10
	}
	if c.Chat.MaxMessageBytes == 0 {
		c.Chat.MaxMessageBytes = 1024 * 1024 // 1MB
	}
	if c.Chat.MaxInlineImageBytes == 0 {
		c.Chat.MaxInlineImageBytes = 500 * 1024 // 500KB
	}
	if c.Chat.HistoryLimit == 0 {
		c.Chat.HistoryLimit = 100
	}
	if c.Chat.TypingTimeout.Duration == 0 {
		c.Chat.TypingTimeout.Duration = 3 * time.Second
	}
	if c.Chat.PingInterval.Duration == 0 {
		c.Chat.PingInterval.Duration = 30 * time.Second
	}
	if c.Chat.PongTimeout.Duration == 0 {
		c.Chat.PongTimeout.Duration = 2 * c.Chat.PingInterval.Duration
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
}
