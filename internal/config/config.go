package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the system-wide settings coordinator. Each section maps to one
// component of the collaboration service.
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Lock      *LockConfig      `json:"lock"`
	Session   *SessionConfig   `json:"session"`
	Database  *DatabaseConfig  `json:"database"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// LockConfig governs the document lock lease and its expiry sweep.
type LockConfig struct {
	LeaseDuration time.Duration `json:"lease_duration"`
	SweepInterval time.Duration `json:"sweep_interval"`
}

// SessionConfig points at the external Redis session store.
type SessionConfig struct {
	RedisURL    string        `json:"redis_url"`
	CookieName  string        `json:"cookie_name"`
	AuthTimeout time.Duration `json:"auth_timeout"`
}

// DatabaseConfig points at the SQLite user-profile store.
type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns production defaults: 5 minute lock leases with a 60s
// sweep, 30s heartbeat with a 60s read deadline.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8090,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Lock: &LockConfig{
			LeaseDuration: 5 * time.Minute,
			SweepInterval: 60 * time.Second,
		},
		Session: &SessionConfig{
			RedisURL:    "redis://localhost:6379/0",
			CookieName:  "school_session",
			AuthTimeout: 5 * time.Second,
		},
		Database: &DatabaseConfig{
			Path:    "./staffroom.db",
			Timeout: 30 * time.Second,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Lock == nil {
		return fmt.Errorf("lock configuration is required")
	}
	if c.Lock.LeaseDuration <= 0 {
		return fmt.Errorf("lock lease duration must be positive")
	}
	if c.Lock.SweepInterval <= 0 {
		return fmt.Errorf("lock sweep interval must be positive")
	}

	if c.Session == nil {
		return fmt.Errorf("session configuration is required")
	}
	if c.Session.RedisURL == "" {
		return fmt.Errorf("session Redis URL cannot be empty")
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("session cookie name cannot be empty")
	}
	if c.Session.AuthTimeout <= 0 {
		return fmt.Errorf("session auth timeout must be positive")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	return nil
}

// LoadFromEnv overlays STAFFROOM_* environment variables on the defaults.
// Unparseable values fall back silently.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if host := os.Getenv("STAFFROOM_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if port := os.Getenv("STAFFROOM_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if v := os.Getenv("STAFFROOM_HTTP_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.HTTP.ReadTimeout = d
		}
	}
	if v := os.Getenv("STAFFROOM_HTTP_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.HTTP.WriteTimeout = d
		}
	}

	if v := os.Getenv("STAFFROOM_WEBSOCKET_PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WebSocket.PingInterval = d
		}
	}
	if v := os.Getenv("STAFFROOM_WEBSOCKET_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WebSocket.ReadTimeout = d
		}
	}
	if v := os.Getenv("STAFFROOM_WEBSOCKET_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WebSocket.WriteTimeout = d
		}
	}
	if v := os.Getenv("STAFFROOM_WEBSOCKET_BUFFER_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			config.WebSocket.BufferSize = size
		}
	}

	if v := os.Getenv("STAFFROOM_LOCK_LEASE_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Lock.LeaseDuration = d
		}
	}
	if v := os.Getenv("STAFFROOM_LOCK_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Lock.SweepInterval = d
		}
	}

	if v := os.Getenv("STAFFROOM_SESSION_REDIS_URL"); v != "" {
		config.Session.RedisURL = v
	}
	if v := os.Getenv("STAFFROOM_SESSION_COOKIE_NAME"); v != "" {
		config.Session.CookieName = v
	}
	if v := os.Getenv("STAFFROOM_SESSION_AUTH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Session.AuthTimeout = d
		}
	}

	if v := os.Getenv("STAFFROOM_DATABASE_PATH"); v != "" {
		config.Database.Path = v
	}
	if v := os.Getenv("STAFFROOM_DATABASE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Database.Timeout = d
		}
	}

	return config
}

// ConfigFile mirrors Config with string durations for JSON parsing.
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Lock      *LockConfigFile      `json:"lock"`
	Session   *SessionConfigFile   `json:"session"`
	Database  *DatabaseConfigFile  `json:"database"`
}

type HTTPConfigFile struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type LockConfigFile struct {
	LeaseDuration string `json:"lease_duration"`
	SweepInterval string `json:"sweep_interval"`
}

type SessionConfigFile struct {
	RedisURL    string `json:"redis_url"`
	CookieName  string `json:"cookie_name"`
	AuthTimeout string `json:"auth_timeout"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

// LoadFromFile reads a JSON configuration file over the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			config.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port > 0 {
			config.HTTP.Port = file.HTTP.Port
		}
		applyDuration(&config.HTTP.ReadTimeout, file.HTTP.ReadTimeout)
		applyDuration(&config.HTTP.WriteTimeout, file.HTTP.WriteTimeout)
	}

	if file.WebSocket != nil {
		applyDuration(&config.WebSocket.PingInterval, file.WebSocket.PingInterval)
		applyDuration(&config.WebSocket.ReadTimeout, file.WebSocket.ReadTimeout)
		applyDuration(&config.WebSocket.WriteTimeout, file.WebSocket.WriteTimeout)
		if file.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = file.WebSocket.BufferSize
		}
	}

	if file.Lock != nil {
		applyDuration(&config.Lock.LeaseDuration, file.Lock.LeaseDuration)
		applyDuration(&config.Lock.SweepInterval, file.Lock.SweepInterval)
	}

	if file.Session != nil {
		if file.Session.RedisURL != "" {
			config.Session.RedisURL = file.Session.RedisURL
		}
		if file.Session.CookieName != "" {
			config.Session.CookieName = file.Session.CookieName
		}
		applyDuration(&config.Session.AuthTimeout, file.Session.AuthTimeout)
	}

	if file.Database != nil {
		if file.Database.Path != "" {
			config.Database.Path = file.Database.Path
		}
		applyDuration(&config.Database.Timeout, file.Database.Timeout)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadWithPrecedence resolves configuration as file > environment > defaults.
// A missing or broken file leaves the environment configuration in effect.
func LoadWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}

func applyDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}
