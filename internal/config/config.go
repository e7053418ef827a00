package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration stored as a string ("300ms") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Config represents the global ~/.confchat/config.toml.
type Config struct {
	DefaultProfile string         `toml:"default_profile"`
	ConferenceID   int64          `toml:"conference_id"`
	API            APIConfig      `toml:"api"`
	Realtime       RealtimeConfig `toml:"realtime"`
	Search         SearchConfig   `toml:"search"`
	Outbox         OutboxConfig   `toml:"outbox"`
}

type APIConfig struct {
	BaseURL            string   `toml:"base_url"`
	MinRequestInterval Duration `toml:"min_request_interval"`
	MaxAttempts        int      `toml:"max_attempts"`
	RetryDelay         Duration `toml:"retry_delay"`
}

type RealtimeConfig struct {
	URL                  string   `toml:"url"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	ReconnectDelay       Duration `toml:"reconnect_delay"`
	BackoffMultiplier    float64  `toml:"backoff_multiplier"`
	HandshakeTimeout     Duration `toml:"handshake_timeout"`
}

type SearchConfig struct {
	Debounce Duration `toml:"debounce"`
}

type OutboxConfig struct {
	PollInterval Duration `toml:"poll_interval"`
	MaxAttempts  int      `toml:"max_attempts"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:            "http://localhost:5000/api",
			MinRequestInterval: Duration{300 * time.Millisecond},
			MaxAttempts:        3,
			RetryDelay:         Duration{time.Second},
		},
		Realtime: RealtimeConfig{
			URL:                  "ws://localhost:5000/ws",
			MaxReconnectAttempts: 5,
			ReconnectDelay:       Duration{time.Second},
			BackoffMultiplier:    1,
			HandshakeTimeout:     Duration{10 * time.Second},
		},
		Search: SearchConfig{
			Debounce: Duration{500 * time.Millisecond},
		},
		Outbox: OutboxConfig{
			PollInterval: Duration{500 * time.Millisecond},
			MaxAttempts:  5,
		},
	}
}

// Load reads config from the given path on top of Default. Returns an
// error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but treats a missing file as Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
