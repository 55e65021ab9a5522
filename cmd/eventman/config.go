package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eventman/eventman-live/eventman"
	"github.com/eventman/eventman-live/eventman/reminder"
	"github.com/eventman/eventman-live/eventman/video"
)

const (
	defaultConfigDir  = ".eventman"
	defaultConfigName = "config.yaml"

	defaultRegistrationRefresh = 15 * time.Minute
)

var errConfigNotFound = errors.New("config not found")

// Config is the terminal client configuration file.
type Config struct {
	APIURL      string          `yaml:"api_url"`
	WSURL       string          `yaml:"ws_url"`
	Token       string          `yaml:"token"`
	Email       string          `yaml:"email"`
	MetricsAddr string          `yaml:"metrics_addr"`
	Log         LogConfig       `yaml:"log"`
	Realtime    RealtimeConfig  `yaml:"realtime"`
	Reminders   RemindersConfig `yaml:"reminders"`
	Video       VideoConfig     `yaml:"video"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type RealtimeConfig struct {
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	AckTimeout        time.Duration `yaml:"ack_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
}

type RemindersConfig struct {
	Window   time.Duration `yaml:"window"`
	Interval time.Duration `yaml:"interval"`
	Refresh  time.Duration `yaml:"refresh"` // how often registrations are re-fetched
}

type VideoConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Domain     string `yaml:"domain"`
	StartMuted bool   `yaml:"start_muted"`
}

func defaultConfig() Config {
	rt := eventman.DefaultConfig()
	rm := reminder.DefaultConfig()
	return Config{
		APIURL: "http://localhost:5000/api",
		WSURL:  "ws://localhost:5000/ws",
		Log:    LogConfig{Level: "info", Format: "text"},
		Realtime: RealtimeConfig{
			HandshakeTimeout:  rt.HandshakeTimeout,
			AckTimeout:        rt.AckTimeout,
			PingInterval:      rt.PingInterval,
			ReconnectAttempts: rt.ReconnectAttempts,
			ReconnectDelay:    rt.ReconnectDelay,
		},
		Reminders: RemindersConfig{Window: rm.Window, Interval: rm.Interval, Refresh: defaultRegistrationRefresh},
		Video:     VideoConfig{Enabled: true, Domain: video.DefaultDomain, StartMuted: true},
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return defaultConfigName
	}
	return filepath.Join(home, defaultConfigDir, defaultConfigName)
}

// resolveConfigPath returns the file to read and whether it must exist.
func resolveConfigPath(explicit string) (string, bool) {
	if strings.TrimSpace(explicit) != "" {
		return expandUserPath(explicit), true
	}
	if env := strings.TrimSpace(os.Getenv("EVENTMAN_CONFIG")); env != "" {
		return expandUserPath(env), true
	}
	return defaultConfigPath(), false
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return path
}

// loadConfig reads path over the defaults. ${VAR} references are expanded
// from the environment before parsing.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, errConfigNotFound
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// readConfig resolves, loads and validates the configuration. A missing
// default file is not an error.
func readConfig(explicit string) (Config, error) {
	path, required := resolveConfigPath(explicit)
	cfg, err := loadConfig(path)
	if errors.Is(err, errConfigNotFound) && !required {
		err = nil
	}
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.Token == "" {
		cfg.Token = strings.TrimSpace(os.Getenv("EVENTMAN_TOKEN"))
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return errors.New("api_url is required")
	}
	if err := c.realtime().Validate(); err != nil {
		return fmt.Errorf("ws_url: %w", err)
	}
	if c.Reminders.Window <= 0 || c.Reminders.Interval <= 0 || c.Reminders.Refresh <= 0 {
		return errors.New("reminders window, interval and refresh must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

func (c Config) realtime() eventman.Config {
	rt := eventman.DefaultConfig()
	rt.URL = c.WSURL
	rt.HandshakeTimeout = c.Realtime.HandshakeTimeout
	rt.AckTimeout = c.Realtime.AckTimeout
	rt.PingInterval = c.Realtime.PingInterval
	rt.ReconnectAttempts = c.Realtime.ReconnectAttempts
	rt.ReconnectDelay = c.Realtime.ReconnectDelay
	return rt
}

func (c Config) reminders() reminder.Config {
	return reminder.Config{Window: c.Reminders.Window, Interval: c.Reminders.Interval}
}
