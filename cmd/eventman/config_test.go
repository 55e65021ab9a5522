package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_EVENTMAN_TOKEN", "tok-from-env")
	path := writeConfig(t, `
api_url: https://eventman.example/api
ws_url: wss://eventman.example/ws
token: ${TEST_EVENTMAN_TOKEN}
metrics_addr: 127.0.0.1:9090
log:
  level: debug
  format: json
realtime:
  ack_timeout: 5s
  reconnect_attempts: 3
reminders:
  window: 30m
  refresh: 1h
video:
  domain: meet.example.org
  start_muted: false
`)

	cfg, err := readConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://eventman.example/api", cfg.APIURL)
	assert.Equal(t, "tok-from-env", cfg.Token)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5*time.Second, cfg.Realtime.AckTimeout)
	assert.Equal(t, 3, cfg.Realtime.ReconnectAttempts)
	assert.Equal(t, 3*time.Second, cfg.Realtime.ReconnectDelay, "unset keys keep defaults")
	assert.Equal(t, 30*time.Minute, cfg.Reminders.Window)
	assert.Equal(t, 5*time.Minute, cfg.Reminders.Interval)
	assert.Equal(t, time.Hour, cfg.Reminders.Refresh)
	assert.True(t, cfg.Video.Enabled)
	assert.False(t, cfg.Video.StartMuted)
	assert.Equal(t, "meet.example.org", cfg.Video.Domain)

	rt := cfg.realtime()
	assert.Equal(t, "wss://eventman.example/ws", rt.URL)
	assert.Equal(t, 5*time.Second, rt.AckTimeout)
	assert.Equal(t, 30*time.Minute, cfg.reminders().Window)
}

func TestReadConfigFromEnvironment(t *testing.T) {
	path := writeConfig(t, "api_url: http://api.local/api\n")
	t.Setenv("EVENTMAN_CONFIG", path)
	t.Setenv("EVENTMAN_TOKEN", "env-token")

	cfg, err := readConfig("")
	require.NoError(t, err)
	assert.Equal(t, "http://api.local/api", cfg.APIURL)
	assert.Equal(t, "env-token", cfg.Token)
}

func TestReadConfigErrors(t *testing.T) {
	_, err := readConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, errConfigNotFound)

	_, err = readConfig(writeConfig(t, "api_url: [unclosed\n"))
	assert.ErrorContains(t, err, "parse config")

	_, err = readConfig(writeConfig(t, "ws_url: ftp://nope\n"))
	assert.ErrorContains(t, err, "ws_url")

	_, err = readConfig(writeConfig(t, "log:\n  format: xml\n"))
	assert.ErrorContains(t, err, "log format")

	_, err = readConfig(writeConfig(t, "reminders:\n  window: -1m\n"))
	assert.Error(t, err)

	_, err = readConfig(writeConfig(t, "reminders:\n  refresh: 0s\n"))
	assert.ErrorContains(t, err, "refresh")
}

func TestReadConfigDefaultsWithoutFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("EVENTMAN_CONFIG", "")
	t.Setenv("EVENTMAN_TOKEN", "")

	cfg, err := readConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
	assert.Equal(t, defaultRegistrationRefresh, cfg.Reminders.Refresh)
}
