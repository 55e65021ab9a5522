package eventman

import (
	"net/url"
	"time"
)

// Config controls how the SDK connects.
type Config struct {
	URL              string
	Token            string // bearer credential sent on the upgrade request and in hello
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration // 0 disables; idle detection relies on PingInterval
	WriteTimeout     time.Duration
	AckTimeout       time.Duration // 0 waits until ctx is done
	PingInterval     time.Duration // 0 disables keepalive pings

	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		AckTimeout:        10 * time.Second,
		PingInterval:      25 * time.Second,
		ReconnectAttempts: 5,
		ReconnectDelay:    3 * time.Second,
	}
}

// Validate checks the config before dialing.
func (c Config) Validate() error {
	if c.URL == "" {
		return NewError(ErrorInvalidConfig, "empty URL")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return WrapError(ErrorInvalidConfig, "invalid URL", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return NewError(ErrorInvalidConfig, "unsupported URL scheme "+u.Scheme)
	}
	if c.ReconnectAttempts < 0 {
		return NewError(ErrorInvalidConfig, "negative reconnect attempts")
	}
	if c.ReconnectDelay < 0 {
		return NewError(ErrorInvalidConfig, "negative reconnect delay")
	}
	return nil
}
