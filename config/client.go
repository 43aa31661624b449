package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Default client configuration values
const (
	DefaultServerURL       = "ws://localhost:8080/ws/signal"
	DefaultSTUN            = "stun:stun.l.google.com:19302"
	DefaultQualityInterval = 2 * time.Second
)

// ClientConfig holds configuration for the meet client
type ClientConfig struct {
	// ServerURL is the websocket signaling endpoint
	ServerURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	QualityInterval time.Duration
	LogLevel        string
}

// ClientOptions carries CLI flag overrides
type ClientOptions struct {
	ServerURL  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	LogLevel   string
}

// LoadClient reads configuration with the following priority:
// 1. CLI flags (passed via ClientOptions)
// 2. Environment variables
// 3. Defaults
func LoadClient(opts ClientOptions) (*ClientConfig, error) {
	serverURL := pick(opts.ServerURL, "SERVER_URL", DefaultServerURL)
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be ws or wss", serverURL)
	}

	return &ClientConfig{
		ServerURL:       serverURL,
		STUNServer:      pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:      pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:        pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:        pick(opts.TURNPass, "TURN_PASSWORD", ""),
		QualityInterval: getEnvDuration("QUALITY_INTERVAL", DefaultQualityInterval),
		LogLevel:        pick(opts.LogLevel, "LOG_LEVEL", "warn"),
	}, nil
}

// HTTPBaseURL derives the http(s) origin of the signaling server
func (c *ClientConfig) HTTPBaseURL() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return ""
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

// GetSTUNServers returns STUN server URLs as strings
func (c *ClientConfig) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *ClientConfig) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
	}
}

func pick(flag, env, defaultValue string) string {
	if flag != "" {
		return flag
	}
	if value := os.Getenv(env); value != "" {
		return value
	}
	return defaultValue
}
