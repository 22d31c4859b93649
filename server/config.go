// ABOUTME: Server configuration loaded from PATHRUN_* environment variables.
// ABOUTME: Enforces security constraint: remote access requires an auth token.
package server

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// Configuration validation errors.
var (
	ErrRemoteWithoutToken = errors.New(
		"PATHRUN_ALLOW_REMOTE is true but PATHRUN_AUTH_TOKEN is not set; refusing to start without authentication",
	)
	ErrNonLoopbackBind = errors.New(
		"PATHRUN_BIND is a non-loopback address but PATHRUN_ALLOW_REMOTE is not true; set PATHRUN_ALLOW_REMOTE=true and PATHRUN_AUTH_TOKEN to allow remote access",
	)
)

// Config holds server configuration loaded from environment variables.
type Config struct {
	Bind        string // socket address (PATHRUN_BIND, default: 127.0.0.1:8140)
	AllowRemote bool   // allow non-loopback connections (PATHRUN_ALLOW_REMOTE, default: false)
	AuthToken   string // bearer token for API auth (PATHRUN_AUTH_TOKEN, optional)
	Provider    string // AI provider name (PATHRUN_PROVIDER, default: openai)
	Model       string // default model name (PATHRUN_MODEL, optional)
	APIKey      string // provider credential (PATHRUN_API_KEY, falls back to OPENAI_API_KEY)
	BaseURL     string // provider base URL override (PATHRUN_BASE_URL, optional)
}

// ConfigFromEnv loads configuration from PATHRUN_* environment variables with
// sensible defaults.
func ConfigFromEnv() (*Config, error) {
	bind := envOrDefault("PATHRUN_BIND", "127.0.0.1:8140")

	allowRemote := false
	if v := os.Getenv("PATHRUN_ALLOW_REMOTE"); v == "true" || v == "1" || v == "yes" {
		allowRemote = true
	}

	authToken := os.Getenv("PATHRUN_AUTH_TOKEN")

	apiKey := os.Getenv("PATHRUN_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg := &Config{
		Bind:        bind,
		AllowRemote: allowRemote,
		AuthToken:   authToken,
		Provider:    envOrDefault("PATHRUN_PROVIDER", "openai"),
		Model:       os.Getenv("PATHRUN_MODEL"),
		APIKey:      apiKey,
		BaseURL:     os.Getenv("PATHRUN_BASE_URL"),
	}

	if allowRemote && authToken == "" {
		return nil, ErrRemoteWithoutToken
	}
	if !allowRemote && !isLoopback(bind) {
		return nil, ErrNonLoopbackBind
	}

	return cfg, nil
}

// isLoopback reports whether the bind address resolves to a loopback host.
func isLoopback(bind string) bool {
	host, _, err := net.SplitHostPort(bind)
	if err != nil {
		return false
	}
	if host == "localhost" || host == "" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// envOrDefault returns the environment value or a default when unset.
func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// String renders the config for startup logging, with the credential and
// token redacted.
func (c *Config) String() string {
	return fmt.Sprintf("bind=%s provider=%s model=%s remote=%v", c.Bind, c.Provider, c.Model, c.AllowRemote)
}
