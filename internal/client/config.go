package client

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Environment selects the URL scheme used to reach a room host.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// ParseEnvironment maps a configuration value onto an Environment.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development":
		return Development, nil
	case "", "prod", "production":
		return Production, nil
	default:
		return "", fmt.Errorf("unknown environment %q", s)
	}
}

// Scheme returns "ws" in development and "wss" otherwise.
func (e Environment) Scheme() string {
	if e == Development {
		return "ws"
	}
	return "wss"
}

// Config holds session client settings.
type Config struct {
	Environment    Environment
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// EventBuffer is the capacity of the channel returned by Client.Events.
	EventBuffer int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Environment:    Production,
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
		EventBuffer:    16,
	}
}

// Endpoint builds scheme://host/?token=<token> for the given environment.
func Endpoint(env Environment, host, token string) string {
	u := url.URL{
		Scheme:   env.Scheme(),
		Host:     host,
		Path:     "/",
		RawQuery: url.Values{"token": []string{token}}.Encode(),
	}
	return u.String()
}

func redactedEndpoint(env Environment, host string) string {
	return Endpoint(env, host, "REDACTED")
}
