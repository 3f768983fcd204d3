// Package config loads roomchat settings from defaults, an optional YAML
// file, ROOMCHAT_* environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/omochice/roomchat/internal/client"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, so log.level is
// read from ROOMCHAT_LOG_LEVEL.
const EnvPrefix = "ROOMCHAT"

type Config struct {
	Environment    string          `mapstructure:"environment"`
	LookupURL      string          `mapstructure:"lookup_url"`
	ConnectTimeout time.Duration   `mapstructure:"connect_timeout"`
	WriteTimeout   time.Duration   `mapstructure:"write_timeout"`
	Log            LogConfig       `mapstructure:"log"`
	Telemetry      TelemetryConfig `mapstructure:"telemetry"`
	Server         ServerConfig    `mapstructure:"server"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig enables OTLP/HTTP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// PublicHost is the host[:port] handed to clients by the lookup API.
	PublicHost string `mapstructure:"public_host"`
	// Rooms are created at startup.
	Rooms []string `mapstructure:"rooms"`
}

var flagKeys = map[string]string{
	"environment":        "environment",
	"lookup-url":         "lookup_url",
	"connect-timeout":    "connect_timeout",
	"write-timeout":      "write_timeout",
	"log-level":          "log.level",
	"log-format":         "log.format",
	"telemetry-endpoint": "telemetry.endpoint",
	"addr":               "server.addr",
	"public-host":        "server.public_host",
	"room":               "server.rooms",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", string(client.Production))
	v.SetDefault("lookup_url", "http://localhost:8080")
	v.SetDefault("connect_timeout", "10s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.public_host", "")
	v.SetDefault("server.rooms", []string{})
}

// BindFlags registers the configuration flags on fs. Flag defaults are
// empty; unset flags never override the file or environment.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file (default ./roomchat.yaml if present)")
	fs.String("environment", "", "development (ws://) or production (wss://)")
	fs.String("lookup-url", "", "base URL of the room lookup API")
	fs.Duration("connect-timeout", 0, "timeout for opening a room connection")
	fs.Duration("write-timeout", 0, "timeout for sending a message")
	fs.String("log-level", "", "trace, debug, info, warn, error or disabled")
	fs.String("log-format", "", "console or json")
	fs.String("telemetry-endpoint", "", "OTLP/HTTP endpoint URL for traces")
}

// BindServerFlags registers the room server flags on fs.
func BindServerFlags(fs *pflag.FlagSet) {
	fs.String("addr", "", "room server listen address")
	fs.String("public-host", "", "host[:port] the room server advertises to clients")
	fs.StringSlice("room", nil, "room identifier the room server creates at startup (repeatable)")
}

// Load builds the configuration. fs may be nil; otherwise it must have been
// prepared with BindFlags (and optionally BindServerFlags) and parsed.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			explicit = f.Value.String()
		}
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("roomchat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := client.ParseEnvironment(c.Environment); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("invalid config: connect_timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("invalid config: write_timeout must be positive, got %s", c.WriteTimeout)
	}
	u, err := url.Parse(c.LookupURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid config: lookup_url %q must be an http(s) URL", c.LookupURL)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid config: log.format %q must be console or json", c.Log.Format)
	}
	return nil
}

// ClientConfig converts the settings used by session clients.
func (c *Config) ClientConfig() (client.Config, error) {
	env, err := client.ParseEnvironment(c.Environment)
	if err != nil {
		return client.Config{}, err
	}
	cfg := client.DefaultConfig()
	cfg.Environment = env
	cfg.ConnectTimeout = c.ConnectTimeout
	cfg.WriteTimeout = c.WriteTimeout
	return cfg, nil
}
