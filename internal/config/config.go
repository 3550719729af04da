package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"

	"forumsync/pkg/protocol"
)

// EnvPrefix namespaces environment overrides. A double underscore separates
// sections: FORUMSYNC_CLIENT__RECONNECT_DELAY=5s sets client.reconnect_delay.
const EnvPrefix = "FORUMSYNC_"

// Config is the settings tree shared by the client library, the dev server
// and the CLI.
type Config struct {
	Client    ClientConfig    `koanf:"client"`
	Ephemeral EphemeralConfig `koanf:"ephemeral"`
	Server    ServerConfig    `koanf:"server"`
	Journal   JournalConfig   `koanf:"journal"`
	Logging   LoggingConfig   `koanf:"logging"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// ClientConfig drives the connection manager.
type ClientConfig struct {
	BaseURL             string        `koanf:"base_url"`
	Kind                string        `koanf:"kind"`
	HandshakeTimeout    time.Duration `koanf:"handshake_timeout"`
	WriteTimeout        time.Duration `koanf:"write_timeout"`
	HeartbeatInterval   time.Duration `koanf:"heartbeat_interval"`
	ReconnectDelay      time.Duration `koanf:"reconnect_delay"`
	ReconnectMultiplier float64       `koanf:"reconnect_multiplier"`
	MaxReconnectDelay   time.Duration `koanf:"max_reconnect_delay"`
	SendBuffer          int           `koanf:"send_buffer"`
}

// EphemeralConfig holds the windows for state that decays locally.
type EphemeralConfig struct {
	ReactionWindow time.Duration `koanf:"reaction_window"`
	ReactionCap    int           `koanf:"reaction_cap"`
	TypingIdle     time.Duration `koanf:"typing_idle"`
}

// ServerConfig configures the in-memory dev server.
type ServerConfig struct {
	Host          string            `koanf:"host"`
	Port          int               `koanf:"port"`
	ReadTimeout   time.Duration     `koanf:"read_timeout"`
	WriteTimeout  time.Duration     `koanf:"write_timeout"`
	PingInterval  time.Duration     `koanf:"ping_interval"`
	PongTimeout   time.Duration     `koanf:"pong_timeout"`
	TypingTimeout time.Duration     `koanf:"typing_timeout"`
	SendBuffer    int               `koanf:"send_buffer"`
	CommandRate   float64           `koanf:"command_rate"`
	CommandBurst  int               `koanf:"command_burst"`
	Tokens        map[string]string `koanf:"tokens"`
}

// JournalConfig configures the sqlite frame journal.
type JournalConfig struct {
	Path           string        `koanf:"path"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxConnections int           `koanf:"max_connections"`
}

// LoggingConfig selects the zerolog level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig controls the optional separate Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// DefaultConfig mirrors the behaviour of the web client: 30s presence
// heartbeat, fixed 3s reconnect, 3s reaction and typing windows, 50 reactions.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			BaseURL:             "ws://localhost:8080",
			Kind:                protocol.KindEvent,
			HandshakeTimeout:    10 * time.Second,
			WriteTimeout:        5 * time.Second,
			HeartbeatInterval:   30 * time.Second,
			ReconnectDelay:      3 * time.Second,
			ReconnectMultiplier: 1,
			MaxReconnectDelay:   30 * time.Second,
			SendBuffer:          100,
		},
		Ephemeral: EphemeralConfig{
			ReactionWindow: 3 * time.Second,
			ReactionCap:    50,
			TypingIdle:     3 * time.Second,
		},
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			PingInterval:  30 * time.Second,
			PongTimeout:   60 * time.Second,
			TypingTimeout: 5 * time.Second,
			SendBuffer:    100,
			CommandRate:   10,
			CommandBurst:  20,
			Tokens:        map[string]string{},
		},
		Journal: JournalConfig{
			Path:           "./forumsync.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

func defaultValues() map[string]interface{} {
	d := DefaultConfig()
	return map[string]interface{}{
		"client.base_url":             d.Client.BaseURL,
		"client.kind":                 d.Client.Kind,
		"client.handshake_timeout":    d.Client.HandshakeTimeout,
		"client.write_timeout":        d.Client.WriteTimeout,
		"client.heartbeat_interval":   d.Client.HeartbeatInterval,
		"client.reconnect_delay":      d.Client.ReconnectDelay,
		"client.reconnect_multiplier": d.Client.ReconnectMultiplier,
		"client.max_reconnect_delay":  d.Client.MaxReconnectDelay,
		"client.send_buffer":          d.Client.SendBuffer,
		"ephemeral.reaction_window":   d.Ephemeral.ReactionWindow,
		"ephemeral.reaction_cap":      d.Ephemeral.ReactionCap,
		"ephemeral.typing_idle":       d.Ephemeral.TypingIdle,
		"server.host":                 d.Server.Host,
		"server.port":                 d.Server.Port,
		"server.read_timeout":         d.Server.ReadTimeout,
		"server.write_timeout":        d.Server.WriteTimeout,
		"server.ping_interval":        d.Server.PingInterval,
		"server.pong_timeout":         d.Server.PongTimeout,
		"server.typing_timeout":       d.Server.TypingTimeout,
		"server.send_buffer":          d.Server.SendBuffer,
		"server.command_rate":         d.Server.CommandRate,
		"server.command_burst":        d.Server.CommandBurst,
		"journal.path":                d.Journal.Path,
		"journal.timeout":             d.Journal.Timeout,
		"journal.max_connections":     d.Journal.MaxConnections,
		"logging.level":               d.Logging.Level,
		"logging.format":              d.Logging.Format,
		"metrics.enabled":             d.Metrics.Enabled,
		"metrics.addr":                d.Metrics.Addr,
	}
}

// Validate rejects settings that would make a component misbehave at runtime.
func (c *Config) Validate() error {
	if c.Client.BaseURL == "" {
		return fmt.Errorf("client base url cannot be empty")
	}
	if !protocol.ValidKind(c.Client.Kind) {
		return fmt.Errorf("client kind must be event, discussion or forum")
	}
	if c.Client.HandshakeTimeout <= 0 {
		return fmt.Errorf("client handshake timeout must be positive")
	}
	if c.Client.WriteTimeout <= 0 {
		return fmt.Errorf("client write timeout must be positive")
	}
	if c.Client.HeartbeatInterval <= 0 {
		return fmt.Errorf("client heartbeat interval must be positive")
	}
	if c.Client.ReconnectDelay <= 0 {
		return fmt.Errorf("client reconnect delay must be positive")
	}
	if c.Client.ReconnectMultiplier < 1 {
		return fmt.Errorf("client reconnect multiplier must be at least 1")
	}
	if c.Client.MaxReconnectDelay < c.Client.ReconnectDelay {
		return fmt.Errorf("client max reconnect delay cannot be below reconnect delay")
	}
	if c.Client.SendBuffer <= 0 {
		return fmt.Errorf("client send buffer must be positive")
	}

	if c.Ephemeral.ReactionWindow <= 0 {
		return fmt.Errorf("reaction window must be positive")
	}
	if c.Ephemeral.ReactionCap <= 0 {
		return fmt.Errorf("reaction cap must be positive")
	}
	if c.Ephemeral.TypingIdle <= 0 {
		return fmt.Errorf("typing idle timeout must be positive")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if c.Server.PingInterval <= 0 {
		return fmt.Errorf("server ping interval must be positive")
	}
	if c.Server.PongTimeout <= c.Server.PingInterval {
		return fmt.Errorf("server pong timeout must exceed ping interval")
	}
	if c.Server.TypingTimeout <= 0 {
		return fmt.Errorf("server typing timeout must be positive")
	}
	if c.Server.SendBuffer <= 0 {
		return fmt.Errorf("server send buffer must be positive")
	}
	if c.Server.CommandRate <= 0 || c.Server.CommandBurst <= 0 {
		return fmt.Errorf("server command rate and burst must be positive")
	}

	if c.Journal.Path == "" {
		return fmt.Errorf("journal path cannot be empty")
	}
	if c.Journal.Timeout <= 0 {
		return fmt.Errorf("journal timeout must be positive")
	}
	if c.Journal.MaxConnections <= 0 {
		return fmt.Errorf("journal max connections must be positive")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics address required when metrics are enabled")
	}

	return nil
}

// Load builds a Config from defaults, then the TOML file at path (if any),
// then FORUMSYNC_ environment variables, and validates the result.
func Load(path string) (*Config, error) {
	k, err := newKoanf(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if cfg.Server.Tokens == nil {
		cfg.Server.Tokens = map[string]string{}
	}

	if err := cfg.Validate(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
		}
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadConfigWithPrecedence never fails: if the file cannot be used the
// environment and defaults still apply.
func LoadConfigWithPrecedence(path string) *Config {
	cfg, err := Load(path)
	if err == nil {
		return cfg
	}
	log.Warn().Err(err).Str("path", path).Msg("falling back to environment and default configuration")

	if cfg, err = Load(""); err == nil {
		return cfg
	}
	log.Warn().Err(err).Msg("environment configuration invalid, using defaults")
	return DefaultConfig()
}

// Describe renders the effective key/value pairs, one per line.
func Describe(path string) (string, error) {
	k, err := newKoanf(path)
	if err != nil {
		return "", err
	}
	return k.Sprint(), nil
}

func newKoanf(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultValues(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}
	return k, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// InitConfig writes a commented sample configuration to path.
func InitConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists at %s", path)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0644)
}

const sampleConfig = `# forumsync configuration

[client]
base_url = "ws://localhost:8080"
kind = "event"
heartbeat_interval = "30s"
reconnect_delay = "3s"
# values above 1 switch to capped exponential backoff
reconnect_multiplier = 1.0
max_reconnect_delay = "30s"

[ephemeral]
reaction_window = "3s"
reaction_cap = 50
typing_idle = "3s"

[server]
host = "0.0.0.0"
port = 8080
typing_timeout = "5s"
command_rate = 10.0
command_burst = 20

[server.tokens]
# token = "username"
dev-token = "demo"

[journal]
path = "./forumsync.db"

[logging]
level = "info"
format = "console"

[metrics]
enabled = false
addr = ":9090"
`
