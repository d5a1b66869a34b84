package config

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Hub       HubConfig
	Ports     PortsConfig
	Heartbeat HeartbeatConfig
	Tunnel    TunnelConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`

	BootstrapAPIKey string `env:"BOOTSTRAP_API_KEY"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/ztna-hub.db"`
}

// HubConfig identifies the hub in ACL terms. Every tunnel stands for a
// connection from its node to HUB_ADDRESS on the class's control port.
type HubConfig struct {
	Address          string `env:"HUB_ADDRESS"`
	SystemPort       int    `env:"HUB_SYSTEM_PORT" envDefault:"22"`
	TerminalPort     int    `env:"HUB_TERMINAL_PORT" envDefault:"22"`
	HTTPSControlPort int    `env:"HUB_HTTPS_PORT" envDefault:"443"`
}

// PortsConfig holds the remote port ranges handed to tunnels. System
// tunnels share the terminal range.
type PortsConfig struct {
	TerminalMin int           `env:"TERMINAL_PORT_MIN" envDefault:"10000"`
	TerminalMax int           `env:"TERMINAL_PORT_MAX" envDefault:"19999"`
	HTTPSMin    int           `env:"HTTPS_PORT_MIN" envDefault:"20000"`
	HTTPSMax    int           `env:"HTTPS_PORT_MAX" envDefault:"29999"`
	Quarantine  time.Duration `env:"PORT_QUARANTINE" envDefault:"30s"`
}

// HeartbeatConfig holds node liveness timings.
type HeartbeatConfig struct {
	Interval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	Timeout  time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"90s"`
}

// TunnelConfig holds tunnel lifecycle timings.
type TunnelConfig struct {
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"30s"`
	ReconnectBase    time.Duration `env:"RECONNECT_BASE" envDefault:"1s"`
	ReconnectMax     time.Duration `env:"RECONNECT_MAX" envDefault:"60s"`
	ReevalDebounce   time.Duration `env:"REEVAL_DEBOUNCE" envDefault:"2s"`
	ReevalInterval   time.Duration `env:"REEVAL_INTERVAL" envDefault:"5m"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Hub); err != nil {
		return nil, fmt.Errorf("parsing hub config: %w", err)
	}
	if err := env.Parse(&cfg.Ports); err != nil {
		return nil, fmt.Errorf("parsing ports config: %w", err)
	}
	if err := env.Parse(&cfg.Heartbeat); err != nil {
		return nil, fmt.Errorf("parsing heartbeat config: %w", err)
	}
	if err := env.Parse(&cfg.Tunnel); err != nil {
		return nil, fmt.Errorf("parsing tunnel config: %w", err)
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Hub.Address == "" {
		return fmt.Errorf("HUB_ADDRESS is required")
	}
	if _, err := netip.ParseAddr(c.Hub.Address); err != nil {
		return fmt.Errorf("HUB_ADDRESS must be an IP address: %w", err)
	}

	if err := validRange("terminal", c.Ports.TerminalMin, c.Ports.TerminalMax); err != nil {
		return err
	}
	if err := validRange("https", c.Ports.HTTPSMin, c.Ports.HTTPSMax); err != nil {
		return err
	}
	if c.Ports.TerminalMax >= c.Ports.HTTPSMin && c.Ports.HTTPSMax >= c.Ports.TerminalMin {
		return fmt.Errorf("terminal and https port ranges overlap")
	}

	if c.Heartbeat.Timeout <= c.Heartbeat.Interval {
		return fmt.Errorf("HEARTBEAT_TIMEOUT must exceed HEARTBEAT_INTERVAL")
	}
	if c.Tunnel.ReconnectBase <= 0 || c.Tunnel.ReconnectMax < c.Tunnel.ReconnectBase {
		return fmt.Errorf("reconnect backoff misconfigured: base %s, max %s",
			c.Tunnel.ReconnectBase, c.Tunnel.ReconnectMax)
	}

	return nil
}

func validRange(name string, min, max int) error {
	if min < 1024 || max > 65535 || min > max {
		return fmt.Errorf("%s port range %d-%d is invalid", name, min, max)
	}
	return nil
}
