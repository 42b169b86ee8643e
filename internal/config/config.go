// Package config loads the YAML configuration for the LLP client and
// server binaries. Parsing itself is an ambient concern (spec §1 scopes
// "configuration file parsing" out of the core); this package exists so
// cmd/llp-client and cmd/llp-server have somewhere to get the core's
// enumerated configuration inputs from.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the configuration for llp-client.
type ClientConfig struct {
	ServerAddr   string        `yaml:"server_addr"`
	TUNName      string        `yaml:"tun_name"`
	TUNAddress   string        `yaml:"tun_address"`
	MimicryProfile string      `yaml:"mimicry_profile"`
	Session      SessionConfig `yaml:"session"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
}

// ServerConfig is the configuration for llp-server.
type ServerConfig struct {
	Listen         string        `yaml:"listen"`
	TUNName        string        `yaml:"tun_name"`
	TUNAddress     string        `yaml:"tun_address"`
	Session        SessionConfig `yaml:"session"`
	Admin          AdminConfig   `yaml:"admin"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
}

// SessionConfig mirrors the configuration inputs enumerated in the core's
// external interface contract (spec §6).
type SessionConfig struct {
	ReplayWindowSize     uint64        `yaml:"replay_window_size"`
	MaxTimestampDriftSecs int          `yaml:"max_timestamp_drift_secs"`
	KeepaliveIntervalSecs int          `yaml:"keepalive_interval_secs"`
	KeepaliveTimeoutSecs  int          `yaml:"keepalive_timeout_secs"`
	RekeyPacketThreshold  uint64       `yaml:"rekey_packet_threshold"`
	SessionLifetimeSecs   int          `yaml:"session_lifetime_secs"`
	HandshakeTimeoutSecs  int          `yaml:"handshake_timeout_secs"`
}

// MaxTimestampDrift returns the configured drift as a time.Duration.
func (c SessionConfig) MaxTimestampDrift() time.Duration {
	return time.Duration(c.MaxTimestampDriftSecs) * time.Second
}

// KeepaliveInterval returns the configured interval as a time.Duration.
func (c SessionConfig) KeepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveIntervalSecs) * time.Second
}

// KeepaliveTimeout returns the configured timeout as a time.Duration.
func (c SessionConfig) KeepaliveTimeout() time.Duration {
	return time.Duration(c.KeepaliveTimeoutSecs) * time.Second
}

// SessionLifetime returns the configured lifetime as a time.Duration.
func (c SessionConfig) SessionLifetime() time.Duration {
	return time.Duration(c.SessionLifetimeSecs) * time.Second
}

// HandshakeTimeout returns the configured handshake deadline as a
// time.Duration.
func (c SessionConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutSecs) * time.Second
}

// AdminConfig configures the local monitoring/admin HTTP API.
type AdminConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Database  string `yaml:"database"`
	JWTSecret string `yaml:"jwt_secret"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// DefaultSessionConfig returns the spec's default session tuning values.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ReplayWindowSize:      256,
		MaxTimestampDriftSecs: 300,
		KeepaliveIntervalSecs: 30,
		KeepaliveTimeoutSecs:  90,
		RekeyPacketThreshold:  1 << 20,
		SessionLifetimeSecs:   3600,
		HandshakeTimeoutSecs:  10,
	}
}

// DefaultClientConfig returns a config with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		TUNName:        "llp0",
		MimicryProfile: "none",
		Session:        DefaultSessionConfig(),
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// DefaultServerConfig returns a config with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Listen:  "0.0.0.0:9443",
		TUNName: "llp0",
		Session: DefaultSessionConfig(),
		Admin: AdminConfig{
			Enabled:   false,
			Listen:    "127.0.0.1:9444",
			Database:  "sqlite:///var/lib/llp/admin.db",
			JWTSecret: "change-me-in-production",
			Username:  "admin",
			Password:  "change-me-in-production",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadClientConfig loads client config from a YAML file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := loadYAML(path, cfg); err != nil {
		return nil, fmt.Errorf("load client config: %w", err)
	}
	return cfg, nil
}

// LoadServerConfig loads server config from a YAML file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := loadYAML(path, cfg); err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}
	return cfg, nil
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}
