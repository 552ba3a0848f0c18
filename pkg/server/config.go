package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Host    string
	Port    int
	LogFile string // Append-only event log ("" = stdout only)

	// TLS is enabled when both are set
	CertFile string
	KeyFile  string

	SSHPort        int // 0 = disabled
	SSHHostKeyPath string

	WebSocketPort  int      // 0 = disabled
	AllowedOrigins []string // empty = any origin

	MetricsPort int // 0 = disabled

	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration // 0 = no idle timeout
	WriteTimeout     time.Duration

	AuditDatabasePath string // "" = audit disabled
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Host:             "0.0.0.0",
		Port:             5555,
		LogFile:          "chat_server.log",
		SSHHostKeyPath:   "~/.relaychat/ssh_host_key",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// TLSEnabled reports whether a certificate and key are configured
func (c ServerConfig) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Addr returns the host:port the TCP listener binds to
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the configuration for values the server cannot start with.
func (c ServerConfig) Validate() error {
	// Port 0 on the chat listener asks the kernel for a free port.
	if err := validatePort("server port", c.Port, true); err != nil {
		return err
	}
	if err := validatePort("ssh port", c.SSHPort, true); err != nil {
		return err
	}
	if err := validatePort("websocket port", c.WebSocketPort, true); err != nil {
		return err
	}
	if err := validatePort("metrics port", c.MetricsPort, true); err != nil {
		return err
	}

	seen := map[int]string{}
	if c.Port != 0 {
		seen[c.Port] = "server port"
	}
	for name, port := range map[string]int{"ssh port": c.SSHPort, "websocket port": c.WebSocketPort, "metrics port": c.MetricsPort} {
		if port == 0 {
			continue
		}
		if other, dup := seen[port]; dup {
			return fmt.Errorf("%s %d conflicts with %s", name, port, other)
		}
		seen[port] = name
	}

	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("tls requires both cert_file and key_file")
	}
	if c.SSHPort != 0 && strings.TrimSpace(c.SSHHostKeyPath) == "" {
		return errors.New("ssh host key path is empty")
	}
	if c.HandshakeTimeout < 0 || c.IdleTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

func validatePort(name string, port int, optional bool) error {
	if optional && port == 0 {
		return nil
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid %s %d (must be 1-65535)", name, port)
	}
	return nil
}

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server    ServerSection    `toml:"server"`
	TLS       TLSSection       `toml:"tls"`
	SSH       SSHSection       `toml:"ssh"`
	WebSocket WebSocketSection `toml:"websocket"`
	Metrics   MetricsSection   `toml:"metrics"`
	Limits    LimitsSection    `toml:"limits"`
	Audit     AuditSection     `toml:"audit"`
}

type ServerSection struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	LogFile string `toml:"log_file"`
}

type TLSSection struct {
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

type SSHSection struct {
	Port    int    `toml:"port"`
	HostKey string `toml:"host_key"`
}

type WebSocketSection struct {
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type MetricsSection struct {
	Port int `toml:"port"`
}

type LimitsSection struct {
	HandshakeTimeoutSeconds int `toml:"handshake_timeout_seconds"`
	IdleTimeoutSeconds      int `toml:"idle_timeout_seconds"`
	WriteTimeoutSeconds     int `toml:"write_timeout_seconds"`
}

type AuditSection struct {
	DatabasePath string `toml:"database_path"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			Host:    "0.0.0.0",
			Port:    5555,
			LogFile: "chat_server.log",
		},
		SSH: SSHSection{
			HostKey: "~/.relaychat/ssh_host_key",
		},
		Limits: LimitsSection{
			HandshakeTimeoutSeconds: 10,
			WriteTimeoutSeconds:     10,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found,
// and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// A read-only home directory is not fatal; run with defaults.
		_ = writeDefaultConfig(path)
		return applyEnvOverrides(config), nil
	}

	// Start from defaults so keys missing from the file keep their default
	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: RELAYCHAT_SECTION_KEY
// Example: RELAYCHAT_SERVER_PORT=6000
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	envString("RELAYCHAT_SERVER_HOST", &config.Server.Host)
	envInt("RELAYCHAT_SERVER_PORT", &config.Server.Port)
	envString("RELAYCHAT_SERVER_LOG_FILE", &config.Server.LogFile)

	envString("RELAYCHAT_TLS_CERT_FILE", &config.TLS.CertFile)
	envString("RELAYCHAT_TLS_KEY_FILE", &config.TLS.KeyFile)

	envInt("RELAYCHAT_SSH_PORT", &config.SSH.Port)
	envString("RELAYCHAT_SSH_HOST_KEY", &config.SSH.HostKey)

	envInt("RELAYCHAT_WEBSOCKET_PORT", &config.WebSocket.Port)
	if val := os.Getenv("RELAYCHAT_WEBSOCKET_ALLOWED_ORIGINS"); val != "" {
		// Comma-separated list of origins
		origins := strings.Split(val, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		config.WebSocket.AllowedOrigins = origins
	}

	envInt("RELAYCHAT_METRICS_PORT", &config.Metrics.Port)

	envInt("RELAYCHAT_LIMITS_HANDSHAKE_TIMEOUT_SECONDS", &config.Limits.HandshakeTimeoutSeconds)
	envInt("RELAYCHAT_LIMITS_IDLE_TIMEOUT_SECONDS", &config.Limits.IdleTimeoutSeconds)
	envInt("RELAYCHAT_LIMITS_WRITE_TIMEOUT_SECONDS", &config.Limits.WriteTimeoutSeconds)

	envString("RELAYCHAT_AUDIT_DATABASE_PATH", &config.Audit.DatabasePath)

	return config
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# RelayChat Server Configuration
# This file was auto-generated with default values
# Restart the server for changes to take effect
#
# Environment variables can override these settings:
# RELAYCHAT_SECTION_KEY (e.g., RELAYCHAT_SERVER_PORT=6000)

[server]
# Address and port for chat connections
host = "0.0.0.0"
port = 5555

# Append-only event log
log_file = "chat_server.log"

[tls]
# Set both to serve TCP and WebSocket connections over TLS
# cert_file = "cert.pem"
# key_file = "key.pem"

[ssh]
# Port for the SSH transport (0 = disabled)
port = 0

# Generated on first start when missing
host_key = "~/.relaychat/ssh_host_key"

[websocket]
# Port for the WebSocket transport at /ws (0 = disabled)
port = 0

# Accepted Origin headers (empty = any origin)
# allowed_origins = ["https://chat.example.com"]

[metrics]
# Port for /metrics and /health (0 = disabled). Keep this internal.
port = 0

[limits]
# Time allowed for the TLS handshake plus the nickname line
handshake_timeout_seconds = 10

# Disconnect clients that send nothing for this long (0 = never)
idle_timeout_seconds = 0

# Maximum time one recipient may stall a broadcast write
write_timeout_seconds = 10

[audit]
# SQLite file recording joins and leaves (empty = disabled)
# database_path = "~/.relaychat/audit.db"
`

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if strings.TrimSpace(c.Server.Host) != "" {
		cfg.Host = c.Server.Host
	}
	cfg.Port = c.Server.Port
	cfg.LogFile = c.Server.LogFile

	cfg.CertFile = c.TLS.CertFile
	cfg.KeyFile = c.TLS.KeyFile

	cfg.SSHPort = c.SSH.Port
	if strings.TrimSpace(c.SSH.HostKey) != "" {
		cfg.SSHHostKeyPath = c.SSH.HostKey
	}

	cfg.WebSocketPort = c.WebSocket.Port
	cfg.AllowedOrigins = c.WebSocket.AllowedOrigins

	cfg.MetricsPort = c.Metrics.Port

	cfg.HandshakeTimeout = time.Duration(c.Limits.HandshakeTimeoutSeconds) * time.Second
	cfg.IdleTimeout = time.Duration(c.Limits.IdleTimeoutSeconds) * time.Second
	cfg.WriteTimeout = time.Duration(c.Limits.WriteTimeoutSeconds) * time.Second

	cfg.AuditDatabasePath = c.Audit.DatabasePath

	return cfg
}

// expandHome expands a leading ~/ to the user's home directory
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
