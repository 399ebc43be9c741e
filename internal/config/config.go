// Package config loads and validates the receiver's JSON
// configuration, and hot-reloads it on change.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Version is bumped whenever the Config shape changes in a way that
// matters to operators reading the admin API.
const Version = "1.0.0"

const (
	MinRecvBufBytes = 64 * 1024
	MaxRecvBufBytes = 64 * 1024 * 1024
)

// DatabaseConfig holds the audit-trail and telemetry-cache settings.
type DatabaseConfig struct {
	MySQLDSN             string `json:"mysql_dsn"`
	RedisEnabled         bool   `json:"redis_enabled"`
	RedisAddr            string `json:"redis_addr"`
	RedisCleanupInterval int    `json:"redis_cleanup_interval"`
}

// AdminConfig holds the ambient HTTP/WebSocket dashboard settings.
type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// DebugConfig holds optional diagnostic tooling settings.
type DebugConfig struct {
	EnablePCAP bool   `json:"enable_pcap"`
	PCAPPath   string `json:"pcap_path"`
}

// Config holds every setting needed to run the receiver.
type Config struct {
	Version     string    `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
	LogLevel    string    `json:"log_level"`

	SRTLAPort int `json:"srtla_port"`

	SRTHostname string `json:"srt_hostname"`
	SRTPort     int    `json:"srt_port"`

	RecvBufBytes int `json:"recv_buf_bytes"`
	SendBufBytes int `json:"send_buf_bytes"`

	SidecarPrefix string `json:"sidecar_prefix"`

	Database DatabaseConfig `json:"database"`
	Admin    AdminConfig    `json:"admin"`
	Debug    DebugConfig    `json:"debug"`
}

// Default returns the configuration used when no file is supplied,
// matching the CLI defaults in the external interface contract.
func Default() *Config {
	return &Config{
		Version:       Version,
		LogLevel:      "info",
		SRTLAPort:     5000,
		SRTHostname:   "127.0.0.1",
		SRTPort:       4001,
		RecvBufBytes:  1 << 20,
		SendBufBytes:  1 << 20,
		SidecarPrefix: "/tmp/srtla-group-",
	}
}

var (
	current      *Config
	currentMutex sync.RWMutex
)

// Load reads, validates, and stores the configuration at filePath.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.LastUpdated = time.Now()
	if cfg.Version == "" {
		cfg.Version = Version
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	currentMutex.Lock()
	current = cfg
	currentMutex.Unlock()

	return cfg, nil
}

// Validate checks field ranges the receiver depends on at startup.
func Validate(cfg *Config) error {
	if cfg.SRTLAPort < 1 || cfg.SRTLAPort > 65535 {
		return fmt.Errorf("invalid srtla_port: %d", cfg.SRTLAPort)
	}
	if cfg.SRTPort < 1 || cfg.SRTPort > 65535 {
		return fmt.Errorf("invalid srt_port: %d", cfg.SRTPort)
	}
	if cfg.SRTHostname == "" {
		return fmt.Errorf("srt_hostname must not be empty")
	}
	if cfg.RecvBufBytes < MinRecvBufBytes || cfg.RecvBufBytes > MaxRecvBufBytes {
		return fmt.Errorf("invalid recv_buf_bytes: %d", cfg.RecvBufBytes)
	}
	if cfg.Database.RedisEnabled && cfg.Database.RedisAddr == "" {
		return fmt.Errorf("redis enabled but redis_addr not specified")
	}
	switch cfg.LogLevel {
	case "", "trace", "debug", "info", "warn", "error", "critical":
	default:
		return fmt.Errorf("invalid log_level: %s", cfg.LogLevel)
	}
	return nil
}

// Current returns the most recently loaded configuration.
func Current() *Config {
	currentMutex.RLock()
	defer currentMutex.RUnlock()
	return current
}
