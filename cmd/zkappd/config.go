// config.go - Configuration management for zkappd
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"zkapp/internal/contract"
	"zkapp/internal/controller"
	"zkapp/internal/network"
)

// Config represents the application configuration
type Config struct {
	// Network settings
	Network      string `json:"network" mapstructure:"network"`
	ZkAppAddress string `json:"zkapp_address" mapstructure:"zkapp_address"`
	Fee          string `json:"fee" mapstructure:"fee"`
	Memo         string `json:"memo" mapstructure:"memo"`

	ExplorerTxURL string `json:"explorer_tx_url" mapstructure:"explorer_tx_url"`
	FaucetURL     string `json:"faucet_url" mapstructure:"faucet_url"`

	PollInterval    time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	PollMaxAttempts int           `json:"poll_max_attempts" mapstructure:"poll_max_attempts"`

	// Servers
	ListenAddr       string `json:"listen_addr" mapstructure:"listen_addr"`
	WorkerURL        string `json:"worker_url" mapstructure:"worker_url"`
	WorkerListenAddr string `json:"worker_listen_addr" mapstructure:"worker_listen_addr"`
	LedgerURL        string `json:"ledger_url" mapstructure:"ledger_url"`
	RPCMaxRetries    int    `json:"rpc_max_retries" mapstructure:"rpc_max_retries"`

	// File paths
	LedgerPath string `json:"ledger_path" mapstructure:"ledger_path"`
	WalletPath string `json:"wallet_path" mapstructure:"wallet_path"`
	KeyDir     string `json:"key_dir" mapstructure:"key_dir"`

	// Logging
	LogLevel string `json:"log_level" mapstructure:"log_level"`
	LogFile  string `json:"log_file" mapstructure:"log_file"`
	JSONLogs bool   `json:"json_logs" mapstructure:"json_logs"`

	// Performance
	TimeoutSeconds     int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	RateLimitPerMinute int `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	RateLimitBurst     int `json:"rate_limit_burst" mapstructure:"rate_limit_burst"`

	// Security
	EnableAudit  bool   `json:"enable_audit" mapstructure:"enable_audit"`
	AuditLogPath string `json:"audit_log_path" mapstructure:"audit_log_path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	c := controller.DefaultConfig()
	return &Config{
		Network:            c.Network,
		Fee:                c.Fee,
		Memo:               c.Memo,
		ExplorerTxURL:      c.ExplorerTxURL,
		FaucetURL:          c.FaucetURL,
		PollInterval:       c.PollInterval,
		PollMaxAttempts:    0,
		ListenAddr:         "127.0.0.1:8080",
		WorkerListenAddr:   "127.0.0.1:8081",
		LedgerURL:          "http://127.0.0.1:8080/graphql",
		RPCMaxRetries:      3,
		LedgerPath:         "ledger.json",
		WalletPath:         "wallet.json",
		KeyDir:             "keys",
		LogLevel:           "info",
		LogFile:            "zkappd.log",
		TimeoutSeconds:     600,
		RateLimitPerMinute: 6,
		RateLimitBurst:     2,
		EnableAudit:        true,
		AuditLogPath:       "audit.log",
	}
}

// envPrefix scopes environment overrides, e.g. ZKAPP_NETWORK.
const envPrefix = "ZKAPP"

// LoadConfig loads configuration from file or creates default. Environment
// variables override file values.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		// Create default config and save it
		if err := SaveConfig(DefaultConfig(), configPath); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &config, nil
}

// setDefaults registers every key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper, c *Config) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}
	for k, val := range m {
		v.SetDefault(k, val)
	}
	// Durations round-trip through JSON as nanoseconds.
	v.SetDefault("poll_interval", c.PollInterval)
	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	b, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, b, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Network == "" {
		return fmt.Errorf("network must be set")
	}
	if c.Network != network.LocalEndpoint {
		if u, err := url.Parse(c.Network); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("network must be %q or an absolute URL, got %q", network.LocalEndpoint, c.Network)
		}
	}
	if c.ZkAppAddress != "" {
		if _, err := contract.ParseAddress(c.ZkAppAddress); err != nil {
			return fmt.Errorf("zkapp_address: %w", err)
		}
	}
	if _, err := network.ParseMina(c.Fee); err != nil {
		return fmt.Errorf("fee: %w", err)
	}
	if len(c.Memo) > 32 {
		return fmt.Errorf("memo must be at most 32 bytes")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.PollMaxAttempts < 0 {
		return fmt.Errorf("poll_max_attempts must not be negative")
	}
	if c.RPCMaxRetries < 0 {
		return fmt.Errorf("rpc_max_retries must not be negative")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	if c.RateLimitPerMinute <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}

// IsLocal reports whether the local ledger is the active network.
func (c *Config) IsLocal() bool {
	return c.Network == network.LocalEndpoint
}

// Controller returns the controller view of the configuration.
func (c *Config) Controller() controller.Config {
	explorer := c.ExplorerTxURL
	if c.IsLocal() && explorer == controller.DefaultConfig().ExplorerTxURL {
		explorer = "http://" + c.ListenAddr + "/tx/"
	}
	return controller.Config{
		Network:         c.Network,
		ZkAppAddress:    c.ZkAppAddress,
		Fee:             c.Fee,
		Memo:            c.Memo,
		ExplorerTxURL:   explorer,
		FaucetURL:       c.FaucetURL,
		PollInterval:    c.PollInterval,
		PollMaxAttempts: c.PollMaxAttempts,
	}
}

// Timeout is the per-request budget for HTTP handlers.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
