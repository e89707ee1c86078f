// Package config holds the YAML-backed application configuration tree,
// with AEROCORE_* environment-variable overrides layered on top of file
// values and a Validate step that rejects inconsistent settings before any
// provider is constructed from them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/aeroftp/aerocore/pkg/retrypolicy"
)

// Configuration is the complete application configuration.
type Configuration struct {
	Global    GlobalConfig    `yaml:"global"`
	Network   NetworkConfig   `yaml:"network"`
	Transfer  TransferConfig  `yaml:"transfer"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	CredStore CredStoreConfig `yaml:"credential_store"`
	Bulk      BulkConfig      `yaml:"bulk"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// GlobalConfig holds application-wide settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// NetworkConfig groups timeout, retry, and circuit-breaker settings shared
// by every HTTP-backed provider.
type NetworkConfig struct {
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TimeoutConfig holds the outbound HTTP timeouts: Connect applies to dials,
// Metadata to listing/stat-class requests, Transfer to file bodies.
type TimeoutConfig struct {
	Connect  time.Duration `yaml:"connect"`
	Metadata time.Duration `yaml:"metadata"`
	Transfer time.Duration `yaml:"transfer"`
}

// RetryConfig mirrors retrypolicy.Policy in YAML-friendly form.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	RetryAfterCap time.Duration `yaml:"retry_after_cap"`
}

// CircuitBreakerConfig tunes the per-provider wire breaker.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// TransferConfig holds transfer-path tunables.
type TransferConfig struct {
	DownloadBytesCap   int64 `yaml:"download_bytes_cap"`
	UploadLimitBytes   int64 `yaml:"upload_limit_bytes_per_sec"`   // 0 = unlimited
	DownloadLimitBytes int64 `yaml:"download_limit_bytes_per_sec"` // 0 = unlimited
}

// OAuthConfig holds loopback-redirect and refresh tunables.
type OAuthConfig struct {
	RedirectPortMin int           `yaml:"redirect_port_min"` // 0 = ephemeral
	RedirectPortMax int           `yaml:"redirect_port_max"`
	RefreshSkew     time.Duration `yaml:"refresh_skew"`
}

// CredStoreConfig locates the vault fallback files.
type CredStoreConfig struct {
	ConfigDir        string `yaml:"config_dir"` // "" = platform default
	PreferKeyring    bool   `yaml:"prefer_keyring"`
	VaultFileName    string `yaml:"vault_file_name"`
	SaltFileName     string `yaml:"salt_file_name"`
	AccountsFileName string `yaml:"accounts_file_name"`
}

// BulkConfig tunes the scan/act engine.
type BulkConfig struct {
	MaxScanDepth         int           `yaml:"max_scan_depth"`
	ScanProgressInterval time.Duration `yaml:"scan_progress_interval"`
	ScanProgressEvery    int           `yaml:"scan_progress_every"`
}

// MetricsConfig tunes the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with the documented defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
			LogFile:  "",
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Connect:  30 * time.Second,
				Metadata: 30 * time.Second,
				Transfer: 300 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:   3,
				BaseDelay:     500 * time.Millisecond,
				MaxDelay:      30 * time.Second,
				RetryAfterCap: 120 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		Transfer: TransferConfig{
			DownloadBytesCap: 50 * 1024 * 1024,
		},
		OAuth: OAuthConfig{
			RefreshSkew: 60 * time.Second,
		},
		CredStore: CredStoreConfig{
			PreferKeyring:    true,
			VaultFileName:    "vault.bin",
			SaltFileName:     "vault.salt",
			AccountsFileName: "keyring_accounts.json",
		},
		Bulk: BulkConfig{
			MaxScanDepth:         256,
			ScanProgressInterval: 500 * time.Millisecond,
			ScanProgressEvery:    100,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "aerocore",
		},
	}
}

// LoadFromFile merges a YAML file over c.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv merges AEROCORE_* environment variables over c.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("AEROCORE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("AEROCORE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("AEROCORE_RETRY_MAX_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Network.Retry.MaxAttempts = n
		}
	}
	if val := os.Getenv("AEROCORE_DOWNLOAD_BYTES_CAP"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Transfer.DownloadBytesCap = n
		}
	}
	if val := os.Getenv("AEROCORE_UPLOAD_LIMIT"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Transfer.UploadLimitBytes = n
		}
	}
	if val := os.Getenv("AEROCORE_DOWNLOAD_LIMIT"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Transfer.DownloadLimitBytes = n
		}
	}
	if val := os.Getenv("AEROCORE_CONFIG_DIR"); val != "" {
		c.CredStore.ConfigDir = val
	}
	if val := os.Getenv("AEROCORE_PREFER_KEYRING"); val != "" {
		c.CredStore.PreferKeyring = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("AEROCORE_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("AEROCORE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}
	return nil
}

// SaveToFile writes c to a YAML file, creating parent directories with
// owner-only permissions.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects inconsistent settings.
func (c *Configuration) Validate() error {
	switch c.Global.LogLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid log_level: %s (must be one of: DEBUG, INFO, WARN, ERROR)", c.Global.LogLevel)
	}
	if c.Network.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be greater than 0")
	}
	if c.Network.Timeouts.Connect <= 0 || c.Network.Timeouts.Transfer <= 0 {
		return fmt.Errorf("network timeouts must be positive")
	}
	if c.Transfer.DownloadBytesCap <= 0 {
		return fmt.Errorf("download_bytes_cap must be greater than 0")
	}
	if c.Transfer.UploadLimitBytes < 0 || c.Transfer.DownloadLimitBytes < 0 {
		return fmt.Errorf("bandwidth limits cannot be negative (0 means unlimited)")
	}
	if c.OAuth.RedirectPortMin > c.OAuth.RedirectPortMax {
		return fmt.Errorf("redirect_port_min cannot exceed redirect_port_max")
	}
	if c.Bulk.MaxScanDepth <= 0 {
		return fmt.Errorf("max_scan_depth must be greater than 0")
	}
	return nil
}

// RetryPolicy converts the retry section into the policy the HTTP layer
// consumes, keeping the non-configurable factor/jitter defaults.
func (c *Configuration) RetryPolicy() retrypolicy.Policy {
	p := retrypolicy.DefaultPolicy()
	p.MaxAttempts = c.Network.Retry.MaxAttempts
	p.BaseDelay = c.Network.Retry.BaseDelay
	p.MaxDelay = c.Network.Retry.MaxDelay
	p.RetryAfterCap = c.Network.Retry.RetryAfterCap
	return p
}
