package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := NewDefault()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "INFO", cfg.Global.LogLevel)
	assert.Equal(t, 3, cfg.Network.Retry.MaxAttempts)
	assert.Equal(t, int64(50*1024*1024), cfg.Transfer.DownloadBytesCap)
}

func TestLoadFromFileMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := `
global:
  log_level: DEBUG
network:
  retry:
    max_attempts: 5
transfer:
  download_limit_bytes_per_sec: 1048576
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromFile(file))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "DEBUG", cfg.Global.LogLevel)
	assert.Equal(t, 5, cfg.Network.Retry.MaxAttempts)
	assert.Equal(t, int64(1048576), cfg.Transfer.DownloadLimitBytes)
	// Untouched sections keep their defaults.
	assert.Equal(t, 300*time.Second, cfg.Network.Timeouts.Transfer)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("AEROCORE_LOG_LEVEL", "WARN")
	t.Setenv("AEROCORE_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("AEROCORE_PREFER_KEYRING", "false")

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, "WARN", cfg.Global.LogLevel)
	assert.Equal(t, 7, cfg.Network.Retry.MaxAttempts)
	assert.False(t, cfg.CredStore.PreferKeyring)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "nested", "config.yaml")

	cfg := NewDefault()
	cfg.Global.LogLevel = "ERROR"
	require.NoError(t, cfg.SaveToFile(file))

	loaded := NewDefault()
	require.NoError(t, loaded.LoadFromFile(file))
	assert.Equal(t, "ERROR", loaded.Global.LogLevel)

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"bad log level", func(c *Configuration) { c.Global.LogLevel = "TRACE" }},
		{"zero attempts", func(c *Configuration) { c.Network.Retry.MaxAttempts = 0 }},
		{"zero download cap", func(c *Configuration) { c.Transfer.DownloadBytesCap = 0 }},
		{"negative limit", func(c *Configuration) { c.Transfer.UploadLimitBytes = -1 }},
		{"inverted port range", func(c *Configuration) { c.OAuth.RedirectPortMin = 9000; c.OAuth.RedirectPortMax = 8000 }},
		{"zero scan depth", func(c *Configuration) { c.Bulk.MaxScanDepth = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefault()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRetryPolicyConversion(t *testing.T) {
	cfg := NewDefault()
	cfg.Network.Retry.MaxAttempts = 6
	cfg.Network.Retry.BaseDelay = time.Second

	p := cfg.RetryPolicy()
	assert.Equal(t, 6, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 2.0, p.Factor) // non-configurable default preserved
}
