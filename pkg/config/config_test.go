package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Node.DisplayName = "studio-node"

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "studio", cfg.Discovery.Service)
	assert.Equal(t, "optional", cfg.Session.Encryption)
	assert.Equal(t, 500*time.Millisecond, cfg.Discovery.Stagger)
	assert.Equal(t, float64(12), cfg.Session.MaxFrameRate)
}

func TestLoad_UsesDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("STUDIO_DISPLAY_NAME", "Cam A")

	cfg, err := Load("non-existent-config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "Cam A", cfg.Node.DisplayName)
	assert.Equal(t, ":8090", cfg.Server.Address)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_LoadsFromYAMLAndAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
node:
  display_name: "Monitor"
  role: monitor

discovery:
  service: "studio-b"
  query_interval: 1s
  query_timeout: 500ms
  lost_after: 5s

session:
  invite_timeout: 20s
  encryption: "none"

logging:
  level: "debug"
  format: "console"
`)

	t.Setenv("STUDIO_ENCRYPTION", "required")
	t.Setenv("STUDIO_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Monitor", cfg.Node.DisplayName)
	assert.Equal(t, "studio-b", cfg.Discovery.Service)
	assert.Equal(t, 20*time.Second, cfg.Session.InviteTimeout)
	assert.Equal(t, "required", cfg.Session.Encryption)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	// role=monitor browses only
	assert.True(t, cfg.Discovery.Browse)
	assert.False(t, cfg.Discovery.Advertise)
}

func TestLoad_RejectsInvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "node: [unterminated")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyRole(t *testing.T) {
	cases := []struct {
		role      string
		advertise bool
		browse    bool
	}{
		{RoleMonitor, false, true},
		{RoleCamera, true, false},
		{RoleBoth, true, true},
	}

	for _, tc := range cases {
		t.Run(tc.role, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Node.Role = tc.role
			cfg.ApplyRole()
			assert.Equal(t, tc.advertise, cfg.Discovery.Advertise)
			assert.Equal(t, tc.browse, cfg.Discovery.Browse)
		})
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "service name with uppercase",
			mutate: func(c *Config) { c.Discovery.Service = "Studio" },
		},
		{
			name:   "service name too long",
			mutate: func(c *Config) { c.Discovery.Service = "a-very-long-service-name" },
		},
		{
			name:   "empty display name",
			mutate: func(c *Config) { c.Node.DisplayName = "" },
		},
		{
			name:   "unknown role",
			mutate: func(c *Config) { c.Node.Role = "director" },
		},
		{
			name:   "unknown encryption level",
			mutate: func(c *Config) { c.Session.Encryption = "maybe" },
		},
		{
			name:   "lost_after must exceed query interval",
			mutate: func(c *Config) { c.Discovery.LostAfter = c.Discovery.QueryInterval },
		},
		{
			name:   "query timeout larger than interval",
			mutate: func(c *Config) { c.Discovery.QueryTimeout = 3 * c.Discovery.QueryInterval },
		},
		{
			name:   "invite timeout must be > 0",
			mutate: func(c *Config) { c.Session.InviteTimeout = 0 },
		},
		{
			name:   "backoff max below initial",
			mutate: func(c *Config) { c.Session.BackoffMax = c.Session.BackoffInitial / 2 },
		},
		{
			name:   "frame rate must be > 0",
			mutate: func(c *Config) { c.Session.MaxFrameRate = 0 },
		},
		{
			name:   "frame pixel limit must be > 0",
			mutate: func(c *Config) { c.Session.MaxFramePixels = 0 },
		},
		{
			name:   "port range half set",
			mutate: func(c *Config) { c.Transport.PortRange.Min = 50000 },
		},
		{
			name: "port range inverted",
			mutate: func(c *Config) {
				c.Transport.PortRange.Min = 50010
				c.Transport.PortRange.Max = 50000
			},
		},
		{
			name: "admission ttl required with secret",
			mutate: func(c *Config) {
				c.Session.AdmissionSecret = "s3cret"
				c.Session.AdmissionTTL = 0
			},
		},
		{
			name: "http rps must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.HTTP.RequestsPerSecond = 0
			},
		},
		{
			name: "tracing sample rate out of range",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 1.5
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Node.DisplayName = "studio-node"
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}
