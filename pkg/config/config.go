package config

import (
	"fmt"
	"os"
	"time"

	"studiolink/pkg/validation"

	"gopkg.in/yaml.v2"
)

// Node roles. A role only selects which discovery toggles start enabled;
// the protocol itself is symmetric.
const (
	RoleMonitor = "monitor"
	RoleCamera  = "camera"
	RoleBoth    = "both"
)

type Config struct {
	Node struct {
		DisplayName string `yaml:"display_name"`
		Role        string `yaml:"role"`
	} `yaml:"node"`

	Discovery struct {
		Service       string        `yaml:"service"`
		Domain        string        `yaml:"domain"`
		Advertise     bool          `yaml:"advertise"`
		Browse        bool          `yaml:"browse"`
		Stagger       time.Duration `yaml:"stagger"`
		QueryInterval time.Duration `yaml:"query_interval"`
		QueryTimeout  time.Duration `yaml:"query_timeout"`
		LostAfter     time.Duration `yaml:"lost_after"`
		DisableIPv6   bool          `yaml:"disable_ipv6"`
	} `yaml:"discovery"`

	Session struct {
		InviteTimeout   time.Duration `yaml:"invite_timeout"`
		BackoffInitial  time.Duration `yaml:"backoff_initial"`
		BackoffMax      time.Duration `yaml:"backoff_max"`
		BackoffFactor   float64       `yaml:"backoff_factor"`
		Encryption      string        `yaml:"encryption"`
		AdmissionSecret string        `yaml:"admission_secret"`
		AdmissionTTL    time.Duration `yaml:"admission_ttl"`
		MaxFrameRate    float64       `yaml:"max_frame_rate"`
		FrameBurst      int           `yaml:"frame_burst"`
		MaxPayloadBytes int           `yaml:"max_payload_bytes"`
		MaxFramePixels  int           `yaml:"max_frame_pixels"`
		EventBuffer     int           `yaml:"event_buffer"`
	} `yaml:"session"`

	Transport struct {
		SignalAddress string `yaml:"signal_address"`
		ICEServers    []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		IncludeLoopback  bool          `yaml:"include_loopback"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	} `yaml:"transport"`

	Server struct {
		Enabled         bool          `yaml:"enabled"`
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Node
	if err := validation.ValidateDisplayName(c.Node.DisplayName); err != nil {
		return fmt.Errorf("node.display_name: %w", err)
	}
	switch c.Node.Role {
	case RoleMonitor, RoleCamera, RoleBoth, "":
	default:
		return fmt.Errorf("node.role must be one of monitor, camera, both")
	}

	// Discovery
	if err := validation.ValidateServiceName(c.Discovery.Service); err != nil {
		return fmt.Errorf("discovery.service: %w", err)
	}
	if c.Discovery.Domain == "" {
		return fmt.Errorf("discovery.domain must not be empty")
	}
	if c.Discovery.Stagger < 0 {
		return fmt.Errorf("discovery.stagger must be >= 0")
	}
	if c.Discovery.QueryInterval <= 0 {
		return fmt.Errorf("discovery.query_interval must be > 0")
	}
	if c.Discovery.QueryTimeout <= 0 || c.Discovery.QueryTimeout > c.Discovery.QueryInterval {
		return fmt.Errorf("discovery.query_timeout must be > 0 and <= query_interval")
	}
	if c.Discovery.LostAfter <= c.Discovery.QueryInterval {
		return fmt.Errorf("discovery.lost_after must be > query_interval")
	}

	// Session
	if c.Session.InviteTimeout <= 0 {
		return fmt.Errorf("session.invite_timeout must be > 0")
	}
	if c.Session.BackoffInitial <= 0 {
		return fmt.Errorf("session.backoff_initial must be > 0")
	}
	if c.Session.BackoffMax < c.Session.BackoffInitial {
		return fmt.Errorf("session.backoff_max must be >= backoff_initial")
	}
	if c.Session.BackoffFactor < 1 {
		return fmt.Errorf("session.backoff_factor must be >= 1")
	}
	switch c.Session.Encryption {
	case "none", "optional", "required":
	default:
		return fmt.Errorf("session.encryption must be one of none, optional, required")
	}
	if c.Session.AdmissionSecret != "" && c.Session.AdmissionTTL <= 0 {
		return fmt.Errorf("session.admission_ttl must be > 0 when admission_secret is set")
	}
	if c.Session.MaxFrameRate <= 0 {
		return fmt.Errorf("session.max_frame_rate must be > 0")
	}
	if c.Session.FrameBurst <= 0 {
		return fmt.Errorf("session.frame_burst must be > 0")
	}
	if c.Session.MaxPayloadBytes <= 0 {
		return fmt.Errorf("session.max_payload_bytes must be > 0")
	}
	if c.Session.MaxFramePixels <= 0 {
		return fmt.Errorf("session.max_frame_pixels must be > 0")
	}
	if c.Session.EventBuffer <= 0 {
		return fmt.Errorf("session.event_buffer must be > 0")
	}

	// Transport
	if c.Transport.SignalAddress == "" {
		return fmt.Errorf("transport.signal_address must not be empty")
	}
	if c.Transport.PortRange.Min > 0 || c.Transport.PortRange.Max > 0 {
		if c.Transport.PortRange.Min == 0 || c.Transport.PortRange.Max == 0 {
			return fmt.Errorf("transport.port_range.min and max must both be set when one is set")
		}
		if c.Transport.PortRange.Min >= c.Transport.PortRange.Max {
			return fmt.Errorf("transport.port_range.min must be < max")
		}
	}
	if c.Transport.HandshakeTimeout <= 0 {
		return fmt.Errorf("transport.handshake_timeout must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Address == "" {
			return fmt.Errorf("server.address must not be empty")
		}
		if c.Server.ReadTimeout <= 0 {
			return fmt.Errorf("server.read_timeout must be > 0")
		}
		if c.Server.WriteTimeout <= 0 {
			return fmt.Errorf("server.write_timeout must be > 0")
		}
		if c.Server.ShutdownTimeout <= 0 {
			return fmt.Errorf("server.shutdown_timeout must be > 0")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// ApplyRole sets the discovery toggles for the configured role. An empty
// role keeps whatever the file says.
func (c *Config) ApplyRole() {
	switch c.Node.Role {
	case RoleMonitor:
		c.Discovery.Advertise = false
		c.Discovery.Browse = true
	case RoleCamera:
		c.Discovery.Advertise = true
		c.Discovery.Browse = false
	case RoleBoth:
		c.Discovery.Advertise = true
		c.Discovery.Browse = true
	}
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		cfg.ApplyRole()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.ApplyRole()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	hostname, err := os.Hostname()
	if err != nil || validation.ValidateDisplayName(hostname) != nil {
		hostname = "studio-node"
	}
	cfg.Node.DisplayName = hostname
	cfg.Node.Role = RoleBoth

	cfg.Discovery.Service = "studio"
	cfg.Discovery.Domain = "local."
	cfg.Discovery.Advertise = true
	cfg.Discovery.Browse = true
	cfg.Discovery.Stagger = 500 * time.Millisecond
	cfg.Discovery.QueryInterval = 2 * time.Second
	cfg.Discovery.QueryTimeout = time.Second
	cfg.Discovery.LostAfter = 8 * time.Second

	cfg.Session.InviteTimeout = 15 * time.Second
	cfg.Session.BackoffInitial = time.Second
	cfg.Session.BackoffMax = 30 * time.Second
	cfg.Session.BackoffFactor = 2.0
	cfg.Session.Encryption = "optional"
	cfg.Session.AdmissionTTL = time.Minute
	cfg.Session.MaxFrameRate = 12
	cfg.Session.FrameBurst = 2
	cfg.Session.MaxPayloadBytes = 4 * 1024 * 1024
	cfg.Session.MaxFramePixels = 4096 * 4096
	cfg.Session.EventBuffer = 256

	cfg.Transport.SignalAddress = ":0"
	cfg.Transport.HandshakeTimeout = 10 * time.Second

	cfg.Server.Enabled = true
	cfg.Server.Address = ":8090"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if name := os.Getenv("STUDIO_DISPLAY_NAME"); name != "" {
		c.Node.DisplayName = name
	}
	if role := os.Getenv("STUDIO_ROLE"); role != "" {
		c.Node.Role = role
	}
	if service := os.Getenv("STUDIO_SERVICE"); service != "" {
		c.Discovery.Service = service
	}
	if level := os.Getenv("STUDIO_ENCRYPTION"); level != "" {
		c.Session.Encryption = level
	}
	if secret := os.Getenv("STUDIO_ADMISSION_SECRET"); secret != "" {
		c.Session.AdmissionSecret = secret
	}
	if addr := os.Getenv("STUDIO_HTTP_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("STUDIO_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
