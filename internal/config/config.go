// Package config provides configuration management for the vramgate server.
// It handles loading and parsing YAML configuration files, validating the
// API key format, and providing structured access to application settings
// including the listen port, allowed origins, timeouts, and the static
// model registry seeded at startup.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// DefaultGPUMemoryUtilization is the fraction of a model's weight size
// assumed to be resident in VRAM once the backend is running.
const DefaultGPUMemoryUtilization = 0.85

// apiKeyPattern requires an "sk-" prefix followed by at least 32 hex chars.
var apiKeyPattern = regexp.MustCompile(`^sk-[0-9a-fA-F]{32,}$`)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// APIKey is the bearer key clients must present to this gateway.
	APIKey string `yaml:"api-key"`

	// Port is the network port on which the API server will listen.
	Port int `yaml:"port"`

	// AllowedOrigins is the list of origins allowed for browser CORS requests.
	AllowedOrigins []string `yaml:"allowed-origins"`

	// WebUIAuthEnabled requires the browser UI to authenticate like any other
	// client. When false, endpoints tagged optional-auth accept requests that
	// carry no Authorization header at all.
	WebUIAuthEnabled bool `yaml:"webui-auth-enabled"`

	// BackendTimeoutSeconds is the hard deadline for a single backend request.
	BackendTimeoutSeconds int `yaml:"backend-timeout-seconds"`

	// ProbeTTLSeconds is how long a cached health probe result stays fresh.
	ProbeTTLSeconds int `yaml:"probe-ttl-seconds"`

	// StuckThresholdSeconds is how long a container may stay unhealthy after
	// start before it is considered stuck.
	StuckThresholdSeconds int `yaml:"stuck-threshold-seconds"`

	// GPUMemoryUtilization is the multiplier applied to model weight size to
	// estimate resident VRAM.
	GPUMemoryUtilization float64 `yaml:"gpu-memory-utilization"`

	// Debug enables or disables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile routes log output to rotated files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	// LogRotation bounds the on-disk footprint of rotated log files.
	LogRotation LogRotation `yaml:"log-rotation"`

	// Models is the static model registry seeded at startup.
	Models []ModelConfig `yaml:"models"`
}

// LogRotation bounds the on-disk log footprint.
type LogRotation struct {
	// MaxDays is the maximum age, in days, of a retained log file.
	MaxDays int `yaml:"max-days"`

	// MaxTotalGB caps the total size of retained log files in gibibytes.
	MaxTotalGB int `yaml:"max-total-gb"`
}

// ModelConfig describes one inference backend managed by this gateway.
type ModelConfig struct {
	// ID is the stable identifier clients use as the "model" value.
	ID string `yaml:"id"`

	// BackendURL is the base URL of the backend's OpenAI-compatible API.
	BackendURL string `yaml:"backend-url"`

	// Container is the handle passed to the container runtime.
	Container string `yaml:"container"`

	// Path is the on-disk location of the model weights.
	Path string `yaml:"path"`

	// WeightsGB is the approximate size of the model weights in gibibytes.
	WeightsGB float64 `yaml:"weights-gb"`

	// LoadSeconds is the expected time for the backend to become healthy.
	LoadSeconds int `yaml:"load-seconds"`

	// Description is a human-readable summary shown in status views.
	Description string `yaml:"description"`
}

// LoadConfig reads a YAML configuration file from the given path, unmarshals
// it into a Config struct, applies defaults, and validates it.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	if err = config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.BackendTimeoutSeconds == 0 {
		c.BackendTimeoutSeconds = 300
	}
	if c.ProbeTTLSeconds == 0 {
		c.ProbeTTLSeconds = 2
	}
	if c.StuckThresholdSeconds == 0 {
		c.StuckThresholdSeconds = 90
	}
	if c.GPUMemoryUtilization == 0 {
		c.GPUMemoryUtilization = DefaultGPUMemoryUtilization
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		}
		// A web UI served from the host's LAN address is allowed by default.
		if origin := hostIPOrigin(); origin != "" {
			c.AllowedOrigins = append(c.AllowedOrigins, origin)
		}
	}
}

// hostIPOrigin returns the web UI origin on the host's first global unicast
// IPv4 address, or "" when the host has none.
func hostIPOrigin() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || !ip.IsGlobalUnicast() {
			continue
		}
		return "http://" + ip.String() + ":3000"
	}
	return ""
}

// Validate checks the configuration for fatal problems. A malformed API key
// or an empty model registry aborts startup rather than serving requests the
// gateway cannot authenticate or route.
func (c *Config) Validate() error {
	if !apiKeyPattern.MatchString(c.APIKey) {
		return fmt.Errorf("api-key must be \"sk-\" followed by at least 32 hex characters")
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}
	seen := make(map[string]bool, len(c.Models))
	for i := range c.Models {
		m := &c.Models[i]
		if m.ID == "" {
			return fmt.Errorf("model %d: id is required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id: %s", m.ID)
		}
		seen[m.ID] = true
		if m.BackendURL == "" {
			return fmt.Errorf("model %s: backend-url is required", m.ID)
		}
		if m.Container == "" {
			return fmt.Errorf("model %s: container is required", m.ID)
		}
		if m.WeightsGB <= 0 {
			return fmt.Errorf("model %s: weights-gb must be positive", m.ID)
		}
	}
	return nil
}
