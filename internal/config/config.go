package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models playline.yml.
type Config struct {
	Runtime struct {
		ExecutionPolicy ExecutionPolicyConfig `yaml:"execution_policy"`
		Resources       ResourcesConfig       `yaml:"resources"`
		Capabilities    CapabilitiesConfig    `yaml:"capabilities"`
	} `yaml:"runtime"`
	Library struct {
		Path string `yaml:"path"`
	} `yaml:"library"`
	Server   ServerConfig    `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ExecutionPolicyConfig struct {
	DefaultChain            []string `yaml:"default_chain"`
	AllowHumanOverride      *bool    `yaml:"allow_human_override"`
	MaxRetries              int      `yaml:"max_retries"`
	ExecutionTimeoutSeconds int      `yaml:"execution_timeout_seconds"`
	AvailableTypes          []string `yaml:"available_types"`
}

type ResourcesConfig struct {
	MaxConcurrentAllocations  int `yaml:"max_concurrent_allocations"`
	DefaultReservationMinutes int `yaml:"default_reservation_minutes"`
}

type CapabilitiesConfig struct {
	EnableMarketplace *bool `yaml:"enable_marketplace"`
	CacheResolutions  *bool `yaml:"cache_resolutions"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

var validModes = map[string]struct{}{
	"algorithmic": {},
	"ai":          {},
	"human":       {},
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	policy := c.Runtime.ExecutionPolicy
	for _, mode := range policy.DefaultChain {
		if _, ok := validModes[mode]; !ok {
			return fmt.Errorf("config.runtime.execution_policy.default_chain contains unknown mode %q", mode)
		}
	}
	for _, mode := range policy.AvailableTypes {
		if _, ok := validModes[mode]; !ok {
			return fmt.Errorf("config.runtime.execution_policy.available_types contains unknown mode %q", mode)
		}
	}
	if policy.MaxRetries < 0 {
		return fmt.Errorf("config.runtime.execution_policy.max_retries must not be negative")
	}
	if policy.ExecutionTimeoutSeconds < 0 {
		return fmt.Errorf("config.runtime.execution_policy.execution_timeout_seconds must not be negative")
	}
	if c.Runtime.Resources.MaxConcurrentAllocations < 0 {
		return fmt.Errorf("config.runtime.resources.max_concurrent_allocations must not be negative")
	}
	if c.Runtime.Resources.DefaultReservationMinutes < 0 {
		return fmt.Errorf("config.runtime.resources.default_reservation_minutes must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// ExecutionTimeout returns the configured per-attempt timeout.
func (p ExecutionPolicyConfig) ExecutionTimeout() time.Duration {
	return time.Duration(p.ExecutionTimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "playline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `runtime:
  execution_policy:
    default_chain: [algorithmic, ai, human]
    allow_human_override: true
    max_retries: 3
    execution_timeout_seconds: 300
    available_types: [algorithmic, ai, human]

  resources:
    max_concurrent_allocations: 100
    default_reservation_minutes: 30

  capabilities:
    enable_marketplace: true
    cache_resolutions: true

library:
  path: library

server:
  addr: 127.0.0.1:8700
`
