package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultHostName is the host used when no hosts are configured.
const DefaultHostName = "localhost"

// HostConfig describes one runtime endpoint.
type HostConfig struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	// Endpoint is a Docker host URL (unix:// or tcp://). Empty means
	// the DOCKER_HOST environment of the process.
	Endpoint string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	// APIVersion pins the API version. Empty negotiates with the daemon.
	APIVersion string `json:"api_version" yaml:"api_version" toml:"api_version"`
	TLSCA      string `json:"tls_ca" yaml:"tls_ca" toml:"tls_ca"`
	TLSCert    string `json:"tls_cert" yaml:"tls_cert" toml:"tls_cert"`
	TLSKey     string `json:"tls_key" yaml:"tls_key" toml:"tls_key"`
}

// StreamConfig tunes log and stats sessions.
type StreamConfig struct {
	// HeartbeatInterval is how often an idle stream probes its client so a
	// disconnect is noticed. Zero disables it.
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	ChunkSize         int           `json:"chunk_size" yaml:"chunk_size" toml:"chunk_size"`
}

// Config holds runtime configuration for the control plane.
type Config struct {
	Listen   string `json:"listen" yaml:"listen" toml:"listen"`
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFile  string `json:"log_file" yaml:"log_file" toml:"log_file"`

	MetricsEnabled bool `json:"metrics_enabled" yaml:"metrics_enabled" toml:"metrics_enabled"`

	// StopTimeout is the grace period given to a container before it is killed
	// by stop, restart and the stop half of remove.
	StopTimeout time.Duration `json:"stop_timeout" yaml:"stop_timeout" toml:"stop_timeout"`
	// RequestTimeout bounds the listing and health calls fanned out to every
	// host. Container commands are never cut short.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`

	CORSAllowOrigins string `json:"cors_allow_origins" yaml:"cors_allow_origins" toml:"cors_allow_origins"`

	Stream StreamConfig `json:"stream" yaml:"stream" toml:"stream"`
	Hosts  []HostConfig `json:"hosts" yaml:"hosts" toml:"hosts"`
}

// DefaultConfig returns a sane default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:           ":3000",
		LogLevel:         "info",
		MetricsEnabled:   true,
		StopTimeout:      10 * time.Second,
		RequestTimeout:   30 * time.Second,
		CORSAllowOrigins: "*",
		Stream: StreamConfig{
			HeartbeatInterval: 15 * time.Second,
			ChunkSize:         32 * 1024,
		},
	}
}

// EffectiveHosts returns the configured hosts, or a single host bound to the
// process's Docker environment when none are configured.
func (c *Config) EffectiveHosts() []HostConfig {
	if len(c.Hosts) == 0 {
		return []HostConfig{{Name: DefaultHostName}}
	}
	return c.Hosts
}

// Validate reports every problem that would make the configuration unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if c.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("stop_timeout must not be negative, got %s", c.StopTimeout))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request_timeout must not be negative, got %s", c.RequestTimeout))
	}
	if c.Stream.HeartbeatInterval < 0 {
		errs = append(errs, fmt.Errorf("stream.heartbeat_interval must not be negative, got %s", c.Stream.HeartbeatInterval))
	}
	if c.Stream.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("stream.chunk_size must not be negative, got %d", c.Stream.ChunkSize))
	}

	seen := make(map[string]bool, len(c.Hosts))
	for i, h := range c.Hosts {
		switch {
		case h.Name == "":
			errs = append(errs, fmt.Errorf("hosts[%d]: name is empty", i))
		case strings.ContainsAny(h.Name, "/ "):
			errs = append(errs, fmt.Errorf("hosts[%d]: name %q must not contain '/' or spaces", i, h.Name))
		case seen[h.Name]:
			errs = append(errs, fmt.Errorf("hosts[%d]: duplicate name %q", i, h.Name))
		}
		seen[h.Name] = true

		tls := []string{h.TLSCA, h.TLSCert, h.TLSKey}
		set := 0
		for _, v := range tls {
			if v != "" {
				set++
			}
		}
		if set != 0 && set != len(tls) {
			errs = append(errs, fmt.Errorf("hosts[%d]: tls_ca, tls_cert and tls_key must be set together", i))
		}
	}
	return errors.Join(errs...)
}

// LoadConfigFromFile loads config from a YAML or TOML file on top of the
// defaults. Files ending in .toml are read as TOML, everything else as YAML.
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(b), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}
