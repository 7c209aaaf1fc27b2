package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides reads configuration values from environment variables and
// overrides fields in the provided Config. Returns an error if parsing fails.
//
// Environment variables supported:
// - LIGHTHOUSE_LISTEN (string, e.g. ":3000")
// - LIGHTHOUSE_LOG_LEVEL (string, "debug"/"info"/"warn"/"error")
// - LIGHTHOUSE_LOG_FILE (path)
// - LIGHTHOUSE_METRICS_ENABLED (bool)
// - LIGHTHOUSE_STOP_TIMEOUT (duration, e.g. "10s")
// - LIGHTHOUSE_REQUEST_TIMEOUT (duration)
// - LIGHTHOUSE_CORS_ALLOW_ORIGINS (string)
// - LIGHTHOUSE_HEARTBEAT_INTERVAL (duration)
// - LIGHTHOUSE_CHUNK_SIZE (int, bytes)
// - LIGHTHOUSE_HOSTS ("name=endpoint,name=endpoint"; replaces configured hosts)
func ApplyEnvOverrides(cfg *Config) error {
	setString("LIGHTHOUSE_LISTEN", &cfg.Listen)
	setString("LIGHTHOUSE_LOG_LEVEL", &cfg.LogLevel)
	setString("LIGHTHOUSE_LOG_FILE", &cfg.LogFile)
	setString("LIGHTHOUSE_CORS_ALLOW_ORIGINS", &cfg.CORSAllowOrigins)

	if err := setBoolEnv("LIGHTHOUSE_METRICS_ENABLED", func(b bool) { cfg.MetricsEnabled = b }); err != nil {
		return err
	}
	if err := setDurationEnv("LIGHTHOUSE_STOP_TIMEOUT", &cfg.StopTimeout); err != nil {
		return err
	}
	if err := setDurationEnv("LIGHTHOUSE_REQUEST_TIMEOUT", &cfg.RequestTimeout); err != nil {
		return err
	}
	if err := setDurationEnv("LIGHTHOUSE_HEARTBEAT_INTERVAL", &cfg.Stream.HeartbeatInterval); err != nil {
		return err
	}
	if v := os.Getenv("LIGHTHOUSE_CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LIGHTHOUSE_CHUNK_SIZE: %w", err)
		}
		cfg.Stream.ChunkSize = n
	}
	if v := os.Getenv("LIGHTHOUSE_HOSTS"); v != "" {
		hosts, err := ParseHostList(v)
		if err != nil {
			return fmt.Errorf("invalid LIGHTHOUSE_HOSTS: %w", err)
		}
		cfg.Hosts = hosts
	}
	return nil
}

// ParseHostList parses "name=endpoint" pairs separated by commas. A bare name
// uses the process's Docker environment.
func ParseHostList(v string) ([]HostConfig, error) {
	var hosts []HostConfig
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, endpoint, _ := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("entry %q has no host name", part)
		}
		hosts = append(hosts, HostConfig{Name: name, Endpoint: strings.TrimSpace(endpoint)})
	}
	return hosts, nil
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBoolEnv(key string, set func(bool)) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	set(b)
	return nil
}

func setDurationEnv(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
