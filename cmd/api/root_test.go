package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		configPath, listenAddr, logLevel = "", "", ""
	})
}

func TestLoadConfigLayering(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "lighthouse.yaml")
	yml := `listen: ":4000"
log_level: debug
stop_timeout: 5s
hosts:
  - name: edge-1
    endpoint: tcp://10.0.0.11:2375
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LIGHTHOUSE_STOP_TIMEOUT", "20s")

	configPath = path
	listenAddr = ":5000"

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Listen != ":5000" {
		t.Errorf("Listen = %q, want flag value", cfg.Listen)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want file value", cfg.LogLevel)
	}
	if cfg.StopTimeout != 20*time.Second {
		t.Errorf("StopTimeout = %s, want env value", cfg.StopTimeout)
	}
	if len(cfg.Hosts) != 1 || cfg.Hosts[0].Name != "edge-1" {
		t.Errorf("Hosts = %+v", cfg.Hosts)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	resetFlags(t)
	t.Setenv("LIGHTHOUSE_HOSTS", "edge-1=tcp://a:2375,edge-1=tcp://b:2375")

	_, err := loadConfig()
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("loadConfig() error = %v, want duplicate host", err)
	}
}

func TestCheckReportsUnreachableHosts(t *testing.T) {
	resetFlags(t)
	// Nothing listens on port 1, so the ping fails fast.
	t.Setenv("LIGHTHOUSE_HOSTS", "edge-1=tcp://127.0.0.1:1")
	t.Setenv("LIGHTHOUSE_REQUEST_TIMEOUT", "2s")

	var out bytes.Buffer
	checkCmd.SetOut(&out)
	t.Cleanup(func() { checkCmd.SetOut(nil) })

	err := runCheck(checkCmd, nil)
	if err == nil {
		t.Fatal("runCheck() error = nil, want unreachable host")
	}
	if !strings.Contains(out.String(), "✗ edge-1") {
		t.Errorf("output = %q", out.String())
	}
}
