package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Log.Level != "info" || !cfg.Log.JSON {
		t.Fatalf("log defaults = %+v", cfg.Log)
	}
	if cfg.Data.Dir != "data" {
		t.Fatalf("data dir = %q", cfg.Data.Dir)
	}
	if cfg.Engine.SettlementKeyword != "结算查询" {
		t.Fatalf("settlement keyword = %q", cfg.Engine.SettlementKeyword)
	}
	if cfg.Engine.SendTimeout != 30*time.Second {
		t.Fatalf("send timeout = %v", cfg.Engine.SendTimeout)
	}
	if cfg.Admin.ListenAddr != ":5000" {
		t.Fatalf("admin listen addr = %q", cfg.Admin.ListenAddr)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  json: false
data:
  dir: /var/lib/tgfleet
engine:
  settlement_keyword: 余额查询
  send_timeout: 10s
admin:
  listen_addr: 127.0.0.1:8080
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.JSON {
		t.Fatalf("log = %+v", cfg.Log)
	}
	if cfg.Data.Dir != "/var/lib/tgfleet" {
		t.Fatalf("data dir = %q", cfg.Data.Dir)
	}
	if cfg.Engine.SettlementKeyword != "余额查询" {
		t.Fatalf("settlement keyword = %q", cfg.Engine.SettlementKeyword)
	}
	if cfg.Engine.SendTimeout != 10*time.Second {
		t.Fatalf("send timeout = %v", cfg.Engine.SendTimeout)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Engine.SettlementErrorMessage == "" {
		t.Fatal("settlement error message default lost")
	}
	if cfg.Admin.ListenAddr != "127.0.0.1:8080" {
		t.Fatalf("admin listen addr = %q", cfg.Admin.ListenAddr)
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, `
log:
  level: verbose
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted unknown log level")
	}
}

func TestLoadRejectsShortSendTimeout(t *testing.T) {
	path := writeConfig(t, `
engine:
  send_timeout: 100ms
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted a sub-second send timeout")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := Load(path); err == nil {
		t.Fatal("Load succeeded with a missing explicit config file")
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("TGFLEET_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("log level = %q, want env override %q", cfg.Log.Level, "warn")
	}
}
