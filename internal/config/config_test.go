package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "hosts: [\"localhost:27017\"]\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.MaxPoolSize != 100 {
		t.Fatalf("expected default max_pool_size 100, got %d", cfg.Pool.MaxPoolSize)
	}
	if cfg.ServerSelectionTimeout != 30*time.Second {
		t.Fatalf("expected default server selection timeout, got %v", cfg.ServerSelectionTimeout)
	}
}

func TestLoadRejectsMissingHosts(t *testing.T) {
	path := writeTempConfig(t, "app_name: widgets\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error when hosts is empty")
	}
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("DOCDRIVER_PASSWORD", "hunter2")
	path := writeTempConfig(t, "hosts: [\"localhost:27017\"]\nauth:\n  username: app\n  password: ${DOCDRIVER_PASSWORD}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.Password != "hunter2" {
		t.Fatalf("expected substituted password, got %q", cfg.Auth.Password)
	}
}

func TestRedactedMasksPassword(t *testing.T) {
	cfg := Config{Auth: Auth{Username: "app", Password: "hunter2"}}
	r := cfg.Redacted()
	if r.Auth.Password == "hunter2" {
		t.Fatal("expected password to be redacted")
	}
	if cfg.Auth.Password != "hunter2" {
		t.Fatal("Redacted must not mutate the receiver")
	}
}
