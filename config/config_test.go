package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nexuscluster/nexus/config"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nexus.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesFileAndDefaults(t *testing.T) {
	path := writeFile(t, `
node_name = "node-a"
api_key = "secret"
store_endpoint = "postgres://localhost/nexus"
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.RefreshRate != 3 {
		t.Fatalf("expected default refresh_rate 3, got %d", cfg.RefreshRate)
	}
	if cfg.NodeName != "node-a" {
		t.Fatalf("expected node-a, got %q", cfg.NodeName)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeFile(t, `
node_name = "node-a"
api_key = "secret"
store_endpoint = "postgres://localhost/nexus"
refresh_rate = 3
`)
	t.Setenv("NS_REFRESH_RATE", "7")
	t.Setenv("NS_NODE_NAME", "node-b")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RefreshRate != 7 {
		t.Fatalf("expected env override to win, got %d", cfg.RefreshRate)
	}
	if cfg.NodeName != "node-b" {
		t.Fatalf("expected env override to win, got %q", cfg.NodeName)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeFile(t, `node_name = "node-a"`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error for missing api_key/store_endpoint")
	}
}
