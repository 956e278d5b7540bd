package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "operator.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GEMINI_API_KEY", "BROWSERBASE_API_KEY", "BROWSERBASE_PROJECT_ID", "OPERATOR_DB"} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
listen: ":9000"
mcp: stdio
browser:
  headful: true
  block_private: true
  resource_blocking: [images, fonts]
  viewport: {width: 1024, height: 768}
  load_timeout: 10s
actions:
  settle_delay: 250ms
  show_cursor: true
  cursor_style: dot
rate_limit:
  backend: memory
  limit: 5
  window: 1h
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.MCP != "stdio" {
		t.Errorf("listen/mcp: %q %q", cfg.Listen, cfg.MCP)
	}
	if !cfg.Browser.Headful || !cfg.Browser.BlockPrivate || len(cfg.Browser.ResourceBlocking) != 2 {
		t.Errorf("browser: %+v", cfg.Browser)
	}
	if cfg.Browser.Viewport != (Viewport{Width: 1024, Height: 768}) || cfg.Browser.LoadTimeout != 10*time.Second {
		t.Errorf("browser viewport/timeout: %+v", cfg.Browser)
	}
	if cfg.Actions.SettleDelay != 250*time.Millisecond || cfg.Actions.CursorStyle != "dot" || !cfg.Actions.ShowCursor {
		t.Errorf("actions: %+v", cfg.Actions)
	}
	if cfg.RateLimit.Backend != "memory" || cfg.RateLimit.Limit != 5 || cfg.RateLimit.Window != time.Hour {
		t.Errorf("rate limit: %+v", cfg.RateLimit)
	}
	// Untouched sections keep their defaults.
	if cfg.Actions.KeyDelay != 12*time.Millisecond || cfg.Actions.ScreenshotQuality != 80 {
		t.Errorf("action defaults: %+v", cfg.Actions)
	}
	if cfg.Transport != "local" || cfg.DB != "data/operator.db" {
		t.Errorf("transport/db: %q %q", cfg.Transport, cfg.DB)
	}
}

func TestDefault(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	if cfg.Listen != ":8420" || cfg.MCP != "http" || cfg.Transport != "local" {
		t.Errorf("defaults: %+v", cfg)
	}
	if cfg.Browser.Viewport != (Viewport{Width: 1280, Height: 720}) {
		t.Errorf("viewport: %+v", cfg.Browser.Viewport)
	}
	if cfg.RateLimit.Backend != "off" || cfg.RateLimit.Limit != 10 || cfg.RateLimit.Window != 24*time.Hour {
		t.Errorf("rate limit: %+v", cfg.RateLimit)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("BROWSERBASE_API_KEY", "bb-key")
	t.Setenv("BROWSERBASE_PROJECT_ID", "bb-proj")
	t.Setenv("OPERATOR_DB", "/tmp/x.db")

	cfg, err := Load(writeConfig(t, "vision:\n  api_key: from-file\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Vision.APIKey != "g-key" {
		t.Errorf("env should win over file: %q", cfg.Vision.APIKey)
	}
	if cfg.Remote.APIKey != "bb-key" || cfg.Remote.ProjectID != "bb-proj" || cfg.DB != "/tmp/x.db" {
		t.Errorf("remote/db: %+v %q", cfg.Remote, cfg.DB)
	}
	if cfg.Transport != "remote" {
		t.Errorf("transport: got %q, want remote when a provider key is set", cfg.Transport)
	}
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"mcp mode", "mcp: grpc\n", "mcp"},
		{"transport", "transport: ssh\n", "transport"},
		{"remote without key", "transport: remote\n", "api_key"},
		{"cursor", "actions:\n  cursor_style: hand\n", "cursor_style"},
		{"quality", "actions:\n  screenshot_quality: 120\n", "screenshot_quality"},
		{"rate backend", "rate_limit:\n  backend: etcd\n", "rate_limit"},
		{"yaml", "listen: [\n", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("want error for missing file")
	}
}
