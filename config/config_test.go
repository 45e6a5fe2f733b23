package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/webverify/webverify/trust"
)

func TestLoad_NotFound(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.Keyserver.URL != trust.DefaultKeyserver {
		t.Errorf("keyserver = %q, want %q", cfg.Keyserver.URL, trust.DefaultKeyserver)
	}
	if cfg.KeyserverTimeout() != 30*time.Second {
		t.Errorf("keyserver timeout = %v", cfg.KeyserverTimeout())
	}
	if cfg.MatcherTimeout() != 2*time.Second {
		t.Errorf("matcher timeout = %v", cfg.MatcherTimeout())
	}
	if cfg.MaxBodyBytes() != 10<<20 {
		t.Errorf("max body = %d", cfg.MaxBodyBytes())
	}
}

func TestLoad_Valid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := `storage:
  dir: /var/lib/webverify
keyserver:
  url: https://keyserver.ubuntu.com
  requests_per_minute: 0
capture:
  max_body_mb: 2
matchers:
  request_timeout: 500ms
pages:
  warning: /warn.html
`
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.StateDir() != "/var/lib/webverify" {
		t.Errorf("StateDir = %q", cfg.StateDir())
	}
	if cfg.Keyserver.URL != "https://keyserver.ubuntu.com" || cfg.Keyserver.RequestsPerMinute != 0 {
		t.Errorf("keyserver = %+v", cfg.Keyserver)
	}
	// Unset keys keep their defaults.
	if cfg.KeyserverTimeout() != 30*time.Second {
		t.Errorf("keyserver timeout = %v", cfg.KeyserverTimeout())
	}
	if cfg.Pages.Rejection != "/pages/rejected.html" {
		t.Errorf("rejection page = %q", cfg.Pages.Rejection)
	}
	if d := cfg.Destinations(); d.Warning != "webverify://extension/warn.html" || d.Rejection != "webverify://extension/pages/rejected.html" {
		t.Errorf("Destinations() = %+v", d)
	}
	if cfg.MatcherTimeout() != 500*time.Millisecond {
		t.Errorf("matcher timeout = %v", cfg.MatcherTimeout())
	}
	if cfg.MaxBodyBytes() != 2<<20 {
		t.Errorf("max body = %d", cfg.MaxBodyBytes())
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "malformed yaml", content: "keyserver: [", wantErr: "parsing"},
		{name: "bad duration", content: "matchers:\n  request_timeout: soon\n", wantErr: "matchers.request_timeout"},
		{name: "negative rate", content: "keyserver:\n  requests_per_minute: -1\n", wantErr: "requests_per_minute"},
		{name: "negative body", content: "capture:\n  max_body_mb: -5\n", wantErr: "max_body_mb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), FileName)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WEBVERIFY_HOME", dir)

	if Home() != dir {
		t.Errorf("Home() = %q, want %q", Home(), dir)
	}
	if want := filepath.Join(dir, FileName); DefaultPath() != want {
		t.Errorf("DefaultPath() = %q, want %q", DefaultPath(), want)
	}
	if Default().StateDir() != dir {
		t.Errorf("StateDir() = %q, want %q", Default().StateDir(), dir)
	}
}
