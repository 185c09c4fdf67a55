package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goodtune/dtxcloud/internal/config"
	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"":      zerolog.InfoLevel,
		"loud":  zerolog.InfoLevel,
	}

	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://dtx:secret@db:5432/dtx", "postgres://dtx:***REDACTED***@db:5432/dtx"},
		{"postgres://dtx@db/dtx", "postgres://dtx@db/dtx"},
		{"postgres://db/dtx", "postgres://db/dtx"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := redactURL(tt.in); got != tt.want {
			t.Errorf("redactURL(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestOpenStorage(t *testing.T) {
	store, err := openStorage(context.Background(), config.StorageConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("openStorage failed: %v", err)
	}
	_ = store.Close()

	if _, err := openStorage(context.Background(), config.StorageConfig{Type: "bolt"}); err == nil {
		t.Error("Expected error for unsupported storage type")
	}
}

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  http_port: 8080
  htp_port: 9000
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	unknown, err := findUnknownKeys(path)
	if err != nil {
		t.Fatalf("findUnknownKeys failed: %v", err)
	}
	if len(unknown) != 1 || unknown[0] != "server.htp_port" {
		t.Errorf("Expected [server.htp_port], got %v", unknown)
	}
}
