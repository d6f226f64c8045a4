package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAMLConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("KRAPI_TEST_REDIS", "redis.internal:6380")
	path := filepath.Join(t.TempDir(), "krapi.yaml")
	content := `
server:
  port: 9000
sessions:
  backend: redis
  redis:
    addr: ${KRAPI_TEST_REDIS}
auth:
  session_ttl: 12h
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("got port %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.BasePath != "/krapi/k1" {
		t.Errorf("default base path lost: %q", cfg.Server.BasePath)
	}
	if cfg.Sessions.Redis.Addr != "redis.internal:6380" {
		t.Errorf("got redis addr %q, want expanded env", cfg.Sessions.Redis.Addr)
	}
	if got := Duration(cfg.Auth.SessionTTL, 24*time.Hour); got != 12*time.Hour {
		t.Errorf("got ttl %v, want 12h", got)
	}
	if !cfg.Auth.Seed.Enabled || cfg.Auth.Seed.Username != "admin" {
		t.Errorf("seed defaults lost: %+v", cfg.Auth.Seed)
	}
}

func TestLoadYAMLConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad driver", "store:\n  driver: oracle\n"},
		{"bad backend", "sessions:\n  backend: memcached\n"},
		{"bad duration", "auth:\n  session_ttl: forever\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "krapi.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadYAMLConfig(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestWriteDefaultConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "krapi.yaml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Auth.SessionTTL != "24h" || cfg.Sessions.Backend != "sql" {
		t.Errorf("got ttl %q backend %q", cfg.Auth.SessionTTL, cfg.Sessions.Backend)
	}
}

func TestDurationFallback(t *testing.T) {
	if got := Duration("", time.Minute); got != time.Minute {
		t.Errorf("got %v, want 1m", got)
	}
	if got := Duration("nope", time.Minute); got != time.Minute {
		t.Errorf("got %v, want 1m", got)
	}
	if got := Duration("-5s", time.Minute); got != time.Minute {
		t.Errorf("got %v, want 1m", got)
	}
}

func TestByteSize(t *testing.T) {
	cases := map[string]int64{
		"":      42,
		"1MB":   1 << 20,
		"512kb": 512 << 10,
		"2 GB":  2 << 30,
		"100":   100,
		"10B":   10,
		"lots":  42,
		"-1MB":  42,
	}
	for in, want := range cases {
		if got := ByteSize(in, 42); got != want {
			t.Errorf("ByteSize(%q) = %d, want %d", in, got, want)
		}
	}
}
