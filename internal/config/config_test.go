package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV_PATH", "")
	t.Setenv("ACCESS_CODES", " one, ,two ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.ImageBackend != ImageBackendGemini || cfg.PersistBackend != PersistSQLite {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.RequestTimeout != 120*time.Second {
		t.Fatalf("timeout = %v", cfg.RequestTimeout)
	}
	if cfg.MaxSessions != 1000 || cfg.SessionIdleTTL != 2*time.Hour {
		t.Fatalf("session limits = %d, %v", cfg.MaxSessions, cfg.SessionIdleTTL)
	}
	if len(cfg.AccessCodes) != 2 || cfg.AccessCodes[0] != "one" || cfg.AccessCodes[1] != "two" {
		t.Fatalf("access codes = %q", cfg.AccessCodes)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "studio.env")
	if err := os.WriteFile(path, []byte("LISTEN_ADDR=:9999\nPERSIST_BACKEND=memory\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("CONFIG_ENV_PATH", path)
	// values loaded from a file must not leak into other tests
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("PERSIST_BACKEND", "")
	os.Unsetenv("LISTEN_ADDR")
	os.Unsetenv("PERSIST_BACKEND")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9999" || cfg.PersistBackend != PersistMemory {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestKIEBackendNeedsBucket(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV_PATH", "")
	t.Setenv("IMAGE_BACKEND", "kie")
	for _, key := range []string{"S3_REGION", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_BUCKET", "S3_PUBLIC_BASE_URL"} {
		t.Setenv(key, "")
	}

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "S3_BUCKET") {
		t.Fatalf("err = %v", err)
	}
}

func TestUnknownBackends(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV_PATH", "")
	t.Setenv("PERSIST_BACKEND", "postgres")
	if _, err := Load(); err == nil {
		t.Fatal("unknown persist backend accepted")
	}
}

func TestNormalizeKIEBaseURL(t *testing.T) {
	cases := map[string]string{
		"":                  "https://api.kie.ai",
		"kie.ai":            "https://api.kie.ai",
		"https://kie.ai":    "https://api.kie.ai",
		"http://proxy:8080": "http://proxy:8080",
	}
	for in, want := range cases {
		if got := normalizeKIEBaseURL(in, "https://api.kie.ai"); got != want {
			t.Errorf("normalizeKIEBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
