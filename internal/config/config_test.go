package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Encoding != "etp+binary" {
		t.Errorf("default encoding: got %s", cfg.Encoding)
	}
	if cfg.EncodingHeader != "etp-encoding" {
		t.Errorf("default header name: got %s", cfg.EncodingHeader)
	}
	if cfg.MaxFrameSize != 16*1024*1024 {
		t.Errorf("default max frame: got %d", cfg.MaxFrameSize)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etp.yaml")
	data := "listen_addr: \":7777\"\nencoding: etp+json\nrequest_timeout: 5s\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":7777" {
		t.Errorf("listen addr: got %s", cfg.ListenAddr)
	}
	if cfg.Encoding != "etp+json" {
		t.Errorf("encoding: got %s", cfg.Encoding)
	}
	if cfg.RequestTimeout.Std() != 5*time.Second {
		t.Errorf("request timeout: got %s", cfg.RequestTimeout)
	}
	// untouched fields keep defaults
	if cfg.WSPath != "/etp" {
		t.Errorf("ws path: got %s", cfg.WSPath)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etp.yaml")
	if err := os.WriteFile(path, []byte("encoding: etp+json\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ETP_ENCODING", "etp+binary")
	t.Setenv("ETP_LISTEN_ADDR", ":8888")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Encoding != "etp+binary" {
		t.Errorf("env should win: got %s", cfg.Encoding)
	}
	if cfg.ListenAddr != ":8888" {
		t.Errorf("env listen addr: got %s", cfg.ListenAddr)
	}
}

func TestBadEnvValues(t *testing.T) {
	t.Setenv("ETP_MAX_FRAME", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for bad ETP_MAX_FRAME")
	}
}
