package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	t.Setenv("TERN_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("missing config file must not fail: %v", err)
	}
	if cfg.Model != "gpt-4o" || cfg.ContextTokens != 128000 || cfg.KeepLastN != 8 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "model: from-file\ncontext_tokens: 9000\nkeep_last_n: 3\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TERN_MODEL", "from-env")
	t.Setenv("TERN_CONTEXT_TOKENS", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Model != "from-env" {
		t.Errorf("env must override file, got %q", cfg.Model)
	}
	if cfg.ContextTokens != 9000 || cfg.KeepLastN != 3 {
		t.Errorf("file values must override defaults: %+v", cfg)
	}
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("model: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed config must fail loudly")
	}
}

func TestAPIKeyFallback(t *testing.T) {
	t.Setenv("TERN_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-fallback")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "sk-fallback" {
		t.Errorf("expected OPENAI_API_KEY fallback, got %q", cfg.APIKey)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Error("missing API key must fail validation")
	}
	cfg.APIKey = "k"
	cfg.Model = ""
	if err := cfg.Validate(); err == nil {
		t.Error("missing model must fail validation")
	}
	cfg.Model = "m"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}
