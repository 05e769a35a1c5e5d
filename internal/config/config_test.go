package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Ollama.TimeoutSec != 60 {
		t.Errorf("TimeoutSec = %v, want 60", cfg.Ollama.TimeoutSec)
	}
	if cfg.Storage.MaxHistory != 50 {
		t.Errorf("MaxHistory = %d, want 50", cfg.Storage.MaxHistory)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ollama.Model != "qwen3:4B-instruct" {
		t.Errorf("Model = %q", cfg.Ollama.Model)
	}
}

func TestLoad_JSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{
		// comments are allowed
		server: { port: 9090 },
		ollama: { model: "llama3:8b" },
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Ollama.Model != "llama3:8b" {
		t.Errorf("Model = %q, want llama3:8b", cfg.Ollama.Model)
	}
	// untouched sections keep defaults
	if cfg.Node.BaseURL == "" {
		t.Error("Node.BaseURL default lost")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "7070")
	t.Setenv("OLLAMA_URL", "http://gpu-box:11434/")
	t.Setenv("OLLAMA_TIMEOUT", "30")
	t.Setenv("ADMIN_SECRET_KEY", "s3cret")
	t.Setenv("QDRANT_HOST", "qdrant.local")
	t.Setenv("QDRANT_PORT", "6334")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Ollama.Host != "http://gpu-box:11434" {
		t.Errorf("Host = %q (trailing slash should be trimmed)", cfg.Ollama.Host)
	}
	if cfg.Ollama.TimeoutSec != 30 {
		t.Errorf("TimeoutSec = %v, want 30", cfg.Ollama.TimeoutSec)
	}
	if cfg.Admin.Secret != "s3cret" {
		t.Errorf("Secret = %q", cfg.Admin.Secret)
	}
	if cfg.Qdrant.URL != "http://qdrant.local:6334" {
		t.Errorf("Qdrant URL = %q", cfg.Qdrant.URL)
	}
}
