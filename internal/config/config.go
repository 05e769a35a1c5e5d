package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Config is the root configuration for the KLAR engine.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Ollama    OllamaConfig    `json:"ollama"`
	Node      NodeConfig      `json:"node"`
	Qdrant    QdrantConfig    `json:"qdrant"`
	Storage   StorageConfig   `json:"storage"`
	Sync      SyncConfig      `json:"sync"`
	Admin     AdminConfig     `json:"admin"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ServerConfig configures the inbound HTTP listener.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	RateLimitRPM int    `json:"rate_limit_rpm"` // 0 disables the per-client limiter
}

// OllamaConfig configures the LLM generator endpoint.
type OllamaConfig struct {
	Host         string  `json:"host"`
	FallbackHost string  `json:"fallback_host,omitempty"`
	Model        string  `json:"model"`
	TimeoutSec   float64 `json:"timeout_sec"`
	Workers      int     `json:"workers"` // async generation pool size
}

// NodeConfig points at the WhatsApp bridge (outbound webhook + sync source).
type NodeConfig struct {
	BaseURL string `json:"base_url"`
}

// QdrantConfig locates the vector store used by the retriever edge.
// EmbedModel is the Ollama model that produces the query vectors.
type QdrantConfig struct {
	URL        string `json:"url"`
	EmbedModel string `json:"embed_model"`
}

// StorageConfig fixes the on-disk layout. Directories are created on demand.
type StorageConfig struct {
	MemoryPath        string `json:"memory_path"`
	ConversationsPath string `json:"conversations_path"`
	LogDir            string `json:"log_dir"`
	SOPPath           string `json:"sop_path"`
	PromptDir         string `json:"prompt_dir"`
	MaxHistory        int    `json:"max_history"`
}

// SyncConfig controls the background conversation mirror.
type SyncConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"` // cron expression, default every minute
}

// AdminConfig gates the /dev and /admin operations.
// Secret comes from env ADMIN_SECRET_KEY; never written back to the file.
type AdminConfig struct {
	Secret string `json:"-"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`     // e.g. "localhost:4318"
	ServiceName string `json:"service_name,omitempty"` // default "klar-engine"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			RateLimitRPM: 0,
		},
		Ollama: OllamaConfig{
			Host:       "http://127.0.0.1:11434",
			Model:      "qwen3:4B-instruct",
			TimeoutSec: 60,
			Workers:    4,
		},
		Node: NodeConfig{
			BaseURL: "http://127.0.0.1:3000",
		},
		Qdrant: QdrantConfig{
			URL:        "http://127.0.0.1:6333",
			EmbedModel: "bge-m3",
		},
		Storage: StorageConfig{
			MemoryPath:        "data/storage/memory.json",
			ConversationsPath: "data/storage/conversations.json",
			LogDir:            "data/storage/logs",
			SOPPath:           "data/kb/sop.json5",
			PromptDir:         "prompts",
			MaxHistory:        50,
		},
		Sync: SyncConfig{
			Enabled:  true,
			Schedule: "* * * * *",
		},
		Admin: AdminConfig{
			Secret: "dev_reset_2024",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults + env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("APP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	// Endpoint aliases kept for older deployments; first one set wins.
	for _, key := range []string{"OLLAMA_URL", "OLLAMA_BASE", "OLLAMA_HOST"} {
		if v := os.Getenv(key); v != "" {
			c.Ollama.Host = strings.TrimRight(v, "/")
			break
		}
	}
	envStr("OLLAMA_MODEL", &c.Ollama.Model)
	envStr("OLLAMA_FALLBACK_HOST", &c.Ollama.FallbackHost)
	if v := os.Getenv("OLLAMA_TIMEOUT"); v != "" {
		if sec, err := strconv.ParseFloat(v, 64); err == nil && sec > 0 {
			c.Ollama.TimeoutSec = sec
		}
	}

	envStr("NODE_SERVER_URL", &c.Node.BaseURL)
	envStr("ADMIN_SECRET_KEY", &c.Admin.Secret)

	if v := os.Getenv("QDRANT_URL"); v != "" {
		c.Qdrant.URL = v
	} else if host := os.Getenv("QDRANT_HOST"); host != "" {
		port := os.Getenv("QDRANT_PORT")
		if port == "" {
			port = "6333"
		}
		if !strings.Contains(host, "://") {
			host = "http://" + host
		}
		c.Qdrant.URL = fmt.Sprintf("%s:%s", host, port)
	}
	envStr("QDRANT_EMBED_MODEL", &c.Qdrant.EmbedModel)
}
