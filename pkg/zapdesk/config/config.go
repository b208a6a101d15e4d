// Package config holds the ZapDesk server configuration, loaded from a YAML
// file with environment variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration.
type Config struct {
	// Server configures the admin API/dashboard listener.
	Server ServerConfig `yaml:"server"`

	// Database configures the SQLite store.
	Database DatabaseConfig `yaml:"database"`

	// WhatsApp configures the per-session WhatsApp connectors.
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`

	// AI configures the embedding/completion provider.
	AI AIConfig `yaml:"ai"`

	// Log configures logging output.
	Log LogConfig `yaml:"log"`
}

// ServerConfig configures the HTTP listener and authentication.
type ServerConfig struct {
	// Addr is the listen address (e.g. ":8080").
	Addr string `yaml:"addr"`

	// JWTSecret signs API tokens. Overridden by ZAPDESK_JWT_SECRET.
	JWTSecret string `yaml:"jwt_secret"`

	// TokenTTL is how long issued API tokens remain valid.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// WhatsAppConfig configures the WhatsApp connectors.
type WhatsAppConfig struct {
	// SessionDir holds one whatsmeow credential database per session.
	SessionDir string `yaml:"session_dir"`

	// SendComposing sends a typing indicator before replying.
	SendComposing bool `yaml:"send_composing"`
}

// AIConfig configures the LLM/embedding provider.
type AIConfig struct {
	// APIKey authenticates against the provider. Overridden by OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`

	// BaseURL is the OpenAI-compatible API root.
	BaseURL string `yaml:"base_url"`

	// EmbedModel is the embedding model name.
	EmbedModel string `yaml:"embed_model"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:     ":8080",
			TokenTTL: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Path: "./data/zapdesk.db",
		},
		WhatsApp: WhatsAppConfig{
			SessionDir:    "./data/sessions",
			SendComposing: true,
		},
		AI: AIConfig{
			BaseURL:    "https://api.openai.com/v1",
			EmbedModel: "text-embedding-3-small",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path, if it exists, on top of the defaults
// and then applies environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults only.
		case err != nil:
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %q: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv applies environment variable overrides for secrets.
func (c *Config) applyEnv() {
	if v := os.Getenv("ZAPDESK_JWT_SECRET"); v != "" {
		c.Server.JWTSecret = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.AI.BaseURL = v
	}
}
