package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level bridge configuration. It is constructed once at
// startup and passed into each component; nothing reads it from globals.
type Config struct {
	Bridge     BridgeConfig     `json:"bridge"`
	Store      StoreConfig      `json:"store"`
	Embeddings EmbeddingsConfig `json:"embeddings"`
	API        APIConfig        `json:"api"`
}

// BridgeConfig holds process-level settings.
type BridgeConfig struct {
	ID string `json:"id"`
}

// StoreConfig holds backing-store settings.
type StoreConfig struct {
	URL        string `json:"url"`
	APIKey     string `json:"api_key,omitempty"`
	Collection string `json:"collection,omitempty"`
}

// EmbeddingsConfig holds the upstream embedding service settings.
type EmbeddingsConfig struct {
	URL   string `json:"url"`
	Model string `json:"model,omitempty"`
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// DefaultCollection is the escalation collection used when none is configured.
const DefaultCollection = "agent_escalations"

// DefaultEmbedModel is the model name echoed by the embedding relay when the
// caller doesn't supply one.
const DefaultEmbedModel = "bge-m3"

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with BRIDGE_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Bridge: BridgeConfig{
			ID: getenv("BRIDGE_ID", "default"),
		},
		Store: StoreConfig{
			URL:        getenv("BRIDGE_STORE_URL", "http://localhost:6333"),
			APIKey:     os.Getenv("BRIDGE_STORE_API_KEY"),
			Collection: os.Getenv("BRIDGE_COLLECTION"),
		},
		Embeddings: EmbeddingsConfig{
			URL:   getenv("BRIDGE_EMBED_URL", "http://memory-embeddings:8000"),
			Model: os.Getenv("BRIDGE_EMBED_MODEL"),
		},
		API: APIConfig{
			Host: getenv("BRIDGE_API_HOST", "0.0.0.0"),
			Port: getenvInt("BRIDGE_API_PORT", 8080),
			Key:  os.Getenv("BRIDGE_API_KEY"),
		},
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Collection == "" {
		c.Store.Collection = DefaultCollection
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = DefaultEmbedModel
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Store.URL == "" {
		errs = append(errs, "store.url is required")
	}
	if c.Embeddings.URL == "" {
		errs = append(errs, "embeddings.url is required")
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port %d is out of range", c.API.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
