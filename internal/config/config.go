// Package config loads runtime settings. Precedence: built-in defaults, then
// an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port      int
	DBPath    string
	AuthToken string
	LogLevel  string

	// Ollama provider
	OllamaBaseURL string
	ChatModel     string
	EmbedModel    string
	EmbeddingDim  int

	// Provider limiter
	LLMRequestsPerSec float64
	LLMBurst          int
	LLMMaxInFlight    int
	LLMMaxAttempts    int

	// Entity resolution: minimum cosine similarity for a fuzzy mention to
	// resolve to an existing entity instead of creating a new one.
	EntityMatchThreshold float64

	// Retrieval defaults, overridable per request
	DefaultTopK     int
	DefaultHopDepth int
	DefaultMaxItems int
}

// fileConfig mirrors Config with pointer fields so an absent YAML key leaves
// the default untouched.
type fileConfig struct {
	Port                 *int     `yaml:"port"`
	DBPath               *string  `yaml:"db_path"`
	AuthToken            *string  `yaml:"auth_token"`
	LogLevel             *string  `yaml:"log_level"`
	OllamaBaseURL        *string  `yaml:"ollama_base_url"`
	ChatModel            *string  `yaml:"chat_model"`
	EmbedModel           *string  `yaml:"embed_model"`
	EmbeddingDim         *int     `yaml:"embedding_dim"`
	LLMRequestsPerSec    *float64 `yaml:"llm_requests_per_sec"`
	LLMBurst             *int     `yaml:"llm_burst"`
	LLMMaxInFlight       *int     `yaml:"llm_max_in_flight"`
	LLMMaxAttempts       *int     `yaml:"llm_max_attempts"`
	EntityMatchThreshold *float64 `yaml:"entity_match_threshold"`
	DefaultTopK          *int     `yaml:"default_top_k"`
	DefaultHopDepth      *int     `yaml:"default_hop_depth"`
	DefaultMaxItems      *int     `yaml:"default_max_items"`
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:                 8742,
		DBPath:               "/data/persona.db",
		LogLevel:             "info",
		OllamaBaseURL:        "http://localhost:11434",
		ChatModel:            "qwen2.5:7b",
		EmbedModel:           "nomic-embed-text",
		EmbeddingDim:         768,
		LLMRequestsPerSec:    4,
		LLMBurst:             8,
		LLMMaxInFlight:       4,
		LLMMaxAttempts:       3,
		EntityMatchThreshold: 0.85,
		DefaultTopK:          10,
		DefaultHopDepth:      2,
		DefaultMaxItems:      50,
	}

	if path := os.Getenv("PERSONA_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setInt(&c.Port, f.Port)
	setStr(&c.DBPath, f.DBPath)
	setStr(&c.AuthToken, f.AuthToken)
	setStr(&c.LogLevel, f.LogLevel)
	setStr(&c.OllamaBaseURL, f.OllamaBaseURL)
	setStr(&c.ChatModel, f.ChatModel)
	setStr(&c.EmbedModel, f.EmbedModel)
	setInt(&c.EmbeddingDim, f.EmbeddingDim)
	setFloat(&c.LLMRequestsPerSec, f.LLMRequestsPerSec)
	setInt(&c.LLMBurst, f.LLMBurst)
	setInt(&c.LLMMaxInFlight, f.LLMMaxInFlight)
	setInt(&c.LLMMaxAttempts, f.LLMMaxAttempts)
	setFloat(&c.EntityMatchThreshold, f.EntityMatchThreshold)
	setInt(&c.DefaultTopK, f.DefaultTopK)
	setInt(&c.DefaultHopDepth, f.DefaultHopDepth)
	setInt(&c.DefaultMaxItems, f.DefaultMaxItems)
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("PORT", c.Port)
	c.DBPath = envStr("PERSONA_DB_PATH", c.DBPath)
	c.AuthToken = envStr("PERSONA_AUTH_TOKEN", c.AuthToken)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	c.OllamaBaseURL = envStr("OLLAMA_BASE_URL", c.OllamaBaseURL)
	c.ChatModel = envStr("CHAT_MODEL", c.ChatModel)
	c.EmbedModel = envStr("EMBEDDING_MODEL", c.EmbedModel)
	c.EmbeddingDim = envInt("EMBEDDING_DIM", c.EmbeddingDim)
	c.LLMRequestsPerSec = envFloat("LLM_REQUESTS_PER_SEC", c.LLMRequestsPerSec)
	c.LLMBurst = envInt("LLM_BURST", c.LLMBurst)
	c.LLMMaxInFlight = envInt("LLM_MAX_IN_FLIGHT", c.LLMMaxInFlight)
	c.LLMMaxAttempts = envInt("LLM_MAX_ATTEMPTS", c.LLMMaxAttempts)
	c.EntityMatchThreshold = envFloat("ENTITY_MATCH_THRESHOLD", c.EntityMatchThreshold)
	c.DefaultTopK = envInt("DEFAULT_TOP_K", c.DefaultTopK)
	c.DefaultHopDepth = envInt("DEFAULT_HOP_DEPTH", c.DefaultHopDepth)
	c.DefaultMaxItems = envInt("DEFAULT_MAX_ITEMS", c.DefaultMaxItems)
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("PERSONA_DB_PATH must not be empty")
	}
	if c.OllamaBaseURL == "" {
		return fmt.Errorf("OLLAMA_BASE_URL must not be empty")
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	}
	if c.EntityMatchThreshold < 0 || c.EntityMatchThreshold > 1 {
		return fmt.Errorf("ENTITY_MATCH_THRESHOLD must be in [0,1], got %f", c.EntityMatchThreshold)
	}
	if c.LLMMaxAttempts < 1 {
		return fmt.Errorf("LLM_MAX_ATTEMPTS must be at least 1, got %d", c.LLMMaxAttempts)
	}
	return nil
}

func setStr(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
