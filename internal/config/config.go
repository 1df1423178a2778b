// Package config provides configuration loading for vectord.
package config

import (
	"fmt"
	"time"
)

// Config is the top-level vectord configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Qdrant      QdrantConfig      `koanf:"qdrant"`
	Chromem     ChromemConfig     `koanf:"chromem"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is json or console.
	Format string `koanf:"format"`
}

// EmbeddingsConfig holds settings for the embedding model endpoint.
type EmbeddingsConfig struct {
	// BaseURL is the text-embeddings-inference server URL.
	BaseURL string `koanf:"base_url"`
	// Model is the embedding model identifier.
	Model string `koanf:"model"`
	// Dimension is the embedding dimension produced by the model.
	Dimension int `koanf:"dimension"`
	// APIKey is the optional bearer token for the embedding server.
	APIKey Secret `koanf:"api_key"`
	// Timeout bounds a single embed round trip.
	Timeout time.Duration `koanf:"timeout"`
}

// VectorStoreConfig selects the storage backend.
type VectorStoreConfig struct {
	// Provider is "qdrant" or "chromem".
	Provider string `koanf:"provider"`
}

// QdrantConfig holds settings for the Qdrant gRPC backend.
type QdrantConfig struct {
	Host string `koanf:"host"`
	// Port is the gRPC port (6334), not the HTTP REST port (6333).
	Port   int    `koanf:"port"`
	APIKey Secret `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`
}

// ChromemConfig holds settings for the embedded chromem backend.
type ChromemConfig struct {
	// Path is the persistence directory. Empty means in-memory only.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	if c.Embeddings.BaseURL == "" {
		return fmt.Errorf("embeddings base URL required")
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings dimension must be positive, got %d", c.Embeddings.Dimension)
	}
	switch c.VectorStore.Provider {
	case "qdrant":
		if c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant host required")
		}
		if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant port: %d", c.Qdrant.Port)
		}
	case "chromem":
	default:
		return fmt.Errorf("unsupported vectorstore provider: %q (supported: qdrant, chromem)", c.VectorStore.Provider)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "dragonkue/BGE-m3-ko"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 1024
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = 30 * time.Second
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}

	if cfg.Chromem.Path == "" {
		cfg.Chromem.Path = "~/.config/vectord/vectorstore"
	}
}
