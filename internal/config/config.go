// Package config provides configuration loading for ragd.
//
// Configuration is loaded from a YAML file, then overridden by
// environment variables, with hardcoded defaults as the base layer.
package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/knadh/koanf/v2"
)

// Config holds the complete ragd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	Chromem    ChromemConfig    `koanf:"chromem"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Generation GenerationConfig `koanf:"generation"`
	Chunking   ChunkingConfig   `koanf:"chunking"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Database   DatabaseConfig   `koanf:"database"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	QueryRateLimit  float64       `koanf:"query_rate_limit"`
}

// StoreConfig selects the vector store backend.
type StoreConfig struct {
	// Backend is "chromem" (embedded, default) or "qdrant".
	Backend string `koanf:"backend"`
}

// QdrantConfig holds Qdrant vector store configuration.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
	UseTLS     bool   `koanf:"use_tls"`
}

// ChromemConfig holds embedded vector store configuration.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
	Compress   bool   `koanf:"compress"`
}

// EmbeddingsConfig holds the embedding backend configuration.
type EmbeddingsConfig struct {
	BaseURL string        `koanf:"base_url"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

// GenerationConfig holds the answer generation configuration.
type GenerationConfig struct {
	BaseURL     string  `koanf:"base_url"`
	Model       string  `koanf:"model"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
}

// ChunkingConfig holds document splitting parameters.
type ChunkingConfig struct {
	Size    int `koanf:"size"`
	Overlap int `koanf:"overlap"`
}

// RetrievalConfig holds query-time parameters.
type RetrievalConfig struct {
	TopK            int `koanf:"top_k"`
	MaxContextChars int `koanf:"max_context_chars"`
}

// DatabaseConfig holds the document metadata database configuration.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "console"
}

var collectionNameRe = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server http_port: %d", c.Server.Port)
	}
	if c.Server.QueryRateLimit < 0 {
		return fmt.Errorf("invalid query_rate_limit: %f", c.Server.QueryRateLimit)
	}

	switch c.Store.Backend {
	case "chromem":
		if !collectionNameRe.MatchString(c.Chromem.Collection) {
			return fmt.Errorf("invalid chromem collection name: %q", c.Chromem.Collection)
		}
		if c.Chromem.VectorSize < 1 {
			return fmt.Errorf("invalid chromem vector_size: %d", c.Chromem.VectorSize)
		}
	case "qdrant":
		if c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant host is required")
		}
		if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant port: %d", c.Qdrant.Port)
		}
		if !collectionNameRe.MatchString(c.Qdrant.Collection) {
			return fmt.Errorf("invalid qdrant collection name: %q", c.Qdrant.Collection)
		}
		if c.Qdrant.VectorSize < 1 {
			return fmt.Errorf("invalid qdrant vector_size: %d", c.Qdrant.VectorSize)
		}
	default:
		return fmt.Errorf("unknown store backend: %q (expected chromem or qdrant)", c.Store.Backend)
	}

	if c.Embeddings.BaseURL == "" {
		return fmt.Errorf("embeddings base_url is required")
	}
	if c.Embeddings.Model == "" {
		return fmt.Errorf("embeddings model is required")
	}
	if c.Generation.Model == "" {
		return fmt.Errorf("generation model is required")
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("invalid generation temperature: %f", c.Generation.Temperature)
	}

	if c.Chunking.Size < 1 {
		return fmt.Errorf("invalid chunk size: %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunk overlap %d must be non-negative and smaller than size %d", c.Chunking.Overlap, c.Chunking.Size)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("invalid top_k: %d", c.Retrieval.TopK)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown logging format: %q", c.Logging.Format)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
// Knobs whose zero value is meaningful (rate limit off, no chunk
// overlap, greedy sampling) are only defaulted when the key was not
// set at all, so an explicit zero survives loading.
func applyDefaults(cfg *Config, k *koanf.Koanf) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.QueryRateLimit == 0 && !k.Exists("server.query_rate_limit") {
		cfg.Server.QueryRateLimit = 10
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "chromem"
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = "documents"
	}
	if cfg.Qdrant.VectorSize == 0 {
		cfg.Qdrant.VectorSize = 768 // nomic-embed-text dimensions
	}

	if cfg.Chromem.Path == "" {
		cfg.Chromem.Path = "./data/vectorstore"
	}
	if cfg.Chromem.Collection == "" {
		cfg.Chromem.Collection = "documents"
	}
	if cfg.Chromem.VectorSize == 0 {
		cfg.Chromem.VectorSize = 768
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:11434"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "nomic-embed-text"
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = 60 * time.Second
	}

	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = "http://localhost:11434"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "nemotron-mini"
	}
	if cfg.Generation.Temperature == 0 && !k.Exists("generation.temperature") {
		cfg.Generation.Temperature = 0.3
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1024
	}

	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 500
	}
	if cfg.Chunking.Overlap == 0 && !k.Exists("chunking.overlap") {
		cfg.Chunking.Overlap = 50
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.MaxContextChars == 0 {
		cfg.Retrieval.MaxContextChars = 8000
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/ragd.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
