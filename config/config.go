// Package config provides the service configuration: defaults, YAML file
// loading, and environment variable overrides, in that priority order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Rerank    RerankConfig    `yaml:"rerank"`
	LLM       LLMConfig       `yaml:"llm"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the relational store behind the docstore.
// Driver is "sqlite" or "postgres"; DSN is driver specific.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig configures the chat history store. When Addr is empty the
// service falls back to the in-memory history store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QdrantConfig configures the vector collection.
type QdrantConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Collection string        `yaml:"collection"`
	VectorSize int           `yaml:"vector_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

// EmbeddingConfig configures the dense and sparse embedding collaborators.
type EmbeddingConfig struct {
	Dense  EndpointConfig `yaml:"dense"`
	Sparse EndpointConfig `yaml:"sparse"`
}

// RerankConfig configures the optional cross-encoder stage.
type RerankConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// EndpointConfig is the shared shape of an HTTP model endpoint.
type EndpointConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// LLMConfig configures the completion model.
type LLMConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	NumCtx     int           `yaml:"num_ctx"`
	NumPredict int           `yaml:"num_predict"`
	Timeout    time.Duration `yaml:"timeout"`
	StopTokens []string      `yaml:"stop_tokens"`
}

// ChunkingConfig configures the two-granularity splitter.
type ChunkingConfig struct {
	ParentSize    int `yaml:"parent_size"`
	ParentOverlap int `yaml:"parent_overlap"`
	ChildSize     int `yaml:"child_size"`
	ChildOverlap  int `yaml:"child_overlap"`
}

// RetrievalConfig configures candidate pool size and final result count.
type RetrievalConfig struct {
	Mode           string `yaml:"mode"` // dense, sparse, hybrid
	K              int    `yaml:"k"`
	TopN           int    `yaml:"top_n"`
	UseParentChild bool   `yaml:"use_parent_child"`
	CheckRelevance bool   `yaml:"check_relevance"`
	HistoryWindow  int    `yaml:"history_window"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the built-in configuration, tuned for a local deployment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "prorag.db",
			MaxIdleConns:    10,
			MaxOpenConns:    50,
			ConnMaxLifetime: time.Hour,
		},
		Qdrant: QdrantConfig{
			BaseURL:    "http://localhost:6333",
			Collection: "default",
			VectorSize: 384,
			Timeout:    30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Dense: EndpointConfig{
				BaseURL: "http://localhost:8080",
				Model:   "all-MiniLM-L6-v2",
				Timeout: 30 * time.Second,
			},
			Sparse: EndpointConfig{
				BaseURL: "http://localhost:8081",
				Model:   "Qdrant/bm25",
				Timeout: 30 * time.Second,
			},
		},
		Rerank: RerankConfig{
			Enabled: false,
			BaseURL: "https://api.jina.ai",
			Model:   "jina-reranker-v2-base-multilingual",
		},
		LLM: LLMConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-3.5-turbo-instruct",
			NumCtx:     20480,
			NumPredict: 2048,
			Timeout:    5 * time.Minute,
			StopTokens: []string{"</s>", "<|im_end|>", "<|eot_id|>", "<|endoftext|>"},
		},
		Chunking: ChunkingConfig{
			ParentSize:    2000,
			ParentOverlap: 100,
			ChildSize:     400,
			ChildOverlap:  50,
		},
		Retrieval: RetrievalConfig{
			Mode:           "hybrid",
			K:              20,
			TopN:           3,
			UseParentChild: true,
			CheckRelevance: false,
			HistoryWindow:  5,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then PRORAG_* environment variables.
// The result is validated before being returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides configuration fields from the environment. Only the
// fields that plausibly differ between deployments get an override.
func applyEnv(cfg *Config) {
	setString(&cfg.Database.Driver, "PRORAG_DB_DRIVER")
	setString(&cfg.Database.DSN, "PRORAG_DB_DSN")
	setString(&cfg.Redis.Addr, "PRORAG_REDIS_ADDR")
	setString(&cfg.Redis.Password, "PRORAG_REDIS_PASSWORD")
	setString(&cfg.Qdrant.BaseURL, "PRORAG_QDRANT_URL")
	setString(&cfg.Qdrant.APIKey, "PRORAG_QDRANT_API_KEY")
	setString(&cfg.Qdrant.Collection, "PRORAG_QDRANT_COLLECTION")
	setInt(&cfg.Qdrant.VectorSize, "PRORAG_EMBEDDING_SIZE")
	setString(&cfg.Embedding.Dense.BaseURL, "PRORAG_DENSE_URL")
	setString(&cfg.Embedding.Dense.APIKey, "PRORAG_DENSE_API_KEY")
	setString(&cfg.Embedding.Dense.Model, "PRORAG_DENSE_MODEL")
	setString(&cfg.Embedding.Sparse.BaseURL, "PRORAG_SPARSE_URL")
	setString(&cfg.Embedding.Sparse.APIKey, "PRORAG_SPARSE_API_KEY")
	setString(&cfg.Embedding.Sparse.Model, "PRORAG_SPARSE_MODEL")
	setString(&cfg.Rerank.BaseURL, "PRORAG_RERANK_URL")
	setString(&cfg.Rerank.APIKey, "PRORAG_RERANK_API_KEY")
	setString(&cfg.Rerank.Model, "PRORAG_RERANK_MODEL")
	setString(&cfg.LLM.BaseURL, "PRORAG_LLM_URL")
	setString(&cfg.LLM.APIKey, "PRORAG_LLM_API_KEY")
	setString(&cfg.LLM.Model, "PRORAG_LLM_MODEL")
	setInt(&cfg.Server.HTTPPort, "PRORAG_PORT")
	setString(&cfg.Log.Level, "PRORAG_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate reports configuration errors that are fatal at startup. Invalid
// chunk geometry is rejected here rather than surfacing mid-request.
func (c *Config) Validate() error {
	if err := validateChunking(c.Chunking); err != nil {
		return err
	}
	switch c.Retrieval.Mode {
	case "dense", "sparse", "hybrid":
	default:
		return fmt.Errorf("invalid retrieval mode %q", c.Retrieval.Mode)
	}
	if c.Retrieval.K <= 0 {
		return fmt.Errorf("retrieval k must be > 0, got %d", c.Retrieval.K)
	}
	if c.Retrieval.TopN > c.Retrieval.K {
		return fmt.Errorf("retrieval top_n %d exceeds k %d", c.Retrieval.TopN, c.Retrieval.K)
	}
	if c.Qdrant.VectorSize <= 0 {
		return fmt.Errorf("qdrant vector_size must be > 0, got %d", c.Qdrant.VectorSize)
	}
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

func validateChunking(c ChunkingConfig) error {
	pairs := []struct {
		name          string
		size, overlap int
	}{
		{"parent", c.ParentSize, c.ParentOverlap},
		{"child", c.ChildSize, c.ChildOverlap},
	}
	for _, p := range pairs {
		if p.size <= 0 {
			return fmt.Errorf("%s chunk size must be > 0, got %d", p.name, p.size)
		}
		if p.overlap < 0 {
			return fmt.Errorf("%s chunk overlap must be >= 0, got %d", p.name, p.overlap)
		}
		if p.size <= p.overlap {
			return fmt.Errorf("%s chunk size %d must exceed overlap %d", p.name, p.size, p.overlap)
		}
	}
	if c.ChildSize > c.ParentSize {
		return fmt.Errorf("child chunk size %d exceeds parent chunk size %d", c.ChildSize, c.ParentSize)
	}
	return nil
}
