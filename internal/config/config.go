// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/dgallion1/docchunk/internal/chunker"
	"github.com/dgallion1/docchunk/internal/refine"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8090"`

	// Auth
	APIKey string `env:"DOCCHUNK_API_KEY"`

	// Worker pool
	WorkerCount  int           `env:"WORKER_COUNT" envDefault:"4"`
	MaxQueueSize int           `env:"MAX_QUEUE_SIZE" envDefault:"100"`
	JobTTL       time.Duration `env:"JOB_TTL" envDefault:"1h"`

	// Upload limits
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"` // 50MB

	// Chunking. A CHUNK_PROFILE YAML file overrides the individual settings.
	ChunkProfile string `env:"CHUNK_PROFILE"`
	Strategy     string `env:"CHUNK_STRATEGY" envDefault:"header"`
	ChunkSize    int    `env:"CHUNK_SIZE" envDefault:"1000"`
	ChunkOverlap int    `env:"CHUNK_OVERLAP" envDefault:"200"`
	MinChunk     int    `env:"MIN_CHUNK" envDefault:"100"`
	MergeMode    string `env:"MERGE_MODE" envDefault:"adjacent"`
	StripHeaders bool   `env:"STRIP_HEADERS"`
	KeepEmpty    bool   `env:"KEEP_EMPTY"`
	SubSplit     bool   `env:"SUB_SPLIT" envDefault:"true"`
	Normalize    bool   `env:"CHUNK_NORMALIZE"`

	// Embeddings
	OllamaURL      string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	EmbedModel     string `env:"OLLAMA_EMBED_MODEL" envDefault:"nomic-embed-text"`
	EmbedCacheSize int    `env:"EMBED_CACHE_SIZE" envDefault:"4096"`

	// Semantic refinement
	Refine            bool          `env:"SEMANTIC_REFINE"`
	RefineThreshold   string        `env:"REFINE_THRESHOLD" envDefault:"percentile"`
	RefineAmount      float64       `env:"REFINE_AMOUNT"`
	RefineBuffer      int           `env:"REFINE_BUFFER_SIZE" envDefault:"1"`
	RefineTimeout     time.Duration `env:"REFINE_TIMEOUT" envDefault:"30s"`
	RefineConcurrency int           `env:"REFINE_CONCURRENCY" envDefault:"4"`

	// Vector store. An empty path keeps the index in memory.
	StoreEnabled    bool   `env:"STORE_ENABLED" envDefault:"true"`
	StorePath       string `env:"STORE_PATH"`
	StoreCollection string `env:"STORE_COLLECTION" envDefault:"segments"`

	// PDF
	PDFFallbackPdftotext bool `env:"PDF_FALLBACK_PDFTOTEXT" envDefault:"true"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("DOCCHUNK_API_KEY is required")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount)
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("MAX_QUEUE_SIZE must be positive, got %d", c.MaxQueueSize)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.JobTTL <= 0 {
		return fmt.Errorf("JOB_TTL must be positive, got %s", c.JobTTL)
	}
	if _, err := c.Chunking(); err != nil {
		return err
	}
	if c.Refine {
		if err := c.RefineConfig().Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Chunking builds the chunker configuration: the defaults, then the
// environment settings, then the profile file if one is named.
func (c Config) Chunking() (chunker.Config, error) {
	cfg := chunker.DefaultConfig()

	strategy, err := chunker.ParseStrategy(c.Strategy)
	if err != nil {
		return cfg, err
	}
	mode, err := chunker.ParseMergeMode(c.MergeMode)
	if err != nil {
		return cfg, err
	}
	cfg.Strategy = strategy
	cfg.MergeMode = mode
	cfg.ChunkSize = c.ChunkSize
	cfg.ChunkOverlap = c.ChunkOverlap
	cfg.MinChunk = c.MinChunk
	cfg.StripHeaders = c.StripHeaders
	cfg.KeepEmpty = c.KeepEmpty
	cfg.SubSplit = c.SubSplit
	cfg.Normalize = c.Normalize
	cfg.Refine = c.Refine
	cfg.RefineTimeout = c.RefineTimeout
	cfg.RefineConcurrency = c.RefineConcurrency

	if c.ChunkProfile != "" {
		if cfg, err = LoadProfile(c.ChunkProfile, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

// LoadProfile reads a YAML chunking profile from path. Keys absent from the
// file keep their value in base.
func LoadProfile(path string, base chunker.Config) (chunker.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read chunk profile: %w", err)
	}
	return ParseProfile(data, base)
}

// ParseProfile decodes a YAML chunking profile over base.
func ParseProfile(data []byte, base chunker.Config) (chunker.Config, error) {
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parse chunk profile: %w", err)
	}
	return cfg, nil
}

// RefineConfig builds the semantic refiner configuration.
func (c Config) RefineConfig() refine.Config {
	cfg := refine.DefaultConfig()
	cfg.Threshold = refine.Threshold(c.RefineThreshold)
	cfg.Amount = c.RefineAmount
	cfg.BufferSize = c.RefineBuffer
	cfg.Concurrency = c.RefineConcurrency
	return cfg
}

// NeedsEmbeddings reports whether any component calls the embedding model.
func (c Config) NeedsEmbeddings() bool {
	return c.Refine || c.StoreEnabled
}
