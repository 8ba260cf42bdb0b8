// Package config provides configuration loading and structs for the kotae service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application. It is loaded once and
// treated as read-only afterwards.
type Config struct {
	Debug     bool                       `yaml:"debug"`
	Server    ServerConfig               `yaml:"server"`
	Storage   StorageConfig              `yaml:"storage"`
	Assistant AssistantConfig            `yaml:"assistant"`
	Retrieval RetrievalConfig            `yaml:"retrieval"`
	Embedder  EmbedderConfig             `yaml:"embedder"`
	VectorDB  VectorDBConfig             `yaml:"vector_db"`
	LLM       LLMConfig                  `yaml:"llm"`
	Content   ContentConfig              `yaml:"content"`
	Backends  map[string]BackendSettings `yaml:"backends"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RateLimit      int           `yaml:"rate_limit"` // requests per minute per client; 0 disables
	AdminEnabled   bool          `yaml:"admin_enabled"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds paths for the bookkeeping database and the local vector file.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	VectorPath   string `yaml:"vector_path"`
}

// AssistantConfig controls the question answering surface.
type AssistantConfig struct {
	Enabled        *bool  `yaml:"enabled"`
	PromptTemplate string `yaml:"prompt_template"`
	SystemPrompt   string `yaml:"system_prompt"`
}

// EnabledOrDefault returns whether the assistant is enabled; defaults to true when unset.
func (a *AssistantConfig) EnabledOrDefault() bool {
	if a.Enabled != nil {
		return *a.Enabled
	}
	return true
}

// RetrievalConfig holds chunking and retrieval settings.
type RetrievalConfig struct {
	TopK         int      `yaml:"top_k"`
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap *int     `yaml:"chunk_overlap"`
	PageTypes    []string `yaml:"page_types"`
}

// OverlapOrDefault returns the chunk overlap. An explicit zero is kept. When unset
// it is DefaultChunkOverlap, reduced to a tenth of the chunk size for chunks too
// small to hold it.
func (r *RetrievalConfig) OverlapOrDefault() int {
	if r.ChunkOverlap != nil {
		return *r.ChunkOverlap
	}
	if DefaultChunkOverlap >= r.ChunkSize {
		return r.ChunkSize / 10
	}
	return DefaultChunkOverlap
}

// EmbedderConfig selects and tunes the embedding backend.
type EmbedderConfig struct {
	Backend    string        `yaml:"backend"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	Cache      string        `yaml:"cache"` // "", "memory" or "redis"
	CacheSize  int           `yaml:"cache_size"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// VectorDBConfig selects the vector store backend.
type VectorDBConfig struct {
	Backend    string        `yaml:"backend"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LLMConfig selects and tunes the language model backend.
type LLMConfig struct {
	Backend     string        `yaml:"backend"`
	Model       string        `yaml:"model"`
	Temperature *float64      `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// TemperatureOrDefault returns the sampling temperature; defaults to 0.7 when unset.
func (l *LLMConfig) TemperatureOrDefault() float64 {
	if l.Temperature != nil {
		return *l.Temperature
	}
	return DefaultTemperature
}

// ContentConfig points at the directory the file content source reads from.
type ContentConfig struct {
	Directory  string   `yaml:"directory"`
	Watch      bool     `yaml:"watch"`
	Extensions []string `yaml:"extensions"`
}

// BackendSettings holds credentials and endpoints for one named backend.
type BackendSettings struct {
	APIKey    string            `yaml:"api_key"`
	BaseURL   string            `yaml:"base_url"`
	Model     string            `yaml:"model"`
	DSN       string            `yaml:"dsn"`
	ModelPath string            `yaml:"model_path"`
	MaxTokens int               `yaml:"max_tokens"`
	Password  string            `yaml:"password"`
	DB        int               `yaml:"db"`
	Headers   map[string]string `yaml:"headers"`
}

// Backend returns the settings for the named backend, or zero settings when none are configured.
func (c *Config) Backend(name string) BackendSettings {
	if c.Backends == nil {
		return BackendSettings{}
	}
	return c.Backends[name]
}

// Load reads and parses the config file at path, applies defaults and environment
// overrides, expands paths, and validates the result. An empty path yields the
// defaults plus environment overrides, with relative paths resolved against the
// working directory.
func Load(path string) (*Config, error) {
	var cfg Config
	configDir := "."
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		configDir = filepath.Dir(path)
	} else if cwd, err := os.Getwd(); err == nil {
		configDir = cwd
	}

	if err := ApplyEnv(&cfg, os.Getenv); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorPath = expandPath(cfg.Storage.VectorPath, configDir)
	if cfg.Content.Directory != "" {
		cfg.Content.Directory = expandPath(cfg.Content.Directory, configDir)
	}
	for name, b := range cfg.Backends {
		if b.ModelPath != "" {
			b.ModelPath = expandPath(b.ModelPath, configDir)
			cfg.Backends[name] = b
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	r := c.Retrieval
	if r.ChunkSize <= 0 {
		return fmt.Errorf("invalid config: chunk_size must be positive, got %d", r.ChunkSize)
	}
	if overlap := r.OverlapOrDefault(); overlap < 0 || overlap >= r.ChunkSize {
		return fmt.Errorf("invalid config: chunk_overlap (%d) must be in [0, chunk_size=%d)", overlap, r.ChunkSize)
	}
	if r.TopK <= 0 {
		return fmt.Errorf("invalid config: top_k must be positive, got %d", r.TopK)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: port %d out of range", c.Server.Port)
	}
	switch c.Embedder.Cache {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("invalid config: embedder cache %q (supported: memory, redis)", c.Embedder.Cache)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" or "../" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
