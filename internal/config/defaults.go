package config

import "time"

// Defaults shared with backends that need them outside ApplyDefaults.
const (
	DefaultTemperature  = 0.7
	DefaultChunkOverlap = 50
	DefaultOllamaURL    = "http://localhost:11434"
	DefaultQdrantURL    = "http://localhost:6333"
	DefaultWeaviateURL  = "http://localhost:8080"
	DefaultRedisAddr    = "localhost:6379"
)

type embedderDefault struct {
	model      string
	dimensions int
}

var embedderDefaults = map[string]embedderDefault{
	"openai":                {"text-embedding-3-small", 1536},
	"ollama":                {"nomic-embed-text", 768},
	"sentence_transformers": {"all-MiniLM-L6-v2", 384},
	"hash":                  {"", 384},
}

var llmModelDefaults = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
	"ollama":    "llama3.2:latest",
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/kotae.db"
	}
	if cfg.Storage.VectorPath == "" {
		cfg.Storage.VectorPath = "./data/vectors.bin"
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.ChunkSize == 0 {
		cfg.Retrieval.ChunkSize = 512
	}
	if cfg.Embedder.Backend == "" {
		cfg.Embedder.Backend = "openai"
	}
	if d, ok := embedderDefaults[cfg.Embedder.Backend]; ok {
		if cfg.Embedder.Model == "" {
			cfg.Embedder.Model = d.model
		}
		if cfg.Embedder.Dimensions == 0 {
			cfg.Embedder.Dimensions = d.dimensions
		}
	}
	if cfg.Embedder.Timeout == 0 {
		cfg.Embedder.Timeout = 30 * time.Second
	}
	if cfg.Embedder.CacheSize == 0 {
		cfg.Embedder.CacheSize = 10000
	}
	if cfg.Embedder.CacheTTL == 0 {
		cfg.Embedder.CacheTTL = 24 * time.Hour
	}
	if cfg.VectorDB.Backend == "" {
		cfg.VectorDB.Backend = "memory"
	}
	if cfg.VectorDB.Collection == "" {
		cfg.VectorDB.Collection = "kotae_content"
	}
	if cfg.VectorDB.Timeout == 0 {
		cfg.VectorDB.Timeout = 30 * time.Second
	}
	if cfg.LLM.Backend == "" {
		cfg.LLM.Backend = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = llmModelDefaults[cfg.LLM.Backend]
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1000
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 120 * time.Second
	}
	if cfg.Content.Directory == "" {
		cfg.Content.Directory = "./content"
	}
	if cfg.Content.Extensions == nil {
		cfg.Content.Extensions = []string{".json", ".md", ".txt", ".html", ".pdf", ".docx", ".xlsx"}
	}
	if cfg.Backends == nil {
		cfg.Backends = make(map[string]BackendSettings)
	}
	ollama := cfg.Backends["ollama"]
	if ollama.BaseURL == "" {
		ollama.BaseURL = DefaultOllamaURL
	}
	if ollama.Model == "" {
		ollama.Model = "llama3.2:latest"
	}
	cfg.Backends["ollama"] = ollama
	qdrant := cfg.Backends["qdrant"]
	if qdrant.BaseURL == "" {
		qdrant.BaseURL = DefaultQdrantURL
	}
	cfg.Backends["qdrant"] = qdrant
	weaviate := cfg.Backends["weaviate"]
	if weaviate.BaseURL == "" {
		weaviate.BaseURL = DefaultWeaviateURL
	}
	cfg.Backends["weaviate"] = weaviate
	redis := cfg.Backends["redis"]
	if redis.BaseURL == "" {
		redis.BaseURL = DefaultRedisAddr
	}
	cfg.Backends["redis"] = redis
	st := cfg.Backends["sentence_transformers"]
	if st.ModelPath == "" {
		st.ModelPath = "./data/models/all-MiniLM-L6-v2.onnx"
	}
	if st.MaxTokens == 0 {
		st.MaxTokens = 256
	}
	cfg.Backends["sentence_transformers"] = st
}
