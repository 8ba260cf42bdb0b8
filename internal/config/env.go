package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ApplyEnv overlays environment settings onto cfg. getenv is usually os.Getenv.
// Only non-empty variables override; values that fail to parse are reported.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}

	str("LLM_BACKEND", &cfg.LLM.Backend)
	str("LLM_MODEL", &cfg.LLM.Model)
	str("EMBEDDER_BACKEND", &cfg.Embedder.Backend)
	str("EMBEDDER_MODEL", &cfg.Embedder.Model)
	str("VECTOR_DB_BACKEND", &cfg.VectorDB.Backend)
	str("VECTOR_DB_COLLECTION", &cfg.VectorDB.Collection)
	str("PROMPT_TEMPLATE", &cfg.Assistant.PromptTemplate)

	for key, dst := range map[string]*int{
		"LLM_MAX_TOKENS":      &cfg.LLM.MaxTokens,
		"EMBEDDING_DIMENSION": &cfg.Embedder.Dimensions,
		"TOP_K":               &cfg.Retrieval.TopK,
		"CHUNK_SIZE":          &cfg.Retrieval.ChunkSize,
		"API_RATE_LIMIT":      &cfg.Server.RateLimit,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v := strings.TrimSpace(getenv("CHUNK_OVERLAP")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CHUNK_OVERLAP %q: %w", v, err)
		}
		cfg.Retrieval.ChunkOverlap = &n
	}
	if v := strings.TrimSpace(getenv("LLM_TEMPERATURE")); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid LLM_TEMPERATURE %q: %w", v, err)
		}
		cfg.LLM.Temperature = &t
	}
	if v := strings.TrimSpace(getenv("ASSISTANT_ENABLED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid ASSISTANT_ENABLED %q: %w", v, err)
		}
		cfg.Assistant.Enabled = &b
	}
	if v := strings.TrimSpace(getenv("PAGE_TYPES")); v != "" {
		cfg.Retrieval.PageTypes = splitList(v)
	}

	if cfg.Backends == nil {
		cfg.Backends = make(map[string]BackendSettings)
	}
	credential := func(backend, key string, set func(*BackendSettings, string)) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		b := cfg.Backends[backend]
		set(&b, v)
		cfg.Backends[backend] = b
	}
	apiKey := func(b *BackendSettings, v string) {
		if b.APIKey == "" {
			b.APIKey = v
		}
	}
	baseURL := func(b *BackendSettings, v string) { b.BaseURL = v }
	credential("openai", "OPENAI_API_KEY", apiKey)
	credential("anthropic", "ANTHROPIC_API_KEY", apiKey)
	credential("qdrant", "QDRANT_API_KEY", apiKey)
	credential("qdrant", "QDRANT_URL", baseURL)
	credential("weaviate", "WEAVIATE_API_KEY", apiKey)
	credential("weaviate", "WEAVIATE_URL", baseURL)
	credential("ollama", "OLLAMA_HOST", baseURL)
	credential("redis", "REDIS_ADDR", baseURL)
	credential("pgvector", "PGVECTOR_DSN", func(b *BackendSettings, v string) { b.DSN = v })
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
