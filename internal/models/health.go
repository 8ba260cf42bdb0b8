package models

import "time"

// Backend availability values.
const (
	StatusAvailable   = "available"
	StatusUnavailable = "unavailable"
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
)

// HealthReport is the availability of every backend plus index counts.
type HealthReport struct {
	Status           string `json:"status"`
	Embedder         string `json:"embedder"`
	VectorDB         string `json:"vector_db"`
	LLM              string `json:"llm"`
	IndexedDocuments int64  `json:"indexed_documents"`
	DBIndexedPages   int64  `json:"db_indexed_pages"`
}

// OK reports whether every backend is available.
func (h *HealthReport) OK() bool {
	return h.Embedder == StatusAvailable && h.VectorDB == StatusAvailable && h.LLM == StatusAvailable
}

// Summary counts the outcome of an index, sync or remove run.
type Summary struct {
	Indexed   int `json:"indexed"`
	Updated   int `json:"updated"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// IndexStats are bookkeeping figures for diagnostics.
type IndexStats struct {
	ActiveItems   int64            `json:"active_items"`
	InactiveItems int64            `json:"inactive_items"`
	ChunkRecords  int64            `json:"chunk_records"`
	VectorCount   int64            `json:"vector_count"`
	ByContentType map[string]int64 `json:"by_content_type,omitempty"`
	LastIndexedAt *time.Time       `json:"last_indexed_at,omitempty"`
	DatabaseBytes int64            `json:"database_bytes"`
}
