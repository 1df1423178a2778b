package gateway

import "encoding/json"

// InsertItem is one record submitted for insertion.
type InsertItem struct {
	// Text is the source string, required, at most 2048 code units.
	Text string `json:"text"`

	// Category is an optional label, at most 64 code units.
	Category string `json:"category,omitempty"`

	// Metadata is an opaque JSON document stored verbatim.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// Embedding is the precomputed vector. Required when auto-embedding is
	// off; ignored when it is on.
	Embedding []float32 `json:"embedding,omitempty"`
}

// Health statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// ModelHealth describes the embedding model's state.
type ModelHealth struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Loaded    bool   `json:"loaded"`
}

// StoreHealth describes the vector store's state.
type StoreHealth struct {
	Reachable   bool     `json:"reachable"`
	Collections []string `json:"collections"`
}

// HealthStatus is the aggregate service health report. The service runs
// degraded, not down, when a dependency is unavailable.
type HealthStatus struct {
	Status string      `json:"status"`
	Model  ModelHealth `json:"model"`
	Store  StoreHealth `json:"store"`
}
