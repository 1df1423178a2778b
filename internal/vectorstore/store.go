// Package vectorstore defines the collection storage contract and its
// backends.
//
// A collection is a named, independently dimensioned container of records.
// Every record carries a server-assigned int64 ID (monotonic per collection),
// bounded text and category fields, an opaque JSON metadata document, and an
// embedding of exactly the collection's dimension. All backends index
// embeddings for cosine-similarity search.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Field bounds of the canonical record schema.
const (
	MaxTextLength     = 2048
	MaxCategoryLength = 64
)

// Default output fields returned per search hit.
var DefaultOutputFields = []string{"text", "category", "metadata"}

// Sentinel errors for store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	// Drop, insert and search against a missing collection all return it;
	// creation is the only idempotent lifecycle operation.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch is returned when a vector's length disagrees
	// with the collection's declared dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrEmptyRecords indicates an insert with zero records.
	ErrEmptyRecords = errors.New("empty or nil records")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrStoreUnavailable indicates the storage backend cannot be reached.
	ErrStoreUnavailable = errors.New("vector store unavailable")
)

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name.
// Rejects uppercase, special characters, path traversal and spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Record is one stored unit in a collection.
type Record struct {
	// ID is the server-assigned primary key, monotonic per collection.
	// Ignored on insert; populated on the hits a search returns.
	ID int64

	// Text is the original source string, at most MaxTextLength code units.
	Text string

	// Category is a short classification label, at most MaxCategoryLength
	// code units. Empty by default.
	Category string

	// Metadata is an opaque JSON document, round-tripped byte-for-byte
	// through storage. Nil means empty object.
	Metadata json.RawMessage

	// Embedding is a unit-length vector of exactly the collection's
	// dimension.
	Embedding []float32
}

// SearchHit is one result of a similarity query.
type SearchHit struct {
	// ID is the record's primary key.
	ID int64 `json:"id"`

	// Distance is the backend-reported cosine similarity score.
	// Both backends report similarity (higher = closer); hit lists are
	// ordered best match first.
	Distance float32 `json:"distance"`

	// Text, Category and Metadata are the stored fields, subject to the
	// search's output-field selection. Absent fields default to empty.
	Text     string          `json:"text"`
	Category string          `json:"category"`
	Metadata json.RawMessage `json:"metadata"`
}

// CollectionResult reports the outcome of a collection lifecycle operation.
type CollectionResult struct {
	Collection string `json:"collection"`
	Status     string `json:"status"`
}

// Collection lifecycle statuses.
const (
	StatusCreated       = "created"
	StatusAlreadyExists = "already_exists"
	StatusDropped       = "dropped"
)

// InsertResult reports the outcome of a batch insert.
type InsertResult struct {
	InsertCount int     `json:"insert_count"`
	IDs         []int64 `json:"ids"`
}

// Store is the collection storage contract.
//
// Implementations own the backend connection exclusively and must be safe for
// concurrent use; a single Store instance is shared by all in-flight requests.
// Each method performs exactly one logical backend operation: inserts are
// atomic per call from the caller's point of view, and no partial write is
// observable on success.
type Store interface {
	// CreateCollection creates a collection with the canonical record
	// schema and the given embedding dimension. Idempotent: creating an
	// existing name is a no-op reported as StatusAlreadyExists. The
	// existing collection's dimension is NOT re-validated against the
	// request; callers relying on a specific dimension should check
	// Dimension after an already_exists result.
	CreateCollection(ctx context.Context, name string, dimension int, description string) (CollectionResult, error)

	// ListCollections returns all collection names.
	ListCollections(ctx context.Context) ([]string, error)

	// DropCollection removes a collection and all its records.
	// Irreversible. Dropping a missing collection returns
	// ErrCollectionNotFound.
	DropCollection(ctx context.Context, name string) (CollectionResult, error)

	// Insert appends records to a collection in one backend call and
	// returns the server-assigned IDs, order-corresponding to the input.
	// Every record's embedding must match the collection's dimension
	// (ErrDimensionMismatch); the check runs before anything is written.
	Insert(ctx context.Context, collection string, records []Record) (InsertResult, error)

	// Search performs k-NN search under cosine similarity and returns one
	// hit list per query vector, each at most limit hits, best match
	// first. outputFields selects which stored fields are populated per
	// hit; nil means DefaultOutputFields. Query vectors must match the
	// collection's dimension (ErrDimensionMismatch).
	Search(ctx context.Context, collection string, vectors [][]float32, limit int, outputFields []string) ([][]SearchHit, error)

	// Dimension returns the declared embedding dimension of a collection.
	Dimension(ctx context.Context, name string) (int, error)

	// Close releases the backend connection.
	Close() error
}

// selectFields reports which of the canonical output fields are requested.
func selectFields(outputFields []string) (text, category, metadata bool) {
	if outputFields == nil {
		outputFields = DefaultOutputFields
	}
	for _, f := range outputFields {
		switch f {
		case "text":
			text = true
		case "category":
			category = true
		case "metadata":
			metadata = true
		}
	}
	return text, category, metadata
}

// checkDimensions verifies every vector has the expected width.
func checkDimensions(vectors [][]float32, dimension int) error {
	for i, v := range vectors {
		if len(v) != dimension {
			return fmt.Errorf("%w: vector %d has dimension %d, collection expects %d",
				ErrDimensionMismatch, i, len(v), dimension)
		}
	}
	return nil
}
