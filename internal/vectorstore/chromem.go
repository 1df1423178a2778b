package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("vectord.vectorstore.chromem")

// ChromemConfig holds configuration for the chromem-go embedded backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means a purely
	// in-memory database.
	// Default: "~/.config/vectord/vectorstore"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// DefaultDimension is the dimension assumed for collections restored
	// from disk whose dimension was recorded by an earlier process.
	// Default: 1024.
	DefaultDimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.DefaultDimension == 0 {
		c.DefaultDimension = 1024
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.DefaultDimension <= 0 {
		return fmt.Errorf("%w: default dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// chromemCollState tracks per-collection bookkeeping chromem does not hold
// for us: the declared dimension and the next record ID.
type chromemCollState struct {
	mu        sync.Mutex
	dimension int
	nextID    int64
	seeded    bool
}

// ChromemStore implements Store using chromem-go, an embeddable pure-Go
// vector database persisting to gob files. No external service is needed,
// which makes it the default backend for single-node deployments and tests.
//
// chromem computes cosine similarity over normalized vectors, matching the
// Store contract's similarity semantics (higher = closer).
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger

	// state maps collection name -> *chromemCollState. Dimensions of
	// collections restored from disk fall back to DefaultDimension.
	state sync.Map
}

// NewChromemStore creates a new ChromemStore. An empty Path yields an
// in-memory database.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		expandedPath, err := expandChromemPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(expandedPath, 0755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
		}
		db, err = chromem.NewPersistentDB(expandedPath, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: opening chromem DB: %v", ErrStoreUnavailable, err)
		}
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
		zap.Int("default_dimension", config.DefaultDimension),
	)

	return &ChromemStore{
		db:     db,
		config: config,
		logger: logger,
	}, nil
}

// expandChromemPath expands ~ to home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// noEmbeddingFunc satisfies chromem's embedding-function parameter. All
// records and queries carry precomputed embeddings, so chromem must never
// need to embed on its own.
func noEmbeddingFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embeddings must be precomputed, no embedding function available")
}

// getState returns the bookkeeping entry for a collection.
func (s *ChromemStore) getState(name string) *chromemCollState {
	v, _ := s.state.LoadOrStore(name, &chromemCollState{})
	return v.(*chromemCollState)
}

// CreateCollection creates a collection with the canonical schema.
// Creating an existing name is a no-op reported as already_exists; the
// existing dimension is not re-validated against the request.
func (s *ChromemStore) CreateCollection(ctx context.Context, name string, dimension int, description string) (_ CollectionResult, retErr error) {
	start := time.Now()
	defer func() { RecordOperation("chromem", "create_collection", time.Since(start), retErr) }()

	ctx, span := chromemTracer.Start(ctx, "ChromemStore.CreateCollection")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("dimension", dimension),
	)

	if err := ValidateCollectionName(name); err != nil {
		return CollectionResult{}, err
	}
	if dimension <= 0 {
		return CollectionResult{}, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, dimension)
	}

	if s.db.GetCollection(name, noEmbeddingFunc) != nil {
		span.SetStatus(codes.Ok, "already exists")
		s.logger.Info("collection already exists, skipping create", zap.String("collection", name))
		return CollectionResult{Collection: name, Status: StatusAlreadyExists}, nil
	}

	metadata := map[string]string{
		"dimension":   strconv.Itoa(dimension),
		"description": description,
	}
	if _, err := s.db.CreateCollection(name, metadata, noEmbeddingFunc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CollectionResult{}, fmt.Errorf("creating collection %s: %w", name, err)
	}

	state := s.getState(name)
	state.mu.Lock()
	state.dimension = dimension
	state.nextID = 1
	state.seeded = true
	state.mu.Unlock()

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("created collection",
		zap.String("collection", name),
		zap.Int("dimension", dimension),
		zap.String("description", description),
	)
	return CollectionResult{Collection: name, Status: StatusCreated}, nil
}

// ListCollections returns all collection names.
func (s *ChromemStore) ListCollections(ctx context.Context) (_ []string, retErr error) {
	start := time.Now()
	defer func() { RecordOperation("chromem", "list_collections", time.Since(start), retErr) }()

	_, span := chromemTracer.Start(ctx, "ChromemStore.ListCollections")
	defer span.End()

	collections := s.db.ListCollections()
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}

	span.SetAttributes(attribute.Int("collection_count", len(names)))
	span.SetStatus(codes.Ok, "success")
	return names, nil
}

// DropCollection removes a collection and all its records.
func (s *ChromemStore) DropCollection(ctx context.Context, name string) (_ CollectionResult, retErr error) {
	start := time.Now()
	defer func() { RecordOperation("chromem", "drop_collection", time.Since(start), retErr) }()

	_, span := chromemTracer.Start(ctx, "ChromemStore.DropCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return CollectionResult{}, err
	}

	if s.db.GetCollection(name, noEmbeddingFunc) == nil {
		span.SetStatus(codes.Error, "collection not found")
		return CollectionResult{}, fmt.Errorf("dropping collection %s: %w", name, ErrCollectionNotFound)
	}

	if err := s.db.DeleteCollection(name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CollectionResult{}, fmt.Errorf("dropping collection %s: %w", name, err)
	}

	s.state.Delete(name)
	span.SetStatus(codes.Ok, "success")
	s.logger.Info("dropped collection", zap.String("collection", name))
	return CollectionResult{Collection: name, Status: StatusDropped}, nil
}

// Insert appends records in one AddDocuments call, assigning monotonic IDs.
func (s *ChromemStore) Insert(ctx context.Context, collection string, records []Record) (_ InsertResult, retErr error) {
	start := time.Now()
	defer func() { RecordOperation("chromem", "insert", time.Since(start), retErr) }()

	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("record_count", len(records)),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return InsertResult{}, err
	}
	if len(records) == 0 {
		return InsertResult{}, ErrEmptyRecords
	}

	coll := s.db.GetCollection(collection, noEmbeddingFunc)
	if coll == nil {
		span.SetStatus(codes.Error, "collection not found")
		return InsertResult{}, fmt.Errorf("inserting into collection %s: %w", collection, ErrCollectionNotFound)
	}

	dimension, err := s.Dimension(ctx, collection)
	if err != nil {
		span.RecordError(err)
		return InsertResult{}, err
	}
	vectors := make([][]float32, len(records))
	for i, r := range records {
		vectors[i] = r.Embedding
	}
	if err := checkDimensions(vectors, dimension); err != nil {
		return InsertResult{}, err
	}

	ids := s.allocateIDs(collection, coll.Count(), len(records))

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		metadata := r.Metadata
		if len(metadata) == 0 {
			metadata = json.RawMessage("{}")
		}
		docs[i] = chromem.Document{
			ID:        strconv.FormatInt(ids[i], 10),
			Content:   r.Text,
			Embedding: r.Embedding,
			Metadata: map[string]string{
				payloadCategory: r.Category,
				payloadMetadata: string(metadata),
			},
		}
	}

	// Concurrency of 1: embeddings are precomputed, so there is no work to
	// parallelize.
	if err := coll.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return InsertResult{}, fmt.Errorf("inserting into collection %s: %w", collection, err)
	}

	RecordsInserted.WithLabelValues("chromem").Add(float64(len(records)))
	span.SetAttributes(attribute.Int("records_inserted", len(ids)))
	span.SetStatus(codes.Ok, "success")
	s.logger.Info("inserted records",
		zap.String("collection", collection),
		zap.Int("count", len(records)),
	)
	return InsertResult{InsertCount: len(records), IDs: ids}, nil
}

// Search performs k-NN search over precomputed query embeddings.
func (s *ChromemStore) Search(ctx context.Context, collection string, vectors [][]float32, limit int, outputFields []string) (_ [][]SearchHit, retErr error) {
	start := time.Now()
	defer func() { RecordOperation("chromem", "search", time.Since(start), retErr) }()

	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("query_count", len(vectors)),
		attribute.Int("limit", limit),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return [][]SearchHit{}, nil
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidConfig, limit)
	}

	coll := s.db.GetCollection(collection, noEmbeddingFunc)
	if coll == nil {
		span.SetStatus(codes.Error, "collection not found")
		return nil, fmt.Errorf("searching collection %s: %w", collection, ErrCollectionNotFound)
	}

	dimension, err := s.Dimension(ctx, collection)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := checkDimensions(vectors, dimension); err != nil {
		return nil, err
	}

	wantText, wantCategory, wantMetadata := selectFields(outputFields)

	// chromem requires nResults <= doc count.
	docCount := coll.Count()
	k := limit
	if k > docCount {
		k = docCount
	}

	results := make([][]SearchHit, len(vectors))
	totalHits := 0
	for i, v := range vectors {
		if k == 0 {
			results[i] = []SearchHit{}
			continue
		}
		chromemResults, err := coll.QueryEmbedding(ctx, v, k, nil, nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("searching collection %s: %w", collection, err)
		}
		hits := make([]SearchHit, len(chromemResults))
		for j, r := range chromemResults {
			hits[j] = chromemResultToHit(r, wantText, wantCategory, wantMetadata)
		}
		results[i] = hits
		totalHits += len(hits)
	}

	SearchHitsReturned.WithLabelValues("chromem").Observe(float64(totalHits))
	span.SetAttributes(attribute.Int("result_count", totalHits))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// chromemResultToHit maps a chromem query result to a SearchHit, honoring the
// output-field selection.
func chromemResultToHit(r chromem.Result, wantText, wantCategory, wantMetadata bool) SearchHit {
	id, _ := strconv.ParseInt(r.ID, 10, 64)
	hit := SearchHit{
		ID:       id,
		Distance: r.Similarity,
		Metadata: json.RawMessage("{}"),
	}
	if wantText {
		hit.Text = r.Content
	}
	if wantCategory {
		hit.Category = r.Metadata[payloadCategory]
	}
	if wantMetadata {
		if raw := r.Metadata[payloadMetadata]; raw != "" {
			hit.Metadata = json.RawMessage(raw)
		}
	}
	return hit
}

// Dimension returns the declared embedding dimension of a collection.
// For collections restored from disk the recorded dimension is unavailable
// through chromem's API, so the configured default applies.
func (s *ChromemStore) Dimension(ctx context.Context, name string) (int, error) {
	if s.db.GetCollection(name, noEmbeddingFunc) == nil {
		return 0, fmt.Errorf("collection %s: %w", name, ErrCollectionNotFound)
	}

	state := s.getState(name)
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.dimension == 0 {
		state.dimension = s.config.DefaultDimension
	}
	return state.dimension, nil
}

// allocateIDs reserves count sequential record IDs for a collection, seeding
// the counter from the document count on first use. Records are never
// deleted individually, so the count equals the highest assigned ID.
func (s *ChromemStore) allocateIDs(collection string, docCount, count int) []int64 {
	state := s.getState(collection)
	state.mu.Lock()
	defer state.mu.Unlock()

	if !state.seeded {
		state.nextID = int64(docCount) + 1
		state.seeded = true
	}

	ids := make([]int64, count)
	for i := range ids {
		ids[i] = state.nextID
		state.nextID++
	}
	return ids
}

// Close is a no-op; chromem persists synchronously on write.
func (s *ChromemStore) Close() error {
	return nil
}

var _ Store = (*ChromemStore)(nil)
