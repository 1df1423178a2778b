// Package gateway orchestrates the embedding provider and the vector store
// behind one service surface: collection lifecycle, auto-embedding inserts,
// and text or vector similarity search.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/vectorstore"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("vectord.gateway")

// Sentinel errors for gateway operations.
var (
	// ErrEmptyBatch indicates a batch operation with zero elements.
	ErrEmptyBatch = errors.New("empty batch")

	// ErrMissingEmbedding indicates an insert without auto-embedding where
	// at least one item carries no embedding.
	ErrMissingEmbedding = errors.New("missing embedding")

	// ErrInvalidInput indicates a request that fails validation.
	ErrInvalidInput = errors.New("invalid input")
)

// Embedder is the slice of the embedding provider the gateway needs.
// embeddings.Singleton satisfies it.
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
	Loaded() bool
}

// Service coordinates embedding and storage. All request validation happens
// here, before any provider or store call, so a rejected request has no side
// effects.
type Service struct {
	embedder Embedder
	store    vectorstore.Store
	logger   *zap.Logger
}

// NewService creates a gateway service.
func NewService(embedder Embedder, store vectorstore.Store, logger *zap.Logger) (*Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidInput)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		embedder: embedder,
		store:    store,
		logger:   logger,
	}, nil
}

// Embed returns the unit-length embedding of one text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "Service.Embed")
	defer span.End()

	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrInvalidInput)
	}
	return s.embedder.Encode(ctx, text)
}

// EmbedBatch returns unit-length embeddings for a batch of texts, one per
// input, order preserved.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := tracer.Start(ctx, "Service.EmbedBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(texts)))

	if len(texts) == 0 {
		return nil, ErrEmptyBatch
	}
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}
	return s.embedder.EncodeBatch(ctx, texts)
}

// CreateCollection creates a collection. A zero dimension defaults to the
// embedding model's dimension.
func (s *Service) CreateCollection(ctx context.Context, name string, dimension int, description string) (vectorstore.CollectionResult, error) {
	ctx, span := tracer.Start(ctx, "Service.CreateCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if dimension == 0 {
		dimension = s.embedder.Dimension()
	}
	return s.store.CreateCollection(ctx, name, dimension, description)
}

// ListCollections returns all collection names.
func (s *Service) ListCollections(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Service.ListCollections")
	defer span.End()
	return s.store.ListCollections(ctx)
}

// DropCollection removes a collection and all its records.
func (s *Service) DropCollection(ctx context.Context, name string) (vectorstore.CollectionResult, error) {
	ctx, span := tracer.Start(ctx, "Service.DropCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))
	return s.store.DropCollection(ctx, name)
}

// Insert stores a batch of items in one storage call.
//
// With autoEmbed, item embeddings are ignored and all texts are encoded in a
// single batch request. Without it, every item must carry an embedding;
// a single missing one rejects the whole batch before anything is written.
func (s *Service) Insert(ctx context.Context, collection string, items []InsertItem, autoEmbed bool) (vectorstore.InsertResult, error) {
	ctx, span := tracer.Start(ctx, "Service.Insert", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("item_count", len(items)),
		attribute.Bool("auto_embed", autoEmbed),
	))
	defer span.End()

	if len(items) == 0 {
		return vectorstore.InsertResult{}, ErrEmptyBatch
	}
	for i, item := range items {
		if err := validateItem(i, item); err != nil {
			return vectorstore.InsertResult{}, err
		}
		if !autoEmbed && len(item.Embedding) == 0 {
			return vectorstore.InsertResult{}, fmt.Errorf("%w: item at index %d has no embedding and auto-embedding is off", ErrMissingEmbedding, i)
		}
	}

	records := make([]vectorstore.Record, len(items))
	for i, item := range items {
		records[i] = vectorstore.Record{
			Text:      item.Text,
			Category:  item.Category,
			Metadata:  item.Metadata,
			Embedding: item.Embedding,
		}
	}

	if autoEmbed {
		texts := make([]string, len(items))
		for i, item := range items {
			texts[i] = item.Text
		}
		embeddings, err := s.embedder.EncodeBatch(ctx, texts)
		if err != nil {
			return vectorstore.InsertResult{}, fmt.Errorf("embedding batch: %w", err)
		}
		for i := range records {
			records[i].Embedding = embeddings[i]
		}
	}

	result, err := s.store.Insert(ctx, collection, records)
	if err != nil {
		return vectorstore.InsertResult{}, err
	}

	s.logger.Info("inserted batch",
		zap.String("collection", collection),
		zap.Int("count", result.InsertCount),
		zap.Bool("auto_embed", autoEmbed),
	)
	return result, nil
}

// SearchByText embeds the query texts in one batch and searches the
// collection, returning one hit list per query.
func (s *Service) SearchByText(ctx context.Context, collection string, queries []string, limit int, outputFields []string) ([][]vectorstore.SearchHit, error) {
	ctx, span := tracer.Start(ctx, "Service.SearchByText", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("query_count", len(queries)),
		attribute.Int("limit", limit),
	))
	defer span.End()

	if len(queries) == 0 {
		return nil, ErrEmptyBatch
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidInput, limit)
	}
	for i, q := range queries {
		if q == "" {
			return nil, fmt.Errorf("%w: query at index %d is empty", ErrInvalidInput, i)
		}
	}

	vectors, err := s.embedder.EncodeBatch(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("embedding queries: %w", err)
	}
	return s.store.Search(ctx, collection, vectors, limit, outputFields)
}

// SearchByVector searches the collection with precomputed query vectors,
// returning one hit list per vector.
func (s *Service) SearchByVector(ctx context.Context, collection string, vectors [][]float32, limit int, outputFields []string) ([][]vectorstore.SearchHit, error) {
	ctx, span := tracer.Start(ctx, "Service.SearchByVector")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("query_count", len(vectors)),
		attribute.Int("limit", limit),
	)

	if len(vectors) == 0 {
		return nil, ErrEmptyBatch
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidInput, limit)
	}
	return s.store.Search(ctx, collection, vectors, limit, outputFields)
}

// Health reports aggregate service health. An unloaded model or an
// unreachable store degrades the status without failing the call.
func (s *Service) Health(ctx context.Context) HealthStatus {
	ctx, span := tracer.Start(ctx, "Service.Health")
	defer span.End()

	health := HealthStatus{
		Status: StatusOK,
		Model: ModelHealth{
			Name:      s.embedder.ModelName(),
			Dimension: s.embedder.Dimension(),
			Loaded:    s.embedder.Loaded(),
		},
	}

	collections, err := s.store.ListCollections(ctx)
	if err != nil {
		s.logger.Warn("store health probe failed", zap.Error(err))
	} else {
		health.Store.Reachable = true
		health.Store.Collections = collections
		if health.Store.Collections == nil {
			health.Store.Collections = []string{}
		}
	}

	if !health.Model.Loaded || !health.Store.Reachable {
		health.Status = StatusDegraded
	}
	span.SetAttributes(attribute.String("status", health.Status))
	return health
}

// validateItem checks one insert item's field bounds.
func validateItem(index int, item InsertItem) error {
	if item.Text == "" {
		return fmt.Errorf("%w: item at index %d has empty text", ErrInvalidInput, index)
	}
	if len(item.Text) > vectorstore.MaxTextLength {
		return fmt.Errorf("%w: item at index %d exceeds max text length %d", ErrInvalidInput, index, vectorstore.MaxTextLength)
	}
	if len(item.Category) > vectorstore.MaxCategoryLength {
		return fmt.Errorf("%w: item at index %d exceeds max category length %d", ErrInvalidInput, index, vectorstore.MaxCategoryLength)
	}
	return nil
}
