package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("vectord.vectorstore.qdrant")

// Payload keys of the canonical record schema.
const (
	payloadText     = "text"
	payloadCategory = "category"
	payloadMetadata = "metadata"
)

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), NOT the HTTP REST port (6333).
	Port int

	// APIKey is the optional access token.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the maximum number of retry attempts for transient
	// failures. Default: 3.
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries; doubles on
	// each attempt. Default: 1s.
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB, to fit large insert batches.
	MaxMessageSize int
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// IsTransientError checks if an error is transient (should retry).
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// isNotFound checks if an error is the backend's not-found condition.
func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// idCounter allocates monotonic record IDs for one collection.
type idCounter struct {
	mu     sync.Mutex
	next   int64
	seeded bool
}

// QdrantStore is a Store implementation using Qdrant's native gRPC client.
//
// Record IDs are numeric Qdrant point IDs allocated from a per-collection
// monotonic counter, seeded from the collection's point count on first use.
// Records are never deleted individually (only whole collections are
// dropped), so the count always equals the highest assigned ID.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	// dimensions caches collection name -> declared dimension
	dimensions sync.Map

	// counters holds the per-collection ID allocator
	counters sync.Map
}

// NewQdrantStore creates a new QdrantStore. The constructor only dials the
// client; an unreachable server surfaces on first use and through Health
// probes rather than failing process startup.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Bool("tls", config.UseTLS),
	)

	return &QdrantStore{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// retryOperation retries an operation with exponential backoff on transient
// gRPC failures.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%w: %s failed after %d retries: %v", ErrStoreUnavailable, operationName, s.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// CreateCollection creates a collection with the canonical schema.
// Creating an existing name is a no-op reported as already_exists; the
// existing dimension is not re-validated against the request.
func (s *QdrantStore) CreateCollection(ctx context.Context, name string, dimension int, description string) (_ CollectionResult, retErr error) {
	start := time.Now()
	defer func() { RecordOperation("qdrant", "create_collection", time.Since(start), retErr) }()

	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.CreateCollection")
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

	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CollectionResult{}, err
	}
	if exists {
		span.SetStatus(codes.Ok, "already exists")
		s.logger.Info("collection already exists, skipping create", zap.String("collection", name))
		return CollectionResult{Collection: name, Status: StatusAlreadyExists}, nil
	}

	err = s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CollectionResult{}, fmt.Errorf("creating collection %s: %w", name, err)
	}

	s.dimensions.Store(name, dimension)
	span.SetStatus(codes.Ok, "success")
	s.logger.Info("created collection",
		zap.String("collection", name),
		zap.Int("dimension", dimension),
		zap.String("description", description),
	)
	return CollectionResult{Collection: name, Status: StatusCreated}, nil
}

// ListCollections returns all collection names.
func (s *QdrantStore) ListCollections(ctx context.Context) (_ []string, retErr error) {
	start := time.Now()
	defer func() { RecordOperation("qdrant", "list_collections", time.Since(start), retErr) }()

	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.ListCollections")
	defer span.End()

	var collections []string
	err := s.retryOperation(ctx, "list_collections", func() error {
		result, err := s.client.ListCollections(ctx)
		if err != nil {
			return err
		}
		collections = result
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing collections: %w", wrapUnavailable(err))
	}

	span.SetAttributes(attribute.Int("collection_count", len(collections)))
	span.SetStatus(codes.Ok, "success")
	return collections, nil
}

// DropCollection removes a collection and all its records.
func (s *QdrantStore) DropCollection(ctx context.Context, name string) (_ CollectionResult, retErr error) {
	start := time.Now()
	defer func() { RecordOperation("qdrant", "drop_collection", time.Since(start), retErr) }()

	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DropCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return CollectionResult{}, err
	}

	// Qdrant's delete succeeds for unknown names, so check first to keep
	// the documented drop-missing policy.
	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		span.RecordError(err)
		return CollectionResult{}, err
	}
	if !exists {
		span.SetStatus(codes.Error, "collection not found")
		return CollectionResult{}, fmt.Errorf("dropping collection %s: %w", name, ErrCollectionNotFound)
	}

	err = s.retryOperation(ctx, "drop_collection", func() error {
		return s.client.DeleteCollection(ctx, name)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CollectionResult{}, fmt.Errorf("dropping collection %s: %w", name, wrapUnavailable(err))
	}

	s.dimensions.Delete(name)
	s.counters.Delete(name)
	span.SetStatus(codes.Ok, "success")
	s.logger.Info("dropped collection", zap.String("collection", name))
	return CollectionResult{Collection: name, Status: StatusDropped}, nil
}

// Insert appends records in one upsert call, assigning monotonic IDs.
func (s *QdrantStore) Insert(ctx context.Context, collection string, records []Record) (_ InsertResult, retErr error) {
	start := time.Now()
	defer func() { RecordOperation("qdrant", "insert", time.Since(start), retErr) }()

	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Insert")
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

	ids, err := s.allocateIDs(ctx, collection, len(records))
	if err != nil {
		span.RecordError(err)
		return InsertResult{}, err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		metadata := r.Metadata
		if len(metadata) == 0 {
			metadata = json.RawMessage("{}")
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(ids[i])),
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: map[string]*qdrant.Value{
				payloadText:     {Kind: &qdrant.Value_StringValue{StringValue: r.Text}},
				payloadCategory: {Kind: &qdrant.Value_StringValue{StringValue: r.Category}},
				payloadMetadata: {Kind: &qdrant.Value_StringValue{StringValue: string(metadata)}},
			},
		}
	}

	err = s.retryOperation(ctx, "insert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isNotFound(err) {
			return InsertResult{}, fmt.Errorf("inserting into collection %s: %w", collection, ErrCollectionNotFound)
		}
		return InsertResult{}, fmt.Errorf("inserting into collection %s: %w", collection, wrapUnavailable(err))
	}

	RecordsInserted.WithLabelValues("qdrant").Add(float64(len(records)))
	span.SetAttributes(attribute.Int("records_inserted", len(ids)))
	span.SetStatus(codes.Ok, "success")
	s.logger.Info("inserted records",
		zap.String("collection", collection),
		zap.Int("count", len(records)),
	)
	return InsertResult{InsertCount: len(records), IDs: ids}, nil
}

// Search performs batched k-NN search, one round trip for all query vectors.
func (s *QdrantStore) Search(ctx context.Context, collection string, vectors [][]float32, limit int, outputFields []string) (_ [][]SearchHit, retErr error) {
	start := time.Now()
	defer func() { RecordOperation("qdrant", "search", time.Since(start), retErr) }()

	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
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

	dimension, err := s.Dimension(ctx, collection)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := checkDimensions(vectors, dimension); err != nil {
		return nil, err
	}

	if outputFields == nil {
		outputFields = DefaultOutputFields
	}

	queries := make([]*qdrant.QueryPoints, len(vectors))
	for i, v := range vectors {
		queries[i] = &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(v...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayloadInclude(outputFields...),
		}
	}

	var batches []*qdrant.BatchResult
	err = s.retryOperation(ctx, "search", func() error {
		res, err := s.client.QueryBatch(ctx, &qdrant.QueryBatchPoints{
			CollectionName: collection,
			QueryPoints:    queries,
		})
		if err != nil {
			return err
		}
		batches = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isNotFound(err) {
			return nil, fmt.Errorf("searching collection %s: %w", collection, ErrCollectionNotFound)
		}
		return nil, fmt.Errorf("searching collection %s: %w", collection, wrapUnavailable(err))
	}

	results := make([][]SearchHit, len(batches))
	for i, batch := range batches {
		hits := make([]SearchHit, len(batch.GetResult()))
		for j, point := range batch.GetResult() {
			hits[j] = scoredPointToHit(point)
		}
		results[i] = hits
	}

	totalHits := 0
	for _, hits := range results {
		totalHits += len(hits)
	}
	SearchHitsReturned.WithLabelValues("qdrant").Observe(float64(totalHits))
	span.SetAttributes(attribute.Int("result_count", totalHits))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// scoredPointToHit maps a Qdrant scored point to a SearchHit. Payload fields
// absent from the output selection default to empty values.
func scoredPointToHit(point *qdrant.ScoredPoint) SearchHit {
	hit := SearchHit{
		ID:       int64(point.GetId().GetNum()),
		Distance: point.GetScore(),
		Metadata: json.RawMessage("{}"),
	}
	payload := point.GetPayload()
	if payload == nil {
		return hit
	}
	if v, ok := payload[payloadText]; ok {
		hit.Text = v.GetStringValue()
	}
	if v, ok := payload[payloadCategory]; ok {
		hit.Category = v.GetStringValue()
	}
	if v, ok := payload[payloadMetadata]; ok {
		if raw := v.GetStringValue(); raw != "" {
			hit.Metadata = json.RawMessage(raw)
		}
	}
	return hit
}

// Dimension returns the declared embedding dimension of a collection.
func (s *QdrantStore) Dimension(ctx context.Context, name string) (int, error) {
	if dim, ok := s.dimensions.Load(name); ok {
		return dim.(int), nil
	}

	var dimension int
	err := s.retryOperation(ctx, "collection_info", func() error {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			return err
		}
		dimension = int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("collection %s: %w", name, ErrCollectionNotFound)
		}
		return 0, fmt.Errorf("collection info for %s: %w", name, wrapUnavailable(err))
	}

	s.dimensions.Store(name, dimension)
	return dimension, nil
}

// collectionExists checks collection existence via collection info.
func (s *QdrantStore) collectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			if isNotFound(err) {
				exists = false
				return nil
			}
			return err
		}
		exists = info != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", name, wrapUnavailable(err))
	}
	return exists, nil
}

// allocateIDs reserves count sequential record IDs for a collection, seeding
// the counter from the backend point count on first use.
func (s *QdrantStore) allocateIDs(ctx context.Context, collection string, count int) ([]int64, error) {
	v, _ := s.counters.LoadOrStore(collection, &idCounter{})
	counter := v.(*idCounter)

	counter.mu.Lock()
	defer counter.mu.Unlock()

	if !counter.seeded {
		var pointCount int64
		err := s.retryOperation(ctx, "point_count", func() error {
			info, err := s.client.GetCollectionInfo(ctx, collection)
			if err != nil {
				return err
			}
			pointCount = int64(info.GetPointsCount())
			return nil
		})
		if err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("collection %s: %w", collection, ErrCollectionNotFound)
			}
			return nil, fmt.Errorf("seeding id counter for %s: %w", collection, wrapUnavailable(err))
		}
		counter.next = pointCount + 1
		counter.seeded = true
	}

	ids := make([]int64, count)
	for i := range ids {
		ids[i] = counter.next
		counter.next++
	}
	return ids, nil
}

// wrapUnavailable tags transport-level failures as ErrStoreUnavailable so
// callers can classify them without importing grpc codes.
func wrapUnavailable(err error) error {
	if IsTransientError(err) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	st, ok := status.FromError(err)
	if ok && st.Code() == grpccodes.Unavailable {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

var _ Store = (*QdrantStore)(nil)
