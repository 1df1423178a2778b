package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/vectorstore"
)

// fakeEmbedder returns deterministic vectors and counts calls.
type fakeEmbedder struct {
	dimension  int
	model      string
	loaded     bool
	err        error
	batchCalls int
}

func (f *fakeEmbedder) Encode(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector(0), nil
}

func (f *fakeEmbedder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.batchCalls++
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = f.vector(i)
	}
	return vectors, nil
}

func (f *fakeEmbedder) vector(seed int) []float32 {
	v := make([]float32, f.dimension)
	v[seed%f.dimension] = 1
	return v
}

func (f *fakeEmbedder) Dimension() int    { return f.dimension }
func (f *fakeEmbedder) ModelName() string { return f.model }
func (f *fakeEmbedder) Loaded() bool      { return f.loaded }

// fakeStore records the last calls it received.
type fakeStore struct {
	insertCalls     int
	lastCollection  string
	lastRecords     []vectorstore.Record
	lastVectors     [][]float32
	lastLimit       int
	lastFields      []string
	listResult      []string
	listErr         error
	searchResult    [][]vectorstore.SearchHit
	createdName     string
	createdDim      int
	droppedName     string
	createdStatus   string
}

func (f *fakeStore) CreateCollection(ctx context.Context, name string, dimension int, description string) (vectorstore.CollectionResult, error) {
	f.createdName = name
	f.createdDim = dimension
	status := f.createdStatus
	if status == "" {
		status = vectorstore.StatusCreated
	}
	return vectorstore.CollectionResult{Collection: name, Status: status}, nil
}

func (f *fakeStore) ListCollections(ctx context.Context) ([]string, error) {
	return f.listResult, f.listErr
}

func (f *fakeStore) DropCollection(ctx context.Context, name string) (vectorstore.CollectionResult, error) {
	f.droppedName = name
	return vectorstore.CollectionResult{Collection: name, Status: vectorstore.StatusDropped}, nil
}

func (f *fakeStore) Insert(ctx context.Context, collection string, records []vectorstore.Record) (vectorstore.InsertResult, error) {
	f.insertCalls++
	f.lastCollection = collection
	f.lastRecords = records
	ids := make([]int64, len(records))
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return vectorstore.InsertResult{InsertCount: len(records), IDs: ids}, nil
}

func (f *fakeStore) Search(ctx context.Context, collection string, vectors [][]float32, limit int, outputFields []string) ([][]vectorstore.SearchHit, error) {
	f.lastCollection = collection
	f.lastVectors = vectors
	f.lastLimit = limit
	f.lastFields = outputFields
	if f.searchResult != nil {
		return f.searchResult, nil
	}
	return make([][]vectorstore.SearchHit, len(vectors)), nil
}

func (f *fakeStore) Dimension(ctx context.Context, name string) (int, error) { return 4, nil }
func (f *fakeStore) Close() error                                            { return nil }

var _ vectorstore.Store = (*fakeStore)(nil)

func newTestService(t *testing.T) (*Service, *fakeEmbedder, *fakeStore) {
	t.Helper()
	embedder := &fakeEmbedder{dimension: 4, model: "test-model", loaded: true}
	store := &fakeStore{}
	svc, err := NewService(embedder, store, zap.NewNop())
	require.NoError(t, err)
	return svc, embedder, store
}

func TestService_Embed(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	t.Run("returns embedding", func(t *testing.T) {
		vec, err := svc.Embed(ctx, "hello")
		require.NoError(t, err)
		assert.Len(t, vec, 4)
	})

	t.Run("rejects empty text", func(t *testing.T) {
		_, err := svc.Embed(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestService_EmbedBatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	t.Run("one vector per text in order", func(t *testing.T) {
		vectors, err := svc.EmbedBatch(ctx, []string{"a", "b", "c"})
		require.NoError(t, err)
		assert.Len(t, vectors, 3)
	})

	t.Run("empty batch rejected", func(t *testing.T) {
		_, err := svc.EmbedBatch(ctx, nil)
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})

	t.Run("empty element rejected", func(t *testing.T) {
		_, err := svc.EmbedBatch(ctx, []string{"a", ""})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestService_CreateCollection(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	t.Run("explicit dimension passes through", func(t *testing.T) {
		_, err := svc.CreateCollection(ctx, "docs", 128, "")
		require.NoError(t, err)
		assert.Equal(t, 128, store.createdDim)
	})

	t.Run("zero dimension defaults to model dimension", func(t *testing.T) {
		_, err := svc.CreateCollection(ctx, "docs", 0, "")
		require.NoError(t, err)
		assert.Equal(t, 4, store.createdDim)
	})
}

func TestService_Insert(t *testing.T) {
	ctx := context.Background()

	items := []InsertItem{
		{Text: "first", Category: "a"},
		{Text: "second", Category: "b"},
	}

	t.Run("auto-embed encodes once and inserts once", func(t *testing.T) {
		svc, embedder, store := newTestService(t)

		result, err := svc.Insert(ctx, "docs", items, true)
		require.NoError(t, err)
		assert.Equal(t, 2, result.InsertCount)
		assert.Equal(t, []int64{1, 2}, result.IDs)
		assert.Equal(t, 1, embedder.batchCalls)
		assert.Equal(t, 1, store.insertCalls)
		for _, r := range store.lastRecords {
			assert.Len(t, r.Embedding, 4)
		}
	})

	t.Run("pre-embedded skips the encoder", func(t *testing.T) {
		svc, embedder, store := newTestService(t)

		preEmbedded := []InsertItem{
			{Text: "first", Embedding: []float32{1, 0, 0, 0}},
			{Text: "second", Embedding: []float32{0, 1, 0, 0}},
		}
		_, err := svc.Insert(ctx, "docs", preEmbedded, false)
		require.NoError(t, err)
		assert.Equal(t, 0, embedder.batchCalls)
		assert.Equal(t, 1, store.insertCalls)
		assert.Equal(t, []float32{1, 0, 0, 0}, store.lastRecords[0].Embedding)
	})

	t.Run("missing embedding rejects whole batch before any side effect", func(t *testing.T) {
		svc, embedder, store := newTestService(t)

		mixed := []InsertItem{
			{Text: "first", Embedding: []float32{1, 0, 0, 0}},
			{Text: "second"},
		}
		_, err := svc.Insert(ctx, "docs", mixed, false)
		assert.ErrorIs(t, err, ErrMissingEmbedding)
		assert.Equal(t, 0, embedder.batchCalls)
		assert.Equal(t, 0, store.insertCalls)
	})

	t.Run("empty batch rejected", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.Insert(ctx, "docs", nil, true)
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})

	t.Run("oversized text rejected", func(t *testing.T) {
		svc, _, store := newTestService(t)
		long := []InsertItem{{Text: strings.Repeat("x", vectorstore.MaxTextLength+1)}}
		_, err := svc.Insert(ctx, "docs", long, true)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, 0, store.insertCalls)
	})

	t.Run("oversized category rejected", func(t *testing.T) {
		svc, _, store := newTestService(t)
		long := []InsertItem{{Text: "ok", Category: strings.Repeat("c", vectorstore.MaxCategoryLength+1)}}
		_, err := svc.Insert(ctx, "docs", long, true)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, 0, store.insertCalls)
	})

	t.Run("embedding failure propagates", func(t *testing.T) {
		svc, embedder, store := newTestService(t)
		embedder.err = errors.New("model offline")
		_, err := svc.Insert(ctx, "docs", items, true)
		require.Error(t, err)
		assert.Equal(t, 0, store.insertCalls)
	})
}

func TestService_SearchByText(t *testing.T) {
	ctx := context.Background()

	t.Run("embeds queries then searches", func(t *testing.T) {
		svc, embedder, store := newTestService(t)
		results, err := svc.SearchByText(ctx, "docs", []string{"q1", "q2"}, 5, nil)
		require.NoError(t, err)
		assert.Len(t, results, 2)
		assert.Equal(t, 1, embedder.batchCalls)
		assert.Equal(t, "docs", store.lastCollection)
		assert.Len(t, store.lastVectors, 2)
		assert.Equal(t, 5, store.lastLimit)
	})

	t.Run("empty queries rejected", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.SearchByText(ctx, "docs", nil, 5, nil)
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})

	t.Run("non-positive limit rejected", func(t *testing.T) {
		svc, embedder, _ := newTestService(t)
		_, err := svc.SearchByText(ctx, "docs", []string{"q"}, 0, nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, 0, embedder.batchCalls)
	})
}

func TestService_SearchByVector(t *testing.T) {
	ctx := context.Background()

	t.Run("passes vectors through", func(t *testing.T) {
		svc, embedder, store := newTestService(t)
		vectors := [][]float32{{1, 0, 0, 0}}
		_, err := svc.SearchByVector(ctx, "docs", vectors, 3, []string{"text"})
		require.NoError(t, err)
		assert.Equal(t, 0, embedder.batchCalls)
		assert.Equal(t, vectors, store.lastVectors)
		assert.Equal(t, []string{"text"}, store.lastFields)
	})

	t.Run("empty vectors rejected", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.SearchByVector(ctx, "docs", nil, 3, nil)
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})
}

func TestService_Health(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy when model loaded and store reachable", func(t *testing.T) {
		svc, _, store := newTestService(t)
		store.listResult = []string{"a", "b"}
		health := svc.Health(ctx)
		assert.Equal(t, StatusOK, health.Status)
		assert.True(t, health.Model.Loaded)
		assert.Equal(t, "test-model", health.Model.Name)
		assert.Equal(t, 4, health.Model.Dimension)
		assert.True(t, health.Store.Reachable)
		assert.Equal(t, []string{"a", "b"}, health.Store.Collections)
	})

	t.Run("degraded when model not loaded", func(t *testing.T) {
		svc, embedder, _ := newTestService(t)
		embedder.loaded = false
		health := svc.Health(ctx)
		assert.Equal(t, StatusDegraded, health.Status)
		assert.False(t, health.Model.Loaded)
	})

	t.Run("degraded when store unreachable", func(t *testing.T) {
		svc, _, store := newTestService(t)
		store.listErr = vectorstore.ErrStoreUnavailable
		health := svc.Health(ctx)
		assert.Equal(t, StatusDegraded, health.Status)
		assert.False(t, health.Store.Reachable)
	})
}
