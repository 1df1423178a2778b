package vectorstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestStore returns an in-memory ChromemStore with dimension 4.
func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{DefaultDimension: 4}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecords() []Record {
	return []Record{
		{Text: "alpha", Category: "greek", Embedding: []float32{1, 0, 0, 0}},
		{Text: "beta", Category: "greek", Embedding: []float32{0, 1, 0, 0}},
		{Text: "gamma", Category: "greek", Embedding: []float32{0.7071, 0.7071, 0, 0}},
	}
}

func TestChromemStore_CreateCollection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("creates new collection", func(t *testing.T) {
		result, err := store.CreateCollection(ctx, "docs", 4, "test docs")
		require.NoError(t, err)
		assert.Equal(t, "docs", result.Collection)
		assert.Equal(t, StatusCreated, result.Status)
	})

	t.Run("create existing is idempotent", func(t *testing.T) {
		result, err := store.CreateCollection(ctx, "docs", 4, "")
		require.NoError(t, err)
		assert.Equal(t, StatusAlreadyExists, result.Status)
	})

	t.Run("existing dimension is not re-validated", func(t *testing.T) {
		result, err := store.CreateCollection(ctx, "docs", 999, "")
		require.NoError(t, err)
		assert.Equal(t, StatusAlreadyExists, result.Status)

		dim, err := store.Dimension(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 4, dim)
	})

	t.Run("rejects invalid name", func(t *testing.T) {
		_, err := store.CreateCollection(ctx, "Bad Name", 4, "")
		assert.ErrorIs(t, err, ErrInvalidCollectionName)
	})

	t.Run("rejects non-positive dimension", func(t *testing.T) {
		_, err := store.CreateCollection(ctx, "nodim", 0, "")
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestChromemStore_ListCollections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	names, err := store.ListCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = store.CreateCollection(ctx, "first", 4, "")
	require.NoError(t, err)
	_, err = store.CreateCollection(ctx, "second", 4, "")
	require.NoError(t, err)

	names, err = store.ListCollections(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"first", "second"}, names)
}

func TestChromemStore_DropCollection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("drops existing collection", func(t *testing.T) {
		_, err := store.CreateCollection(ctx, "doomed", 4, "")
		require.NoError(t, err)

		result, err := store.DropCollection(ctx, "doomed")
		require.NoError(t, err)
		assert.Equal(t, StatusDropped, result.Status)

		names, err := store.ListCollections(ctx)
		require.NoError(t, err)
		assert.NotContains(t, names, "doomed")
	})

	t.Run("drop missing returns not found", func(t *testing.T) {
		_, err := store.DropCollection(ctx, "never_existed")
		assert.ErrorIs(t, err, ErrCollectionNotFound)
	})

	t.Run("drop twice returns not found", func(t *testing.T) {
		_, err := store.CreateCollection(ctx, "twice", 4, "")
		require.NoError(t, err)
		_, err = store.DropCollection(ctx, "twice")
		require.NoError(t, err)
		_, err = store.DropCollection(ctx, "twice")
		assert.ErrorIs(t, err, ErrCollectionNotFound)
	})
}

func TestChromemStore_Insert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateCollection(ctx, "docs", 4, "")
	require.NoError(t, err)

	t.Run("assigns monotonic ids", func(t *testing.T) {
		result, err := store.Insert(ctx, "docs", testRecords())
		require.NoError(t, err)
		assert.Equal(t, 3, result.InsertCount)
		assert.Equal(t, []int64{1, 2, 3}, result.IDs)

		result, err = store.Insert(ctx, "docs", testRecords()[:1])
		require.NoError(t, err)
		assert.Equal(t, []int64{4}, result.IDs)
	})

	t.Run("empty batch rejected", func(t *testing.T) {
		_, err := store.Insert(ctx, "docs", nil)
		assert.ErrorIs(t, err, ErrEmptyRecords)
	})

	t.Run("missing collection", func(t *testing.T) {
		_, err := store.Insert(ctx, "nope", testRecords())
		assert.ErrorIs(t, err, ErrCollectionNotFound)
	})

	t.Run("dimension mismatch rejected before write", func(t *testing.T) {
		before, err := store.Insert(ctx, "docs", testRecords()[:1])
		require.NoError(t, err)

		records := testRecords()
		records[1].Embedding = []float32{1, 0}
		_, err = store.Insert(ctx, "docs", records)
		assert.ErrorIs(t, err, ErrDimensionMismatch)

		// Nothing was written: the next insert continues from the same ID.
		after, err := store.Insert(ctx, "docs", testRecords()[:1])
		require.NoError(t, err)
		assert.Equal(t, before.IDs[0]+1, after.IDs[0])
	})
}

func TestChromemStore_Search(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateCollection(ctx, "docs", 4, "")
	require.NoError(t, err)
	inserted, err := store.Insert(ctx, "docs", testRecords())
	require.NoError(t, err)

	t.Run("orders hits best match first", func(t *testing.T) {
		results, err := store.Search(ctx, "docs", [][]float32{{1, 0, 0, 0}}, 2, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.Len(t, results[0], 2)

		// Exact match for "alpha", then the diagonal "gamma".
		assert.Equal(t, inserted.IDs[0], results[0][0].ID)
		assert.Equal(t, "alpha", results[0][0].Text)
		assert.Equal(t, inserted.IDs[2], results[0][1].ID)
		assert.GreaterOrEqual(t, results[0][0].Distance, results[0][1].Distance)
	})

	t.Run("one hit list per query vector", func(t *testing.T) {
		results, err := store.Search(ctx, "docs", [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}, 1, nil)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "alpha", results[0][0].Text)
		assert.Equal(t, "beta", results[1][0].Text)
	})

	t.Run("limit capped at collection size", func(t *testing.T) {
		results, err := store.Search(ctx, "docs", [][]float32{{1, 0, 0, 0}}, 50, nil)
		require.NoError(t, err)
		assert.Len(t, results[0], 3)
	})

	t.Run("output field selection", func(t *testing.T) {
		results, err := store.Search(ctx, "docs", [][]float32{{1, 0, 0, 0}}, 1, []string{"category"})
		require.NoError(t, err)
		hit := results[0][0]
		assert.Empty(t, hit.Text)
		assert.Equal(t, "greek", hit.Category)
		assert.JSONEq(t, "{}", string(hit.Metadata))
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := store.Search(ctx, "docs", [][]float32{{1, 0}}, 1, nil)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("missing collection", func(t *testing.T) {
		_, err := store.Search(ctx, "nope", [][]float32{{1, 0, 0, 0}}, 1, nil)
		assert.ErrorIs(t, err, ErrCollectionNotFound)
	})

	t.Run("empty collection returns empty hit lists", func(t *testing.T) {
		_, err := store.CreateCollection(ctx, "empty", 4, "")
		require.NoError(t, err)
		results, err := store.Search(ctx, "empty", [][]float32{{1, 0, 0, 0}}, 5, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Empty(t, results[0])
	})

	t.Run("no query vectors", func(t *testing.T) {
		results, err := store.Search(ctx, "docs", nil, 5, nil)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestChromemStore_MetadataRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateCollection(ctx, "docs", 4, "")
	require.NoError(t, err)

	metadata := json.RawMessage(`{"source":"unit","nested":{"n":1},"tags":["a","b"]}`)
	records := []Record{{
		Text:      "with metadata",
		Category:  "test",
		Metadata:  metadata,
		Embedding: []float32{0, 0, 1, 0},
	}}
	_, err = store.Insert(ctx, "docs", records)
	require.NoError(t, err)

	results, err := store.Search(ctx, "docs", [][]float32{{0, 0, 1, 0}}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results[0], 1)
	assert.Equal(t, string(metadata), string(results[0][0].Metadata))
}

func TestChromemStore_NilMetadataDefaultsToEmptyObject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateCollection(ctx, "docs", 4, "")
	require.NoError(t, err)
	_, err = store.Insert(ctx, "docs", []Record{{Text: "bare", Embedding: []float32{0, 0, 0, 1}}})
	require.NoError(t, err)

	results, err := store.Search(ctx, "docs", [][]float32{{0, 0, 0, 1}}, 1, nil)
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(results[0][0].Metadata))
}

func TestChromemStore_Dimension(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateCollection(ctx, "narrow", 4, "")
	require.NoError(t, err)

	dim, err := store.Dimension(ctx, "narrow")
	require.NoError(t, err)
	assert.Equal(t, 4, dim)

	_, err = store.Dimension(ctx, "missing")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}
