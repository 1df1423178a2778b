package embeddings

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticProvider is a minimal in-process Provider for singleton tests.
type staticProvider struct {
	dimension int
	closed    bool
}

func (p *staticProvider) Encode(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, p.dimension)
	v[0] = 1
	return v, nil
}

func (p *staticProvider) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i], _ = p.Encode(ctx, texts[i])
	}
	return vectors, nil
}

func (p *staticProvider) Dimension() int    { return p.dimension }
func (p *staticProvider) ModelName() string { return "static" }
func (p *staticProvider) Close() error      { p.closed = true; return nil }

func TestSingleton_LoadsOnce(t *testing.T) {
	var factoryCalls atomic.Int32
	s := NewSingleton("static", 4, func() (Provider, error) {
		factoryCalls.Add(1)
		return &staticProvider{dimension: 4}, nil
	})

	assert.False(t, s.Loaded())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Encode(context.Background(), "hello")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), factoryCalls.Load())
	assert.True(t, s.Loaded())
}

func TestSingleton_FailureIsTerminal(t *testing.T) {
	var factoryCalls atomic.Int32
	bootErr := errors.New("model file missing")
	s := NewSingleton("broken", 4, func() (Provider, error) {
		factoryCalls.Add(1)
		return nil, bootErr
	})

	for i := 0; i < 3; i++ {
		_, err := s.Encode(context.Background(), "hello")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrModelUnavailable)
	}

	// Never retried.
	assert.Equal(t, int32(1), factoryCalls.Load())
	assert.False(t, s.Loaded())

	// Identity is still reported from configuration.
	assert.Equal(t, "broken", s.ModelName())
	assert.Equal(t, 4, s.Dimension())

	// Close on a never-loaded provider is a no-op.
	assert.NoError(t, s.Close())
}

func TestSingleton_Load(t *testing.T) {
	s := NewSingleton("static", 4, func() (Provider, error) {
		return &staticProvider{dimension: 4}, nil
	})

	require.NoError(t, s.Load())
	assert.True(t, s.Loaded())
}

func TestSingleton_CloseDelegates(t *testing.T) {
	p := &staticProvider{dimension: 4}
	s := NewSingleton("static", 4, func() (Provider, error) { return p, nil })

	require.NoError(t, s.Load())
	require.NoError(t, s.Close())
	assert.True(t, p.closed)
}
