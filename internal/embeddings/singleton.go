package embeddings

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Singleton wraps a Provider factory with once-guarded lazy initialization.
//
// The factory runs at most once per process lifetime, on first use.
// Concurrent first callers block until the single load attempt resolves and
// all observe the same outcome: either the ready provider, or
// ErrModelUnavailable wrapping the load failure. A failed load is terminal;
// it does not crash the process, and it is never retried.
//
// Singleton itself implements Provider, so it can be injected anywhere a
// provider is expected.
type Singleton struct {
	once    sync.Once
	factory func() (Provider, error)

	provider Provider
	err      error
	loaded   atomic.Bool

	// model/dimension mirror the configured values so Health can report
	// them even when the model never loaded.
	model     string
	dimension int
}

// NewSingleton creates a lazy provider singleton. model and dimension are the
// configured identity, reported even before (or after a failed) load.
func NewSingleton(model string, dimension int, factory func() (Provider, error)) *Singleton {
	return &Singleton{
		factory:   factory,
		model:     model,
		dimension: dimension,
	}
}

// get resolves the underlying provider, triggering the load on first call.
func (s *Singleton) get() (Provider, error) {
	s.once.Do(func() {
		s.provider, s.err = s.factory()
		s.loaded.Store(s.err == nil)
	})
	if s.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, s.err)
	}
	return s.provider, nil
}

// Load eagerly triggers initialization and reports the outcome. Useful for
// warming the provider at startup without failing the process on error.
func (s *Singleton) Load() error {
	_, err := s.get()
	return err
}

// Loaded reports whether the model initialized successfully. It does not
// trigger initialization.
func (s *Singleton) Loaded() bool {
	return s.loaded.Load()
}

// Encode implements Provider.
func (s *Singleton) Encode(ctx context.Context, text string) ([]float32, error) {
	p, err := s.get()
	if err != nil {
		return nil, err
	}
	return p.Encode(ctx, text)
}

// EncodeBatch implements Provider.
func (s *Singleton) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p, err := s.get()
	if err != nil {
		return nil, err
	}
	return p.EncodeBatch(ctx, texts)
}

// Dimension returns the configured embedding dimension.
func (s *Singleton) Dimension() int {
	return s.dimension
}

// ModelName returns the configured model identifier.
func (s *Singleton) ModelName() string {
	return s.model
}

// Close closes the underlying provider if it was loaded.
func (s *Singleton) Close() error {
	if !s.loaded.Load() {
		return nil
	}
	return s.provider.Close()
}

var _ Provider = (*Singleton)(nil)
