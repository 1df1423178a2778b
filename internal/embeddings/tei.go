package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// TEIConfig holds configuration for the text-embeddings-inference client.
type TEIConfig struct {
	// BaseURL is the base URL for the embedding server.
	BaseURL string

	// Model is the embedding model identifier (informational; the server is
	// started with a fixed model).
	Model string

	// Dimension is the expected embedding dimension. Responses with a
	// different width are rejected.
	Dimension int

	// APIKey is an optional bearer token.
	APIKey string

	// Timeout bounds a single embed round trip. Defaults to 30s.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, c.Dimension)
	}
	return nil
}

// TEIProvider generates embeddings via a text-embeddings-inference HTTP
// server. Vectors are L2-normalized before they are returned, so every
// embedding has unit length regardless of server-side settings.
type TEIProvider struct {
	config  TEIConfig
	client  *http.Client
	logger  *zap.Logger
	metrics *Metrics
}

// NewTEIProvider creates a new TEI-backed embedding provider and verifies the
// server is reachable by embedding a probe text.
func NewTEIProvider(cfg TEIConfig, logger *zap.Logger) (*TEIProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	p := &TEIProvider{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		metrics: NewMetrics(logger),
	}

	// Probe the server so a misconfigured endpoint or wrong-dimension model
	// fails at initialization rather than on the first request.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if _, err := p.Encode(ctx, "ping"); err != nil {
		return nil, fmt.Errorf("probing embedding server: %w", err)
	}

	logger.Info("embedding provider ready",
		zap.String("model", cfg.Model),
		zap.Int("dimension", cfg.Dimension),
		zap.String("base_url", cfg.BaseURL),
	)
	return p, nil
}

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

// Encode generates a unit-length embedding for a single text.
func (p *TEIProvider) Encode(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "encode", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := p.embed(ctx, text)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	if len(vectors) != 1 {
		genErr = fmt.Errorf("%w: expected 1 vector, got %d", ErrEmbeddingFailed, len(vectors))
		return nil, genErr
	}
	return vectors[0], nil
}

// EncodeBatch generates unit-length embeddings for multiple texts.
func (p *TEIProvider) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "encode_batch", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := p.embed(ctx, texts)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	if len(vectors) != len(texts) {
		genErr = fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingFailed, len(texts), len(vectors))
		return nil, genErr
	}
	return vectors, nil
}

// embed posts inputs to the TEI /embed endpoint and returns normalized,
// dimension-checked vectors.
func (p *TEIProvider) embed(ctx context.Context, inputs interface{}) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	for i, v := range vectors {
		if len(v) != p.config.Dimension {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, expected %d",
				ErrEmbeddingFailed, i, len(v), p.config.Dimension)
		}
		normalize(v)
	}
	return vectors, nil
}

// Dimension returns the embedding dimension.
func (p *TEIProvider) Dimension() int {
	return p.config.Dimension
}

// ModelName returns the model identifier.
func (p *TEIProvider) ModelName() string {
	return p.config.Model
}

// Close is a no-op for TEI since it uses HTTP.
func (p *TEIProvider) Close() error {
	return nil
}

var _ Provider = (*TEIProvider)(nil)
