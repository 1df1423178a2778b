package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/vectord/internal/config"
	"go.uber.org/zap"
)

// NewStore creates a Store based on the configuration.
//
// The factory examines VectorStoreConfig.Provider and creates the matching
// backend:
//   - "chromem" (default): embedded ChromemStore, no external service
//   - "qdrant": QdrantStore, requires a reachable Qdrant server
//
// The chromem provider is recommended for single-node deployments since it
// needs no setup; qdrant is for deployments that already run one.
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.VectorStore.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:             cfg.Chromem.Path,
			Compress:         cfg.Chromem.Compress,
			DefaultDimension: cfg.Embeddings.Dimension,
		}, logger)

	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey.Value(),
			UseTLS: cfg.Qdrant.UseTLS,
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider: %s (supported: chromem, qdrant)",
			ErrInvalidConfig, cfg.VectorStore.Provider)
	}
}
