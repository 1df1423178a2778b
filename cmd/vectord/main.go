// Vectord is a vector search gateway: it embeds text via a
// text-embeddings-inference server and stores and searches the vectors in a
// collection-oriented store (embedded chromem or Qdrant).
//
// Configuration is loaded from a YAML file and environment variables.
// See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	vectord serve
//
//	# Configure via environment
//	SERVER_PORT=9000 VECTORSTORE_PROVIDER=qdrant vectord serve
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/config"
	"github.com/fyrsmithlabs/vectord/internal/embeddings"
	"github.com/fyrsmithlabs/vectord/internal/gateway"
	httpapi "github.com/fyrsmithlabs/vectord/internal/http"
	"github.com/fyrsmithlabs/vectord/internal/logging"
	"github.com/fyrsmithlabs/vectord/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "vectord",
	Short:   "Vector search gateway over an embedding model and a vector store",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vectord HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vectord\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/vectord/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run starts the vectord server and blocks until the context is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize logger
//  3. Open the vector store backend
//  4. Create the embedding singleton and warm it in the background;
//     a load failure degrades health instead of failing startup
//  5. Wire the gateway service and HTTP server
//  6. Perform graceful shutdown on context cancellation
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logging.Sync(logger)

	logger.Info("starting vectord",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("provider", cfg.VectorStore.Provider),
		zap.String("model", cfg.Embeddings.Model),
	)

	store, err := vectorstore.NewStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing vector store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing vector store", zap.Error(err))
		}
	}()

	embedder := embeddings.NewSingleton(cfg.Embeddings.Model, cfg.Embeddings.Dimension, func() (embeddings.Provider, error) {
		return embeddings.NewTEIProvider(embeddings.TEIConfig{
			BaseURL:   cfg.Embeddings.BaseURL,
			Model:     cfg.Embeddings.Model,
			Dimension: cfg.Embeddings.Dimension,
			APIKey:    cfg.Embeddings.APIKey.Value(),
			Timeout:   cfg.Embeddings.Timeout,
		}, logger)
	})
	defer func() {
		if err := embedder.Close(); err != nil {
			logger.Warn("closing embedding provider", zap.Error(err))
		}
	}()

	// Warm the model off the request path. The service starts degraded and
	// becomes healthy once the load succeeds.
	go func() {
		if err := embedder.Load(); err != nil {
			logger.Warn("embedding model failed to load, serving degraded", zap.Error(err))
		}
	}()

	service, err := gateway.NewService(embedder, store, logger)
	if err != nil {
		return fmt.Errorf("initializing gateway: %w", err)
	}

	server, err := httpapi.NewServer(service, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
