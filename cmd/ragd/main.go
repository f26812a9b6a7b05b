// Package main implements ragd, an access-controlled retrieval daemon.
//
// ragd ingests documents into a vector index and answers questions
// against it. Every chunk carries its uploader's identity, and every
// search is restricted by a store-evaluated ownership predicate.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/c5473c4c/rag-rbac/internal/config"
	"github.com/c5473c4c/rag-rbac/internal/docstore"
	"github.com/c5473c4c/rag-rbac/internal/embeddings"
	"github.com/c5473c4c/rag-rbac/internal/generation"
	"github.com/c5473c4c/rag-rbac/internal/httpapi"
	"github.com/c5473c4c/rag-rbac/internal/logging"
	"github.com/c5473c4c/rag-rbac/internal/rag"
	"github.com/c5473c4c/rag-rbac/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ragd",
	Short:   "Access-controlled retrieval daemon",
	Version: fmt.Sprintf("%s (%s)", version, gitCommit),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ragd HTTP server",
	Long: `Start the ragd HTTP server.

Configuration is loaded from the YAML file given with --config,
overridden by environment variables. With no file, environment
variables and defaults apply.

Examples:
  # Start with defaults (embedded vector store, Ollama on localhost)
  ragd serve

  # Start with a config file
  ragd serve --config /etc/ragd/config.yaml

  # Override a setting via environment
  STORE_BACKEND=qdrant ragd serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, logger)
}

// run wires the services and blocks until the context is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
		Timeout: cfg.Embeddings.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating embedding service: %w", err)
	}

	generator, err := generation.NewService(generation.Config{
		BaseURL:     cfg.Generation.BaseURL,
		Model:       cfg.Generation.Model,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating generation service: %w", err)
	}

	svc, err := rag.NewService(rag.Config{
		ChunkSize:       cfg.Chunking.Size,
		ChunkOverlap:    cfg.Chunking.Overlap,
		TopK:            cfg.Retrieval.TopK,
		MaxContextChars: cfg.Retrieval.MaxContextChars,
	}, embedder, store, generator, logger)
	if err != nil {
		return fmt.Errorf("creating retrieval service: %w", err)
	}

	docs, err := docstore.NewStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening document catalog: %w", err)
	}
	defer docs.Close()

	server, err := httpapi.NewServer(svc, docs, logger, &httpapi.Config{
		Host:           "0.0.0.0",
		Port:           cfg.Server.Port,
		QueryRateLimit: cfg.Server.QueryRateLimit,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("ragd started",
		zap.String("store_backend", cfg.Store.Backend),
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	logger.Info("ragd stopped")
	return nil
}

// newStore creates the configured vector store backend and ensures its
// schema exists.
func newStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (vectorstore.Store, error) {
	switch cfg.Store.Backend {
	case "qdrant":
		store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Qdrant.Collection,
			VectorSize: cfg.Qdrant.VectorSize,
			UseTLS:     cfg.Qdrant.UseTLS,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("ensuring qdrant schema: %w", err)
		}
		return store, nil
	case "chromem":
		store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
			Path:       cfg.Chromem.Path,
			Collection: cfg.Chromem.Collection,
			VectorSize: cfg.Chromem.VectorSize,
			Compress:   cfg.Chromem.Compress,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening embedded vector store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
