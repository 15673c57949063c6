package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Pedro004-dot/AlicitSaas/features/job"
	"github.com/Pedro004-dot/AlicitSaas/features/mcp"
	raghttp "github.com/Pedro004-dot/AlicitSaas/features/rag"
	"github.com/Pedro004-dot/AlicitSaas/features/stats"
	"github.com/Pedro004-dot/AlicitSaas/internal/adapter/gemini"
	"github.com/Pedro004-dot/AlicitSaas/internal/adapter/minilm"
	"github.com/Pedro004-dot/AlicitSaas/internal/adapter/ollama"
	"github.com/Pedro004-dot/AlicitSaas/internal/adapter/pgstore"
	"github.com/Pedro004-dot/AlicitSaas/internal/adapter/reranker"
	"github.com/Pedro004-dot/AlicitSaas/internal/cache"
	"github.com/Pedro004-dot/AlicitSaas/internal/config"
	"github.com/Pedro004-dot/AlicitSaas/internal/embedding"
	"github.com/Pedro004-dot/AlicitSaas/internal/ingestion"
	"github.com/Pedro004-dot/AlicitSaas/internal/middleware"
	"github.com/Pedro004-dot/AlicitSaas/internal/rag"
	"github.com/Pedro004-dot/AlicitSaas/internal/retrieval"
	"github.com/Pedro004-dot/AlicitSaas/internal/settings"
	"github.com/Pedro004-dot/AlicitSaas/internal/worker"
)

// TaskPublisher is satisfied by *nsq.Producer.
type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler           http.Handler
	RAG               *rag.Service
	VectorizeConsumer *worker.VectorizeConsumer
	Embedder          *embedding.Service
	Reranker          *reranker.Local

	port      int
	generator *gemini.Generator
}

func New(
	cfg *config.Config,
	db *sql.DB,
	taskPub TaskPublisher,
	logger *slog.Logger,
) (*App, error) {
	if db == nil {
		return nil, errors.New("app: nil database")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeouts := cfg.Timeouts()

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(db)
	settingsService := settings.NewService(settingsRepo)
	if err := settingsService.SeedKeys(context.Background(), cfg.RerankProvider, cfg.RerankAPIKey, cfg.GeminiAPIKey); err != nil {
		logger.Warn("failed to seed api keys from environment", "error", err)
	}
	settingsHandler := settings.NewHandler(settingsService)

	// Ingestion
	ingestionRepo := ingestion.NewPostgresRepo(db)
	processor := ingestion.NewProcessorClient(cfg.DocumentProcessorURL, timeouts.Extract)
	ingestionService := ingestion.NewService(ingestionRepo, processor)

	// Vector store
	store := pgstore.NewStore(db, cfg.EmbeddingDim)

	// Embeddings: local model first, Ollama as fallback.
	localEmbedder := embedding.NewService(cfg.EmbeddingModel, func(ctx context.Context) (embedding.Model, error) {
		m, err := minilm.Load(ctx, cfg.EmbeddingModel, cfg.EmbeddingModelDir, cfg.EmbeddingDim)
		if err != nil {
			return nil, err
		}
		return m, nil
	}, cfg.EmbeddingBatchSize)
	fallback := embedding.SubBatched{
		Provider: ollama.NewClient(cfg.OllamaURL, cfg.OllamaEmbedModel, timeouts.Embed),
		Size:     cfg.FallbackBatchSize,
		Dim:      cfg.EmbeddingDim,
	}
	embedChain := embedding.NewChain(localEmbedder.AsProvider(), fallback)

	// Rerank: in-process cross-encoder unless settings name a hosted provider.
	localReranker := reranker.NewLocal(cfg.RerankModel, func(ctx context.Context) (reranker.LocalModel, error) {
		m, err := minilm.LoadCrossEncoder(ctx, cfg.RerankModel, cfg.EmbeddingModelDir)
		if err != nil {
			return nil, err
		}
		return m, nil
	})

	// Adapters: Dynamic
	rerankerClient := reranker.NewDynamicClient(settingsService, localReranker)
	generator := gemini.NewGenerator(settingsService, cfg.GeminiModel)
	engine := retrieval.NewEngine(rerankerClient, generator)

	cacheManager := cache.NewManager(cfg.CacheTTL(), time.Duration(cfg.CacheCleanupSeconds)*time.Second)
	queryLogger := retrieval.OpenQueryLogger(cfg.QueryLogPath)

	ragService := rag.NewService(
		store,
		ingestionService,
		embedChain,
		engine,
		cacheManager,
		settingsService,
		taskPub,
		queryLogger,
		rag.OptionsFromConfig(cfg),
	)
	ragHandler := raghttp.NewHandler(ragService)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, taskPub, logger)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(ingestionService, jobRepo, store, cacheManager)

	// Feature: MCP
	mcpHandler := mcp.NewHandler(ragService)

	route := func(h http.HandlerFunc) http.Handler {
		return middleware.CorrelationID(middleware.Recover(middleware.CORS(h)))
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /api/rag/analisarDocumentos", route(ragHandler.Analyze))
	mux.Handle("POST /api/rag/query", route(ragHandler.Query))
	mux.Handle("GET /api/rag/status", route(ragHandler.Status))
	mux.Handle("POST /api/rag/cache/invalidate", route(ragHandler.InvalidateCache))
	mux.Handle("POST /api/rag/reprocessar", route(ragHandler.Reprocess))
	mux.Handle("OPTIONS /api/rag/", route(func(http.ResponseWriter, *http.Request) {}))

	mux.Handle("GET /settings", route(settingsHandler.GetSettings))
	mux.Handle("PUT /settings", route(settingsHandler.UpdateSettings))

	mux.Handle("GET /jobs/failed", route(jobHandler.List))
	mux.Handle("POST /jobs/{id}/retry", route(jobHandler.Retry))

	mux.Handle("GET /stats", route(statsHandler.GetStats))

	mux.Handle("POST /mcp", middleware.CorrelationID(middleware.Recover(mcpHandler)))
	mux.Handle("GET /mcp/sse", route(mcpHandler.HandleSSE))
	mux.Handle("POST /mcp/messages", route(mcpHandler.HandleMessage))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Worker (Vectorize Consumer)
	vectorizeConsumer := worker.NewVectorizeConsumer(ragService, jobRepo)

	return &App{
		Handler:           mux,
		RAG:               ragService,
		VectorizeConsumer: vectorizeConsumer,
		Embedder:          localEmbedder,
		Reranker:          localReranker,
		port:              cfg.ServerPort,
		generator:         generator,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	port := a.port
	if port == 0 {
		port = 8081
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the local models and the completion client.
func (a *App) Close() error {
	var errs []error
	if a.Embedder != nil {
		errs = append(errs, a.Embedder.Close())
	}
	if a.Reranker != nil {
		errs = append(errs, a.Reranker.Close())
	}
	if a.generator != nil {
		errs = append(errs, a.generator.Close())
	}
	return errors.Join(errs...)
}
