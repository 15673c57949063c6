package rag

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Pedro004-dot/AlicitSaas/internal/adapter/pgstore"
	"github.com/Pedro004-dot/AlicitSaas/internal/cache"
	"github.com/Pedro004-dot/AlicitSaas/internal/config"
	"github.com/Pedro004-dot/AlicitSaas/internal/embedding"
	"github.com/Pedro004-dot/AlicitSaas/internal/ingestion"
	"github.com/Pedro004-dot/AlicitSaas/internal/middleware"
	"github.com/Pedro004-dot/AlicitSaas/internal/retrieval"
	"github.com/Pedro004-dot/AlicitSaas/internal/settings"
	"github.com/Pedro004-dot/AlicitSaas/internal/text"
	"github.com/Pedro004-dot/AlicitSaas/internal/vector"
)

type Store interface {
	CheckVectorizationStatus(ctx context.Context, recordID string) (vector.Status, error)
	CountDocumentChunks(ctx context.Context, documentID string) (int, error)
	SaveChunksWithEmbeddings(ctx context.Context, documentID, recordID string, chunks []text.Chunk, embeddings [][]float32) (pgstore.SaveResult, error)
	HybridSearch(ctx context.Context, q pgstore.HybridQuery) ([]vector.SearchResult, error)
	DeleteRecordChunks(ctx context.Context, recordID string) (int64, error)
}

type Ingestion interface {
	DocumentsExist(ctx context.Context, recordID string) (bool, error)
	GetDocuments(ctx context.Context, recordID string) ([]ingestion.Document, error)
	GetRecordInfo(ctx context.Context, recordID string) (*ingestion.RecordInfo, error)
	PurgeDocuments(ctx context.Context, recordID string) error
	ProcessDocuments(ctx context.Context, recordID string) (ingestion.ProcessResult, error)
	ExtractText(ctx context.Context, doc ingestion.Document) ([]text.Page, error)
	UpdateDocumentStatus(ctx context.Context, documentID, status string) error
	SaveExtractedText(ctx context.Context, documentID, text string) error
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) (embedding.Outcome, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

type Answerer interface {
	Rerank(ctx context.Context, query string, chunks []vector.SearchResult, topK int) []vector.SearchResult
	GenerateAnswer(ctx context.Context, query string, chunks []vector.SearchResult, info *ingestion.RecordInfo) retrieval.AnswerResult
}

type Cache interface {
	Get(query, recordID string, out interface{}) bool
	Put(query, recordID string, payload interface{}, ttl time.Duration) error
	InvalidateRecord(recordID string) int
	Stats() cache.Stats
}

type SettingsProvider interface {
	Effective(ctx context.Context) settings.Settings
}

type Publisher interface {
	Publish(topic string, body []byte) error
}

// Options tunes chunking and the per-stage deadlines.
type Options struct {
	ChunkMaxTokens int
	ChunkOverlap   int
	CacheTTL       time.Duration
	Timeouts       config.Timeouts
}

// OptionsFromConfig maps the env config onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ChunkMaxTokens: cfg.ChunkMaxTokens,
		ChunkOverlap:   cfg.ChunkOverlapTokens,
		CacheTTL:       cfg.CacheTTL(),
		Timeouts:       cfg.Timeouts(),
	}
}

type Service struct {
	store     Store
	ingestion Ingestion
	embedder  Embedder
	answerer  Answerer
	cache     Cache
	settings  SettingsProvider
	publisher Publisher
	queryLog  *retrieval.QueryLogger
	opts      Options

	// one vectorization per record at a time within this process
	inflight singleflight.Group
}

func NewService(store Store, ing Ingestion, embedder Embedder, answerer Answerer, c Cache, sp SettingsProvider, pub Publisher, queryLog *retrieval.QueryLogger, opts Options) *Service {
	if opts.ChunkMaxTokens <= 0 {
		opts.ChunkMaxTokens = 400
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 0
	}
	return &Service{
		store:     store,
		ingestion: ing,
		embedder:  embedder,
		answerer:  answerer,
		cache:     c,
		settings:  sp,
		publisher: pub,
		queryLog:  queryLog,
		opts:      opts,
	}
}

func withStage(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// ProcessOrQuery answers query against the record's documents, ingesting
// and vectorizing them first when needed. Failures come back as a Result
// with Success false and an Action tag; it never returns a nil Result.
func (s *Service) ProcessOrQuery(ctx context.Context, recordID, query string) *Result {
	start := time.Now()
	res := s.processOrQuery(ctx, recordID, query, start)
	res.RecordID = recordID
	res.Query = query

	s.queryLog.Log(retrieval.QueryLogEntry{
		RecordID:      recordID,
		Query:         query,
		NumResults:    res.ChunksUsed,
		Cached:        res.Cached,
		Success:       res.Success,
		Action:        res.Action,
		CostUSD:       res.CostUSD,
		Duration:      time.Since(start),
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	return res
}

func (s *Service) processOrQuery(ctx context.Context, recordID, query string, start time.Time) *Result {
	var cached Result
	if s.cache.Get(query, recordID, &cached) {
		slog.InfoContext(ctx, "answer served from cache", "licitacao_id", recordID)
		cached.Cached = true
		cached.DocumentsProcessed = false
		cached.VectorizationPerformed = false
		return &cached
	}

	// A client that hangs up mid-answer must not waste the generated answer:
	// the remaining stages keep their own timeouts and the result is cached.
	ctx = context.WithoutCancel(ctx)

	var vr VectorizeResult
	status, err := s.store.CheckVectorizationStatus(ctx, recordID)
	if err != nil {
		slog.WarnContext(ctx, "vectorization status check failed, vectorizing", "licitacao_id", recordID, "error", err)
	}
	if err != nil || !status.Complete {
		vr = s.Vectorize(ctx, recordID)
		if !vr.Success {
			return vr.asResult()
		}
	}

	res := s.answer(ctx, recordID, query)
	res.ProcessingTime = roundSeconds(time.Since(start))
	res.DocumentsProcessed = vr.DocumentsIngested
	res.VectorizationPerformed = vr.ProcessedDocuments > 0 && !vr.AlreadyVectorized

	if res.Success {
		toCache := *res
		toCache.RecordID = recordID
		toCache.Query = query
		if err := s.cache.Put(query, recordID, toCache, s.opts.CacheTTL); err != nil {
			slog.WarnContext(ctx, "failed to cache answer", "licitacao_id", recordID, "error", err)
		}
	}
	return res
}

func (s *Service) answer(ctx context.Context, recordID, query string) *Result {
	cfg := s.settings.Effective(ctx)

	embedCtx, cancel := withStage(ctx, s.opts.Timeouts.Embed)
	qv, err := s.embedder.EmbedOne(embedCtx, query)
	cancel()
	if err != nil || len(qv) == 0 {
		slog.ErrorContext(ctx, "query embedding failed", "licitacao_id", recordID, "error", err)
		return failure(recordID, ActionEmbeddingError, "Erro ao gerar embedding da consulta")
	}

	searchCtx, cancel := withStage(ctx, s.opts.Timeouts.Search)
	chunks, err := s.store.HybridSearch(searchCtx, pgstore.HybridQuery{
		Text:           query,
		Embedding:      qv,
		RecordID:       recordID,
		Limit:          cfg.SearchLimit,
		SemanticWeight: cfg.SemanticWeight,
		TextWeight:     cfg.TextWeight,
	})
	cancel()
	if err != nil {
		slog.ErrorContext(ctx, "retrieval failed", "licitacao_id", recordID, "error", err)
		return failure(recordID, ActionCriticalError, "Erro na busca de trechos: "+err.Error())
	}
	if len(chunks) == 0 {
		return failure(recordID, ActionNoRelevantContent, "Nenhum conteúdo relevante encontrado nos documentos")
	}

	rerankCtx, cancel := withStage(ctx, s.opts.Timeouts.Rerank)
	top := s.answerer.Rerank(rerankCtx, query, chunks, cfg.RerankTopK)
	cancel()

	info, err := s.ingestion.GetRecordInfo(ctx, recordID)
	if err != nil {
		slog.WarnContext(ctx, "record info unavailable for prompt", "licitacao_id", recordID, "error", err)
		info = nil
	}

	genCtx, cancel := withStage(ctx, s.opts.Timeouts.Generate)
	ans := s.answerer.GenerateAnswer(genCtx, query, top, info)
	cancel()
	if ans.Failed {
		return failure(recordID, ActionGenerationError, ans.Error)
	}

	return &Result{
		Success:           true,
		RecordID:          recordID,
		Answer:            ans.Answer,
		ChunksUsed:        ans.ChunksUsed,
		Sources:           ans.Sources,
		ModelResponseTime: ans.ResponseTime,
		CostUSD:           ans.CostUSD,
		Model:             ans.Model,
	}
}

// Status reports the derived vectorization state plus cache counters.
func (s *Service) Status(ctx context.Context, recordID string) (StatusReport, error) {
	st, err := s.store.CheckVectorizationStatus(ctx, recordID)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{
		RecordID:            recordID,
		VectorizationStatus: st,
		CacheStats:          s.cache.Stats(),
		Timestamp:           time.Now().UTC(),
	}, nil
}

// InvalidateCache drops every cached answer for the record.
func (s *Service) InvalidateCache(ctx context.Context, recordID string) int {
	n := s.cache.InvalidateRecord(recordID)
	slog.InfoContext(ctx, "cache invalidated", "licitacao_id", recordID, "removed", n)
	return n
}

func roundSeconds(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000
}
