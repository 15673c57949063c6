package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Pedro004-dot/AlicitSaas/internal/config"
	"github.com/Pedro004-dot/AlicitSaas/internal/embedding"
	"github.com/Pedro004-dot/AlicitSaas/internal/ingestion"
	"github.com/Pedro004-dot/AlicitSaas/internal/middleware"
	"github.com/Pedro004-dot/AlicitSaas/internal/text"
	"github.com/Pedro004-dot/AlicitSaas/internal/vector"
)

const apiErrorSuggestion = "Verifique se a licitação possui documentos disponíveis na API"

// Vectorize ingests the record's documents when none are usable, then
// chunks, embeds and stores every document that has no chunks yet.
// Concurrent calls for the same record share one run; the shared run is
// detached from the first caller's cancellation.
func (s *Service) Vectorize(ctx context.Context, recordID string) VectorizeResult {
	v, _, shared := s.inflight.Do(recordID, func() (interface{}, error) {
		return s.vectorize(context.WithoutCancel(ctx), recordID), nil
	})
	if shared {
		slog.InfoContext(ctx, "joined in-flight vectorization", "licitacao_id", recordID)
	}
	return v.(VectorizeResult)
}

func (s *Service) vectorize(ctx context.Context, recordID string) VectorizeResult {
	res := VectorizeResult{RecordID: recordID}

	ingested, fail := s.ensureIngested(ctx, recordID)
	if fail != nil {
		return *fail
	}
	res.DocumentsIngested = ingested

	docs, err := s.ingestion.GetDocuments(ctx, recordID)
	if err != nil {
		res.Action = ActionCriticalError
		res.Error = fmt.Sprintf("Erro ao buscar documentos: %v", err)
		return res
	}

	skipped := 0
	embeddingFailures := 0
	for _, doc := range docs {
		existing, err := s.store.CountDocumentChunks(ctx, doc.ID)
		if err != nil {
			slog.WarnContext(ctx, "chunk count failed", "documento_id", doc.ID, "error", err)
		} else if existing > 0 {
			res.ProcessedDocuments++
			res.TotalChunks += existing
			skipped++
			continue
		}

		n, status, err := s.vectorizeDocument(ctx, recordID, doc)
		if err != nil {
			slog.ErrorContext(ctx, "document vectorization failed",
				"licitacao_id", recordID, "documento_id", doc.ID, "status", status, "error", err)
			if uerr := s.ingestion.UpdateDocumentStatus(ctx, doc.ID, status); uerr != nil {
				slog.WarnContext(ctx, "failed to record document status", "documento_id", doc.ID, "error", uerr)
			}
			if status == vector.StatusErrorEmbedding {
				embeddingFailures++
			}
			res.FailedDocuments = append(res.FailedDocuments, doc.ID)
			continue
		}
		res.ProcessedDocuments++
		res.TotalChunks += n
	}

	if res.ProcessedDocuments == 0 {
		res.Action = ActionVectorizationError
		if embeddingFailures > 0 && embeddingFailures == len(res.FailedDocuments) {
			res.Action = ActionEmbeddingError
		}
		res.Error = "Nenhum documento foi vetorizado com sucesso"
		return res
	}

	res.Success = true
	res.AlreadyVectorized = skipped == res.ProcessedDocuments
	slog.InfoContext(ctx, "vectorization finished",
		"licitacao_id", recordID,
		"processed", res.ProcessedDocuments,
		"failed", len(res.FailedDocuments),
		"chunks", res.TotalChunks)
	return res
}

// ensureIngested reports whether ingestion ran. A non-nil VectorizeResult
// is the terminal failure to hand back.
func (s *Service) ensureIngested(ctx context.Context, recordID string) (bool, *VectorizeResult) {
	fail := func(action, msg string) *VectorizeResult {
		return &VectorizeResult{RecordID: recordID, Action: action, Error: msg}
	}

	exists, err := s.ingestion.DocumentsExist(ctx, recordID)
	if err != nil {
		return false, fail(ActionCriticalError, fmt.Sprintf("Erro ao verificar documentos: %v", err))
	}
	if exists {
		docs, err := s.ingestion.GetDocuments(ctx, recordID)
		if err != nil {
			return false, fail(ActionCriticalError, fmt.Sprintf("Erro ao buscar documentos: %v", err))
		}
		for _, d := range docs {
			if d.Valid() {
				return false, nil
			}
		}
		slog.WarnContext(ctx, "stored documents are unusable, purging", "licitacao_id", recordID, "count", len(docs))
		if err := s.ingestion.PurgeDocuments(ctx, recordID); err != nil {
			return false, fail(ActionCriticalError, fmt.Sprintf("Erro ao limpar documentos: %v", err))
		}
	}

	info, err := s.ingestion.GetRecordInfo(ctx, recordID)
	if errors.Is(err, ingestion.ErrRecordNotFound) {
		return false, fail(ActionNotFound, fmt.Sprintf("Licitação %s não encontrada no banco de dados", recordID))
	}
	if err != nil {
		return false, fail(ActionCriticalError, fmt.Sprintf("Erro ao consultar licitação: %v", err))
	}

	slog.InfoContext(ctx, "ingesting documents", "licitacao_id", recordID)
	procCtx, cancel := withStage(ctx, s.opts.Timeouts.Extract)
	pr, err := s.ingestion.ProcessDocuments(procCtx, recordID)
	cancel()

	var (
		detail   string
		upstream bool
	)
	switch {
	case errors.Is(err, ingestion.ErrRecordNotFound):
		return false, fail(ActionNotFound, fmt.Sprintf("Licitação %s não encontrada no banco de dados", recordID))
	case errors.Is(err, ingestion.ErrUpstreamUnavailable):
		detail, upstream = err.Error(), true
	case err != nil:
		detail = err.Error()
	case !pr.Success:
		detail = pr.Error
		if detail == "" {
			detail = "falha no processamento de documentos"
		}
		// The processor reports PNCP outages in its own words.
		upstream = strings.Contains(detail, "API PNCP")
	default:
		return true, nil
	}

	if upstream {
		f := fail(ActionAPIError, "Erro ao acessar documentos: "+detail)
		f.Suggestion = apiErrorSuggestion
		return false, f
	}
	f := fail(ActionProcessingError, "Falha no processamento de documentos: "+detail)
	f.RecordInfo = summarize(info)
	return false, f
}

// vectorizeDocument returns the stored chunk count, or the status to mark
// the document with alongside the error.
func (s *Service) vectorizeDocument(ctx context.Context, recordID string, doc ingestion.Document) (int, string, error) {
	if err := s.ingestion.UpdateDocumentStatus(ctx, doc.ID, vector.StatusProcessing); err != nil {
		slog.WarnContext(ctx, "failed to mark document processing", "documento_id", doc.ID, "error", err)
	}

	extractCtx, cancel := withStage(ctx, s.opts.Timeouts.Extract)
	pages, err := s.ingestion.ExtractText(extractCtx, doc)
	cancel()
	if err != nil {
		return 0, vector.StatusError, fmt.Errorf("extract: %w", err)
	}
	full := text.JoinPages(pages)
	if strings.TrimSpace(full) == "" {
		return 0, vector.StatusError, errors.New("no text extracted")
	}
	if err := s.ingestion.SaveExtractedText(ctx, doc.ID, full); err != nil {
		slog.WarnContext(ctx, "failed to save extracted text", "documento_id", doc.ID, "error", err)
	}

	chunks := text.ChunkDocument(pages, s.opts.ChunkMaxTokens, s.opts.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, vector.StatusError, errors.New("no chunks produced")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embedCtx, cancel := withStage(ctx, s.opts.Timeouts.Embed)
	outcome, err := s.embedder.Embed(embedCtx, texts)
	cancel()
	if err != nil {
		return 0, vector.StatusErrorEmbedding, fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}
	if len(outcome.Embeddings) != len(chunks) {
		return 0, vector.StatusErrorEmbedding, fmt.Errorf("%w: %d embeddings for %d chunks", embedding.ErrExhausted, len(outcome.Embeddings), len(chunks))
	}

	saved, err := s.store.SaveChunksWithEmbeddings(ctx, doc.ID, recordID, chunks, outcome.Embeddings)
	if err != nil {
		return 0, vector.StatusError, fmt.Errorf("save: %w", err)
	}
	slog.InfoContext(ctx, "document vectorized",
		"documento_id", doc.ID, "chunks", saved.ChunkCount, "inserted", saved.Inserted, "provider", outcome.Provider)
	return saved.ChunkCount, vector.StatusConcluded, nil
}

// Reprocess clears the record's chunks, its cached answers and, with force,
// its documents, then queues a fresh vectorization.
func (s *Service) Reprocess(ctx context.Context, recordID string, force bool) (ReprocessResult, error) {
	res := ReprocessResult{RecordID: recordID}

	deleted, err := s.store.DeleteRecordChunks(ctx, recordID)
	if err != nil {
		return res, fmt.Errorf("delete chunks: %w", err)
	}
	res.DeletedChunks = deleted

	if force {
		if err := s.ingestion.PurgeDocuments(ctx, recordID); err != nil {
			return res, fmt.Errorf("purge documents: %w", err)
		}
		res.PurgedDocuments = true
	}
	res.CacheRemoved = s.cache.InvalidateRecord(recordID)

	if err := s.Enqueue(ctx, recordID); err != nil {
		return res, err
	}
	res.Queued = true
	return res, nil
}

// Enqueue publishes a vectorization task for the worker.
func (s *Service) Enqueue(ctx context.Context, recordID string) error {
	if s.publisher == nil {
		return errors.New("no task publisher configured")
	}
	body, err := json.Marshal(VectorizeTask{
		RecordID:      recordID,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(config.TopicVectorize, body); err != nil {
		return fmt.Errorf("publish vectorize task: %w", err)
	}
	slog.InfoContext(ctx, "vectorization queued", "licitacao_id", recordID)
	return nil
}
