package rag

import (
	"time"
	"unicode/utf8"

	"github.com/Pedro004-dot/AlicitSaas/internal/cache"
	"github.com/Pedro004-dot/AlicitSaas/internal/ingestion"
	"github.com/Pedro004-dot/AlicitSaas/internal/retrieval"
	"github.com/Pedro004-dot/AlicitSaas/internal/vector"
)

// Action tags carried by failed results.
const (
	ActionNotFound           = "licitacao_not_found"
	ActionAPIError           = "api_error"
	ActionProcessingError    = "processing_error"
	ActionCriticalError      = "critical_error"
	ActionVectorizationError = "vectorization_error"
	ActionEmbeddingError     = "embedding_error"
	ActionNoRelevantContent  = "no_relevant_content"
	ActionGenerationError    = "generation_error"
)

// ErrNotFound matches a licitação missing upstream.
var ErrNotFound = ingestion.ErrRecordNotFound

// RecordSummary is the diagnostic record metadata attached to failures.
type RecordSummary struct {
	Objeto string `json:"objeto"`
	Orgao  string `json:"orgao"`
	UF     string `json:"uf"`
}

const summaryObjetoLen = 100

func summarize(info *ingestion.RecordInfo) *RecordSummary {
	if info == nil {
		return nil
	}
	return &RecordSummary{
		Objeto: truncate(orNA(info.Objeto), summaryObjetoLen),
		Orgao:  orNA(info.Orgao),
		UF:     orNA(info.UF),
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// Result is the payload of ProcessOrQuery. Callers check Success before
// reading the answer fields.
type Result struct {
	Success           bool               `json:"success"`
	RecordID          string             `json:"licitacao_id"`
	Query             string             `json:"query,omitempty"`
	Answer            string             `json:"answer,omitempty"`
	ChunksUsed        int                `json:"chunks_used"`
	Sources           []retrieval.Source `json:"sources,omitempty"`
	ProcessingTime    float64            `json:"processing_time"`
	ModelResponseTime float64            `json:"model_response_time,omitempty"`
	CostUSD           float64            `json:"cost_usd,omitempty"`
	Model             string             `json:"model,omitempty"`
	Cached            bool               `json:"cached"`

	DocumentsProcessed     bool `json:"documents_processed"`
	VectorizationPerformed bool `json:"vectorization_performed"`

	Error      string         `json:"error,omitempty"`
	Action     string         `json:"action,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
	RecordInfo *RecordSummary `json:"licitacao_info,omitempty"`
}

func failure(recordID, action, msg string) *Result {
	return &Result{RecordID: recordID, Action: action, Error: msg}
}

// VectorizeResult reports one ensure-ingested plus vectorize run.
type VectorizeResult struct {
	Success            bool     `json:"success"`
	RecordID           string   `json:"licitacao_id"`
	ProcessedDocuments int      `json:"processed_documents"`
	FailedDocuments    []string `json:"failed_documents,omitempty"`
	TotalChunks        int      `json:"total_chunks"`
	AlreadyVectorized  bool     `json:"already_vectorized"`
	DocumentsIngested  bool     `json:"documents_ingested"`

	Error      string         `json:"error,omitempty"`
	Action     string         `json:"action,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
	RecordInfo *RecordSummary `json:"licitacao_info,omitempty"`
}

func (v VectorizeResult) asResult() *Result {
	return &Result{
		RecordID:   v.RecordID,
		Error:      v.Error,
		Action:     v.Action,
		Suggestion: v.Suggestion,
		RecordInfo: v.RecordInfo,
	}
}

// ReprocessResult reports what Reprocess cleared before queueing.
type ReprocessResult struct {
	RecordID        string `json:"licitacao_id"`
	DeletedChunks   int64  `json:"deleted_chunks"`
	PurgedDocuments bool   `json:"purged_documents"`
	CacheRemoved    int    `json:"cache_removed"`
	Queued          bool   `json:"queued"`
}

// StatusReport is the per-record view served by the status endpoint.
type StatusReport struct {
	RecordID            string        `json:"licitacao_id"`
	VectorizationStatus vector.Status `json:"vectorization_status"`
	CacheStats          cache.Stats   `json:"cache_stats"`
	Timestamp           time.Time     `json:"timestamp"`
}

// VectorizeTask is the rag.vectorize message body.
type VectorizeTask struct {
	RecordID      string `json:"licitacao_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
