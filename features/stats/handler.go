package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Pedro004-dot/AlicitSaas/internal/cache"
	"github.com/Pedro004-dot/AlicitSaas/internal/middleware"
)

type DocumentRepo interface {
	CountDocuments(ctx context.Context) (int, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type VectorStore interface {
	CountChunks(ctx context.Context) (int, error)
	CountVectorizedRecords(ctx context.Context) (int, error)
}

type CacheStats interface {
	Stats() cache.Stats
}

type Handler struct {
	docRepo     DocumentRepo
	jobRepo     JobRepo
	vectorStore VectorStore
	cache       CacheStats
}

func NewHandler(d DocumentRepo, j JobRepo, v VectorStore, c CacheStats) *Handler {
	return &Handler{docRepo: d, jobRepo: j, vectorStore: v, cache: c}
}

type StatsResponse struct {
	VectorizedRecords int         `json:"licitacoes_vetorizadas"`
	Documents         int         `json:"documentos"`
	Chunks            int         `json:"chunks"`
	FailedJobs        int         `json:"failed_jobs"`
	Cache             cache.Stats `json:"cache"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var resp StatsResponse
	counters := []struct {
		name  string
		count func(context.Context) (int, error)
		dst   *int
	}{
		{"vectorized records", h.vectorStore.CountVectorizedRecords, &resp.VectorizedRecords},
		{"documents", h.docRepo.CountDocuments, &resp.Documents},
		{"chunks", h.vectorStore.CountChunks, &resp.Chunks},
		{"failed jobs", h.jobRepo.Count, &resp.FailedJobs},
	}
	for _, c := range counters {
		n, err := c.count(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count "+c.name, "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count "+c.name, http.StatusInternalServerError)
			return
		}
		*c.dst = n
	}
	resp.Cache = h.cache.Stats()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
