package rag

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Pedro004-dot/AlicitSaas/internal/middleware"
	ragsvc "github.com/Pedro004-dot/AlicitSaas/internal/rag"
)

const maxQueryLength = 2000

type Service interface {
	ProcessOrQuery(ctx context.Context, recordID, query string) *ragsvc.Result
	Vectorize(ctx context.Context, recordID string) ragsvc.VectorizeResult
	Reprocess(ctx context.Context, recordID string, force bool) (ragsvc.ReprocessResult, error)
	Status(ctx context.Context, recordID string) (ragsvc.StatusReport, error)
	InvalidateCache(ctx context.Context, recordID string) int
}

type Handler struct {
	service Service
}

func NewHandler(s Service) *Handler {
	return &Handler{service: s}
}

type queryRequest struct {
	RecordID string `json:"licitacao_id"`
	Query    string `json:"query"`
}

type reprocessRequest struct {
	RecordID string `json:"licitacao_id"`
	Force    *bool  `json:"forcar_reprocessamento"`
}

// Analyze serves POST /api/rag/analisarDocumentos. The query is optional;
// without it the record is only prepared for questions.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req queryRequest
	if err := decode(r, &req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	id, err := parseRecordID(req.RecordID)
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	req.RecordID = id

	if strings.TrimSpace(req.Query) != "" {
		h.answer(ctx, w, req)
		return
	}

	slog.InfoContext(ctx, "analyzing documents", "licitacao_id", req.RecordID)
	res := h.service.Vectorize(ctx, req.RecordID)
	h.writeJSON(ctx, w, statusFor(res.Success, res.Action), res)
}

// Query serves POST /api/rag/query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req queryRequest
	if err := decode(r, &req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	id, err := parseRecordID(req.RecordID)
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	req.RecordID = id
	if strings.TrimSpace(req.Query) == "" {
		h.writeError(ctx, w, "VALIDATION_ERROR", "query é obrigatória", http.StatusBadRequest)
		return
	}
	h.answer(ctx, w, req)
}

func (h *Handler) answer(ctx context.Context, w http.ResponseWriter, req queryRequest) {
	query := strings.TrimSpace(req.Query)
	if len([]rune(query)) > maxQueryLength {
		h.writeError(ctx, w, "VALIDATION_ERROR", "query excede o tamanho máximo", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "rag query", "licitacao_id", req.RecordID, "query_len", len(query))
	res := h.service.ProcessOrQuery(ctx, req.RecordID, query)
	h.writeJSON(ctx, w, statusFor(res.Success, res.Action), res)
}

// Status serves GET /api/rag/status?licitacao_id=.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID, err := parseRecordID(r.URL.Query().Get("licitacao_id"))
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	report, err := h.service.Status(ctx, recordID)
	if err != nil {
		slog.ErrorContext(ctx, "status check failed", "licitacao_id", recordID, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read vectorization status", http.StatusInternalServerError)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"success": true, "data": report})
}

// InvalidateCache serves POST /api/rag/cache/invalidate.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req queryRequest
	if err := decode(r, &req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	recordID, err := parseRecordID(req.RecordID)
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	removed := h.service.InvalidateCache(ctx, recordID)
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"success": true, "removed": removed})
}

// Reprocess serves POST /api/rag/reprocessar. forcar_reprocessamento
// defaults to true.
func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req reprocessRequest
	if err := decode(r, &req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	id, err := parseRecordID(req.RecordID)
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	req.RecordID = id
	force := true
	if req.Force != nil {
		force = *req.Force
	}

	res, err := h.service.Reprocess(ctx, req.RecordID, force)
	if err != nil {
		slog.ErrorContext(ctx, "reprocess failed", "licitacao_id", req.RecordID, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(ctx, w, http.StatusAccepted, res)
}

// parseRecordID returns the canonical form of a licitacao_id.
func parseRecordID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("licitacao_id é obrigatório")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", errors.New("licitacao_id deve ser um UUID válido")
	}
	return id.String(), nil
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("corpo da requisição vazio")
		}
		return err
	}
	return nil
}

func statusFor(success bool, action string) int {
	switch {
	case success:
		return http.StatusOK
	case action == ragsvc.ActionNotFound:
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	h.writeJSON(ctx, w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}
