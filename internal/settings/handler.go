package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Pedro004-dot/AlicitSaas/internal/middleware"
)

const maskPrefix = "****"

// view is the wire form of the settings row. API keys never leave the
// service in clear text.
type view struct {
	RerankProvider  string  `json:"rerank_provider"`
	RerankAPIKey    string  `json:"rerank_api_key"`
	GeminiAPIKey    string  `json:"gemini_api_key"`
	SemanticWeight  float64 `json:"semantic_weight"`
	TextWeight      float64 `json:"text_weight"`
	SearchLimit     int     `json:"search_limit"`
	RerankTopK      int     `json:"rerank_top_k"`
	RerankKeySet    bool    `json:"rerank_api_key_set"`
	GeminiKeySet    bool    `json:"gemini_api_key_set"`
	LocalReranking  bool    `json:"local_reranking"`
	HostedReranking bool    `json:"hosted_reranking"`
}

func toView(s *Settings) view {
	provider := s.RerankProvider
	if provider == "" {
		provider = RerankLocal
	}
	return view{
		RerankProvider:  provider,
		RerankAPIKey:    mask(s.RerankAPIKey),
		GeminiAPIKey:    mask(s.GeminiAPIKey),
		SemanticWeight:  s.SemanticWeight,
		TextWeight:      s.TextWeight,
		SearchLimit:     s.SearchLimit,
		RerankTopK:      s.RerankTopK,
		RerankKeySet:    s.RerankAPIKey != "",
		GeminiKeySet:    s.GeminiAPIKey != "",
		LocalReranking:  provider == RerankLocal,
		HostedReranking: provider == RerankJina || provider == RerankCohere,
	}
}

func mask(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return maskPrefix
	}
	return maskPrefix + key[len(key)-4:]
}

// patch is a partial update. Absent fields keep their stored value, and so
// does a key sent back in its masked form.
type patch struct {
	RerankProvider *string  `json:"rerank_provider"`
	RerankAPIKey   *string  `json:"rerank_api_key"`
	GeminiAPIKey   *string  `json:"gemini_api_key"`
	SemanticWeight *float64 `json:"semantic_weight"`
	TextWeight     *float64 `json:"text_weight"`
	SearchLimit    *int     `json:"search_limit"`
	RerankTopK     *int     `json:"rerank_top_k"`
}

func (p patch) apply(s *Settings) {
	if p.RerankProvider != nil {
		s.RerankProvider = strings.ToLower(strings.TrimSpace(*p.RerankProvider))
	}
	if p.RerankAPIKey != nil && !strings.HasPrefix(*p.RerankAPIKey, maskPrefix) {
		s.RerankAPIKey = strings.TrimSpace(*p.RerankAPIKey)
	}
	if p.GeminiAPIKey != nil && !strings.HasPrefix(*p.GeminiAPIKey, maskPrefix) {
		s.GeminiAPIKey = strings.TrimSpace(*p.GeminiAPIKey)
	}
	if p.SemanticWeight != nil {
		s.SemanticWeight = *p.SemanticWeight
	}
	if p.TextWeight != nil {
		s.TextWeight = *p.TextWeight
	}
	if p.SearchLimit != nil {
		s.SearchLimit = *p.SearchLimit
	}
	if p.RerankTopK != nil {
		s.RerankTopK = *p.RerankTopK
	}
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// GetSettings serves GET /settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, err := h.svc.Get(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read settings", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": toView(s)})
}

// UpdateSettings serves PUT /settings and answers with the stored result.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var p patch
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	current, err := h.svc.Get(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read settings", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	next := *current
	p.apply(&next)

	if err := h.svc.Update(ctx, &next); err != nil {
		if errors.Is(err, ErrInvalid) {
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "failed to update settings", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	slog.InfoContext(ctx, "settings updated", "rerank_provider", next.RerankProvider, "search_limit", next.SearchLimit)
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": toView(&next)})
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
