package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrInvalid wraps every rejected settings update.
var ErrInvalid = errors.New("invalid settings")

const (
	DefaultSemanticWeight = 0.7
	DefaultTextWeight     = 0.3
	DefaultSearchLimit    = 12
	DefaultRerankTopK     = 8
)

// Rerank providers. Local runs the bundled cross-encoder in process.
const (
	RerankLocal  = "local"
	RerankNone   = "none"
	RerankJina   = "jina"
	RerankCohere = "cohere"
)

type Settings struct {
	ID             int     `json:"-"`
	RerankProvider string  `json:"rerank_provider"`
	RerankAPIKey   string  `json:"rerank_api_key"`
	GeminiAPIKey   string  `json:"gemini_api_key"`
	SemanticWeight float64 `json:"semantic_weight"`
	TextWeight     float64 `json:"text_weight"`
	SearchLimit    int     `json:"search_limit"`
	RerankTopK     int     `json:"rerank_top_k"`
}

// Defaults are used when the settings row cannot be read.
func Defaults() Settings {
	return Settings{
		RerankProvider: RerankLocal,
		SemanticWeight: DefaultSemanticWeight,
		TextWeight:     DefaultTextWeight,
		SearchLimit:    DefaultSearchLimit,
		RerankTopK:     DefaultRerankTopK,
	}
}

func (s *Settings) Validate() error {
	if s.SemanticWeight < 0 || s.SemanticWeight > 1 {
		return fmt.Errorf("%w: semantic_weight must be within [0,1]", ErrInvalid)
	}
	if s.TextWeight < 0 || s.TextWeight > 1 {
		return fmt.Errorf("%w: text_weight must be within [0,1]", ErrInvalid)
	}
	if s.SearchLimit <= 0 {
		return fmt.Errorf("%w: search_limit must be positive", ErrInvalid)
	}
	if s.RerankTopK <= 0 || s.RerankTopK > s.SearchLimit {
		return fmt.Errorf("%w: rerank_top_k must be within [1,search_limit]", ErrInvalid)
	}
	switch s.RerankProvider {
	case "", RerankLocal, RerankNone, RerankJina, RerankCohere:
	default:
		return fmt.Errorf("%w: unknown rerank_provider %q", ErrInvalid, s.RerankProvider)
	}
	return nil
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, set)
}

// Effective returns the stored settings with zero values replaced by
// defaults. A read failure yields the defaults.
func (s *Service) Effective(ctx context.Context) Settings {
	out := Defaults()
	stored, err := s.repo.Get(ctx)
	if err != nil || stored == nil {
		slog.WarnContext(ctx, "settings unavailable, using defaults", "error", err)
		return out
	}

	out.RerankProvider = stored.RerankProvider
	out.RerankAPIKey = stored.RerankAPIKey
	out.GeminiAPIKey = stored.GeminiAPIKey
	if stored.SemanticWeight > 0 || stored.TextWeight > 0 {
		out.SemanticWeight = stored.SemanticWeight
		out.TextWeight = stored.TextWeight
	}
	if stored.SearchLimit > 0 {
		out.SearchLimit = stored.SearchLimit
	}
	if stored.RerankTopK > 0 {
		out.RerankTopK = stored.RerankTopK
	}
	return out
}

// SeedKeys copies env-provided credentials into the stored row when the
// row has none. Values already set through the API are kept, and so is an
// explicit "none".
func (s *Service) SeedKeys(ctx context.Context, rerankProvider, rerankKey, geminiKey string) error {
	stored, err := s.repo.Get(ctx)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	changed := false
	if (stored.RerankProvider == "" || stored.RerankProvider == RerankLocal) && rerankKey != "" && rerankProvider != "" {
		stored.RerankProvider = rerankProvider
		changed = true
	}
	if stored.RerankAPIKey == "" && rerankKey != "" {
		stored.RerankAPIKey = rerankKey
		changed = true
	}
	if stored.GeminiAPIKey == "" && geminiKey != "" {
		stored.GeminiAPIKey = geminiKey
		changed = true
	}
	if !changed {
		return nil
	}
	return s.repo.Update(ctx, stored)
}
