package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Pedro004-dot/AlicitSaas/internal/vector"
)

// ErrUnavailable signals that the model could not be loaded. Callers are
// expected to switch to another provider rather than retry.
var ErrUnavailable = errors.New("embedding model unavailable")

const DefaultBatchSize = 32

// Model is a loaded sentence-embedding model.
type Model interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Close() error
}

// Loader builds the model. It is invoked at most once per Service.
type Loader func(ctx context.Context) (Model, error)

// Service wraps a lazily loaded model. A failed load leaves the model nil
// and every embed call returns ErrUnavailable.
type Service struct {
	name      string
	load      Loader
	batchSize int

	once    sync.Once
	model   Model
	loadErr error

	// serializes inference on the shared model
	mu sync.Mutex
}

func NewService(name string, load Loader, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Service{name: name, load: load, batchSize: batchSize}
}

func (s *Service) Name() string { return s.name }

// Warmup triggers the one-time model load and reports availability.
func (s *Service) Warmup(ctx context.Context) bool {
	return s.ensureModel(ctx) != nil
}

func (s *Service) ensureModel(ctx context.Context) Model {
	s.once.Do(func() {
		// The load outlives the request that happens to trigger it.
		m, err := s.load(context.WithoutCancel(ctx))
		if err != nil {
			s.loadErr = err
			slog.WarnContext(ctx, "embedding model unavailable, degrading", "model", s.name, "error", err)
			return
		}
		s.model = m
		slog.InfoContext(ctx, "embedding model loaded", "model", s.name, "dimension", m.Dimension())
	})
	return s.model
}

// Available reports whether the model is loaded, loading it if needed.
func (s *Service) Available(ctx context.Context) bool {
	return s.ensureModel(ctx) != nil
}

// Dimension returns the model dimension, or 0 while unavailable.
func (s *Service) Dimension(ctx context.Context) int {
	if m := s.ensureModel(ctx); m != nil {
		return m.Dimension()
	}
	return 0
}

// EmbedBatch embeds texts in batches of batchSize (the service default when
// <= 0), preserving order. Vectors are L2-normalized. When a batch fails the
// embeddings of the completed batches are returned together with the error.
func (s *Service) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	model := s.ensureModel(ctx)
	if model == nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, s.name, s.loadErr)
	}
	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		batch, err := s.infer(ctx, model, texts[start:end])
		if err != nil {
			return out, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (s *Service) infer(ctx context.Context, model Model, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch, err := model.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(batch) != len(texts) {
		return nil, fmt.Errorf("model returned %d embeddings for %d texts", len(batch), len(texts))
	}
	for _, v := range batch {
		vector.Normalize(v)
	}
	return batch, nil
}

// EmbedOne embeds a single text.
func (s *Service) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	out, err := s.EmbedBatch(ctx, []string{text}, 1)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Similarity is the cosine similarity of two raw vectors; 0 when either norm is zero.
func (s *Service) Similarity(a, b []float32) float64 {
	return vector.Cosine(a, b)
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return nil
	}
	return s.model.Close()
}
