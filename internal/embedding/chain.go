package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Pedro004-dot/AlicitSaas/internal/vector"
)

// ErrExhausted is returned when no provider in a Chain produced a full result.
var ErrExhausted = errors.New("all embedding providers failed")

// Provider is one embedding strategy in a Chain.
type Provider interface {
	Name() string
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type serviceProvider struct {
	svc *Service
}

// AsProvider exposes the service as a Chain strategy using its default batch size.
func (s *Service) AsProvider() Provider {
	return serviceProvider{svc: s}
}

func (p serviceProvider) Name() string { return p.svc.Name() }

func (p serviceProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return p.svc.EmbedBatch(ctx, texts, 0)
}

// SubBatched splits calls to a remote provider into fixed-size requests,
// normalizes the vectors and rejects any whose dimension differs from Dim.
type SubBatched struct {
	Provider
	Size int
	Dim  int
}

func (b SubBatched) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	size := b.Size
	if size <= 0 {
		size = len(texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		batch, err := b.Provider.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return out, fmt.Errorf("%s sub-batch %d-%d: %w", b.Name(), start, end, err)
		}
		if len(batch) != end-start {
			return out, fmt.Errorf("%s sub-batch %d-%d: got %d embeddings", b.Name(), start, end, len(batch))
		}
		for _, v := range batch {
			if b.Dim > 0 && len(v) != b.Dim {
				return out, fmt.Errorf("%w: %s returned %d dims, want %d", vector.ErrDimensionMismatch, b.Name(), len(v), b.Dim)
			}
			out = append(out, vector.Normalize(v))
		}
	}
	return out, nil
}

// Attempt records what one provider produced.
type Attempt struct {
	Provider string
	Produced int
	Err      error
}

// Outcome is the result of running a Chain.
type Outcome struct {
	Embeddings [][]float32
	Provider   string
	Attempts   []Attempt
}

// Chain tries providers in order and stops at the first that returns exactly
// one embedding per text.
type Chain struct {
	providers []Provider
}

func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

func (c *Chain) Embed(ctx context.Context, texts []string) (Outcome, error) {
	var outcome Outcome
	for _, p := range c.providers {
		embeddings, err := p.EmbedBatch(ctx, texts)
		outcome.Attempts = append(outcome.Attempts, Attempt{Provider: p.Name(), Produced: len(embeddings), Err: err})

		if err == nil && len(embeddings) == len(texts) {
			outcome.Embeddings = embeddings
			outcome.Provider = p.Name()
			return outcome, nil
		}
		slog.WarnContext(ctx, "embedding provider fell short",
			"provider", p.Name(), "expected", len(texts), "received", len(embeddings), "error", err)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome, ctxErr
		}
	}
	return outcome, fmt.Errorf("%w for %d texts", ErrExhausted, len(texts))
}

// EmbedOne runs the chain for a single text.
func (c *Chain) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	outcome, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return outcome.Embeddings[0], nil
}
