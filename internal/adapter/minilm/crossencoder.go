package minilm

import (
	"context"
	"fmt"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/backends"
	"github.com/knights-analytics/hugot/pipelines"
)

const (
	DefaultCrossEncoder = "cross-encoder/ms-marco-MiniLM-L-6-v2"

	crossEncoderBatchSize = 16
)

// CrossEncoder scores query/passage pairs with a MiniLM cross-encoder.
// Scores are sigmoid-activated, so they fall in [0,1].
type CrossEncoder struct {
	name    string
	session *hugot.Session
	run     func(query string, docs []string) ([]pipelines.CrossEncoderResult, error)
}

// LoadCrossEncoder prepares the model directory (downloading on first use)
// and builds the cross-encoder pipeline.
func LoadCrossEncoder(ctx context.Context, modelName, modelDir string) (*CrossEncoder, error) {
	if modelName == "" {
		modelName = DefaultCrossEncoder
	}

	modelPath, err := prepareModel(ctx, modelName, modelDir)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.CrossEncoderConfig{
		ModelPath: modelPath,
		Name:      "rag-reranker",
		Options: []backends.PipelineOption[*pipelines.CrossEncoderPipeline]{
			pipelines.WithBatchSize(crossEncoderBatchSize),
			// Keep input order; callers align scores by position.
			pipelines.WithSortResults(false),
		},
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create cross-encoder pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create cross-encoder pipeline: %w", err)
	}

	return &CrossEncoder{
		name:    modelName,
		session: session,
		run: func(query string, docs []string) ([]pipelines.CrossEncoderResult, error) {
			out, err := pipeline.RunPipeline(query, docs)
			if err != nil {
				return nil, err
			}
			return out.Results, nil
		},
	}, nil
}

func (c *CrossEncoder) Name() string { return c.name }

// Score returns one relevance score per doc, in the order given.
func (c *CrossEncoder) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	results, err := c.run(query, docs)
	if err != nil {
		return nil, fmt.Errorf("cross-encoder inference: %w", err)
	}
	if len(results) != len(docs) {
		return nil, fmt.Errorf("cross-encoder inference: got %d scores for %d docs", len(results), len(docs))
	}

	scores := make([]float64, len(docs))
	seen := make([]bool, len(docs))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(docs) || seen[r.Index] {
			return nil, fmt.Errorf("cross-encoder inference: bad result index %d", r.Index)
		}
		seen[r.Index] = true
		scores[r.Index] = float64(r.Score)
	}
	return scores, nil
}

func (c *CrossEncoder) Close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Destroy()
}
