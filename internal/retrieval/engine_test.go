package retrieval_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Pedro004-dot/AlicitSaas/internal/adapter/gemini"
	"github.com/Pedro004-dot/AlicitSaas/internal/adapter/reranker"
	"github.com/Pedro004-dot/AlicitSaas/internal/ingestion"
	"github.com/Pedro004-dot/AlicitSaas/internal/retrieval"
	"github.com/Pedro004-dot/AlicitSaas/internal/vector"
)

type MockScorer struct{ mock.Mock }

func (m *MockScorer) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	args := m.Called(ctx, query, docs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float64), args.Error(1)
}

type MockGenerator struct{ mock.Mock }

func (m *MockGenerator) Generate(ctx context.Context, req gemini.Request) (gemini.Completion, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(gemini.Completion), args.Error(1)
}

func (m *MockGenerator) Model() string { return "gemini-2.0-flash" }

func chunk(id, text string, score float64) vector.SearchResult {
	return vector.SearchResult{ChunkID: id, Text: text, ChunkType: "body", Score: score}
}

func ids(rs []vector.SearchResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ChunkID
	}
	return out
}

func TestBlend(t *testing.T) {
	assert.InDelta(t, 0.75, retrieval.Blend(0.9, 0.4), 1e-12)
}

func TestEngine_Rerank(t *testing.T) {
	candidates := []vector.SearchResult{
		chunk("a", "ta", 0.4),
		chunk("b", "tb", 0.9),
		chunk("c", "tc", 0.5),
	}

	t.Run("Blends And Sorts", func(t *testing.T) {
		scorer := new(MockScorer)
		scorer.On("Score", mock.Anything, "q", []string{"ta", "tb", "tc"}).Return([]float64{0.9, 0.1, 0.5}, nil)

		out := retrieval.NewEngine(scorer, nil).Rerank(context.Background(), "q", candidates, 2)
		require.Len(t, out, 2)
		assert.Equal(t, []string{"a", "c"}, ids(out))
		assert.InDelta(t, 0.75, *out[0].FinalScore, 1e-12)
		assert.InDelta(t, 0.9, *out[0].RerankScore, 1e-12)
		assert.Nil(t, candidates[0].FinalScore, "input must not be mutated")
	})

	t.Run("Ties Keep Input Order", func(t *testing.T) {
		scorer := new(MockScorer)
		tied := []vector.SearchResult{chunk("x", "t1", 0.5), chunk("y", "t2", 0.5), chunk("z", "t3", 0.1)}
		scorer.On("Score", mock.Anything, "q", mock.Anything).Return([]float64{0.5, 0.5, 0.5}, nil)

		out := retrieval.NewEngine(scorer, nil).Rerank(context.Background(), "q", tied, 2)
		assert.Equal(t, []string{"x", "y"}, ids(out))
	})

	t.Run("Failure Keeps Original Order", func(t *testing.T) {
		scorer := new(MockScorer)
		scorer.On("Score", mock.Anything, "q", mock.Anything).Return(nil, errors.New("timeout"))

		out := retrieval.NewEngine(scorer, nil).Rerank(context.Background(), "q", candidates, 2)
		assert.Equal(t, []string{"a", "b"}, ids(out))
		assert.Nil(t, out[0].FinalScore)
	})

	t.Run("Disabled Scorer Truncates", func(t *testing.T) {
		scorer := new(MockScorer)
		scorer.On("Score", mock.Anything, "q", mock.Anything).Return(nil, reranker.ErrDisabled)

		out := retrieval.NewEngine(scorer, nil).Rerank(context.Background(), "q", candidates, 1)
		assert.Equal(t, []string{"a"}, ids(out))
	})

	t.Run("Short Score List Is A Failure", func(t *testing.T) {
		scorer := new(MockScorer)
		scorer.On("Score", mock.Anything, "q", mock.Anything).Return([]float64{1}, nil)

		out := retrieval.NewEngine(scorer, nil).Rerank(context.Background(), "q", candidates, 2)
		assert.Equal(t, []string{"a", "b"}, ids(out))
	})

	t.Run("Few Candidates Skip Scoring", func(t *testing.T) {
		scorer := new(MockScorer)

		out := retrieval.NewEngine(scorer, nil).Rerank(context.Background(), "q", candidates, 8)
		assert.Equal(t, []string{"a", "b", "c"}, ids(out))
		scorer.AssertNotCalled(t, "Score", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Nil Scorer", func(t *testing.T) {
		out := retrieval.NewEngine(nil, nil).Rerank(context.Background(), "q", candidates, 2)
		assert.Equal(t, []string{"a", "b"}, ids(out))
	})
}

func TestEngine_GenerateAnswer(t *testing.T) {
	page := 3
	section := "CLÁUSULA QUINTA"
	final := 0.8
	chunks := []vector.SearchResult{
		{ChunkID: "a", Text: "Valor estimado: R$ 10.000", ChunkType: "table", PageNumber: &page, SectionTitle: &section, Score: 0.6, FinalScore: &final},
		{ChunkID: "b", Text: "Prazo de entrega: 30 dias", ChunkType: "body", Score: 0.4},
	}
	valor := 10000.0
	info := &ingestion.RecordInfo{Objeto: "Aquisição de notebooks", Modalidade: "Pregão Eletrônico", ValorTotalEstimado: &valor, Orgao: "Prefeitura", UF: "SP"}

	t.Run("Success", func(t *testing.T) {
		gen := new(MockGenerator)
		gen.On("Generate", mock.Anything, mock.MatchedBy(func(r gemini.Request) bool {
			return r.System == retrieval.SystemPrompt &&
				r.Temperature == float32(0.1) && r.MaxTokens == 1500 &&
				strings.Contains(r.Prompt, "PERGUNTA: Qual o valor estimado?")
		})).Return(gemini.Completion{Text: "O valor estimado é R$ 10.000,00 (Página 3).", Model: "gemini-2.0-flash", PromptTokens: 1000, CompletionTokens: 100}, nil)

		res := retrieval.NewEngine(nil, gen).GenerateAnswer(context.Background(), "Qual o valor estimado?", chunks, info)
		require.False(t, res.Failed)
		assert.Equal(t, 2, res.ChunksUsed)
		assert.Equal(t, "gemini-2.0-flash", res.Model)
		assert.InDelta(t, 0.00021, res.CostUSD, 1e-9)
		require.Len(t, res.Sources, 2)
		assert.Equal(t, 3, *res.Sources[0].PageNumber)
		assert.Equal(t, "CLÁUSULA QUINTA", *res.Sources[0].SectionTitle)
		assert.Equal(t, 0.8, res.Sources[0].Score)
		assert.Equal(t, 0.4, res.Sources[1].Score)
		assert.Nil(t, res.Sources[1].PageNumber)
	})

	t.Run("Failure Is Flagged", func(t *testing.T) {
		gen := new(MockGenerator)
		gen.On("Generate", mock.Anything, mock.Anything).Return(gemini.Completion{}, errors.New("quota exceeded"))

		res := retrieval.NewEngine(nil, gen).GenerateAnswer(context.Background(), "q", chunks, nil)
		assert.True(t, res.Failed)
		assert.Contains(t, res.Error, "quota exceeded")
		assert.Empty(t, res.Answer)
	})

	t.Run("No Generator", func(t *testing.T) {
		res := retrieval.NewEngine(nil, nil).GenerateAnswer(context.Background(), "q", chunks, nil)
		assert.True(t, res.Failed)
	})
}
