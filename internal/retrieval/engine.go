package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Pedro004-dot/AlicitSaas/internal/adapter/gemini"
	"github.com/Pedro004-dot/AlicitSaas/internal/adapter/reranker"
	"github.com/Pedro004-dot/AlicitSaas/internal/ingestion"
	"github.com/Pedro004-dot/AlicitSaas/internal/vector"
)

const (
	// RerankWeight and PriorWeight blend the cross-encoder score with the
	// retrieval score.
	RerankWeight = 0.7
	PriorWeight  = 0.3

	Temperature = 0.1
	MaxTokens   = 1500
)

type Scorer interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

type Generator interface {
	Generate(ctx context.Context, req gemini.Request) (gemini.Completion, error)
	Model() string
}

// Source is one citation in an answer.
type Source struct {
	PageNumber   *int    `json:"page_number"`
	ChunkType    string  `json:"chunk_type"`
	SectionTitle *string `json:"section_title"`
	Score        float64 `json:"score"`
}

// AnswerResult is the outcome of GenerateAnswer. When Failed is true only
// Error is meaningful.
type AnswerResult struct {
	Answer       string   `json:"answer"`
	ChunksUsed   int      `json:"chunks_used"`
	ResponseTime float64  `json:"response_time"`
	CostUSD      float64  `json:"cost_usd"`
	Model        string   `json:"model"`
	Sources      []Source `json:"sources"`
	Failed       bool     `json:"-"`
	Error        string   `json:"error,omitempty"`
}

type Engine struct {
	scorer    Scorer
	generator Generator
}

// NewEngine builds an engine. A nil scorer disables reranking.
func NewEngine(scorer Scorer, generator Generator) *Engine {
	return &Engine{scorer: scorer, generator: generator}
}

// Rerank blends cross-encoder scores into chunks and keeps the best topK.
// Any scorer failure returns the first topK chunks in their original order.
func (e *Engine) Rerank(ctx context.Context, query string, chunks []vector.SearchResult, topK int) []vector.SearchResult {
	if topK <= 0 || topK > len(chunks) {
		topK = len(chunks)
	}
	if e.scorer == nil || len(chunks) <= topK {
		return chunks[:topK]
	}

	docs := make([]string, len(chunks))
	for i, c := range chunks {
		docs[i] = c.Text
	}

	scores, err := e.scorer.Score(ctx, query, docs)
	if err == nil && len(scores) != len(chunks) {
		err = fmt.Errorf("reranker returned %d scores for %d chunks", len(scores), len(chunks))
	}
	if err != nil {
		if errors.Is(err, reranker.ErrDisabled) {
			slog.DebugContext(ctx, "reranker disabled, keeping retrieval order")
		} else {
			slog.WarnContext(ctx, "rerank failed, keeping retrieval order", "error", err)
		}
		return chunks[:topK]
	}

	out := make([]vector.SearchResult, len(chunks))
	copy(out, chunks)
	for i := range out {
		rerank := scores[i]
		final := Blend(rerank, out[i].Score)
		out[i].RerankScore = &rerank
		out[i].FinalScore = &final
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].FinalScore > *out[j].FinalScore
	})

	slog.InfoContext(ctx, "rerank applied", "candidates", len(chunks), "top_k", topK)
	return out[:topK]
}

// Blend combines a rerank score with the chunk's retrieval score.
func Blend(rerankScore, priorScore float64) float64 {
	return RerankWeight*rerankScore + PriorWeight*priorScore
}

// GenerateAnswer asks the completion model to answer from chunks only. It
// never returns an error; failures come back with Failed set.
func (e *Engine) GenerateAnswer(ctx context.Context, query string, chunks []vector.SearchResult, info *ingestion.RecordInfo) AnswerResult {
	if e.generator == nil {
		return AnswerResult{Failed: true, Error: "Erro ao gerar resposta: modelo de linguagem não configurado"}
	}

	prompt := UserPrompt(query, BuildContext(chunks, info))

	start := time.Now()
	completion, err := e.generator.Generate(ctx, gemini.Request{
		System:      SystemPrompt,
		Prompt:      prompt,
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
	})
	elapsed := time.Since(start)
	if err != nil {
		slog.ErrorContext(ctx, "answer generation failed", "error", err, "duration", elapsed)
		return AnswerResult{Failed: true, Error: fmt.Sprintf("Erro ao gerar resposta: %v", err)}
	}

	return AnswerResult{
		Answer:       completion.Text,
		ChunksUsed:   len(chunks),
		ResponseTime: roundTo(elapsed.Seconds(), 2),
		CostUSD:      roundTo(EstimateCost(prompt, completion), 6),
		Model:        completion.Model,
		Sources:      ExtractSources(chunks),
	}
}

// ExtractSources lists one citation per chunk, scored by the blended score
// when present and the retrieval score otherwise.
func ExtractSources(chunks []vector.SearchResult) []Source {
	sources := make([]Source, 0, len(chunks))
	for _, c := range chunks {
		sources = append(sources, Source{
			PageNumber:   c.PageNumber,
			ChunkType:    c.ChunkType,
			SectionTitle: c.SectionTitle,
			Score:        c.RankScore(),
		})
	}
	return sources
}
