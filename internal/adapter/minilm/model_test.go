package minilm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/knights-analytics/hugot/pipelines"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareModel(t *testing.T) {
	t.Run("Existing Directory Is Reused", func(t *testing.T) {
		dir := t.TempDir()
		want := filepath.Join(dir, "sentence-transformers_all-MiniLM-L6-v2")
		require.NoError(t, os.MkdirAll(want, 0o755))

		got, err := prepareModel(context.Background(), DefaultModel, dir)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("Unreadable Model Path", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "models")
		require.NoError(t, os.WriteFile(file, []byte("not a directory"), 0o644))

		_, err := prepareModel(context.Background(), DefaultModel, file)
		assert.Error(t, err)
	})
}

func stubModel(dim int, run func([]string) ([][]float32, error)) *Model {
	return &Model{name: DefaultModel, dim: dim, run: run}
}

func TestModel_Embed(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		m := stubModel(3, func(texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i := range texts {
				out[i] = []float32{float32(i), 0, 1}
			}
			return out, nil
		})

		out, err := m.Embed(context.Background(), []string{"objeto", "prazo"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{0, 0, 1}, {1, 0, 1}}, out)
		assert.Equal(t, 3, m.Dimension())
		assert.Equal(t, DefaultModel, m.Name())
	})

	t.Run("Wrong Dimension", func(t *testing.T) {
		m := stubModel(384, func(texts []string) ([][]float32, error) {
			return [][]float32{{1, 2}}, nil
		})
		_, err := m.Embed(context.Background(), []string{"objeto"})
		assert.ErrorContains(t, err, "has 2 dims, want 384")
	})

	t.Run("Short Batch", func(t *testing.T) {
		m := stubModel(2, func(texts []string) ([][]float32, error) {
			return [][]float32{{1, 2}}, nil
		})
		_, err := m.Embed(context.Background(), []string{"a", "b"})
		assert.ErrorContains(t, err, "got 1 embeddings for 2 texts")
	})

	t.Run("Inference Error", func(t *testing.T) {
		m := stubModel(2, func(texts []string) ([][]float32, error) {
			return nil, errors.New("tokenizer failed")
		})
		_, err := m.Embed(context.Background(), []string{"a"})
		assert.ErrorContains(t, err, "tokenizer failed")
	})

	t.Run("Canceled Context", func(t *testing.T) {
		called := false
		m := stubModel(2, func(texts []string) ([][]float32, error) {
			called = true
			return nil, nil
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := m.Embed(ctx, []string{"a"})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})

	t.Run("Close Without Session", func(t *testing.T) {
		assert.NoError(t, stubModel(2, nil).Close())
	})
}

func TestCrossEncoder_Score(t *testing.T) {
	t.Run("Scores Follow Input Order", func(t *testing.T) {
		c := &CrossEncoder{name: DefaultCrossEncoder, run: func(query string, docs []string) ([]pipelines.CrossEncoderResult, error) {
			return []pipelines.CrossEncoderResult{
				{Document: docs[2], Score: 0.9, Index: 2},
				{Document: docs[0], Score: 0.1, Index: 0},
				{Document: docs[1], Score: 0.5, Index: 1},
			}, nil
		}}

		scores, err := c.Score(context.Background(), "valor estimado", []string{"multa", "vigência", "valor estimado"})
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{0.1, 0.5, 0.9}, scores, 1e-6)
	})

	t.Run("Dropped Result", func(t *testing.T) {
		c := &CrossEncoder{run: func(query string, docs []string) ([]pipelines.CrossEncoderResult, error) {
			return []pipelines.CrossEncoderResult{{Index: 0, Score: 0.3}}, nil
		}}
		_, err := c.Score(context.Background(), "q", []string{"a", "b"})
		assert.ErrorContains(t, err, "got 1 scores for 2 docs")
	})

	t.Run("Duplicate Index", func(t *testing.T) {
		c := &CrossEncoder{run: func(query string, docs []string) ([]pipelines.CrossEncoderResult, error) {
			return []pipelines.CrossEncoderResult{{Index: 1}, {Index: 1}}, nil
		}}
		_, err := c.Score(context.Background(), "q", []string{"a", "b"})
		assert.ErrorContains(t, err, "bad result index 1")
	})

	t.Run("No Docs", func(t *testing.T) {
		c := &CrossEncoder{run: func(string, []string) ([]pipelines.CrossEncoderResult, error) {
			t.Fatal("inference should not run")
			return nil, nil
		}}
		scores, err := c.Score(context.Background(), "q", nil)
		require.NoError(t, err)
		assert.Empty(t, scores)
		assert.NoError(t, c.Close())
	})
}
