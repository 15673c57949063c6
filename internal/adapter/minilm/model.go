package minilm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knights-analytics/hugot"
)

const (
	DefaultModel = "sentence-transformers/all-MiniLM-L6-v2"
	Dimension    = 384
	onnxFilePath = "onnx/model.onnx"
)

// Model runs a sentence-transformers checkpoint through a hugot
// feature-extraction pipeline on the pure-Go backend.
type Model struct {
	name    string
	dim     int
	session *hugot.Session
	run     func(texts []string) ([][]float32, error)
}

// Load prepares the model directory (downloading on first use) and builds the pipeline.
func Load(ctx context.Context, modelName, modelDir string, dim int) (*Model, error) {
	if modelName == "" {
		modelName = DefaultModel
	}
	if dim <= 0 {
		dim = Dimension
	}

	modelPath, err := prepareModel(ctx, modelName, modelDir)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "rag-embedder",
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create embedding pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create embedding pipeline: %w", err)
	}

	return &Model{
		name:    modelName,
		dim:     dim,
		session: session,
		run: func(texts []string) ([][]float32, error) {
			out, err := pipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			return out.Embeddings, nil
		},
	}, nil
}

func prepareModel(ctx context.Context, modelName, modelDir string) (string, error) {
	modelPath := filepath.Join(modelDir, strings.ReplaceAll(modelName, "/", "_"))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	slog.InfoContext(ctx, "downloading model", "model", modelName, "dir", modelDir)
	opts := hugot.NewDownloadOptions()
	opts.OnnxFilePath = onnxFilePath
	downloaded, err := hugot.DownloadModel(modelName, modelDir, opts)
	if err != nil {
		return "", fmt.Errorf("failed to download model %s: %w", modelName, err)
	}
	return downloaded, nil
}

func (m *Model) Name() string { return m.name }

func (m *Model) Dimension() int { return m.dim }

// Embed returns one raw (unnormalized) vector per text.
func (m *Model) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := m.run(texts)
	if err != nil {
		return nil, fmt.Errorf("minilm inference: %w", err)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("minilm inference: got %d embeddings for %d texts", len(out), len(texts))
	}
	for i, e := range out {
		if len(e) != m.dim {
			return nil, fmt.Errorf("minilm inference: embedding %d has %d dims, want %d", i, len(e), m.dim)
		}
	}
	return out, nil
}

func (m *Model) Close() error {
	if m.session == nil {
		return nil
	}
	return m.session.Destroy()
}
