package reranker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// LocalModel is a loaded cross-encoder.
type LocalModel interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
	Close() error
}

// LocalLoader builds the model. It is invoked at most once per Local.
type LocalLoader func(ctx context.Context) (LocalModel, error)

// Local scores chunks with an in-process cross-encoder, loaded on first
// use. A failed load is permanent and every call returns ErrDisabled.
type Local struct {
	name string
	load LocalLoader

	once    sync.Once
	model   LocalModel
	loadErr error

	mu sync.Mutex
}

func NewLocal(name string, load LocalLoader) *Local {
	return &Local{name: name, load: load}
}

func (l *Local) ensureModel(ctx context.Context) LocalModel {
	l.once.Do(func() {
		m, err := l.load(context.WithoutCancel(ctx))
		if err != nil {
			l.loadErr = err
			slog.WarnContext(ctx, "cross-encoder unavailable, reranking disabled", "model", l.name, "error", err)
			return
		}
		l.model = m
		slog.InfoContext(ctx, "cross-encoder loaded", "model", l.name)
	})
	return l.model
}

// Warmup triggers the one-time load and reports availability.
func (l *Local) Warmup(ctx context.Context) bool {
	return l.ensureModel(ctx) != nil
}

func (l *Local) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	m := l.ensureModel(ctx)
	if m == nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDisabled, l.name, l.loadErr)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return m.Score(ctx, query, docs)
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.model == nil {
		return nil
	}
	return l.model.Close()
}
