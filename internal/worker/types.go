package worker

import (
	"context"

	"github.com/Pedro004-dot/AlicitSaas/internal/rag"
)

type Vectorizer interface {
	Vectorize(ctx context.Context, recordID string) rag.VectorizeResult
}
