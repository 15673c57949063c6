package vector

import (
	"context"
	"fmt"
)

const (
	ChunkTable        = "documentos_chunks"
	EmbeddingColumn   = "embedding"
	HybridSearchFunc  = "hybrid_search"
	pgvectorExtension = "vector"
)

// SchemaClient defines the catalog lookups needed to validate the vector schema.
type SchemaClient interface {
	ExtensionExists(ctx context.Context, name string) (bool, error)
	CreateExtension(ctx context.Context, name string) error
	ColumnDimension(ctx context.Context, table, column string) (int, error)
	FunctionExists(ctx context.Context, name string) (bool, error)
}

// SchemaInfo reports optional capabilities discovered at startup.
type SchemaInfo struct {
	Dimension    int
	HybridSearch bool
}

// EnsureSchema makes sure pgvector is installed and the chunk table stores
// vectors of the active model's dimension. A missing hybrid_search routine
// is reported, not treated as an error.
func EnsureSchema(ctx context.Context, client SchemaClient, dim int) (*SchemaInfo, error) {
	exists, err := client.ExtensionExists(ctx, pgvectorExtension)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.CreateExtension(ctx, pgvectorExtension); err != nil {
			return nil, fmt.Errorf("create extension %s: %w", pgvectorExtension, err)
		}
	}

	colDim, err := client.ColumnDimension(ctx, ChunkTable, EmbeddingColumn)
	if err != nil {
		return nil, err
	}
	// An unconstrained vector column reports no dimension.
	if colDim > 0 && colDim != dim {
		return nil, fmt.Errorf("%w: %s.%s is vector(%d), model produces %d",
			ErrDimensionMismatch, ChunkTable, EmbeddingColumn, colDim, dim)
	}

	hybrid, err := client.FunctionExists(ctx, HybridSearchFunc)
	if err != nil {
		return nil, err
	}

	return &SchemaInfo{Dimension: dim, HybridSearch: hybrid}, nil
}
