package vector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresSchemaClient answers SchemaClient lookups from the Postgres catalog.
type PostgresSchemaClient struct {
	DB *sql.DB
}

func NewPostgresSchemaClient(db *sql.DB) *PostgresSchemaClient {
	return &PostgresSchemaClient{DB: db}
}

func (c *PostgresSchemaClient) ExtensionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := c.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = $1)`, name).Scan(&exists)
	return exists, err
}

func (c *PostgresSchemaClient) CreateExtension(ctx context.Context, name string) error {
	_, err := c.DB.ExecContext(ctx, fmt.Sprintf(`CREATE EXTENSION IF NOT EXISTS %s`, pq.QuoteIdentifier(name)))
	return err
}

// ColumnDimension reads the typmod of a pgvector column, which holds its
// declared dimension (-1 when unconstrained).
func (c *PostgresSchemaClient) ColumnDimension(ctx context.Context, table, column string) (int, error) {
	query := `SELECT a.atttypmod FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		WHERE c.relname = $1 AND a.attname = $2 AND NOT a.attisdropped`
	var typmod int
	if err := c.DB.QueryRowContext(ctx, query, table, column).Scan(&typmod); err != nil {
		return 0, fmt.Errorf("read dimension of %s.%s: %w", table, column, err)
	}
	if typmod < 0 {
		return 0, nil
	}
	return typmod, nil
}

func (c *PostgresSchemaClient) FunctionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := c.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1)`, name).Scan(&exists)
	return exists, err
}
