package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned for an unknown failed-job id.
var ErrNotFound = errors.New("failed job not found")

type Repository interface {
	Save(ctx context.Context, job *Job) error
	List(ctx context.Context) ([]Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

const jobColumns = `id, licitacao_id, handler, payload, error, retries, created_at`

// A licitação keeps at most one failed entry per handler: a repeated
// failure bumps retries and replaces the error instead of adding a row.
const saveJobSQL = `
WITH bumped AS (
	UPDATE failed_jobs
	SET payload = $3, error = $4, retries = retries + 1, created_at = NOW()
	WHERE licitacao_id = $1 AND handler = $2
	RETURNING id, created_at, retries
), inserted AS (
	INSERT INTO failed_jobs (licitacao_id, handler, payload, error)
	SELECT $1, $2, $3, $4
	WHERE NOT EXISTS (SELECT 1 FROM bumped)
	RETURNING id, created_at, retries
)
SELECT id, created_at, retries FROM bumped
UNION ALL
SELECT id, created_at, retries FROM inserted`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		j       Job
		payload []byte
	)
	if err := row.Scan(&j.ID, &j.RecordID, &j.Handler, &payload, &j.Error, &j.Retries, &j.CreatedAt); err != nil {
		return Job{}, err
	}
	if len(payload) > 0 {
		j.Payload = payload
	}
	return j, nil
}

func (r *PostgresRepo) Save(ctx context.Context, job *Job) error {
	payload := []byte(job.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	err := r.db.QueryRowContext(ctx, saveJobSQL, job.RecordID, job.Handler, payload, job.Error).
		Scan(&job.ID, &job.CreatedAt, &job.Retries)
	if err != nil {
		return fmt.Errorf("save failed job for %s: %w", job.RecordID, err)
	}
	return nil
}

// List returns failed jobs, most recent failure first.
func (r *PostgresRepo) List(ctx context.Context) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM failed_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM failed_jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM failed_jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_jobs`).Scan(&count)
	return count, err
}
