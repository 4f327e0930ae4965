package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stagehand/internal/domain"
)

// GenerationRepositoryPG implements domain.GenerationRepository backed
// by PostgreSQL. Inserts are quota-guarded: the profile's usage counter
// is bumped in the same statement that creates the row, so the database
// is the true admission point and two racing clients cannot both slip
// past a stale client-side check.
type GenerationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewGenerationRepository creates a new generation repository.
func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{pool: pool}
}

// Create inserts a new generation with status queued. The CTE consumes
// quota only when the plan ceiling allows it; when the guard fails no
// row is inserted and ErrQuotaExceeded is returned.
func (r *GenerationRepositoryPG) Create(ctx context.Context, gen *domain.Generation) error {
	meta, err := json.Marshal(gen.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if len(gen.Metadata) == 0 {
		meta = []byte("{}")
	}

	query := `
WITH consumed AS (
    UPDATE profiles p
    SET generation_count = p.generation_count + 1,
        updated_at = NOW()
    WHERE p.id = $2
      AND (
        p.plan_type IN ('pro', 'enterprise')
        OR p.generation_count < CASE p.plan_type
            WHEN 'basic' THEN 10
            WHEN 'standard' THEN 50
            ELSE 3
        END
      )
    RETURNING p.id
)
INSERT INTO generations (id, user_id, original_url, status, prompt, style, metadata)
SELECT $1, consumed.id, $3, $4, $5, $6, $7
FROM consumed
RETURNING created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, query,
		gen.ID,
		gen.UserID,
		gen.OriginalURL,
		gen.Status,
		gen.Prompt,
		gen.Style,
		meta,
	)
	if err := row.Scan(&gen.CreatedAt, &gen.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrQuotaExceeded
		}
		return err
	}
	return nil
}

// UpdateStatus moves a generation forward. Terminal rows are left
// untouched so a late writer can never regress a finished lifecycle.
func (r *GenerationRepositoryPG) UpdateStatus(ctx context.Context, id string, status domain.GenerationStatus, generatedURL *string) error {
	query := `
UPDATE generations
SET status = $2,
    generated_url = COALESCE($3, generated_url),
    updated_at = NOW()
WHERE id = $1
  AND status NOT IN ('completed', 'failed');
`
	_, err := r.pool.Exec(ctx, query, id, status, generatedURL)
	return err
}

// GetByID fetches a generation by its identifier.
func (r *GenerationRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Generation, error) {
	row := r.pool.QueryRow(ctx, selectGeneration+`WHERE id = $1;`, id)
	return scanGeneration(row)
}

// ListByUser returns the user's generations, newest first.
func (r *GenerationRepositoryPG) ListByUser(ctx context.Context, userID string) ([]domain.Generation, error) {
	rows, err := r.pool.Query(ctx, selectGeneration+`WHERE user_id = $1 ORDER BY created_at DESC;`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Generation
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *gen)
	}
	return out, rows.Err()
}

// ReadStatus re-reads the two fields the poll loop cares about.
func (r *GenerationRepositoryPG) ReadStatus(ctx context.Context, id string) (domain.StatusSnapshot, error) {
	row := r.pool.QueryRow(ctx, `SELECT status, generated_url FROM generations WHERE id = $1;`, id)
	var snap domain.StatusSnapshot
	if err := row.Scan(&snap.Status, &snap.GeneratedURL); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return snap, domain.ErrNotFound
		}
		return snap, err
	}
	return snap, nil
}

const selectGeneration = `
SELECT id, user_id, original_url, generated_url, status, prompt, style, metadata, created_at, updated_at
FROM generations
`

func scanGeneration(row pgx.Row) (*domain.Generation, error) {
	var gen domain.Generation
	var meta []byte
	if err := row.Scan(
		&gen.ID,
		&gen.UserID,
		&gen.OriginalURL,
		&gen.GeneratedURL,
		&gen.Status,
		&gen.Prompt,
		&gen.Style,
		&meta,
		&gen.CreatedAt,
		&gen.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &gen.Metadata)
	}
	return &gen, nil
}
