package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stagehand/internal/domain"
)

// ProfileRepositoryPG implements domain.ProfileRepository backed by PostgreSQL.
type ProfileRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewProfileRepository creates a new ProfileRepositoryPG.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepositoryPG {
	return &ProfileRepositoryPG{pool: pool}
}

const selectProfile = `
SELECT id, email, full_name, avatar_url, plan_type, generation_count,
       stripe_customer_id, subscription_ends_at, created_at, updated_at
FROM profiles
`

// GetByID fetches the authoritative profile record.
func (r *ProfileRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	row := r.pool.QueryRow(ctx, selectProfile+`WHERE id = $1;`, id)
	return scanProfile(row)
}

// UpdatePlanByCustomer applies a subscription change delivered by the
// billing webhook, keyed by the processor's customer identifier.
func (r *ProfileRepositoryPG) UpdatePlanByCustomer(ctx context.Context, stripeCustomerID string, plan domain.PlanType, endsAt time.Time) error {
	query := `
UPDATE profiles
SET plan_type = $2,
    subscription_ends_at = $3,
    updated_at = NOW()
WHERE stripe_customer_id = $1;
`
	tag, err := r.pool.Exec(ctx, query, stripeCustomerID, plan, endsAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetStripeCustomer records the billing customer id the first time a
// checkout is initiated for the user.
func (r *ProfileRepositoryPG) SetStripeCustomer(ctx context.Context, userID, customerID string) error {
	_, err := r.pool.Exec(ctx, `
UPDATE profiles
SET stripe_customer_id = $2,
    updated_at = NOW()
WHERE id = $1;
`, userID, customerID)
	return err
}

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var p domain.Profile
	if err := row.Scan(
		&p.ID,
		&p.Email,
		&p.FullName,
		&p.AvatarURL,
		&p.PlanType,
		&p.GenerationCount,
		&p.StripeCustomerID,
		&p.SubscriptionEndsAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
