package domain

import (
	"context"
	"time"
)

// GenerationRepository defines persistence for generations at the
// source of truth. Create must enforce the caller's quota atomically
// with the insert and return ErrQuotaExceeded when the ceiling is hit;
// the client-side gate is only an optimistic pre-filter.
type GenerationRepository interface {
	Create(ctx context.Context, gen *Generation) error
	UpdateStatus(ctx context.Context, id string, status GenerationStatus, generatedURL *string) error
	GetByID(ctx context.Context, id string) (*Generation, error)
	ListByUser(ctx context.Context, userID string) ([]Generation, error)
}

// StatusSnapshot is the pair of fields the poll loop re-reads.
type StatusSnapshot struct {
	Status       GenerationStatus
	GeneratedURL string
}

// StatusReader re-reads one generation's status and result reference.
type StatusReader interface {
	ReadStatus(ctx context.Context, generationID string) (StatusSnapshot, error)
}

// ProfileRepository defines access to the authoritative profile record.
type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*Profile, error)
	UpdatePlanByCustomer(ctx context.Context, stripeCustomerID string, plan PlanType, endsAt time.Time) error
	SetStripeCustomer(ctx context.Context, userID, customerID string) error
}
