package domain

import "time"

// PlanType enumerates subscription tiers.
type PlanType string

const (
	PlanTrial      PlanType = "trial"
	PlanBasic      PlanType = "basic"
	PlanStandard   PlanType = "standard"
	PlanPro        PlanType = "pro"
	PlanEnterprise PlanType = "enterprise"
)

// UnboundedCeiling marks a tier without a per-period generation limit.
const UnboundedCeiling = -1

// Ceiling returns the number of generations the tier permits per
// accounting period, or UnboundedCeiling for pro and enterprise.
func (p PlanType) Ceiling() int {
	switch p {
	case PlanBasic:
		return 10
	case PlanStandard:
		return 50
	case PlanPro, PlanEnterprise:
		return UnboundedCeiling
	default:
		return 3
	}
}

// Valid reports whether p is a known tier.
func (p PlanType) Valid() bool {
	switch p {
	case PlanTrial, PlanBasic, PlanStandard, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// Profile is the authoritative usage/subscription record for a user.
// The engine only reads it; tier and usage are mutated server-side by
// job creation and by the billing webhook.
type Profile struct {
	ID                 string
	Email              string
	FullName           string
	AvatarURL          string
	PlanType           PlanType
	GenerationCount    int
	StripeCustomerID   string
	SubscriptionEndsAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Ceiling returns the profile's tier-derived generation ceiling.
func (p *Profile) Ceiling() int {
	return p.PlanType.Ceiling()
}
