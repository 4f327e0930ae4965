// Package billing is the boundary to the payment collaborator: a
// pass-through checkout initiation client and the webhook data
// contract. Signature verification and checkout page construction
// happen on the collaborator's side.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"stagehand/internal/domain"
)

// PriceMap maps the payment processor's price identifiers to plan tiers.
type PriceMap struct {
	Basic    string
	Standard string
	Pro      string
}

// Plan resolves a price id to a tier.
func (m PriceMap) Plan(priceID string) (domain.PlanType, bool) {
	switch priceID {
	case m.Basic:
		return domain.PlanBasic, priceID != ""
	case m.Standard:
		return domain.PlanStandard, priceID != ""
	case m.Pro:
		return domain.PlanPro, priceID != ""
	}
	return "", false
}

// Price resolves a plan tier to the processor's price id.
func (m PriceMap) Price(plan domain.PlanType) (string, bool) {
	switch plan {
	case domain.PlanBasic:
		return m.Basic, m.Basic != ""
	case domain.PlanStandard:
		return m.Standard, m.Standard != ""
	case domain.PlanPro:
		return m.Pro, m.Pro != ""
	}
	return "", false
}

// CheckoutClient asks the checkout collaborator for a redirect URL for
// a plan purchase. It is invoked from the quota gate's rejection path
// and from the pricing surface.
type CheckoutClient struct {
	baseURL string
	client  *http.Client
}

// NewCheckoutClient builds the pass-through client. client may be nil.
func NewCheckoutClient(baseURL string, client *http.Client) *CheckoutClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &CheckoutClient{baseURL: baseURL, client: client}
}

type checkoutRequest struct {
	PlanID string `json:"plan_id"`
	UserID string `json:"user_id"`
}

type checkoutResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// CreateSession returns the redirect URL for the plan purchase.
func (c *CheckoutClient) CreateSession(ctx context.Context, userID string, plan domain.PlanType) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("billing: checkout endpoint not configured")
	}
	if !plan.Valid() || plan == domain.PlanTrial {
		return "", domain.ErrUnsupportedPlan
	}
	body, _ := json.Marshal(checkoutRequest{PlanID: string(plan), UserID: userID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("billing: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("billing: checkout: %w", err)
	}
	defer resp.Body.Close()

	var out checkoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("billing: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.URL == "" {
		if out.Error != "" {
			return "", fmt.Errorf("billing: checkout rejected: %s", out.Error)
		}
		return "", fmt.Errorf("billing: checkout returned %d", resp.StatusCode)
	}
	return out.URL, nil
}

// WebhookEvent is the subscription-lifecycle payload delivered by the
// billing collaborator. Only checkout.session.completed is consumed.
type WebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			Customer         string `json:"customer"`
			Subscription     string `json:"subscription"`
			PriceID          string `json:"price_id"`
			CurrentPeriodEnd int64  `json:"current_period_end"` // unix seconds
		} `json:"object"`
	} `json:"data"`
}

// EventCheckoutCompleted is the only webhook type that mutates a profile.
const EventCheckoutCompleted = "checkout.session.completed"

// Apply maps the event onto a profile plan update. It returns the
// customer id, resolved plan, and period end.
func (e WebhookEvent) Apply(prices PriceMap) (customer string, plan domain.PlanType, endsAt time.Time, err error) {
	if e.Type != EventCheckoutCompleted {
		return "", "", time.Time{}, fmt.Errorf("billing: unhandled event type %q", e.Type)
	}
	obj := e.Data.Object
	if obj.Customer == "" {
		return "", "", time.Time{}, fmt.Errorf("billing: event missing customer")
	}
	plan, ok := prices.Plan(obj.PriceID)
	if !ok {
		return "", "", time.Time{}, fmt.Errorf("billing: unknown price %q", obj.PriceID)
	}
	return obj.Customer, plan, time.Unix(obj.CurrentPeriodEnd, 0).UTC(), nil
}
