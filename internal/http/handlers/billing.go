package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"stagehand/internal/billing"
	"stagehand/internal/domain"
)

type checkoutRequest struct {
	PlanID string `json:"plan_id"`
}

// CheckoutCreate starts a plan purchase and returns the redirect URL.
func (a *App) CheckoutCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if a.Checkout == nil {
		a.error(w, http.StatusNotImplemented, "unavailable", "billing is not configured")
		return
	}
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	url, err := a.Checkout.CreateSession(r.Context(), userID, domain.PlanType(req.PlanID))
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedPlan) {
			a.error(w, http.StatusBadRequest, "bad_request", "unsupported plan")
			return
		}
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("http: checkout failed")
		a.error(w, http.StatusBadGateway, "checkout_failed", "could not start checkout")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"url": url})
}

// BillingWebhook applies subscription lifecycle events from the payment
// collaborator. Unknown event types are acknowledged and ignored so the
// sender does not retry them.
func (a *App) BillingWebhook(w http.ResponseWriter, r *http.Request) {
	var ev billing.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if ev.Type != billing.EventCheckoutCompleted {
		a.json(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	customer, plan, endsAt, err := ev.Apply(a.Prices)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("http: rejected billing event")
		a.error(w, http.StatusBadRequest, "bad_request", "unprocessable event")
		return
	}
	if err := a.Profiles.UpdatePlanByCustomer(r.Context(), customer, plan, endsAt); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "unknown customer")
			return
		}
		a.Logger.Error().Err(err).Str("customer", customer).Msg("http: plan update failed")
		a.error(w, http.StatusInternalServerError, "internal", "plan update failed")
		return
	}
	a.Logger.Info().Str("customer", customer).Str("plan", string(plan)).Msg("http: plan updated")
	a.json(w, http.StatusOK, map[string]string{"status": "applied"})
}
