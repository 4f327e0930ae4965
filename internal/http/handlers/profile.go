package handlers

import (
	"net/http"
	"time"

	"stagehand/internal/domain"
	"stagehand/internal/engine"
)

type profileResponse struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	FullName           string `json:"full_name,omitempty"`
	PlanType           string `json:"plan_type"`
	GenerationCount    int    `json:"generation_count"`
	GenerationCeiling  int    `json:"generation_ceiling"`
	Remaining          int    `json:"remaining"`
	SubscriptionEndsAt string `json:"subscription_ends_at,omitempty"`
}

// Me returns the cached profile with tier-derived quota headroom.
// Pass refresh=1 to force an authoritative re-read.
func (a *App) Me(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var (
		prof *domain.Profile
		err  error
	)
	if r.URL.Query().Get("refresh") == "1" {
		prof, err = a.Engine.RefreshProfile(r.Context(), userID)
	} else {
		prof, err = a.Engine.Profile(r.Context(), userID)
	}
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "profile not found")
		return
	}

	resp := profileResponse{
		ID:                prof.ID,
		Email:             prof.Email,
		FullName:          prof.FullName,
		PlanType:          string(prof.PlanType),
		GenerationCount:   prof.GenerationCount,
		GenerationCeiling: prof.Ceiling(),
	}
	if resp.GenerationCeiling == domain.UnboundedCeiling {
		resp.Remaining = domain.UnboundedCeiling
	} else if n := resp.GenerationCeiling - prof.GenerationCount; n > 0 {
		resp.Remaining = n
	}
	if prof.SubscriptionEndsAt != nil {
		resp.SubscriptionEndsAt = prof.SubscriptionEndsAt.UTC().Format(time.RFC3339)
	}
	a.json(w, http.StatusOK, resp)
}

// Notifications drains and returns the user's pending notices.
func (a *App) Notifications(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	notices := a.Notifier.Drain(userID)
	if notices == nil {
		notices = []engine.Notice{}
	}
	a.json(w, http.StatusOK, map[string]any{"items": notices, "count": len(notices)})
}
