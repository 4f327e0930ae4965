package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"stagehand/internal/domain"
	"stagehand/internal/engine"
	"stagehand/internal/i18n"
	"stagehand/internal/middleware"
)

type generationResponse struct {
	ID           string         `json:"id"`
	Status       string         `json:"status"`
	OriginalURL  string         `json:"original_url"`
	GeneratedURL string         `json:"generated_url,omitempty"`
	Style        string         `json:"style,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

func toResponse(g *domain.Generation) generationResponse {
	return generationResponse{
		ID:           g.ID,
		Status:       string(g.Status),
		OriginalURL:  g.OriginalURL,
		GeneratedURL: g.GeneratedURL,
		Style:        g.Style,
		Metadata:     g.Metadata,
		CreatedAt:    g.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    g.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Generate submits one photo: multipart field "image" plus mode, style
// and prompt form values. Responds 202 with the queued record.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	locale := middleware.LocaleFromContext(r.Context())

	assets, err := a.readImages(w, r, false)
	if err != nil {
		a.assetError(w, locale, err)
		return
	}
	params := paramsFromForm(r)

	a.Listener.Watch(userID)
	gen, err := a.Engine.Submit(r.Context(), userID, assets[0], params, nil)
	if err != nil {
		a.submitError(w, r.Context(), userID, locale, err)
		return
	}
	a.json(w, http.StatusAccepted, toResponse(gen))
}

// GenerateBatch submits a set of photos under "images". The pipelines
// run detached from the request; the response carries a batch id whose
// item tiles are polled via BatchStatus.
func (a *App) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	locale := middleware.LocaleFromContext(r.Context())

	assets, err := a.readImages(w, r, true)
	if err != nil {
		a.assetError(w, locale, err)
		return
	}
	params := paramsFromForm(r)

	a.Listener.Watch(userID)
	coord := a.Engine.NewBatch(userID, params, assets)
	batchID := uuid.NewString()
	a.putBatch(batchID, &batchSession{userID: userID, coord: coord})

	// Item pipelines and the aggregate notification outlive the request.
	started, err := coord.Submit(context.WithoutCancel(r.Context()))
	if err != nil {
		a.dropBatch(batchID)
		a.submitError(w, r.Context(), userID, locale, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{
		"batch_id": batchID,
		"started":  started,
		"total":    len(assets),
		"items":    toItemResponses(coord.Items()),
	})
}

// BatchStatus returns the batch's live item tiles.
func (a *App) BatchStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	s, ok := a.batch(chi.URLParam(r, "batch_id"))
	if !ok || s.userID != userID {
		a.error(w, http.StatusNotFound, "not_found", "batch not found")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"items":     toItemResponses(s.coord.Items()),
		"completed": s.coord.CompletedCount(),
	})
}

// BatchClear tears the batch session down. Live generations keep
// reconciling; only the tiles go away.
func (a *App) BatchClear(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	id := chi.URLParam(r, "batch_id")
	s, ok := a.batch(id)
	if !ok || s.userID != userID {
		a.error(w, http.StatusNotFound, "not_found", "batch not found")
		return
	}
	s.coord.Clear()
	a.dropBatch(id)
	w.WriteHeader(http.StatusNoContent)
}

// Status answers from the reconciled local view first and falls back to
// the authoritative store for records this process never tracked.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	id := chi.URLParam(r, "id")
	if gen, ok := a.Engine.View().Get(id); ok {
		if gen.UserID != userID {
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
			return
		}
		a.json(w, http.StatusOK, toResponse(&gen))
		return
	}
	gen, err := a.Generations.GetByID(r.Context(), id)
	if err != nil || gen.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
		return
	}
	a.json(w, http.StatusOK, toResponse(gen))
}

// List returns the user's generations newest first.
func (a *App) List(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	gens, err := a.Generations.ListByUser(r.Context(), userID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load generations")
		return
	}
	items := make([]generationResponse, 0, len(gens))
	for _, g := range gens {
		items = append(items, toResponse(&g))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

type batchItemResponse struct {
	ID             string `json:"id"`
	Filename       string `json:"filename"`
	GenerationID   string `json:"generation_id,omitempty"`
	Status         string `json:"status"`
	UploadProgress int    `json:"upload_progress"`
	Error          string `json:"error,omitempty"`
}

func toItemResponses(items []domain.BatchItem) []batchItemResponse {
	out := make([]batchItemResponse, 0, len(items))
	for _, it := range items {
		resp := batchItemResponse{
			ID:             it.ID,
			Filename:       it.Filename,
			GenerationID:   it.GenerationID,
			Status:         string(it.Status),
			UploadProgress: it.UploadProgress,
		}
		if it.Err != nil {
			resp.Error = it.Err.Error()
		}
		out = append(out, resp)
	}
	return out
}

type refineRequest struct {
	Prompt string `json:"prompt"`
}

// Refine re-runs a completed generation with an extra instruction.
func (a *App) Refine(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	locale := middleware.LocaleFromContext(r.Context())
	var req refineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt required")
		return
	}

	a.Listener.Watch(userID)
	gen, err := a.Engine.Refine(r.Context(), userID, chi.URLParam(r, "id"), req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnauthorized):
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
		case errors.Is(err, domain.ErrInvalidAsset):
			a.error(w, http.StatusConflict, "not_refinable", "generation is not completed")
		default:
			a.submitError(w, r.Context(), userID, locale, err)
		}
		return
	}
	a.json(w, http.StatusAccepted, toResponse(gen))
}

// readImages parses the multipart form and returns the validated image
// assets; single mode reads field "image", batch mode reads "images".
func (a *App) readImages(w http.ResponseWriter, r *http.Request, batch bool) ([]engine.Asset, error) {
	maxBytes := a.Config.MaxUploadBytes
	limit := maxBytes + 1<<20 // form overhead headroom
	if batch {
		limit = 20 * maxBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, domain.ErrInvalidAsset
	}
	field := "image"
	if batch {
		field = "images"
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return nil, domain.ErrInvalidAsset
	}
	if !batch {
		files = files[:1]
	}

	assets := make([]engine.Asset, 0, len(files))
	for _, fh := range files {
		asset, err := a.readImage(fh, maxBytes)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

func (a *App) readImage(fh *multipart.FileHeader, maxBytes int64) (engine.Asset, error) {
	if fh.Size > maxBytes {
		return engine.Asset{}, errImageTooLarge
	}
	contentType := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return engine.Asset{}, domain.ErrInvalidAsset
	}
	f, err := fh.Open()
	if err != nil {
		return engine.Asset{}, domain.ErrInvalidAsset
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil || int64(len(data)) > maxBytes {
		return engine.Asset{}, errImageTooLarge
	}
	return engine.Asset{Filename: fh.Filename, ContentType: contentType, Data: data}, nil
}

var errImageTooLarge = errors.New("image exceeds size limit")

func paramsFromForm(r *http.Request) domain.GenerationParams {
	mode := domain.Mode(r.FormValue("mode"))
	if mode != domain.ModeRemoval {
		mode = domain.ModeStaging
	}
	return domain.GenerationParams{
		Mode:   mode,
		Style:  r.FormValue("style"),
		Prompt: r.FormValue("prompt"),
	}
}

func (a *App) assetError(w http.ResponseWriter, locale string, err error) {
	if errors.Is(err, errImageTooLarge) {
		mb := a.Config.MaxUploadBytes >> 20
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", i18n.T(locale, i18n.MsgImageTooLarge, mb))
		return
	}
	a.error(w, http.StatusBadRequest, "invalid_image", i18n.T(locale, i18n.MsgInvalidImage))
}

// submitError maps pipeline failures onto HTTP codes; quota rejections
// carry the localized tier message and an upgrade URL when available.
func (a *App) submitError(w http.ResponseWriter, ctx context.Context, userID, locale string, err error) {
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		body := map[string]any{
			"error":   "quota_exceeded",
			"message": a.quotaMessage(ctx, userID, locale),
		}
		if url := a.upgradeURL(ctx, userID); url != "" {
			body["checkout_url"] = url
		}
		a.json(w, http.StatusForbidden, body)
	case errors.Is(err, domain.ErrUploadFailed):
		a.error(w, http.StatusBadGateway, "upload_failed", i18n.T(locale, i18n.MsgUploadFailed))
	case errors.Is(err, domain.ErrDispatchFailed):
		a.error(w, http.StatusBadGateway, "dispatch_failed", i18n.T(locale, i18n.MsgDispatchFailed))
	case errors.Is(err, domain.ErrInvalidAsset):
		a.error(w, http.StatusBadRequest, "invalid_image", i18n.T(locale, i18n.MsgInvalidImage))
	default:
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("http: submission failed")
		a.error(w, http.StatusInternalServerError, "internal", "submission failed")
	}
}

func (a *App) quotaMessage(ctx context.Context, userID, locale string) string {
	ceiling := 0
	if prof, err := a.Engine.Profile(ctx, userID); err == nil {
		ceiling = prof.Ceiling()
	}
	return i18n.T(locale, i18n.MsgQuotaExceeded, ceiling)
}

// upgradeURL asks the checkout collaborator for the next tier up.
// Best effort; a billing hiccup never masks the quota error itself.
func (a *App) upgradeURL(ctx context.Context, userID string) string {
	if a.Checkout == nil {
		return ""
	}
	prof, err := a.Engine.Profile(ctx, userID)
	if err != nil {
		return ""
	}
	var next domain.PlanType
	switch prof.PlanType {
	case domain.PlanTrial:
		next = domain.PlanBasic
	case domain.PlanBasic:
		next = domain.PlanStandard
	case domain.PlanStandard:
		next = domain.PlanPro
	default:
		return ""
	}
	url, err := a.Checkout.CreateSession(ctx, userID, next)
	if err != nil {
		a.Logger.Debug().Err(err).Str("user_id", userID).Msg("http: checkout url unavailable")
		return ""
	}
	return url
}
