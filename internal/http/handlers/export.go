package handlers

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stagehand/internal/domain"
	"stagehand/pkg/zip"
)

var exportClient = &http.Client{Timeout: 30 * time.Second}

// Export streams a zip of the user's completed generations. Assets
// whose bytes cannot be resolved still appear in the manifest so the
// user sees what was skipped.
func (a *App) Export(w http.ResponseWriter, r *http.Request) {
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

	var assets []zip.Asset
	for _, g := range gens {
		if g.Status != domain.StatusCompleted || g.GeneratedURL == "" {
			continue
		}
		data, mime := resolveImage(r.Context(), g.GeneratedURL)
		assets = append(assets, zip.Asset{
			Filename: exportFilename(&g, mime),
			MIME:     mime,
			Data:     data,
		})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no completed generations to export")
		return
	}

	archive := zip.ArchiveAssets(assets)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=generations-%s.zip", time.Now().UTC().Format("20060102")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// resolveImage fetches the generated image bytes from an http(s) URL or
// decodes an inline data URI. Failures return nil data.
func resolveImage(ctx context.Context, ref string) ([]byte, string) {
	switch {
	case strings.HasPrefix(ref, "data:"):
		return decodeDataURI(ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, "application/octet-stream"
		}
		resp, err := exportClient.Do(req)
		if err != nil {
			return nil, "application/octet-stream"
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, "application/octet-stream"
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		if err != nil {
			return nil, "application/octet-stream"
		}
		mime := resp.Header.Get("Content-Type")
		if mime == "" {
			mime = "application/octet-stream"
		}
		return data, mime
	}
	return nil, "application/octet-stream"
}

func decodeDataURI(uri string) ([]byte, string) {
	rest := strings.TrimPrefix(uri, "data:")
	semi := strings.Index(rest, ";base64,")
	if semi < 0 {
		return nil, "application/octet-stream"
	}
	mime := rest[:semi]
	data, err := base64.StdEncoding.DecodeString(rest[semi+len(";base64,"):])
	if err != nil {
		return nil, mime
	}
	return data, mime
}

func exportFilename(g *domain.Generation, mime string) string {
	ext := ".png"
	switch mime {
	case "image/jpeg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	}
	return fmt.Sprintf("%s-%s%s", g.CreatedAt.UTC().Format("20060102"), g.ID[:8], ext)
}
