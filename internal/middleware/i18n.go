package middleware

import (
	"context"
	"net/http"

	"stagehand/internal/i18n"
)

type localeContextKey struct{}

var LocaleKey = localeContextKey{}

// I18N resolves the request locale from X-Locale, then Accept-Language,
// then the configured default, and stores the matched tag in the context.
func I18N(defaultLocale string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := detectLocale(r, defaultLocale)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, fallback string) string {
	if v := r.Header.Get("X-Locale"); v != "" {
		return i18n.Match(v)
	}
	if v := r.Header.Get("Accept-Language"); v != "" {
		return i18n.Match(v)
	}
	if fallback != "" {
		return i18n.Match(fallback)
	}
	return i18n.DefaultLocale
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok && v != "" {
		return v
	}
	return i18n.DefaultLocale
}
