package i18n

import (
	"net/http"
)

// Middleware picks the response locale from Accept-Language. Requests that
// name no supported language get fallback, which is the pharmacy's own
// language rather than the catalog default. The chosen locale is echoed in
// Content-Language.
func Middleware(fallback string) func(http.Handler) http.Handler {
	if !Supported(fallback) {
		fallback = DefaultLocale
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale, ok := MatchAcceptLanguage(r.Header.Get("Accept-Language"))
			if !ok {
				locale = fallback
			}

			w.Header().Set("Content-Language", locale)
			next.ServeHTTP(w, r.WithContext(WithLocale(r.Context(), locale)))
		})
	}
}
