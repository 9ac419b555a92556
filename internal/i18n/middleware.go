package i18n

import "net/http"

// Middleware picks the request language and stores a localizer for it. An
// explicit ?lang= query parameter wins, then Accept-Language, then lang.
func Middleware(lang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			prefs := []string{r.Header.Get("Accept-Language"), lang}
			if q := r.URL.Query().Get("lang"); q != "" {
				prefs = append([]string{q}, prefs...)
			}
			loc := NewLocalizer(prefs...)
			w.Header().Set("Vary", "Accept-Language")
			next.ServeHTTP(w, r.WithContext(WithLocalizer(r.Context(), loc)))
		})
	}
}
