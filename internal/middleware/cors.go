// Package middleware holds HTTP middleware shared by all routes.
package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// CORS returns middleware that admits cross-origin requests from the given
// origins. An entry may use one wildcard, as in "https://*.onrender.com".
// An empty list admits no origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(origins))
	for _, raw := range origins {
		origin := strings.TrimRight(strings.TrimSpace(raw), "/")
		if origin != "" {
			allowed = append(allowed, origin)
		}
	}

	opts := cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}
	if len(allowed) == 0 {
		// cors treats an empty list as "*".
		opts.AllowOriginFunc = func(*http.Request, string) bool { return false }
	}
	return cors.Handler(opts)
}
