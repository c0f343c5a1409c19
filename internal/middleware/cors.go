package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/clipzy/clipzy-server/internal/config"
)

// CORS answers only the listed origins. An entry may carry one "*" to match
// any subdomain, e.g. "https://*.example.com". Requests from other origins
// get no CORS headers at all.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         config.CORSMaxAge,
	})
}
