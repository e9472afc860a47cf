package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS applies the configured origin policy for browser-based terminals.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id", "X-Terminal-Id"},
		ExposedHeaders:   []string{"X-Request-Id", IdempotentReplayHeader, "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler
}
