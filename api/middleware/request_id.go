package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/lealtad-backend/pkg/logger"
)

const (
	requestIDHeader  = "X-Request-Id"
	terminalIDHeader = "X-Terminal-Id"
	maxHeaderIDLen   = 128
)

// RequestID echoes or mints X-Request-Id and tags the log context with it and
// with the counter terminal's X-Terminal-Id when the device sends one.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := headerID(r, requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)

			if logg != nil {
				ctx := logg.WithRequestID(r.Context(), reqID)
				if terminal := headerID(r, terminalIDHeader); terminal != "" {
					ctx = logg.WithField(ctx, "terminal_id", terminal)
				}
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// headerID returns a trimmed header value, or "" when it is missing or too
// long to trust.
func headerID(r *http.Request, name string) string {
	v := strings.TrimSpace(r.Header.Get(name))
	if len(v) > maxHeaderIDLen {
		return ""
	}
	return v
}
