package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/lealtad-backend/api/responses"
	pkgauth "github.com/angelmondragon/lealtad-backend/pkg/auth"
	"github.com/angelmondragon/lealtad-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
)

// Auth validates the staff bearer token and seeds the request context with it.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseStaffToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithStaff(r.Context(), Staff{
				ID:      claims.StaffID,
				VenueID: claims.VenueID,
				Role:    claims.Role,
			})
			if logg != nil {
				ctx = logg.WithStaffID(ctx, claims.StaffID)
				ctx = logg.WithField(ctx, "staff_role", string(claims.Role))
				if claims.VenueID != nil {
					ctx = logg.WithVenueID(ctx, claims.VenueID.String())
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) string {
	token := strings.TrimSpace(header)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}
