package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/lealtad-backend/pkg/config"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
)

var jwtSigningMethod = jwt.SigningMethodHS256

var (
	errSecretRequired = errors.New("jwt secret is required")
	errIssuerRequired = errors.New("jwt issuer is required")
)

// MintStaffToken issues a signed staff JWT using the configured TTL. Tokens
// are normally minted by the back office; the API only verifies them.
func MintStaffToken(cfg config.JWTConfig, now time.Time, payload StaffTokenPayload) (string, error) {
	if cfg.Secret == "" {
		return "", errSecretRequired
	}
	if cfg.Issuer == "" {
		return "", errIssuerRequired
	}
	ttl := cfg.Expiration()
	if ttl <= 0 {
		return "", fmt.Errorf("jwt expiration minutes must be positive")
	}
	if strings.TrimSpace(payload.StaffID) == "" {
		return "", fmt.Errorf("staff id is required")
	}
	if !payload.Role.IsValid() {
		return "", fmt.Errorf("invalid staff role %q", payload.Role)
	}
	if payload.Role == enums.StaffRoleCashier && payload.VenueID == nil {
		return "", fmt.Errorf("cashier tokens must be scoped to a venue")
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := StaffClaims{
		StaffID: strings.TrimSpace(payload.StaffID),
		VenueID: payload.VenueID,
		Role:    payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   strings.TrimSpace(payload.StaffID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseStaffToken validates the JWT string and returns typed claims.
func ParseStaffToken(cfg config.JWTConfig, tokenString string) (*StaffClaims, error) {
	if cfg.Secret == "" {
		return nil, errSecretRequired
	}

	claims := &StaffClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (any, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.StaffID) == "" {
		return nil, fmt.Errorf("token missing staff_id")
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("token carries unknown role %q", claims.Role)
	}
	return claims, nil
}
