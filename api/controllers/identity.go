package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/lealtad-backend/api/responses"
	"github.com/angelmondragon/lealtad-backend/api/validators"
	"github.com/angelmondragon/lealtad-backend/internal/benefits"
	"github.com/angelmondragon/lealtad-backend/internal/customers"
	"github.com/angelmondragon/lealtad-backend/internal/identity"
	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
)

// CodeResolver maps a presented code to a single customer.
type CodeResolver interface {
	Resolve(ctx context.Context, input string) (*identity.Resolution, error)
}

type codeRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// ScanResponse is what the terminal renders after a successful scan.
type ScanResponse struct {
	Customer    customers.CustomerDTO    `json:"customer"`
	Tier        benefits.TierDTO         `json:"tier"`
	Eligibility *benefits.EligibilityDTO `json:"eligibility"`
}

// ResolveCode returns the customer behind a code without evaluating benefits.
func ResolveCode(resolver CodeResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if resolver == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "code resolver unavailable"))
			return
		}
		var req codeRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resolution, err := resolver.Resolve(r.Context(), req.Code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resolution)
	}
}

// Scan resolves a code and evaluates the customer's benefits in one round trip.
func Scan(resolver CodeResolver, eligibility benefits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if resolver == nil || eligibility == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "scan services unavailable"))
			return
		}
		var req codeRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resolution, err := resolver.Resolve(r.Context(), req.Code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := logg.WithCustomerID(r.Context(), resolution.Customer.ID.String())
		result, err := eligibility.GetEligibility(ctx, resolution.Customer.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, ScanResponse{
			Customer:    resolution.Customer,
			Tier:        result.Tier,
			Eligibility: result,
		})
	}
}
