package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/lealtad-backend/api/responses"
	"github.com/angelmondragon/lealtad-backend/api/validators"
	"github.com/angelmondragon/lealtad-backend/internal/benefits"
	"github.com/angelmondragon/lealtad-backend/internal/customers"
	"github.com/angelmondragon/lealtad-backend/internal/visits"
	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
)

type registerCustomerRequest struct {
	ID     *uuid.UUID `json:"id,omitempty"`
	Phone  string     `json:"phone" validate:"required,max=32"`
	Secret string     `json:"secret,omitempty" validate:"omitempty,max=256"`
}

// CustomerRegister accepts a customer from the registration intake.
func CustomerRegister(svc customers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "customer service unavailable"))
			return
		}
		var req registerCustomerRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		customer, err := svc.Register(r.Context(), customers.RegisterInput{
			ID:     req.ID,
			Phone:  validators.SanitizeString(req.Phone, 32),
			Secret: req.Secret,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, customer)
	}
}

func CustomerGet(svc customers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "customer service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "customerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		customer, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, customer)
	}
}

// CustomerCode returns the code window the customer's device should be showing.
func CustomerCode(svc customers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "customer service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "customerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		window, err := svc.CurrentCodes(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		responses.WriteSuccess(w, window)
	}
}

func CustomerEligibility(svc benefits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "eligibility service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "customerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.GetEligibility(logg.WithCustomerID(r.Context(), id.String()), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// CustomerVisits lists ledger rows for one customer in [from, to).
func CustomerVisits(svc visits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "visit service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "customerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		from, to, err := parseRange(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListByCustomer(r.Context(), id, from, to)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}
