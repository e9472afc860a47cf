package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lealtad-backend/api/responses"
	"github.com/angelmondragon/lealtad-backend/api/validators"
	"github.com/angelmondragon/lealtad-backend/internal/visits"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
)

type recordVisitRequest struct {
	CustomerID       uuid.UUID  `json:"customer_id" validate:"required"`
	VenueID          *uuid.UUID `json:"venue_id,omitempty"`
	Source           string     `json:"source" validate:"omitempty,oneof=scan manual bonus"`
	CountsTowardTier *bool      `json:"counts_toward_tier,omitempty"`
}

// VisitRecord appends a visit for a resolved customer. Bonus credits are
// reserved for managers and system callers.
func VisitRecord(svc visits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "visit service unavailable"))
			return
		}
		staff, err := requireStaff(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req recordVisitRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		source := enums.VisitSourceScan
		if req.Source != "" {
			source = enums.VisitSource(req.Source)
		}
		if source == enums.VisitSourceBonus && staff.Role == enums.StaffRoleCashier {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "bonus credits require a manager"))
			return
		}
		venueID := req.VenueID
		if source != enums.VisitSourceBonus {
			if venueID, err = venueFor(staff, req.VenueID); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		counts := true
		if req.CountsTowardTier != nil {
			counts = *req.CountsTowardTier
		}

		ctx := logg.WithCustomerID(r.Context(), req.CustomerID.String())
		result, err := svc.RecordVisit(ctx, visits.RecordVisitInput{
			CustomerID:       req.CustomerID,
			VenueID:          venueID,
			CountsTowardTier: counts,
			Source:           source,
			StaffID:          staff.ID,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

type externalStateRequest struct {
	CustomerID uuid.UUID  `json:"customer_id" validate:"required"`
	VenueID    *uuid.UUID `json:"venue_id,omitempty"`
	Value      string     `json:"value" validate:"required,max=64"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

// ExternalStateRecord stores a state change reported by a collaborating system.
func ExternalStateRecord(svc visits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "visit service unavailable"))
			return
		}
		var req externalStateRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := visits.RecordExternalStateInput{
			CustomerID: req.CustomerID,
			VenueID:    req.VenueID,
			Value:      validators.SanitizeString(req.Value, 64),
		}
		if req.OccurredAt != nil {
			input.OccurredAt = *req.OccurredAt
		}
		ctx := logg.WithCustomerID(r.Context(), req.CustomerID.String())
		row, err := svc.RecordExternalState(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, row)
	}
}

// VenueVisits lists ledger rows written at one venue.
func VenueVisits(svc visits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "visit service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "venueId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		from, to, err := parseRange(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListByVenue(logg.WithVenueID(r.Context(), id.String()), id, from, to)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}
