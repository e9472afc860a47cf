package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/lealtad-backend/api/responses"
	"github.com/angelmondragon/lealtad-backend/api/validators"
	"github.com/angelmondragon/lealtad-backend/internal/redemptions"
	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
)

// Redeemer commits a benefit claim.
type Redeemer interface {
	Redeem(ctx context.Context, input redemptions.RedeemInput) (*redemptions.ResultDTO, error)
}

type redeemRequest struct {
	CustomerID uuid.UUID  `json:"customer_id" validate:"required"`
	BenefitID  uuid.UUID  `json:"benefit_id" validate:"required"`
	VenueID    *uuid.UUID `json:"venue_id,omitempty"`
}

func RedemptionCreate(svc Redeemer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "redemption service unavailable"))
			return
		}
		staff, err := requireStaff(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req redeemRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		venueID := req.VenueID
		if venueID == nil {
			venueID = staff.VenueID
		}
		if venueID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "venue_id is required"))
			return
		}

		ctx := logg.WithFields(r.Context(), map[string]any{
			"customer_id": req.CustomerID.String(),
			"benefit_id":  req.BenefitID.String(),
		})
		result, err := svc.Redeem(ctx, redemptions.RedeemInput{
			CustomerID: req.CustomerID,
			BenefitID:  req.BenefitID,
			VenueID:    *venueID,
			Staff: redemptions.StaffContext{
				StaffID: staff.ID,
				VenueID: staff.VenueID,
				Role:    staff.Role,
			},
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
