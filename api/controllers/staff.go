package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lealtad-backend/api/middleware"
	"github.com/angelmondragon/lealtad-backend/api/validators"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
)

func requireStaff(r *http.Request) (middleware.Staff, error) {
	staff, ok := middleware.StaffFromContext(r.Context())
	if !ok || staff.ID == "" {
		return middleware.Staff{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "staff context missing")
	}
	return staff, nil
}

// venueFor picks the venue a write applies to. Missing venues fall back to the
// staff member's own; cashiers cannot act for another venue.
func venueFor(staff middleware.Staff, requested *uuid.UUID) (*uuid.UUID, error) {
	if requested == nil || *requested == uuid.Nil {
		return staff.VenueID, nil
	}
	if staff.Role == enums.StaffRoleCashier && staff.VenueID != nil && *staff.VenueID != *requested {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff may only act at their own venue")
	}
	return requested, nil
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := validators.ParseQueryTime(r, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := validators.ParseQueryTime(r, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}
