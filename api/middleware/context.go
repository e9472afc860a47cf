package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/lealtad-backend/pkg/enums"
)

type contextKey string

const ctxStaff contextKey = "staff"

// Staff is the authenticated caller behind a request.
type Staff struct {
	ID      string
	VenueID *uuid.UUID
	Role    enums.StaffRole
}

// StaffFromContext returns the staff identity seeded by Auth.
func StaffFromContext(ctx context.Context) (Staff, bool) {
	if ctx == nil {
		return Staff{}, false
	}
	staff, ok := ctx.Value(ctxStaff).(Staff)
	return staff, ok
}

// WithStaff injects the staff identity into the context.
func WithStaff(ctx context.Context, staff Staff) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxStaff, staff)
}
