package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/lealtad-backend/api/middleware"
	"github.com/angelmondragon/lealtad-backend/internal/benefits"
	"github.com/angelmondragon/lealtad-backend/internal/customers"
	"github.com/angelmondragon/lealtad-backend/internal/identity"
	"github.com/angelmondragon/lealtad-backend/internal/redemptions"
	"github.com/angelmondragon/lealtad-backend/internal/visits"
	"github.com/angelmondragon/lealtad-backend/pkg/config"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "controllers-test", Output: io.Discard})
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code      string `json:"code"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func jsonRequest(t *testing.T, method, target string, body any, staff *middleware.Staff) *http.Request {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if staff != nil {
		req = req.WithContext(middleware.WithStaff(req.Context(), *staff))
	}
	return req
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

type fakeResolver struct {
	resolution *identity.Resolution
	err        error
	codes      []string
}

func (f *fakeResolver) Resolve(_ context.Context, input string) (*identity.Resolution, error) {
	f.codes = append(f.codes, input)
	return f.resolution, f.err
}

type fakeEligibility struct {
	result *benefits.EligibilityDTO
	err    error
}

func (f *fakeEligibility) GetEligibility(_ context.Context, customerID uuid.UUID) (*benefits.EligibilityDTO, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *f.result
	out.CustomerID = customerID
	return &out, nil
}

func TestScanReturnsCustomerTierAndEligibility(t *testing.T) {
	customer := customers.CustomerDTO{ID: uuid.New(), Phone: "+525512345678", State: enums.CustomerStateActive}
	resolver := &fakeResolver{resolution: &identity.Resolution{Customer: customer, Step: 42}}
	eligibility := &fakeEligibility{result: &benefits.EligibilityDTO{
		Tier:      benefits.TierDTO{ID: uuid.New(), Name: "Plata", Rank: 1},
		Claimable: []benefits.BenefitStatusDTO{{BenefitID: uuid.New(), Name: "Café gratis"}},
	}}

	rec := httptest.NewRecorder()
	Scan(resolver, eligibility, testLogger())(rec, jsonRequest(t, http.MethodPost, "/api/v1/scan", map[string]string{"code": "1234 5678"}, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data ScanResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, customer.ID, body.Data.Customer.ID)
	require.Equal(t, "Plata", body.Data.Tier.Name)
	require.Equal(t, customer.ID, body.Data.Eligibility.CustomerID)
	require.Len(t, body.Data.Eligibility.Claimable, 1)
	require.Equal(t, []string{"1234 5678"}, resolver.codes)
}

func TestScanSurfacesResolverErrors(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		code   pkgerrors.Code
		retry  bool
	}{
		"not found": {pkgerrors.New(pkgerrors.CodeCodeNotFound, "code not recognised"), http.StatusNotFound, pkgerrors.CodeCodeNotFound, true},
		"ambiguous": {pkgerrors.New(pkgerrors.CodeCodeAmbiguous, "ambiguous"), http.StatusConflict, pkgerrors.CodeCodeAmbiguous, true},
		"stale":     {pkgerrors.New(pkgerrors.CodeDependency, "code index is stale"), http.StatusServiceUnavailable, pkgerrors.CodeDependency, true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Scan(&fakeResolver{err: tc.err}, &fakeEligibility{}, testLogger())(rec,
				jsonRequest(t, http.MethodPost, "/api/v1/scan", map[string]string{"code": "12345678"}, nil))

			require.Equal(t, tc.status, rec.Code)
			env := decode(t, rec)
			require.Equal(t, string(tc.code), env.Error.Code)
			require.Equal(t, tc.retry, env.Error.Retryable)
		})
	}
}

func TestResolveCodeRejectsMissingCode(t *testing.T) {
	resolver := &fakeResolver{}
	rec := httptest.NewRecorder()
	ResolveCode(resolver, testLogger())(rec, jsonRequest(t, http.MethodPost, "/api/v1/codes/resolve", map[string]string{}, nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, resolver.codes)
}

type fakeCustomers struct {
	registered customers.RegisterInput
	window     *customers.CodeWindowDTO
	err        error
}

func (f *fakeCustomers) Register(_ context.Context, input customers.RegisterInput) (*customers.CustomerDTO, error) {
	f.registered = input
	if f.err != nil {
		return nil, f.err
	}
	return &customers.CustomerDTO{ID: uuid.New(), Phone: input.Phone, State: enums.CustomerStatePreRegistered}, nil
}

func (f *fakeCustomers) Get(_ context.Context, id uuid.UUID) (*customers.CustomerDTO, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &customers.CustomerDTO{ID: id}, nil
}

func (f *fakeCustomers) CurrentCodes(context.Context, uuid.UUID) (*customers.CodeWindowDTO, error) {
	return f.window, f.err
}

func TestCustomerRegisterCreates(t *testing.T) {
	svc := &fakeCustomers{}
	rec := httptest.NewRecorder()
	CustomerRegister(svc, testLogger())(rec, jsonRequest(t, http.MethodPost, "/api/v1/customers", map[string]string{"phone": " +525512345678 "}, nil))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "+525512345678", svc.registered.Phone)
	require.Empty(t, svc.registered.Secret)
}

func TestCustomerRegisterRejectsUnknownFields(t *testing.T) {
	svc := &fakeCustomers{}
	rec := httptest.NewRecorder()
	CustomerRegister(svc, testLogger())(rec, jsonRequest(t, http.MethodPost, "/api/v1/customers",
		map[string]string{"phone": "+525512345678", "tier": "Oro"}, nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCustomerCodeIsNotCached(t *testing.T) {
	svc := &fakeCustomers{window: &customers.CodeWindowDTO{Step: 7, Code: "12345678"}}
	id := uuid.New()
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/customers/"+id.String()+"/code", nil), "customerId", id.String())
	rec := httptest.NewRecorder()
	CustomerCode(svc, testLogger())(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestCustomerGetRejectsBadID(t *testing.T) {
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/customers/nope", nil), "customerId", "nope")
	rec := httptest.NewRecorder()
	CustomerGet(&fakeCustomers{}, testLogger())(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeVisits struct {
	recorded   visits.RecordVisitInput
	external   visits.RecordExternalStateInput
	from, to   time.Time
	calledWith uuid.UUID
}

func (f *fakeVisits) RecordVisit(_ context.Context, input visits.RecordVisitInput) (*visits.RecordVisitResult, error) {
	f.recorded = input
	return &visits.RecordVisitResult{Visit: visits.VisitDTO{CustomerID: input.CustomerID}}, nil
}

func (f *fakeVisits) RecordExternalState(_ context.Context, input visits.RecordExternalStateInput) (*visits.VisitDTO, error) {
	f.external = input
	return &visits.VisitDTO{CustomerID: input.CustomerID}, nil
}

func (f *fakeVisits) ListByCustomer(_ context.Context, customerID uuid.UUID, from, to time.Time) ([]visits.VisitDTO, error) {
	f.calledWith, f.from, f.to = customerID, from, to
	return []visits.VisitDTO{}, nil
}

func (f *fakeVisits) ListByVenue(_ context.Context, venueID uuid.UUID, from, to time.Time) ([]visits.VisitDTO, error) {
	f.calledWith, f.from, f.to = venueID, from, to
	return []visits.VisitDTO{}, nil
}

func TestVisitRecordDefaultsToStaffVenue(t *testing.T) {
	venue := uuid.New()
	staff := &middleware.Staff{ID: "cashier-1", VenueID: &venue, Role: enums.StaffRoleCashier}
	svc := &fakeVisits{}
	customerID := uuid.New()

	rec := httptest.NewRecorder()
	VisitRecord(svc, testLogger())(rec, jsonRequest(t, http.MethodPost, "/api/v1/visits", map[string]any{"customer_id": customerID}, staff))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, customerID, svc.recorded.CustomerID)
	require.Equal(t, &venue, svc.recorded.VenueID)
	require.Equal(t, enums.VisitSourceScan, svc.recorded.Source)
	require.True(t, svc.recorded.CountsTowardTier)
	require.Equal(t, "cashier-1", svc.recorded.StaffID)
}

func TestVisitRecordCashierLimits(t *testing.T) {
	venue := uuid.New()
	staff := &middleware.Staff{ID: "cashier-1", VenueID: &venue, Role: enums.StaffRoleCashier}

	t.Run("other venue", func(t *testing.T) {
		rec := httptest.NewRecorder()
		VisitRecord(&fakeVisits{}, testLogger())(rec, jsonRequest(t, http.MethodPost, "/api/v1/visits",
			map[string]any{"customer_id": uuid.New(), "venue_id": uuid.New()}, staff))
		require.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("bonus credit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		VisitRecord(&fakeVisits{}, testLogger())(rec, jsonRequest(t, http.MethodPost, "/api/v1/visits",
			map[string]any{"customer_id": uuid.New(), "source": "bonus"}, staff))
		require.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("feed source", func(t *testing.T) {
		rec := httptest.NewRecorder()
		VisitRecord(&fakeVisits{}, testLogger())(rec, jsonRequest(t, http.MethodPost, "/api/v1/visits",
			map[string]any{"customer_id": uuid.New(), "source": "feed"}, staff))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestVisitRecordManagerBonusHasNoVenue(t *testing.T) {
	staff := &middleware.Staff{ID: "manager-1", Role: enums.StaffRoleManager}
	svc := &fakeVisits{}
	rec := httptest.NewRecorder()
	VisitRecord(svc, testLogger())(rec, jsonRequest(t, http.MethodPost, "/api/v1/visits",
		map[string]any{"customer_id": uuid.New(), "source": "bonus", "counts_toward_tier": false}, staff))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Nil(t, svc.recorded.VenueID)
	require.Equal(t, enums.VisitSourceBonus, svc.recorded.Source)
	require.False(t, svc.recorded.CountsTowardTier)
}

func TestVisitRecordRequiresStaff(t *testing.T) {
	rec := httptest.NewRecorder()
	VisitRecord(&fakeVisits{}, testLogger())(rec, jsonRequest(t, http.MethodPost, "/api/v1/visits", map[string]any{"customer_id": uuid.New()}, nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExternalStateRecordPassesTimestamp(t *testing.T) {
	svc := &fakeVisits{}
	occurred := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	rec := httptest.NewRecorder()
	ExternalStateRecord(svc, testLogger())(rec, jsonRequest(t, http.MethodPost, "/api/v1/external-state",
		map[string]any{"customer_id": uuid.New(), "value": " washed ", "occurred_at": occurred}, nil))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "washed", svc.external.Value)
	require.True(t, occurred.Equal(svc.external.OccurredAt))
}

func TestCustomerVisitsParsesRange(t *testing.T) {
	svc := &fakeVisits{}
	id := uuid.New()
	target := "/api/v1/customers/" + id.String() + "/visits?from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z"
	rec := httptest.NewRecorder()
	CustomerVisits(svc, testLogger())(rec, withURLParam(httptest.NewRequest(http.MethodGet, target, nil), "customerId", id.String()))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, id, svc.calledWith)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), svc.from)
	require.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), svc.to)
}

func TestCustomerVisitsRejectsBadTimestamp(t *testing.T) {
	id := uuid.New()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/customers/"+id.String()+"/visits?from=yesterday", nil)
	CustomerVisits(&fakeVisits{}, testLogger())(rec, withURLParam(req, "customerId", id.String()))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeRedeemer struct {
	input redemptions.RedeemInput
	err   error
}

func (f *fakeRedeemer) Redeem(_ context.Context, input redemptions.RedeemInput) (*redemptions.ResultDTO, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return &redemptions.ResultDTO{RedemptionID: uuid.New(), CustomerID: input.CustomerID, BenefitID: input.BenefitID, VenueID: input.VenueID}, nil
}

func TestRedemptionCreatePassesStaffContext(t *testing.T) {
	venue := uuid.New()
	staff := &middleware.Staff{ID: "cashier-9", VenueID: &venue, Role: enums.StaffRoleCashier}
	svc := &fakeRedeemer{}
	rec := httptest.NewRecorder()
	RedemptionCreate(svc, testLogger())(rec, jsonRequest(t, http.MethodPost, "/api/v1/redemptions",
		map[string]any{"customer_id": uuid.New(), "benefit_id": uuid.New()}, staff))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, venue, svc.input.VenueID)
	require.Equal(t, "cashier-9", svc.input.Staff.StaffID)
	require.Equal(t, enums.StaffRoleCashier, svc.input.Staff.Role)
}

func TestRedemptionCreateRefusals(t *testing.T) {
	venue := uuid.New()
	staff := &middleware.Staff{ID: "cashier-9", VenueID: &venue, Role: enums.StaffRoleCashier}

	t.Run("quota", func(t *testing.T) {
		rec := httptest.NewRecorder()
		svc := &fakeRedeemer{err: pkgerrors.New(pkgerrors.CodeQuotaExceeded, "daily limit reached")}
		RedemptionCreate(svc, testLogger())(rec, jsonRequest(t, http.MethodPost, "/api/v1/redemptions",
			map[string]any{"customer_id": uuid.New(), "benefit_id": uuid.New()}, staff))
		require.Equal(t, http.StatusConflict, rec.Code)
		env := decode(t, rec)
		require.Equal(t, string(pkgerrors.CodeQuotaExceeded), env.Error.Code)
		require.False(t, env.Error.Retryable)
	})
	t.Run("no venue anywhere", func(t *testing.T) {
		rec := httptest.NewRecorder()
		svc := &fakeRedeemer{}
		RedemptionCreate(svc, testLogger())(rec, jsonRequest(t, http.MethodPost, "/api/v1/redemptions",
			map[string]any{"customer_id": uuid.New(), "benefit_id": uuid.New()},
			&middleware.Staff{ID: "manager-1", Role: enums.StaffRoleManager}))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	up := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	HealthReady(cfg, testLogger(), map[string]Pinger{"db": up, "redis": up})(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "test", rec.Header().Get("X-Lealtad-Env"))

	rec = httptest.NewRecorder()
	HealthReady(cfg, testLogger(), map[string]Pinger{"db": up, "redis": down})(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.True(t, decode(t, rec).Error.Retryable)
}
