package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/lealtad-backend/pkg/logger"
)

func TestRequestIDEchoesClientValue(t *testing.T) {
	var seen bool
	h := RequestID(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = true
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/scan", nil)
	req.Header.Set(requestIDHeader, "till-3-0001")
	req.Header.Set(terminalIDHeader, "carwash-till-3")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !seen {
		t.Fatal("handler not called")
	}
	if got := rec.Header().Get(requestIDHeader); got != "till-3-0001" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestRequestIDReplacesOversizedValue(t *testing.T) {
	h := RequestID(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/scan", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", maxHeaderIDLen+1))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if _, err := uuid.Parse(rec.Header().Get(requestIDHeader)); err != nil {
		t.Fatalf("expected a minted uuid, got %q", rec.Header().Get(requestIDHeader))
	}
}
