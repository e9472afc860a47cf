package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/lealtad-backend/api/responses"
	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/lealtad-backend/pkg/redis"
)

const (
	// IdempotencyKeyHeader carries the terminal's retry token.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader marks a response served from a stored record.
	IdempotentReplayHeader = "Idempotent-Replayed"

	visitIdempotencyTTL      = 24 * time.Hour
	redemptionIdempotencyTTL = 7 * 24 * time.Hour
	// DefaultRequestTimeout applies when the caller passes no budget.
	DefaultRequestTimeout = 30 * time.Second
	// claimMargin keeps a pending claim alive past the handler deadline, so
	// the claim can only lapse once the holder has been cancelled.
	claimMargin          = 30 * time.Second
	maxIdempotencyKeyLen = 200
)

type recordState string

const (
	statePending  recordState = "pending"
	stateComplete recordState = "complete"
)

type idempotencyRule struct {
	method  string
	pattern string
	ttl     time.Duration
	// required rejects requests without a key. Redemptions spend quota, so
	// a blind retry must never reach the handler twice.
	required bool
}

var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, pattern: "/api/v1/redemptions", ttl: redemptionIdempotencyTTL, required: true},
	{method: http.MethodPost, pattern: "/api/v1/visits", ttl: visitIdempotencyTTL},
	{method: http.MethodPost, pattern: "/api/v1/customers", ttl: visitIdempotencyTTL},
	{method: http.MethodPost, pattern: "/api/v1/external-state", ttl: visitIdempotencyTTL},
}

type idempotencyRecord struct {
	State       recordState `json:"state"`
	RequestHash string      `json:"request_hash"`
	Status      int         `json:"status,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Body        string      `json:"body,omitempty"`
}

// Idempotency claims Idempotency-Key per staff member and route before the
// handler runs, then stores the final response for replay. A concurrent
// request with the same key gets REQUEST_IN_PROGRESS instead of a second
// execution. Keyed handlers run under requestTimeout and the pending claim
// lives for requestTimeout plus a margin.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger, requestTimeout time.Duration) func(http.Handler) http.Handler {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	claimTTL := requestTimeout + claimMargin
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pattern := routePattern(r)
			rule, ok := matchRule(r.Method, pattern)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			token := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			switch {
			case token == "" && rule.required:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case token == "":
				next.ServeHTTP(w, r)
				return
			case len(token) > maxIdempotencyKeyLen:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := requestFingerprint(r.Method, pattern, body)
			key := store.IdempotencyKey(requestScope(r, pattern), token)

			claimed, err := claim(ctx, store, key, fingerprint, claimTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayOrReject(ctx, store, logg, w, key, fingerprint)
				return
			}

			done := false
			defer func() {
				// Panics and 5xx release the claim so the terminal can retry.
				if !done {
					release(ctx, store, logg, key)
				}
			}()

			handlerCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()
			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(handlerCtx))

			status := rec.statusOrOK()
			if status >= http.StatusInternalServerError {
				return
			}
			done = true

			final := idempotencyRecord{
				State:       stateComplete,
				RequestHash: fingerprint,
				Status:      status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
			}
			payload, err := json.Marshal(final)
			if err != nil {
				logError(ctx, logg, "marshal idempotency record", err)
				return
			}
			if err := store.Set(ctx, key, string(payload), rule.ttl); err != nil {
				logError(ctx, logg, "persist idempotency record", err)
			}
		})
	}
}

func claim(ctx context.Context, store pkgredis.IdempotencyStore, key, fingerprint string, ttl time.Duration) (bool, error) {
	pending, err := json.Marshal(idempotencyRecord{State: statePending, RequestHash: fingerprint})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(pending), ttl)
}

func release(ctx context.Context, store pkgredis.IdempotencyStore, logg *logger.Logger, key string) {
	if err := store.Del(context.WithoutCancel(ctx), key); err != nil {
		logError(ctx, logg, "release idempotency key", err)
	}
}

func replayOrReject(ctx context.Context, store pkgredis.IdempotencyStore, logg *logger.Logger, w http.ResponseWriter, key, fingerprint string) {
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) || (err == nil && stored == "") {
		// The holder finished with a 5xx between our claim and lookup.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInFlight, "retry the request"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}

	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	if record.RequestHash != fingerprint {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if record.State != stateComplete {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInFlight, "request with this key is still running"))
		return
	}

	body, err := base64.StdEncoding.DecodeString(record.Body)
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode stored response"))
		return
	}
	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set(IdempotentReplayHeader, "true")
	w.WriteHeader(record.Status)
	_, _ = w.Write(body)
}

// requestScope keys records by staff member and route so two cashiers can
// reuse a terminal-generated token without colliding.
func requestScope(r *http.Request, pattern string) string {
	staff, _ := StaffFromContext(r.Context())
	return staff.ID + "|" + r.Method + "|" + pattern
}

func requestFingerprint(method, pattern string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(pattern))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// routePattern prefers the matched chi pattern so path params do not split
// metrics or rule lookups. Wildcard patterns seen before routing completes
// fall back to the raw path.
func routePattern(r *http.Request) string {
	if r == nil {
		return ""
	}
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" && !strings.HasSuffix(pattern, "*") {
			return pattern
		}
	}
	return r.URL.Path
}

func matchRule(method, pattern string) (idempotencyRule, bool) {
	for _, rule := range idempotencyRules {
		if rule.method == method && rule.pattern == pattern {
			return rule, true
		}
	}
	return idempotencyRule{}, false
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusOrOK() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
