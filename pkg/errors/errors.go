package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInFlight      Code = "REQUEST_IN_PROGRESS"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// Loyalty core outcomes surfaced to terminals.
	CodeCodeNotFound         Code = "CODE_NOT_FOUND"
	CodeCodeAmbiguous        Code = "CODE_AMBIGUOUS"
	CodeAlreadyRedeemed      Code = "ALREADY_REDEEMED"
	CodeQuotaExceeded        Code = "QUOTA_EXCEEDED"
	CodeTriggerNotActive     Code = "TRIGGER_NOT_ACTIVE"
	CodeTierDataInconsistent Code = "TIER_DATA_INCONSISTENT"
)

// Metadata maps a code onto the response a terminal sees.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    {http.StatusBadRequest, false, "validation failed", true},
	CodeUnauthorized:  {http.StatusUnauthorized, false, "authentication required", false},
	CodeForbidden:     {http.StatusForbidden, false, "access denied", false},
	CodeNotFound:      {http.StatusNotFound, false, "resource not found", false},
	CodeConflict:      {http.StatusConflict, false, "conflict detected", false},
	CodeStateConflict: {http.StatusUnprocessableEntity, false, "state transition disallowed", true},
	CodeIdempotency:   {http.StatusConflict, false, "idempotency key reused", true},
	CodeInFlight:      {http.StatusConflict, true, "an identical request is still being processed", false},
	CodeRateLimit:     {http.StatusTooManyRequests, false, "rate limit exceeded", false},
	CodeInternal:      {http.StatusInternalServerError, true, "internal server error", false},
	CodeDependency:    {http.StatusServiceUnavailable, true, "dependency unavailable", true},

	CodeCodeNotFound:         {http.StatusNotFound, true, "code not recognized, ask the customer to refresh and rescan", false},
	CodeCodeAmbiguous:        {http.StatusConflict, true, "code matches more than one customer, rescan or look up by phone", false},
	CodeAlreadyRedeemed:      {http.StatusConflict, false, "benefit already used", true},
	CodeQuotaExceeded:        {http.StatusConflict, false, "benefit limit reached for this period", true},
	CodeTriggerNotActive:     {http.StatusUnprocessableEntity, false, "benefit is not unlocked right now", true},
	CodeTierDataInconsistent: {http.StatusInternalServerError, true, "technical error, try again", false},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

// Retryable reports whether the caller may repeat the operation. Untyped
// errors are infrastructure failures and count as retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	typed := As(err)
	return typed == nil || MetadataFor(typed.Code()).Retryable
}

// IsServerFault reports whether err maps to a 5xx. Refusals a cashier can
// act on are not faults.
func IsServerFault(err error) bool {
	if err == nil {
		return false
	}
	typed := As(err)
	return typed == nil || MetadataFor(typed.Code()).HTTPStatus >= http.StatusInternalServerError
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
