package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/edupoints/internal/audit/domain"
	"github.com/smallbiznis/edupoints/internal/authorization"
	quotadomain "github.com/smallbiznis/edupoints/internal/quota/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string                `json:"type"`
	Message string                `json:"message"`
	Errors  []ValidationError     `json:"errors,omitempty"`
	Scope   *quotadomain.ScopeRef `json:"scope,omitempty"`
	Charge  *int64                `json:"charge,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	status, payload := mapDomainError(err)
	var derr *quotadomain.DeductionError
	if errors.As(err, &derr) && derr.Scope.Valid() {
		scope := derr.Scope
		charge := derr.Charge
		payload.Scope = &scope
		payload.Charge = &charge
	}
	return status, payload
}

func mapDomainError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, quotadomain.ErrHardLimitExceeded):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "hard_limit_exceeded",
			Message: "points exhausted beyond the overage buffer",
		}
	case errors.Is(err, quotadomain.ErrScopeInactive):
		return http.StatusForbidden, errorPayload{
			Type:    "scope_inactive",
			Message: "quota is inactive or expired",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, quotadomain.ErrScopeNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "scope_not_found",
			Message: "no quota is provisioned for this scope",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, quotadomain.ErrConcurrentUpdate):
		return http.StatusConflict, errorPayload{
			Type:    "concurrent_update",
			Message: "balance changed concurrently, retry",
		}
	case errors.Is(err, quotadomain.ErrAlreadyReversed),
		errors.Is(err, quotadomain.ErrNotReversible),
		errors.Is(err, quotadomain.ErrCapacityBelowConsumption),
		errors.Is(err, ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, quotadomain.ErrPersistence),
		errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds error_type and error_code into request logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError && payload.Type == "internal_error" {
		return payload.Type, "internal_error"
	}
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, quotadomain.ErrAlreadyReversed):
		return "ledger entry already reversed"
	case errors.Is(err, quotadomain.ErrNotReversible):
		return "ledger entry cannot be reversed"
	case errors.Is(err, quotadomain.ErrCapacityBelowConsumption):
		return "capacity would leave consumption above the hard limit"
	default:
		return "conflict"
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, quotadomain.ErrInvalidUsage),
		errors.Is(err, quotadomain.ErrUnsupportedUnit),
		errors.Is(err, quotadomain.ErrInvalidActor),
		errors.Is(err, quotadomain.ErrInvalidKind),
		errors.Is(err, quotadomain.ErrInvalidScopeType),
		errors.Is(err, quotadomain.ErrInvalidScope),
		errors.Is(err, quotadomain.ErrInvalidAdjustment),
		errors.Is(err, quotadomain.ErrInvalidPageToken),
		errors.Is(err, quotadomain.ErrInvalidProvision),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	case errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, authorization.ErrInvalidRole),
		errors.Is(err, authorization.ErrInvalidDomain):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, quotadomain.ErrEntryNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	for _, target := range []error{
		quotadomain.ErrInvalidUsage,
		quotadomain.ErrUnsupportedUnit,
		quotadomain.ErrInvalidActor,
		quotadomain.ErrInvalidKind,
		quotadomain.ErrInvalidScopeType,
		quotadomain.ErrInvalidScope,
		quotadomain.ErrInvalidAdjustment,
		quotadomain.ErrInvalidPageToken,
		quotadomain.ErrInvalidProvision,
		auditdomain.ErrInvalidPageToken,
		auditdomain.ErrInvalidTimeRange,
		authorization.ErrInvalidActor,
		authorization.ErrInvalidRole,
		authorization.ErrInvalidDomain,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "invalid_request"
}

func validationErrorField(code string) string {
	switch code {
	case "unsupported_unit":
		return "unit"
	case "invalid_usage":
		return "raw_amount"
	case "invalid_request":
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "unsupported_unit":
		return "unit has no conversion factor"
	case "invalid_usage":
		return "usage amount must be a non-negative number"
	default:
		return "invalid value"
	}
}
