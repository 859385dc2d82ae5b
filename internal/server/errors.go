package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tally/internal/authorization"
	balancedomain "github.com/smallbiznis/tally/internal/balance/domain"
	consumptiondomain "github.com/smallbiznis/tally/internal/consumption/domain"
	configdomain "github.com/smallbiznis/tally/internal/creditconfig/domain"
	expirydomain "github.com/smallbiznis/tally/internal/expiry/domain"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	purchasedomain "github.com/smallbiznis/tally/internal/purchase/domain"
	transferdomain "github.com/smallbiznis/tally/internal/transfer/domain"
	"gorm.io/gorm"
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
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Detail  interface{}       `json:"detail,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
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

	var insufficient *consumptiondomain.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "insufficient credits",
			Detail:  insufficient,
		}
	}

	if isValidationError(err) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   "request",
					Code:    err.Error(),
					Message: "invalid request",
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, balancedomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "insufficient credits",
		}
	case errors.Is(err, configdomain.ErrOverageNotAllowed):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "overage_not_allowed",
			Message: "operation exceeds the free allowance and overage is not allowed",
		}
	case errors.Is(err, configdomain.ErrOverageLimitExceeded):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "overage_limit_exceeded",
			Message: "operation exceeds the overage limit for this period",
		}
	case errors.Is(err, balancedomain.ErrEntityInactive):
		return http.StatusConflict, errorPayload{
			Type:    "entity_inactive",
			Message: "entity is deactivated",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
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
		errors.Is(err, balancedomain.ErrInvalidOrganization),
		errors.Is(err, balancedomain.ErrInvalidEntity),
		errors.Is(err, balancedomain.ErrInvalidAmount),
		errors.Is(err, consumptiondomain.ErrInvalidOrganization),
		errors.Is(err, consumptiondomain.ErrInvalidEntity),
		errors.Is(err, consumptiondomain.ErrInvalidOperation),
		errors.Is(err, consumptiondomain.ErrInvalidUnits),
		errors.Is(err, transferdomain.ErrInvalidOrganization),
		errors.Is(err, transferdomain.ErrInvalidEntity),
		errors.Is(err, transferdomain.ErrInvalidAmount),
		errors.Is(err, transferdomain.ErrSelfTransfer),
		errors.Is(err, configdomain.ErrInvalidOrganization),
		errors.Is(err, configdomain.ErrInvalidCode),
		errors.Is(err, configdomain.ErrInvalidLevel),
		errors.Is(err, configdomain.ErrInvalidCost),
		errors.Is(err, configdomain.ErrInvalidUnit),
		errors.Is(err, configdomain.ErrInvalidPeriod),
		errors.Is(err, configdomain.ErrInvalidVolumeTiers),
		errors.Is(err, configdomain.ErrInvalidOverage),
		errors.Is(err, expirydomain.ErrInvalidOrganization),
		errors.Is(err, expirydomain.ErrInvalidEntity),
		errors.Is(err, expirydomain.ErrInvalidAmount),
		errors.Is(err, expirydomain.ErrInvalidExpiry),
		errors.Is(err, purchasedomain.ErrInvalidOrganization),
		errors.Is(err, purchasedomain.ErrInvalidEntity),
		errors.Is(err, purchasedomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidOrganization),
		errors.Is(err, ledgerdomain.ErrInvalidEntity),
		errors.Is(err, ledgerdomain.ErrInvalidType),
		errors.Is(err, ledgerdomain.ErrInvalidAmount):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, consumptiondomain.ErrConflict),
		errors.Is(err, transferdomain.ErrConflict),
		errors.Is(err, purchasedomain.ErrAlreadySettled):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, balancedomain.ErrNotFound),
		errors.Is(err, configdomain.ErrNotFound),
		errors.Is(err, purchasedomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "internal", payload.Type
	case status >= http.StatusBadRequest:
		return "client", payload.Type
	default:
		return "", payload.Type
	}
}
