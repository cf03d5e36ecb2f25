package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	consumptiondomain "github.com/smallbiznis/creditflow/internal/consumption/domain"
	costdomain "github.com/smallbiznis/creditflow/internal/cost/domain"
	limitdomain "github.com/smallbiznis/creditflow/internal/limit/domain"
	ownershipdomain "github.com/smallbiznis/creditflow/internal/ownership/domain"
	subscriptiondomain "github.com/smallbiznis/creditflow/internal/subscription/domain"
	trackingdomain "github.com/smallbiznis/creditflow/internal/tracking/domain"
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
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrThrottled          = errors.New("throttled")
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

	switch {
	case errors.Is(err, subscriptiondomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "insufficient credits",
		}
	case errors.Is(err, limitdomain.ErrLimitExceeded):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "limit_exceeded",
			Message: "rolling window limit exceeded",
		}
	case errors.Is(err, ErrThrottled):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "throttled",
			Message: "too many requests",
		}
	case errors.Is(err, consumptiondomain.ErrNotOwned):
		return http.StatusForbidden, errorPayload{
			Type:    "not_owned",
			Message: "resource is not owned",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, consumptiondomain.ErrAlreadyOwned),
		subscriptiondomain.IsConflict(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
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
		errors.Is(err, subscriptiondomain.ErrInvalidOrganization),
		errors.Is(err, subscriptiondomain.ErrInvalidUser),
		errors.Is(err, subscriptiondomain.ErrInvalidAmount),
		errors.Is(err, costdomain.ErrInvalidOrganization),
		errors.Is(err, costdomain.ErrInvalidActionType),
		errors.Is(err, costdomain.ErrInvalidItem),
		errors.Is(err, costdomain.ErrInvalidCredits),
		errors.Is(err, limitdomain.ErrInvalidOrganization),
		errors.Is(err, limitdomain.ErrInvalidUser),
		errors.Is(err, limitdomain.ErrInvalidAmount),
		errors.Is(err, limitdomain.ErrInvalidCategory),
		errors.Is(err, trackingdomain.ErrInvalidOrganization),
		errors.Is(err, trackingdomain.ErrInvalidUser),
		errors.Is(err, trackingdomain.ErrInvalidAmount),
		errors.Is(err, ownershipdomain.ErrInvalidOrganization),
		errors.Is(err, ownershipdomain.ErrInvalidUser),
		errors.Is(err, ownershipdomain.ErrInvalidResource),
		errors.Is(err, consumptiondomain.ErrInvalidUser),
		errors.Is(err, consumptiondomain.ErrInvalidAmount),
		errors.Is(err, consumptiondomain.ErrInvalidResource),
		errors.Is(err, consumptiondomain.ErrInvalidCategory):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, costdomain.ErrCostNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
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
	default:
		return "invalid value"
	}
}
