package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/paycore/internal/order/domain"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	refunddomain "github.com/smallbiznis/paycore/internal/refund/domain"
	subscriptiondomain "github.com/smallbiznis/paycore/internal/subscription/domain"
	"github.com/smallbiznis/paycore/pkg/validation"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Action    string            `json:"action,omitempty"`
	Retryable *bool             `json:"retryable,omitempty"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
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
		// read by the tracing middleware once the handler chain unwinds
		c.Set("payment_error_kind", payload.Type)
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

// mapError turns any error into a status and a client-safe body. Sentinels
// without a payment kind are matched first; everything else goes through
// the classifier so a raw cause never reaches the client.
func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    string(paymenterror.KindValidationError),
			Message: paymenterror.KindValidationError.UserMessage(),
			Action:  string(paymenterror.ActionFixInput),
			Errors:  vErr.Errors,
		}
	}

	// A classified delivery or storage failure wins over any sentinel it
	// wraps: the gateway reads a 4xx as final and stops redelivering.
	if pe, ok := paymenterror.As(err); ok && isServerSideKind(pe.Kind) {
		retryable := pe.Retryable
		return http.StatusInternalServerError, errorPayload{
			Type:      string(pe.Kind),
			Message:   pe.Kind.UserMessage(),
			Code:      errorCode(err, pe),
			Action:    string(pe.Action),
			Retryable: &retryable,
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "the resource is not in a state that allows this operation",
			Code:    err.Error(),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
			Action:  string(paymenterror.ActionRetryLater),
		}
	}

	pe := paymenterror.Classify(err)
	retryable := pe.Retryable
	payload := errorPayload{
		Type:      string(pe.Kind),
		Message:   pe.Message,
		Code:      errorCode(err, pe),
		Action:    string(pe.Action),
		Retryable: &retryable,
	}
	if fields := validation.Fields(err); len(fields) > 0 {
		payload.Code = ""
		payload.Errors = make([]ValidationError, 0, len(fields))
		for _, f := range fields {
			payload.Errors = append(payload.Errors, ValidationError{Field: f.Field, Code: f.Rule})
		}
	}
	if pe.Kind == paymenterror.KindStorageError || pe.Kind == paymenterror.KindProcessingError {
		payload.Message = pe.Kind.UserMessage()
	}
	return statusForKind(pe.Kind), payload
}

func isServerSideKind(kind paymenterror.Kind) bool {
	return kind == paymenterror.KindWebhookError || kind == paymenterror.KindStorageError
}

func statusForKind(kind paymenterror.Kind) int {
	switch kind {
	case paymenterror.KindCardDeclined,
		paymenterror.KindInsufficientFunds,
		paymenterror.KindExpiredCard,
		paymenterror.KindIncorrectCVC,
		paymenterror.KindAuthenticationRequired:
		return http.StatusPaymentRequired
	case paymenterror.KindNetworkError,
		paymenterror.KindGatewayUnavailable:
		return http.StatusServiceUnavailable
	case paymenterror.KindSubscriptionError:
		return http.StatusConflict
	case paymenterror.KindInventoryUnavailable,
		paymenterror.KindTaxCalculationFailed,
		paymenterror.KindPromoCodeInvalid,
		paymenterror.KindInvoiceError:
		return http.StatusUnprocessableEntity
	case paymenterror.KindValidationError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the provider decline code, or the domain sentinel's code
// when the error carries its own kind.
func errorCode(err error, pe *paymenterror.PaymentError) string {
	if pe.Code != "" {
		return pe.Code
	}
	var kinded paymenterror.Kinded
	if errors.As(err, &kinded) {
		if e, ok := kinded.(error); ok {
			return e.Error()
		}
	}
	return ""
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, orderdomain.ErrPaymentNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, refunddomain.ErrRefundNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, orderdomain.ErrInvalidTransition),
		errors.Is(err, orderdomain.ErrDuplicatePayment),
		errors.Is(err, subscriptiondomain.ErrInvalidTransition),
		errors.Is(err, subscriptiondomain.ErrDuplicateGatewayID):
		return true
	default:
		return false
	}
}

// classifyErrorForLog feeds the request log with the same type and code the
// client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
