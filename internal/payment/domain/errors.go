package domain

import (
	"errors"

	"github.com/smallbiznis/paycore/internal/paymenterror"
)

type webhookError struct {
	code string
	kind paymenterror.Kind
}

func (e *webhookError) Error() string                       { return e.code }
func (e *webhookError) PaymentErrorKind() paymenterror.Kind { return e.kind }

var (
	ErrInvalidSignature     error = &webhookError{code: "invalid_signature", kind: paymenterror.KindValidationError}
	ErrSignatureExpired     error = &webhookError{code: "signature_timestamp_out_of_tolerance", kind: paymenterror.KindValidationError}
	ErrInvalidPayload       error = &webhookError{code: "invalid_payload", kind: paymenterror.KindValidationError}
	ErrInvalidEvent         error = &webhookError{code: "invalid_event", kind: paymenterror.KindValidationError}
	ErrInvalidProvider      error = &webhookError{code: "invalid_provider", kind: paymenterror.KindValidationError}
	ErrProviderNotFound     error = &webhookError{code: "provider_not_found", kind: paymenterror.KindValidationError}
	ErrEventInFlight        error = &webhookError{code: "webhook_event_in_flight", kind: paymenterror.KindWebhookError}
	ErrPaymentNotFound      error = &webhookError{code: "payment_not_found", kind: paymenterror.KindWebhookError}
	ErrInvalidConfig        error = errors.New("invalid_config")
	ErrGatewayNotConfigured error = errors.New("gateway_not_configured")
)
