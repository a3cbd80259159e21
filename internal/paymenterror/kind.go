package paymenterror

// Kind is the closed taxonomy of payment failures.
type Kind string

const (
	KindCardDeclined           Kind = "card_declined"
	KindInsufficientFunds      Kind = "insufficient_funds"
	KindExpiredCard            Kind = "expired_card"
	KindIncorrectCVC           Kind = "incorrect_cvc"
	KindProcessingError        Kind = "processing_error"
	KindAuthenticationRequired Kind = "authentication_required"
	KindNetworkError           Kind = "network_error"
	KindGatewayUnavailable     Kind = "gateway_unavailable"
	KindInventoryUnavailable   Kind = "inventory_unavailable"
	KindTaxCalculationFailed   Kind = "tax_calculation_failed"
	KindPromoCodeInvalid       Kind = "promo_code_invalid"
	KindSubscriptionError      Kind = "subscription_error"
	KindInvoiceError           Kind = "invoice_error"
	KindStorageError           Kind = "storage_error"
	KindWebhookError           Kind = "webhook_error"
	KindValidationError        Kind = "validation_error"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Action is the remediation token surfaced to clients.
type Action string

const (
	ActionUpdatePaymentMethod    Action = "update_payment_method"
	ActionRetryWithAnotherMethod Action = "retry_with_another_method"
	ActionVerifyCardDetails      Action = "verify_card_details"
	ActionCompleteAuthentication Action = "complete_authentication"
	ActionAutoRetry              Action = "auto_retry"
	ActionRetryLater             Action = "retry_later"
	ActionContactSupport         Action = "contact_support"
	ActionFixInput               Action = "fix_input"
	ActionRemovePromoCode        Action = "remove_promo_code"
	ActionAdjustCart             Action = "adjust_cart"
	ActionNone                   Action = "none"
)

type policy struct {
	retryable bool
	severity  Severity
	action    Action
	message   string
}

var policies = map[Kind]policy{
	KindCardDeclined:           {false, SeverityMedium, ActionRetryWithAnotherMethod, "Your card was declined."},
	KindInsufficientFunds:      {true, SeverityMedium, ActionUpdatePaymentMethod, "Your card has insufficient funds."},
	KindExpiredCard:            {false, SeverityMedium, ActionUpdatePaymentMethod, "Your card has expired."},
	KindIncorrectCVC:           {false, SeverityLow, ActionVerifyCardDetails, "Your card's security code is incorrect."},
	KindProcessingError:        {true, SeverityHigh, ActionAutoRetry, "An error occurred while processing your payment."},
	KindAuthenticationRequired: {false, SeverityMedium, ActionCompleteAuthentication, "Additional authentication is required."},
	KindNetworkError:           {true, SeverityHigh, ActionAutoRetry, "A network error occurred. We will retry automatically."},
	KindGatewayUnavailable:     {true, SeverityCritical, ActionRetryLater, "The payment provider is temporarily unavailable."},
	KindInventoryUnavailable:   {false, SeverityMedium, ActionAdjustCart, "One or more items are no longer available."},
	KindTaxCalculationFailed:   {false, SeverityHigh, ActionContactSupport, "Tax could not be calculated for this order."},
	KindPromoCodeInvalid:       {false, SeverityLow, ActionRemovePromoCode, "The promo code is invalid or expired."},
	KindSubscriptionError:      {false, SeverityMedium, ActionContactSupport, "The subscription could not be updated."},
	KindInvoiceError:           {false, SeverityHigh, ActionContactSupport, "The invoice could not be generated."},
	KindStorageError:           {true, SeverityCritical, ActionRetryLater, "A temporary storage error occurred."},
	KindWebhookError:           {true, SeverityHigh, ActionNone, "The event could not be processed."},
	KindValidationError:        {false, SeverityLow, ActionFixInput, "The request is invalid."},
}

// Kinds lists the taxonomy in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindCardDeclined, KindInsufficientFunds, KindExpiredCard, KindIncorrectCVC,
		KindProcessingError, KindAuthenticationRequired, KindNetworkError, KindGatewayUnavailable,
		KindInventoryUnavailable, KindTaxCalculationFailed, KindPromoCodeInvalid, KindSubscriptionError,
		KindInvoiceError, KindStorageError, KindWebhookError, KindValidationError,
	}
}

func (k Kind) Valid() bool {
	_, ok := policies[k]
	return ok
}

func (k Kind) Retryable() bool {
	return policies[k].retryable
}

func (k Kind) Severity() Severity {
	if p, ok := policies[k]; ok {
		return p.severity
	}
	return SeverityHigh
}

func (k Kind) Action() Action {
	if p, ok := policies[k]; ok {
		return p.action
	}
	return ActionContactSupport
}

// UserMessage is a customer-safe description of the kind.
func (k Kind) UserMessage() string {
	if p, ok := policies[k]; ok {
		return p.message
	}
	return policies[KindProcessingError].message
}

func (k Kind) String() string { return string(k) }
