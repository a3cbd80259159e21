package paymenterror

import (
	"errors"
	"strings"
)

// PaymentError is a classified failure. Kind drives retry policy and the HTTP mapping.
type PaymentError struct {
	Kind      Kind
	Severity  Severity
	Retryable bool
	Action    Action
	// Code is the raw provider code when the failure came from the gateway.
	Code    string
	Message string
	Cause   error
}

// Kinded lets domain sentinels declare their own kind.
type Kinded interface {
	PaymentErrorKind() Kind
}

// New builds a PaymentError with the policy defaults for kind.
func New(kind Kind, message string) *PaymentError {
	if !kind.Valid() {
		kind = KindProcessingError
	}
	if strings.TrimSpace(message) == "" {
		message = kind.UserMessage()
	}
	return &PaymentError{
		Kind:      kind,
		Severity:  kind.Severity(),
		Retryable: kind.Retryable(),
		Action:    kind.Action(),
		Message:   message,
	}
}

// Wrap classifies cause as kind, keeping it reachable through errors.Unwrap.
func Wrap(kind Kind, cause error) *PaymentError {
	pe := New(kind, "")
	pe.Cause = cause
	return pe
}

func (e *PaymentError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Code != "" {
		b.WriteString(" (")
		b.WriteString(e.Code)
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	} else if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *PaymentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches another PaymentError of the same kind.
func (e *PaymentError) Is(target error) bool {
	t, ok := target.(*PaymentError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || t.Code == e.Code)
}

// As extracts the first PaymentError in err's chain.
func As(err error) (*PaymentError, bool) {
	var pe *PaymentError
	if errors.As(err, &pe) && pe != nil {
		return pe, true
	}
	return nil, false
}

// KindOf classifies err and returns only its kind.
func KindOf(err error) Kind {
	if pe := Classify(err); pe != nil {
		return pe.Kind
	}
	return ""
}
