package domain

type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusPartiallyRefunded OrderStatus = "partially_refunded"
	OrderStatusRefunded          OrderStatus = "refunded"
	OrderStatusCancelled         OrderStatus = "cancelled"
	OrderStatusFailed            OrderStatus = "failed"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending,
		OrderStatusCompleted,
		OrderStatusPartiallyRefunded,
		OrderStatusRefunded,
		OrderStatusCancelled,
		OrderStatusFailed:
		return true
	default:
		return false
	}
}

// Refundable reports whether money can still be returned on an order in s.
func (s OrderStatus) Refundable() bool {
	return s == OrderStatusCompleted || s == OrderStatusPartiallyRefunded
}

// CanTransitionTo reports whether the order state machine allows s → target.
// failed → completed covers a capture that lands after a terminal decline,
// when the customer pays again on the same intent.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return target == OrderStatusCompleted || target == OrderStatusFailed || target == OrderStatusCancelled
	case OrderStatusFailed:
		return target == OrderStatusCompleted
	case OrderStatusCompleted:
		return target == OrderStatusPartiallyRefunded || target == OrderStatusRefunded
	case OrderStatusPartiallyRefunded:
		return target == OrderStatusPartiallyRefunded || target == OrderStatusRefunded
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusSucceeded      PaymentStatus = "succeeded"
	PaymentStatusFailed         PaymentStatus = "failed"
	PaymentStatusRequiresAction PaymentStatus = "requires_action"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending,
		PaymentStatusSucceeded,
		PaymentStatusFailed,
		PaymentStatusRequiresAction:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the payment state machine allows s → target.
// failed → pending is the retry re-arm.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return target == PaymentStatusSucceeded || target == PaymentStatusFailed || target == PaymentStatusRequiresAction
	case PaymentStatusRequiresAction:
		return target == PaymentStatusSucceeded || target == PaymentStatusFailed
	case PaymentStatusFailed:
		return target == PaymentStatusPending
	default:
		return false
	}
}
