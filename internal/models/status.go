package models

import "strings"

// OrderStatus is the fulfillment state of an order.
type OrderStatus string

// Order statuses
const (
	OrderStatusReceived        OrderStatus = "RECEIVED"
	OrderStatusPendingPayment  OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaymentApproved OrderStatus = "PAYMENT_APPROVED"
	OrderStatusPreparing       OrderStatus = "PREPARING"
	OrderStatusEnRoute         OrderStatus = "EN_ROUTE"
	OrderStatusDelivered       OrderStatus = "DELIVERED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusDeliveryFailed  OrderStatus = "DELIVERY_FAILED"
)

var orderStatuses = []OrderStatus{
	OrderStatusReceived,
	OrderStatusPendingPayment,
	OrderStatusPaymentApproved,
	OrderStatusPreparing,
	OrderStatusEnRoute,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusDeliveryFailed,
}

// OrderStatuses lists every recognized status in lifecycle order.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(orderStatuses))
	copy(out, orderStatuses)
	return out
}

// ParseOrderStatus accepts any casing and surrounding whitespace.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range orderStatuses {
		if st == candidate {
			return st, true
		}
	}
	return "", false
}

func (s OrderStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}
