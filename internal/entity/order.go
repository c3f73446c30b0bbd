package entity

import "time"

// OrderStatus enumerates the order lifecycle.
type OrderStatus string

const (
	OrderPending        OrderStatus = "pending"
	OrderPaid           OrderStatus = "paid"
	OrderDining         OrderStatus = "dining"
	OrderWaitingPayment OrderStatus = "waiting_payment"
	OrderCompleted      OrderStatus = "completed"
	OrderCancelled      OrderStatus = "cancelled"
)

// orderTransitions lists the forward edges of the order lifecycle. Cancelled
// is reachable from every non-terminal state and is handled in CanTransition.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:        {OrderPaid},
	OrderPaid:           {OrderDining},
	OrderDining:         {OrderWaitingPayment},
	OrderWaitingPayment: {OrderCompleted},
}

// Terminal reports whether no further lifecycle transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// CanTransition reports whether the lifecycle permits moving to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s == next {
		return false
	}
	if next == OrderCancelled {
		return !s.Terminal()
	}
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentStatus is the payment axis, orthogonal to the order lifecycle.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// CanTransition reports whether the payment axis permits moving to next.
// A failed payment may return to pending via retry.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	switch s {
	case PaymentUnpaid:
		return next == PaymentPending
	case PaymentPending:
		return next == PaymentPaid || next == PaymentFailed
	case PaymentFailed:
		return next == PaymentPending
	default:
		return false
	}
}

// OrderItem is one ordered line. Item status is independent of the order
// status; totals on the parent order are always the server's snapshot.
type OrderItem struct {
	ID       string  `json:"id"`
	OrderID  string  `json:"order_id"`
	DishID   string  `json:"dish_id"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Status   string  `json:"status"`
}

// Order is a customer (or walk-in) order as held in the store.
type Order struct {
	ID            string        `json:"id"`
	CustomerID    string        `json:"customer_id,omitempty"`
	TableID       string        `json:"table_id,omitempty"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status,omitempty"`
	Subtotal      float64       `json:"total_amount"`
	FinalAmount   float64       `json:"final_amount"`
	VoucherID     string        `json:"voucher_id,omitempty"`
	Items         []OrderItem   `json:"items,omitempty"`
	CreatedAt     time.Time     `json:"created_at,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at,omitempty"`
}
