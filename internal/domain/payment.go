package domain

import "time"

// PaymentStatus enumerates the lifecycle of a credit purchase order.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSettled PaymentStatus = "settled"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// PaymentOrder represents one Midtrans credit purchase. The order moves from
// pending to settled exactly once, driven by the signed payment webhook; a
// replayed notification finds the order already settled and does nothing.
type PaymentOrder struct {
	OrderID     string
	UserID      string
	Credits     int
	GrossAmount string
	Status      PaymentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
