package domain

import "time"

// OrderStatus enumerates the order payment lifecycle. Transitions only move
// unpaid -> paid, never back.
type OrderStatus string

const (
	OrderStatusUnpaid OrderStatus = "unpaid"
	OrderStatusPaid   OrderStatus = "paid"
)

type Order struct {
	ID          string
	AmountMinor int64
	Currency    string
	Status      OrderStatus
	UpdatedAt   time.Time
}

// Charge is the local reference to a provider-side charge.
type Charge struct {
	ID             string
	OrderID        string
	IdempotencyKey string
	AmountMinor    int64
	Currency       string
	CreatedAt      time.Time
}
