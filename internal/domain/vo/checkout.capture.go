package vo

import "time"

// CaptureResult is the caller-facing outcome of a capture operation.
// ChargeID is empty when the order was already paid at call time.
type CaptureResult struct {
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	ChargeID string `json:"charge_id,omitempty"`
}

// OrderStatusView is the read-model returned by the order status endpoint.
type OrderStatusView struct {
	OrderID     string    `json:"order_id"`
	Status      string    `json:"status"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChargeView is a recorded charge exposed by the charges endpoint.
type ChargeView struct {
	ChargeID    string    `json:"charge_id"`
	OrderID     string    `json:"order_id"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
}
