package refunds

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// Transaction is one refund attempt against an order. At most one row
// per order ever reaches success (partial unique index + per-order lock).
type Transaction struct {
	ID              string
	OrderID         string
	TransactionRef  string // gateway charge reference being reversed
	RefundReference string
	AmountCents     int
	Reason          string
	Status          Status
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
