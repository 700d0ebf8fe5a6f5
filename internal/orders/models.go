package orders

import "time"

type DeliveryMethod string

const (
	DeliveryHome   DeliveryMethod = "home"
	DeliveryLocker DeliveryMethod = "locker"
)

// Order is a single book purchase. Rows are never hard-deleted; terminal
// states keep the audit trail.
type Order struct {
	ID               string
	BuyerID          string
	SellerID         string
	BookID           string
	Status           Status
	DeliveryMethod   DeliveryMethod
	AmountCents      int
	PaymentReference string // gateway charge reference from checkout
	LockerID         string
	TrackingNumber   string
	DeclineReason    string
	CommittedAt      *time.Time
	CancelledAt      *time.Time
	EstimatedPayout  *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Notification is a fire-and-forget message tied to an order event.
// One insert, no delivery guarantee.
type Notification struct {
	ID        string
	UserID    string
	OrderID   string
	Type      string
	Title     string
	Message   string
	CreatedAt time.Time
}
