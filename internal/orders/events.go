package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCommitted = "OrderCommitted"
	EventOrderDeclined  = "OrderDeclined"
	EventOrderRefunded  = "OrderRefunded"
	EventOrderCreated   = "OrderCreated"
	EventDeliveryUpdate = "DeliveryUpdate"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g. "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payload types per event ----

type OrderCreatedPayload struct {
	OrderID          string `json:"order_id"`
	BuyerID          string `json:"buyer_id"`
	SellerID         string `json:"seller_id"`
	BookID           string `json:"book_id"`
	AmountCents      int    `json:"amount_cents"`
	PaymentReference string `json:"payment_reference"`
	DeliveryMethod   string `json:"delivery_method"`
}

type OrderCommittedPayload struct {
	OrderID         string     `json:"order_id"`
	SellerID        string     `json:"seller_id"`
	DeliveryMethod  string     `json:"delivery_method"`
	TrackingNumber  string     `json:"tracking_number,omitempty"`
	EstimatedPayout *time.Time `json:"estimated_payout,omitempty"`
}

type OrderDeclinedPayload struct {
	OrderID          string `json:"order_id"`
	SellerID         string `json:"seller_id"`
	Reason           string `json:"reason"`
	RefundAmountCents int   `json:"refund_amount_cents"`
}

type OrderRefundedPayload struct {
	OrderID         string `json:"order_id"`
	RefundReference string `json:"refund_reference"`
	AmountCents     int    `json:"amount_cents"`
}

// DeliveryUpdatePayload is produced by the courier webhook bridge and
// consumed by the delivery worker.
type DeliveryUpdatePayload struct {
	OrderID        string    `json:"order_id"`
	TrackingNumber string    `json:"tracking_number"`
	Status         string    `json:"status"` // collected | in_transit | delivered
	OccurredAt     time.Time `json:"occurred_at"`
}

const (
	DeliveryCollected = "collected"
	DeliveryInTransit = "in_transit"
	DeliveryDelivered = "delivered"
)
