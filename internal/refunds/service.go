package refunds

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/rebooked/order-service/internal/faults"
	kafkax "github.com/rebooked/order-service/internal/kafka"
	"github.com/rebooked/order-service/internal/orders"
	"github.com/rebooked/order-service/internal/paystack"
)

type Store interface {
	GetSuccess(ctx context.Context, orderID string) (Transaction, bool, error)
	Insert(ctx context.Context, t Transaction) (Transaction, error)
	SetResult(ctx context.Context, id string, status Status, refundRef, errMsg string) error
}

type OrderStore interface {
	Get(ctx context.Context, orderID string) (orders.Order, error)
	MarkRefunded(ctx context.Context, orderID string, at time.Time) error
}

type Gateway interface {
	Refund(ctx context.Context, transactionRef string, amountCents int, reason string) (paystack.RefundResult, error)
}

type NotificationStore interface {
	Insert(ctx context.Context, n orders.Notification) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Store         Store
	Orders        OrderStore
	Gateway       Gateway
	Lock          OrderLock
	Notifications NotificationStore
	Producer      Publisher // order.refunded
	ServiceName   string
}

// Execute runs one idempotent refund for the order: an existing success
// row short-circuits without touching the gateway, and the per-order
// lock keeps concurrent attempts from double-refunding. Gateway failure
// leaves a failed row behind for reconciliation and the order untouched.
func (s *Service) Execute(ctx context.Context, o orders.Order, reason string) (Transaction, error) {
	if t, ok, err := s.Store.GetSuccess(ctx, o.ID); err != nil {
		return Transaction{}, err
	} else if ok {
		return t, nil
	}

	release, err := s.Lock.Acquire(ctx, o.ID)
	if err != nil {
		return Transaction{}, err
	}
	defer release()

	// re-check under the lock; a racer may have finished first
	if t, ok, err := s.Store.GetSuccess(ctx, o.ID); err != nil {
		return Transaction{}, err
	} else if ok {
		return t, nil
	}

	t, err := s.Store.Insert(ctx, Transaction{
		OrderID:        o.ID,
		TransactionRef: o.PaymentReference,
		AmountCents:    o.AmountCents,
		Reason:         reason,
		Status:         StatusProcessing,
	})
	if err != nil {
		return Transaction{}, err
	}

	res, err := s.Gateway.Refund(ctx, o.PaymentReference, o.AmountCents, reason)
	if err != nil {
		if serr := s.Store.SetResult(ctx, t.ID, StatusFailed, "", faults.Message(err)); serr != nil {
			log.Printf("record failed refund order=%s: %v", o.ID, serr)
		}
		return Transaction{}, err
	}

	if err := s.Store.SetResult(ctx, t.ID, StatusSuccess, res.Reference, ""); err != nil {
		return Transaction{}, err
	}
	t.Status = StatusSuccess
	t.RefundReference = res.Reference
	return t, nil
}

// ProcessOrderRefund is the standalone refund path (payment dispute):
// refund the buyer, then move the order to its refunded terminal state.
func (s *Service) ProcessOrderRefund(ctx context.Context, orderID, reason string) (Transaction, error) {
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return Transaction{}, err
	}
	if o.Status == orders.StatusCompleted || o.Status == orders.StatusCancelled {
		return Transaction{}, faults.Newf(faults.KindConflict, "order %s is %s and cannot be refunded", o.ID, o.Status)
	}
	if o.Status == orders.StatusRefunded {
		if t, ok, err := s.Store.GetSuccess(ctx, o.ID); err == nil && ok {
			return t, nil
		}
		return Transaction{}, faults.Newf(faults.KindConflict, "order %s already refunded", o.ID)
	}

	t, err := s.Execute(ctx, o, reason)
	if err != nil {
		return Transaction{}, err
	}

	if err := s.Orders.MarkRefunded(ctx, o.ID, time.Now().UTC()); err != nil {
		// refund row is already success; surface the conflict but keep it
		return t, err
	}

	if s.Notifications != nil {
		if err := s.Notifications.Insert(ctx, orders.Notification{
			UserID:  o.BuyerID,
			OrderID: o.ID,
			Type:    "refund_processed",
			Title:   "Refund processed",
			Message: "Your payment has been refunded in full.",
		}); err != nil {
			log.Printf("notify refund order=%s: %v", o.ID, err)
		}
	}
	s.publishRefunded(o, t)
	return t, nil
}

func (s *Service) publishRefunded(o orders.Order, t Transaction) {
	if s.Producer == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderRefunded,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(orders.OrderRefundedPayload{
			OrderID:         o.ID,
			RefundReference: t.RefundReference,
			AmountCents:     t.AmountCents,
		}),
	}
	s.Producer.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderRefunded)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
