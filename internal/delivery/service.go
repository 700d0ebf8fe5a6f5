// Package delivery consumes courier tracking events and advances orders
// through shipped/completed, releasing the escrowed 90/10 split to the
// seller once delivery is confirmed.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/rebooked/order-service/internal/faults"
	kafkax "github.com/rebooked/order-service/internal/kafka"
	"github.com/rebooked/order-service/internal/orders"
	"github.com/rebooked/order-service/internal/paystack"
	"github.com/rebooked/order-service/internal/redisx"
	"github.com/rebooked/order-service/internal/split"
)

type OrderStore interface {
	Get(ctx context.Context, orderID string) (orders.Order, error)
	MarkShipped(ctx context.Context, orderID, trackingNumber string) error
	MarkCompleted(ctx context.Context, orderID string) error
}

type PayoutGateway interface {
	Transfer(ctx context.Context, subaccountCode string, amountCents int, reason, reference string) (paystack.TransferResult, error)
}

type SubaccountResolver interface {
	ActiveCode(ctx context.Context, sellerID string) (string, error)
}

type NotificationStore interface {
	Insert(ctx context.Context, n orders.Notification) error
}

type Service struct {
	Orders        OrderStore
	Gateway       PayoutGateway
	Banking       SubaccountResolver
	Notifications NotificationStore
	Redis         *redis.Client
	ServiceName   string
}

// HandleTrackingEvent is the consumer handler for courier.tracking.
// Returning an error leaves the offset uncommitted so the event is
// redelivered; the payout transfer reference is deterministic per order,
// which makes that retry safe on the gateway side.
func (s *Service) HandleTrackingEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventDeliveryUpdate {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, "delivery", env.EventID)
	if s.Redis != nil {
		if seen, _ := redisx.Exists(ctx, s.Redis, dkey); seen {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.DeliveryUpdatePayload](env.Payload)
	if err != nil {
		return err
	}

	switch p.Status {
	case orders.DeliveryCollected:
		if err := s.Orders.MarkShipped(ctx, p.OrderID, p.TrackingNumber); err != nil {
			// a conflict means the order already moved on; don't redeliver
			if !faults.Is(err, faults.KindConflict) {
				return err
			}
			log.Printf("tracking collected order=%s: %v", p.OrderID, err)
		}
	case orders.DeliveryDelivered:
		if err := s.complete(ctx, p.OrderID); err != nil {
			if !faults.Is(err, faults.KindConflict) {
				return err
			}
			log.Printf("tracking delivered order=%s: %v", p.OrderID, err)
		}
	case orders.DeliveryInTransit:
		// informational only
	default:
		log.Printf("tracking: unknown status %q order=%s", p.Status, p.OrderID)
		return nil
	}

	if s.Redis != nil {
		_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}
	return nil
}

// complete confirms delivery and releases the escrow: mark the order
// completed, then transfer the seller's share to their subaccount.
func (s *Service) complete(ctx context.Context, orderID string) error {
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}

	// an already-completed order means a redelivered event whose payout
	// may not have gone through; fall through and retry the transfer
	if o.Status != orders.StatusCompleted {
		if err := s.Orders.MarkCompleted(ctx, orderID); err != nil {
			return err
		}
	}

	sp := split.Calculate(o.AmountCents)
	code, err := s.Banking.ActiveCode(ctx, o.SellerID)
	if err != nil {
		// order is complete but the payout is blocked on banking setup;
		// notify the seller instead of failing the event forever
		log.Printf("payout blocked order=%s seller=%s: %v", o.ID, o.SellerID, err)
		s.notify(ctx, orders.Notification{
			UserID:  o.SellerID,
			OrderID: o.ID,
			Type:    "payout_blocked",
			Title:   "Add banking details to get paid",
			Message: "Your sale is complete but we have no active bank account for the payout.",
		})
		return nil
	}

	ref := "payout-" + o.ID
	if _, err := s.Gateway.Transfer(ctx, code, sp.SellerCents, "book sale payout", ref); err != nil {
		return err
	}

	s.notify(ctx, orders.Notification{
		UserID:  o.SellerID,
		OrderID: o.ID,
		Type:    "payout_released",
		Title:   "Payment on its way",
		Message: fmt.Sprintf("Delivery confirmed. R%.2f has been released to your account.", float64(sp.SellerCents)/100),
	})
	s.notify(ctx, orders.Notification{
		UserID:  o.BuyerID,
		OrderID: o.ID,
		Type:    "order_completed",
		Title:   "Order complete",
		Message: "Delivery confirmed. Thanks for buying on the marketplace.",
	})
	return nil
}

func (s *Service) notify(ctx context.Context, n orders.Notification) {
	if s.Notifications == nil {
		return
	}
	if err := s.Notifications.Insert(ctx, n); err != nil {
		log.Printf("notify user=%s order=%s: %v", n.UserID, n.OrderID, err)
	}
}
