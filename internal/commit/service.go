// Package commit owns the seller-side order workflow: commit-to-sale,
// decline with refund, and the commit-window expiry sweep. Business
// rules live here once; the courier-integrated and direct paths are
// strategies behind a single connectivity probe.
package commit

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/rebooked/order-service/internal/courier"
	"github.com/rebooked/order-service/internal/faults"
	kafkax "github.com/rebooked/order-service/internal/kafka"
	"github.com/rebooked/order-service/internal/orders"
	"github.com/rebooked/order-service/internal/redisx"
	"github.com/rebooked/order-service/internal/refunds"
)

type OrderStore interface {
	GetForSeller(ctx context.Context, orderID, sellerID string) (orders.Order, error)
	Commit(ctx context.Context, u orders.CommitUpdate) error
	Cancel(ctx context.Context, orderID, sellerID, reason string, at time.Time) error
	MarkRefunded(ctx context.Context, orderID string, at time.Time) error
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]orders.Order, error)
}

type CourierClient interface {
	CreateShipment(ctx context.Context, in courier.ShipmentInput) (courier.Shipment, error)
	Ping(ctx context.Context) error
}

type Refunder interface {
	Execute(ctx context.Context, o orders.Order, reason string) (refunds.Transaction, error)
}

type NotificationStore interface {
	Insert(ctx context.Context, n orders.Notification) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Orders        OrderStore
	Courier       CourierClient
	Refunds       Refunder
	Notifications NotificationStore

	CommittedProducer Publisher
	DeclinedProducer  Publisher

	Redis       *redis.Client
	ServiceName string

	CommitWindow  time.Duration // seller deadline, 48h
	DeliverySLA   time.Duration // standard delivery promise, 7d
	PayoutLeadCut time.Duration // locker payout acceleration, 3d

	now func() time.Time
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

type CommitRequest struct {
	OrderID        string
	SellerID       string
	DeliveryMethod orders.DeliveryMethod
	LockerID       string
}

type CommitResult struct {
	Order           orders.Order
	TrackingNumber  string
	EstimatedPayout time.Time
	CourierBooked   bool
}

// Commit performs the commit-to-sale transition. For locker delivery the
// shipment is booked first; a courier failure aborts the commit with no
// partial state. When the courier is unreachable the fallback strategy
// completes the commit without booking, trading the locker integration
// for availability.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	if req.OrderID == "" || req.SellerID == "" {
		return CommitResult{}, faults.New(faults.KindValidation, "order_id and seller_id are required")
	}
	switch req.DeliveryMethod {
	case orders.DeliveryHome, orders.DeliveryLocker:
	case "":
		req.DeliveryMethod = orders.DeliveryHome
	default:
		return CommitResult{}, faults.Newf(faults.KindValidation, "unknown delivery_method %q", req.DeliveryMethod)
	}
	if req.DeliveryMethod == orders.DeliveryLocker && req.LockerID == "" {
		return CommitResult{}, faults.New(faults.KindValidation, "locker_id is required for locker delivery")
	}

	o, err := s.Orders.GetForSeller(ctx, req.OrderID, req.SellerID)
	if err != nil {
		return CommitResult{}, err
	}
	if !orders.Committable(o.Status) {
		// mirror the repo's classification for a consistent taxonomy
		switch o.Status {
		case orders.StatusCommitted, orders.StatusCourierScheduled, orders.StatusShipped, orders.StatusCompleted:
			return CommitResult{}, faults.Newf(faults.KindAlreadyCommitted, "order %s already committed", o.ID)
		default:
			return CommitResult{}, faults.Newf(faults.KindConflict, "order %s is %s", o.ID, o.Status)
		}
	}

	now := s.clock()
	u := orders.CommitUpdate{
		OrderID:         o.ID,
		SellerID:        o.SellerID,
		NewStatus:       orders.StatusCommitted,
		CommittedAt:     now,
		EstimatedPayout: now.Add(s.DeliverySLA),
	}
	res := CommitResult{EstimatedPayout: u.EstimatedPayout}

	if req.DeliveryMethod == orders.DeliveryLocker && s.courierUp(ctx) {
		shipment, err := s.Courier.CreateShipment(ctx, courier.ShipmentInput{
			OrderID:        o.ID,
			DeliveryMethod: string(orders.DeliveryLocker),
			LockerID:       req.LockerID,
			SellerID:       o.SellerID,
			BuyerID:        o.BuyerID,
		})
		if err != nil {
			// no partial state: the order stays pending_commit
			return CommitResult{}, err
		}
		u.NewStatus = orders.StatusCourierScheduled
		u.LockerID = req.LockerID
		u.TrackingNumber = shipment.TrackingNumber
		u.EstimatedPayout = now.Add(s.DeliverySLA - s.PayoutLeadCut)
		res.TrackingNumber = shipment.TrackingNumber
		res.EstimatedPayout = u.EstimatedPayout
		res.CourierBooked = true
	} else if req.DeliveryMethod == orders.DeliveryLocker {
		// fallback: keep the locker choice on record, book later
		u.LockerID = req.LockerID
	}

	if err := s.Orders.Commit(ctx, u); err != nil {
		return CommitResult{}, err
	}

	o.Status = u.NewStatus
	o.CommittedAt = &u.CommittedAt
	o.LockerID = u.LockerID
	o.TrackingNumber = u.TrackingNumber
	o.EstimatedPayout = &u.EstimatedPayout
	res.Order = o

	s.notify(ctx, orders.Notification{
		UserID:  o.BuyerID,
		OrderID: o.ID,
		Type:    "order_committed",
		Title:   "Seller confirmed your order",
		Message: "The seller has committed to your sale and your book is on its way.",
	})
	s.publishCommitted(o)
	return res, nil
}

type DeclineRequest struct {
	OrderID  string
	SellerID string
	Reason   string
}

type DeclineResult struct {
	RefundAmountCents int
	RefundReference   string
}

// Decline refunds the buyer first and only then cancels the order. A
// failed refund leaves the order pending_commit so the money is never
// stranded; the expiry sweep retries it later.
func (s *Service) Decline(ctx context.Context, req DeclineRequest) (DeclineResult, error) {
	if req.OrderID == "" || req.SellerID == "" {
		return DeclineResult{}, faults.New(faults.KindValidation, "order_id and seller_id are required")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return DeclineResult{}, faults.New(faults.KindValidation, "a decline reason is required")
	}

	o, err := s.Orders.GetForSeller(ctx, req.OrderID, req.SellerID)
	if err != nil {
		return DeclineResult{}, err
	}
	if o.Status != orders.StatusPendingCommit {
		switch o.Status {
		case orders.StatusCommitted, orders.StatusCourierScheduled, orders.StatusShipped, orders.StatusCompleted:
			return DeclineResult{}, faults.Newf(faults.KindAlreadyCommitted, "order %s already committed", o.ID)
		default:
			return DeclineResult{}, faults.Newf(faults.KindConflict, "order %s is %s", o.ID, o.Status)
		}
	}

	t, err := s.Refunds.Execute(ctx, o, "seller declined: "+req.Reason)
	if err != nil {
		return DeclineResult{}, err
	}

	if err := s.Orders.Cancel(ctx, o.ID, o.SellerID, req.Reason, s.clock()); err != nil {
		// a concurrent commit can win the pending_commit race while the
		// refund is in flight; the money has already moved, so the
		// refunded state wins over the commit
		if rerr := s.Orders.MarkRefunded(ctx, o.ID, s.clock()); rerr != nil {
			return DeclineResult{}, err
		}
	}

	s.notify(ctx, orders.Notification{
		UserID:  o.BuyerID,
		OrderID: o.ID,
		Type:    "order_declined",
		Title:   "Order declined",
		Message: "The seller declined your order. Your payment has been refunded in full.",
	})
	s.notify(ctx, orders.Notification{
		UserID:  o.SellerID,
		OrderID: o.ID,
		Type:    "order_declined",
		Title:   "Decline confirmed",
		Message: "You declined this sale and the buyer has been refunded.",
	})
	s.publishDeclined(o, req.Reason, t.AmountCents)

	return DeclineResult{RefundAmountCents: t.AmountCents, RefundReference: t.RefundReference}, nil
}

// AutoDeclineExpired cancels and refunds pending_commit orders past the
// commit window. Called from the worker's cron sweep; also picks up
// declines whose refund failed earlier.
func (s *Service) AutoDeclineExpired(ctx context.Context, limit int) (int, error) {
	cutoff := s.clock().Add(-s.CommitWindow)
	expired, err := s.Orders.ListExpiredPending(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, o := range expired {
		if _, err := s.Decline(ctx, DeclineRequest{
			OrderID:  o.ID,
			SellerID: o.SellerID,
			Reason:   "commit window expired",
		}); err != nil {
			log.Printf("sweep decline order=%s: %v", o.ID, err)
			continue
		}
		done++
	}
	return done, nil
}

// courierUp consults the cached probe before trying the live endpoint,
// so one outage doesn't stall every locker commit behind a timeout.
func (s *Service) courierUp(ctx context.Context) bool {
	if s.Redis != nil {
		if v, err := s.Redis.Get(ctx, redisx.KeyCourierProbe).Result(); err == nil {
			return v == "up"
		}
	}
	state := "up"
	ok := true
	if err := s.Courier.Ping(ctx); err != nil {
		log.Printf("courier probe: %v", err)
		state, ok = "down", false
	}
	if s.Redis != nil {
		_ = s.Redis.Set(ctx, redisx.KeyCourierProbe, state, redisx.TTLProbe).Err()
	}
	return ok
}

func (s *Service) notify(ctx context.Context, n orders.Notification) {
	if s.Notifications == nil {
		return
	}
	if err := s.Notifications.Insert(ctx, n); err != nil {
		log.Printf("notify user=%s order=%s: %v", n.UserID, n.OrderID, err)
	}
}

func (s *Service) publishCommitted(o orders.Order) {
	if s.CommittedProducer == nil {
		return
	}
	ev := s.envelope(orders.EventOrderCommitted, o.ID, kafkax.MustMarshal(orders.OrderCommittedPayload{
		OrderID:         o.ID,
		SellerID:        o.SellerID,
		DeliveryMethod:  string(o.DeliveryMethod),
		TrackingNumber:  o.TrackingNumber,
		EstimatedPayout: o.EstimatedPayout,
	}))
	s.CommittedProducer.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCommitted)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) publishDeclined(o orders.Order, reason string, refundCents int) {
	if s.DeclinedProducer == nil {
		return
	}
	ev := s.envelope(orders.EventOrderDeclined, o.ID, kafkax.MustMarshal(orders.OrderDeclinedPayload{
		OrderID:           o.ID,
		SellerID:          o.SellerID,
		Reason:            reason,
		RefundAmountCents: refundCents,
	}))
	s.DeclinedProducer.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderDeclined)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) envelope(eventType, orderID string, payload []byte) orders.Envelope {
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.clock(),
		Producer:      s.ServiceName,
		CorrelationID: orderID,
		Payload:       payload,
	}
}
