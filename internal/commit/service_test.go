package commit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebooked/order-service/internal/courier"
	"github.com/rebooked/order-service/internal/faults"
	"github.com/rebooked/order-service/internal/orders"
	"github.com/rebooked/order-service/internal/refunds"
)

// ---- fakes ----

type fakeOrders struct {
	mu   sync.Mutex
	byID map[string]orders.Order
}

func newFakeOrders(os ...orders.Order) *fakeOrders {
	f := &fakeOrders{byID: map[string]orders.Order{}}
	for _, o := range os {
		f.byID[o.ID] = o
	}
	return f
}

func (f *fakeOrders) GetForSeller(_ context.Context, orderID, sellerID string) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[orderID]
	if !ok || o.SellerID != sellerID {
		return orders.Order{}, faults.Newf(faults.KindNotFound, "order %s not found for seller", orderID)
	}
	return o, nil
}

func (f *fakeOrders) classify(o orders.Order, ok bool, sellerID string) error {
	if !ok || o.SellerID != sellerID {
		return faults.Newf(faults.KindNotFound, "order %s not found for seller", o.ID)
	}
	switch o.Status {
	case orders.StatusCommitted, orders.StatusCourierScheduled, orders.StatusShipped, orders.StatusCompleted:
		return faults.Newf(faults.KindAlreadyCommitted, "order %s already committed", o.ID)
	default:
		return faults.Newf(faults.KindConflict, "order %s is %s", o.ID, o.Status)
	}
}

func (f *fakeOrders) Commit(_ context.Context, u orders.CommitUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[u.OrderID]
	if !ok || o.SellerID != u.SellerID || o.Status != orders.StatusPendingCommit {
		return f.classify(o, ok, u.SellerID)
	}
	o.Status = u.NewStatus
	o.CommittedAt = &u.CommittedAt
	o.LockerID = u.LockerID
	o.TrackingNumber = u.TrackingNumber
	o.EstimatedPayout = &u.EstimatedPayout
	f.byID[u.OrderID] = o
	return nil
}

func (f *fakeOrders) Cancel(_ context.Context, orderID, sellerID, reason string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[orderID]
	if !ok || o.SellerID != sellerID || o.Status != orders.StatusPendingCommit {
		return f.classify(o, ok, sellerID)
	}
	o.Status = orders.StatusCancelled
	o.DeclineReason = reason
	o.CancelledAt = &at
	f.byID[orderID] = o
	return nil
}

func (f *fakeOrders) MarkRefunded(_ context.Context, orderID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[orderID]
	if !ok || orders.IsTerminal(o.Status) {
		return faults.Newf(faults.KindConflict, "order %s is already terminal", orderID)
	}
	o.Status = orders.StatusRefunded
	f.byID[orderID] = o
	return nil
}

func (f *fakeOrders) ListExpiredPending(_ context.Context, cutoff time.Time, limit int) ([]orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []orders.Order
	for _, o := range f.byID {
		if o.Status == orders.StatusPendingCommit && o.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrders) get(id string) orders.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

type fakeCourier struct {
	shipments []courier.ShipmentInput
	failWith  error
	pingErr   error
}

func (f *fakeCourier) CreateShipment(_ context.Context, in courier.ShipmentInput) (courier.Shipment, error) {
	if f.failWith != nil {
		return courier.Shipment{}, f.failWith
	}
	f.shipments = append(f.shipments, in)
	return courier.Shipment{TrackingNumber: "TRK-" + in.OrderID}, nil
}

func (f *fakeCourier) Ping(context.Context) error { return f.pingErr }

type fakeRefunder struct {
	calls     int
	err       error
	onExecute func()
}

func (f *fakeRefunder) Execute(_ context.Context, o orders.Order, reason string) (refunds.Transaction, error) {
	f.calls++
	if f.onExecute != nil {
		f.onExecute()
	}
	if f.err != nil {
		return refunds.Transaction{}, f.err
	}
	return refunds.Transaction{
		OrderID:         o.ID,
		AmountCents:     o.AmountCents,
		RefundReference: "RF-" + o.ID,
		Status:          refunds.StatusSuccess,
	}, nil
}

type fakeNotifs struct {
	mu   sync.Mutex
	sent []orders.Notification
}

func (f *fakeNotifs) Insert(_ context.Context, n orders.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifs) forUser(userID string) []orders.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []orders.Notification
	for _, n := range f.sent {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

type fakePublisher struct {
	mu       sync.Mutex
	messages [][]byte
}

func (f *fakePublisher) Publish(_, value []byte, _ ...kafkago.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, value)
}

// ---- helpers ----

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func pendingOrder(id string) orders.Order {
	return orders.Order{
		ID:               id,
		BuyerID:          "buyer-1",
		SellerID:         "seller-1",
		BookID:           "book-1",
		Status:           orders.StatusPendingCommit,
		DeliveryMethod:   orders.DeliveryHome,
		AmountCents:      50000,
		PaymentReference: "ch_" + id,
		CreatedAt:        t0.Add(-time.Hour),
	}
}

func newService(store *fakeOrders, c *fakeCourier, rf *fakeRefunder, n *fakeNotifs) *Service {
	return &Service{
		Orders:            store,
		Courier:           c,
		Refunds:           rf,
		Notifications:     n,
		CommittedProducer: &fakePublisher{},
		DeclinedProducer:  &fakePublisher{},
		ServiceName:       "test",
		CommitWindow:      48 * time.Hour,
		DeliverySLA:       7 * 24 * time.Hour,
		PayoutLeadCut:     3 * 24 * time.Hour,
		now:               func() time.Time { return t0 },
	}
}

// ---- tests ----

func TestCommitHomeDelivery(t *testing.T) {
	store := newFakeOrders(pendingOrder("o1"))
	notifs := &fakeNotifs{}
	svc := newService(store, &fakeCourier{}, &fakeRefunder{}, notifs)

	res, err := svc.Commit(context.Background(), CommitRequest{
		OrderID: "o1", SellerID: "seller-1", DeliveryMethod: orders.DeliveryHome,
	})
	require.NoError(t, err)

	assert.Equal(t, orders.StatusCommitted, res.Order.Status)
	assert.Equal(t, t0, *res.Order.CommittedAt)
	assert.Equal(t, t0.Add(7*24*time.Hour), res.EstimatedPayout)
	assert.False(t, res.CourierBooked)

	// exactly one buyer notification
	assert.Len(t, notifs.forUser("buyer-1"), 1)
	assert.Equal(t, "order_committed", notifs.forUser("buyer-1")[0].Type)
}

func TestCommitTwiceIsAlreadyCommitted(t *testing.T) {
	store := newFakeOrders(pendingOrder("o1"))
	svc := newService(store, &fakeCourier{}, &fakeRefunder{}, &fakeNotifs{})

	_, err := svc.Commit(context.Background(), CommitRequest{OrderID: "o1", SellerID: "seller-1"})
	require.NoError(t, err)

	_, err = svc.Commit(context.Background(), CommitRequest{OrderID: "o1", SellerID: "seller-1"})
	assert.True(t, faults.Is(err, faults.KindAlreadyCommitted), "got %v", err)
}

func TestCommitUnknownOrderIsNotFound(t *testing.T) {
	svc := newService(newFakeOrders(), &fakeCourier{}, &fakeRefunder{}, &fakeNotifs{})

	_, err := svc.Commit(context.Background(), CommitRequest{OrderID: "nope", SellerID: "seller-1"})
	assert.True(t, faults.Is(err, faults.KindNotFound), "got %v", err)
}

func TestCommitWrongSellerIsNotFound(t *testing.T) {
	svc := newService(newFakeOrders(pendingOrder("o1")), &fakeCourier{}, &fakeRefunder{}, &fakeNotifs{})

	_, err := svc.Commit(context.Background(), CommitRequest{OrderID: "o1", SellerID: "someone-else"})
	assert.True(t, faults.Is(err, faults.KindNotFound), "got %v", err)
}

func TestCommitLockerBooksShipmentAndAcceleratesPayout(t *testing.T) {
	store := newFakeOrders(pendingOrder("o1"))
	cour := &fakeCourier{}
	svc := newService(store, cour, &fakeRefunder{}, &fakeNotifs{})

	res, err := svc.Commit(context.Background(), CommitRequest{
		OrderID: "o1", SellerID: "seller-1",
		DeliveryMethod: orders.DeliveryLocker, LockerID: "locker-42",
	})
	require.NoError(t, err)

	assert.True(t, res.CourierBooked)
	assert.Equal(t, "TRK-o1", res.TrackingNumber)
	assert.Equal(t, orders.StatusCourierScheduled, res.Order.Status)
	// SLA 7d minus 3d acceleration
	assert.Equal(t, t0.Add(4*24*time.Hour), res.EstimatedPayout)
	require.Len(t, cour.shipments, 1)
	assert.Equal(t, "locker-42", cour.shipments[0].LockerID)
}

func TestCommitLockerCourierFailureAborts(t *testing.T) {
	store := newFakeOrders(pendingOrder("o1"))
	cour := &fakeCourier{failWith: faults.Gateway(faults.GatewayServer, "courier 503", nil)}
	svc := newService(store, cour, &fakeRefunder{}, &fakeNotifs{})

	_, err := svc.Commit(context.Background(), CommitRequest{
		OrderID: "o1", SellerID: "seller-1",
		DeliveryMethod: orders.DeliveryLocker, LockerID: "locker-42",
	})
	assert.True(t, faults.Is(err, faults.KindGateway), "got %v", err)
	// no partial state
	assert.Equal(t, orders.StatusPendingCommit, store.get("o1").Status)
}

func TestCommitLockerFallsBackWhenCourierDown(t *testing.T) {
	store := newFakeOrders(pendingOrder("o1"))
	cour := &fakeCourier{pingErr: errors.New("connection refused")}
	svc := newService(store, cour, &fakeRefunder{}, &fakeNotifs{})

	res, err := svc.Commit(context.Background(), CommitRequest{
		OrderID: "o1", SellerID: "seller-1",
		DeliveryMethod: orders.DeliveryLocker, LockerID: "locker-42",
	})
	require.NoError(t, err)

	// commit completes without the booking; locker choice preserved
	assert.False(t, res.CourierBooked)
	assert.Empty(t, res.TrackingNumber)
	assert.Equal(t, orders.StatusCommitted, res.Order.Status)
	assert.Equal(t, "locker-42", res.Order.LockerID)
	assert.Empty(t, cour.shipments)
}

func TestCommitLockerRequiresLockerID(t *testing.T) {
	svc := newService(newFakeOrders(pendingOrder("o1")), &fakeCourier{}, &fakeRefunder{}, &fakeNotifs{})

	_, err := svc.Commit(context.Background(), CommitRequest{
		OrderID: "o1", SellerID: "seller-1", DeliveryMethod: orders.DeliveryLocker,
	})
	assert.True(t, faults.Is(err, faults.KindValidation), "got %v", err)
}

func TestDeclineRefundsThenCancels(t *testing.T) {
	store := newFakeOrders(pendingOrder("o1"))
	rf := &fakeRefunder{}
	notifs := &fakeNotifs{}
	svc := newService(store, &fakeCourier{}, rf, notifs)

	res, err := svc.Decline(context.Background(), DeclineRequest{
		OrderID: "o1", SellerID: "seller-1", Reason: "book is damaged",
	})
	require.NoError(t, err)

	assert.Equal(t, 50000, res.RefundAmountCents)
	assert.Equal(t, "RF-o1", res.RefundReference)
	assert.Equal(t, 1, rf.calls)
	assert.Equal(t, orders.StatusCancelled, store.get("o1").Status)
	assert.Equal(t, "book is damaged", store.get("o1").DeclineReason)
	// both parties notified
	assert.Len(t, notifs.forUser("buyer-1"), 1)
	assert.Len(t, notifs.forUser("seller-1"), 1)
}

func TestDeclineRequiresReason(t *testing.T) {
	svc := newService(newFakeOrders(pendingOrder("o1")), &fakeCourier{}, &fakeRefunder{}, &fakeNotifs{})

	_, err := svc.Decline(context.Background(), DeclineRequest{OrderID: "o1", SellerID: "seller-1", Reason: "  "})
	assert.True(t, faults.Is(err, faults.KindValidation), "got %v", err)
}

func TestDeclineFailedRefundLeavesOrderPending(t *testing.T) {
	store := newFakeOrders(pendingOrder("o1"))
	rf := &fakeRefunder{err: faults.Gateway(faults.GatewayServer, "paystack 500", nil)}
	svc := newService(store, &fakeCourier{}, rf, &fakeNotifs{})

	_, err := svc.Decline(context.Background(), DeclineRequest{
		OrderID: "o1", SellerID: "seller-1", Reason: "changed my mind",
	})
	assert.True(t, faults.Is(err, faults.KindGateway), "got %v", err)
	// decline did not complete: money must move before the cancel
	assert.Equal(t, orders.StatusPendingCommit, store.get("o1").Status)
}

func TestDeclineLosingCommitRaceEndsRefunded(t *testing.T) {
	store := newFakeOrders(pendingOrder("o1"))
	rf := &fakeRefunder{}
	// a concurrent commit slips in while the refund is in flight
	rf.onExecute = func() {
		store.mu.Lock()
		o := store.byID["o1"]
		o.Status = orders.StatusCommitted
		store.byID["o1"] = o
		store.mu.Unlock()
	}
	svc := newService(store, &fakeCourier{}, rf, &fakeNotifs{})

	res, err := svc.Decline(context.Background(), DeclineRequest{
		OrderID: "o1", SellerID: "seller-1", Reason: "sold elsewhere",
	})
	require.NoError(t, err)

	assert.Equal(t, "RF-o1", res.RefundReference)
	// the refund wins: the racing commit cannot keep the order
	assert.Equal(t, orders.StatusRefunded, store.get("o1").Status)
}

func TestDeclineCommittedOrderRejected(t *testing.T) {
	o := pendingOrder("o1")
	o.Status = orders.StatusCommitted
	svc := newService(newFakeOrders(o), &fakeCourier{}, &fakeRefunder{}, &fakeNotifs{})

	_, err := svc.Decline(context.Background(), DeclineRequest{OrderID: "o1", SellerID: "seller-1", Reason: "too late"})
	assert.True(t, faults.Is(err, faults.KindAlreadyCommitted), "got %v", err)
}

func TestAutoDeclineExpired(t *testing.T) {
	fresh := pendingOrder("fresh")
	fresh.CreatedAt = t0.Add(-time.Hour)
	stale := pendingOrder("stale")
	stale.CreatedAt = t0.Add(-72 * time.Hour)
	committed := pendingOrder("done")
	committed.Status = orders.StatusCommitted
	committed.CreatedAt = t0.Add(-72 * time.Hour)

	store := newFakeOrders(fresh, stale, committed)
	rf := &fakeRefunder{}
	svc := newService(store, &fakeCourier{}, rf, &fakeNotifs{})

	n, err := svc.AutoDeclineExpired(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, rf.calls)
	assert.Equal(t, orders.StatusCancelled, store.get("stale").Status)
	assert.Equal(t, orders.StatusPendingCommit, store.get("fresh").Status)
	assert.Equal(t, orders.StatusCommitted, store.get("done").Status)
}
