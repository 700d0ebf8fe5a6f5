package delivery

import (
	"context"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebooked/order-service/internal/faults"
	kafkax "github.com/rebooked/order-service/internal/kafka"
	"github.com/rebooked/order-service/internal/orders"
	"github.com/rebooked/order-service/internal/paystack"
)

type fakeOrders struct {
	byID      map[string]orders.Order
	shipped   []string
	completed []string
}

func (f *fakeOrders) Get(_ context.Context, id string) (orders.Order, error) {
	o, ok := f.byID[id]
	if !ok {
		return orders.Order{}, faults.Newf(faults.KindNotFound, "order %s not found", id)
	}
	return o, nil
}

func (f *fakeOrders) MarkShipped(_ context.Context, id, tracking string) error {
	o, ok := f.byID[id]
	if !ok || (o.Status != orders.StatusCommitted && o.Status != orders.StatusCourierScheduled) {
		return faults.Newf(faults.KindConflict, "order %s not in a shippable state", id)
	}
	o.Status = orders.StatusShipped
	if tracking != "" {
		o.TrackingNumber = tracking
	}
	f.byID[id] = o
	f.shipped = append(f.shipped, id)
	return nil
}

func (f *fakeOrders) MarkCompleted(_ context.Context, id string) error {
	o, ok := f.byID[id]
	if !ok || orders.IsTerminal(o.Status) || o.Status == orders.StatusPendingCommit {
		return faults.Newf(faults.KindConflict, "order %s not in a completable state", id)
	}
	o.Status = orders.StatusCompleted
	f.byID[id] = o
	f.completed = append(f.completed, id)
	return nil
}

type fakeGateway struct {
	transfers []struct {
		code   string
		amount int
		ref    string
	}
	err error
}

func (f *fakeGateway) Transfer(_ context.Context, code string, amount int, _, ref string) (paystack.TransferResult, error) {
	if f.err != nil {
		return paystack.TransferResult{}, f.err
	}
	f.transfers = append(f.transfers, struct {
		code   string
		amount int
		ref    string
	}{code, amount, ref})
	return paystack.TransferResult{TransferCode: "TRF-1", Status: "success"}, nil
}

type fakeBanking struct {
	codes map[string]string
}

func (f *fakeBanking) ActiveCode(_ context.Context, sellerID string) (string, error) {
	code, ok := f.codes[sellerID]
	if !ok {
		return "", faults.Newf(faults.KindNotFound, "no active banking details for seller")
	}
	return code, nil
}

type fakeNotifs struct{ sent []orders.Notification }

func (f *fakeNotifs) Insert(_ context.Context, n orders.Notification) error {
	f.sent = append(f.sent, n)
	return nil
}

func trackingMessage(t *testing.T, eventID, orderID, status string) kafkago.Message {
	t.Helper()
	env := orders.Envelope{
		EventID:       eventID,
		EventType:     orders.EventDeliveryUpdate,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      "courier-bridge",
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(orders.DeliveryUpdatePayload{
			OrderID:        orderID,
			TrackingNumber: "TRK-" + orderID,
			Status:         status,
			OccurredAt:     time.Now().UTC(),
		}),
	}
	return kafkago.Message{Key: orders.PartitionKey(orderID), Value: kafkax.MustMarshal(env)}
}

func shippedOrder() orders.Order {
	return orders.Order{
		ID:          "o1",
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		Status:      orders.StatusShipped,
		AmountCents: 50000,
	}
}

func TestCollectedMarksShipped(t *testing.T) {
	o := shippedOrder()
	o.Status = orders.StatusCourierScheduled
	store := &fakeOrders{byID: map[string]orders.Order{"o1": o}}
	svc := &Service{Orders: store, Gateway: &fakeGateway{}, Banking: &fakeBanking{}, Notifications: &fakeNotifs{}}

	err := svc.HandleTrackingEvent(context.Background(), trackingMessage(t, "ev1", "o1", orders.DeliveryCollected))
	require.NoError(t, err)
	assert.Equal(t, []string{"o1"}, store.shipped)
}

func TestDeliveredReleasesEscrowSplit(t *testing.T) {
	store := &fakeOrders{byID: map[string]orders.Order{"o1": shippedOrder()}}
	gw := &fakeGateway{}
	notifs := &fakeNotifs{}
	svc := &Service{
		Orders:        store,
		Gateway:       gw,
		Banking:       &fakeBanking{codes: map[string]string{"seller-1": "SUB_abc"}},
		Notifications: notifs,
	}

	err := svc.HandleTrackingEvent(context.Background(), trackingMessage(t, "ev2", "o1", orders.DeliveryDelivered))
	require.NoError(t, err)

	assert.Equal(t, []string{"o1"}, store.completed)
	require.Len(t, gw.transfers, 1)
	// 90% of R500 in cents, deterministic payout reference
	assert.Equal(t, "SUB_abc", gw.transfers[0].code)
	assert.Equal(t, 45000, gw.transfers[0].amount)
	assert.Equal(t, "payout-o1", gw.transfers[0].ref)

	types := map[string]bool{}
	for _, n := range notifs.sent {
		types[n.Type] = true
	}
	assert.True(t, types["payout_released"])
	assert.True(t, types["order_completed"])
}

func TestDeliveredWithoutBankingBlocksPayoutButCompletes(t *testing.T) {
	store := &fakeOrders{byID: map[string]orders.Order{"o1": shippedOrder()}}
	gw := &fakeGateway{}
	notifs := &fakeNotifs{}
	svc := &Service{Orders: store, Gateway: gw, Banking: &fakeBanking{}, Notifications: notifs}

	err := svc.HandleTrackingEvent(context.Background(), trackingMessage(t, "ev3", "o1", orders.DeliveryDelivered))
	require.NoError(t, err)

	assert.Equal(t, []string{"o1"}, store.completed)
	assert.Empty(t, gw.transfers)
	require.Len(t, notifs.sent, 1)
	assert.Equal(t, "payout_blocked", notifs.sent[0].Type)
}

func TestTransferFailureRequeuesEvent(t *testing.T) {
	store := &fakeOrders{byID: map[string]orders.Order{"o1": shippedOrder()}}
	gw := &fakeGateway{err: faults.Gateway(faults.GatewayServer, "paystack 500", nil)}
	svc := &Service{
		Orders:        store,
		Gateway:       gw,
		Banking:       &fakeBanking{codes: map[string]string{"seller-1": "SUB_abc"}},
		Notifications: &fakeNotifs{},
	}

	err := svc.HandleTrackingEvent(context.Background(), trackingMessage(t, "ev4", "o1", orders.DeliveryDelivered))
	assert.Error(t, err)
}

func TestForeignEventTypeIgnored(t *testing.T) {
	svc := &Service{}
	env := orders.Envelope{EventID: "ev5", EventType: orders.EventOrderCommitted, Payload: []byte(`{}`)}
	err := svc.HandleTrackingEvent(context.Background(), kafkago.Message{Value: kafkax.MustMarshal(env)})
	assert.NoError(t, err)
}
