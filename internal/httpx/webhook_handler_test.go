package httpx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebooked/order-service/internal/faults"
	"github.com/rebooked/order-service/internal/orders"
	"github.com/rebooked/order-service/internal/paystack"
)

type webhookOrders struct {
	created []orders.Order
}

func (s *webhookOrders) Create(_ context.Context, o orders.Order) error {
	for _, e := range s.created {
		if e.ID == o.ID {
			return faults.Newf(faults.KindConflict, "order %s already exists", o.ID)
		}
	}
	s.created = append(s.created, o)
	return nil
}

type memPublisher struct{ n int }

func (p *memPublisher) Publish(_, _ []byte, _ ...kafkago.Header) { p.n++ }

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookDuplicateDeliveryIsAcknowledged(t *testing.T) {
	store := &webhookOrders{}
	notifs := &memNotifs{}
	pub := &memPublisher{}
	h := &WebhookHandler{
		Repo:          store,
		Notifications: notifs,
		Gateway:       paystack.New("http://unused", "sk_test"),
		Producer:      pub,
		Service:       "test",
	}
	r := NewRouter()
	h.Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	body := []byte(`{"event":"charge.success","data":{"id":42,"reference":"ch_o9","amount":50000,"metadata":{"order_id":"o9","buyer_id":"buyer-1","seller_id":"seller-1","book_id":"book-1","delivery_method":"home"}}}`)
	send := func() *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/webhooks/paystack", bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("x-paystack-signature", signBody("sk_test", body))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := send()
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, store.created, 1)
	assert.Equal(t, orders.StatusPendingCommit, store.created[0].Status)
	assert.Equal(t, "ch_o9", store.created[0].PaymentReference)
	assert.Equal(t, 1, pub.n)
	assert.Equal(t, 1, notifs.n)

	// redelivery after the dedup key lapsed: acknowledged, no second
	// order, notification or event
	resp2 := send()
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Len(t, store.created, 1)
	assert.Equal(t, 1, pub.n)
	assert.Equal(t, 1, notifs.n)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := &WebhookHandler{Gateway: paystack.New("http://unused", "sk_test")}
	r := NewRouter()
	h.Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/webhooks/paystack", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	req.Header.Set("x-paystack-signature", "deadbeef")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
