package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/rebooked/order-service/internal/faults"
	kafkax "github.com/rebooked/order-service/internal/kafka"
	"github.com/rebooked/order-service/internal/orders"
	"github.com/rebooked/order-service/internal/paystack"
	"github.com/rebooked/order-service/internal/redisx"
)

type OrderCreator interface {
	Create(ctx context.Context, o orders.Order) error
}

type NotificationStore interface {
	Insert(ctx context.Context, n orders.Notification) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// WebhookHandler receives gateway events. charge.success opens the
// order in pending_commit and starts the seller's 48h clock.
type WebhookHandler struct {
	Repo          OrderCreator
	Notifications NotificationStore
	Gateway       *paystack.Client
	Producer      Publisher // order.created
	Redis         *redis.Client
	Service       string
}

func (h *WebhookHandler) Register(r *chi.Mux) {
	r.Post("/v1/webhooks/paystack", h.paystackEvent)
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID        int64  `json:"id"`
		Reference string `json:"reference"`
		Amount    int    `json:"amount"` // already in subunits
		Metadata  struct {
			OrderID        string `json:"order_id"`
			BuyerID        string `json:"buyer_id"`
			SellerID       string `json:"seller_id"`
			BookID         string `json:"book_id"`
			DeliveryMethod string `json:"delivery_method"`
			LockerID       string `json:"locker_id"`
		} `json:"metadata"`
	} `json:"data"`
}

func (h *WebhookHandler) paystackEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		WriteFault(w, faults.New(faults.KindValidation, "unreadable body"))
		return
	}
	if !h.Gateway.VerifyWebhook(r.Header.Get("x-paystack-signature"), body) {
		WriteFault(w, faults.New(faults.KindUnauthorized, "bad webhook signature"))
		return
	}

	var ev paystackEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		WriteFault(w, faults.New(faults.KindValidation, "invalid json"))
		return
	}
	if ev.Event != "charge.success" {
		// acknowledge everything else so the gateway stops retrying
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// dedup by gateway event id; webhooks are at-least-once
	dkey := fmt.Sprintf(redisx.KeyDedup, "webhook", fmt.Sprintf("%d", ev.Data.ID))
	if h.Redis != nil {
		if seen, _ := redisx.Exists(ctx, h.Redis, dkey); seen {
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	md := ev.Data.Metadata
	if md.OrderID == "" || md.BuyerID == "" || md.SellerID == "" {
		WriteFault(w, faults.New(faults.KindValidation, "charge metadata incomplete"))
		return
	}

	method := orders.DeliveryMethod(md.DeliveryMethod)
	if method != orders.DeliveryLocker {
		method = orders.DeliveryHome
	}

	o := orders.Order{
		ID:               md.OrderID,
		BuyerID:          md.BuyerID,
		SellerID:         md.SellerID,
		BookID:           md.BookID,
		Status:           orders.StatusPendingCommit,
		DeliveryMethod:   method,
		AmountCents:      ev.Data.Amount,
		PaymentReference: ev.Data.Reference,
		LockerID:         md.LockerID,
	}
	if err := h.Repo.Create(ctx, o); err != nil {
		// a retried delivery that outlived the redis dedup key lands
		// here; acknowledge it so the gateway stops resending
		if faults.Is(err, faults.KindConflict) {
			w.WriteHeader(http.StatusOK)
			return
		}
		WriteFault(w, err)
		return
	}

	if err := h.Notifications.Insert(ctx, orders.Notification{
		UserID:  o.SellerID,
		OrderID: o.ID,
		Type:    "commit_required",
		Title:   "You sold a book",
		Message: "Confirm this sale within 48 hours or the buyer is refunded automatically.",
	}); err != nil {
		log.Printf("notify seller order=%s: %v", o.ID, err)
	}

	if h.Producer != nil {
		env := orders.Envelope{
			EventID:       uuid.NewString(),
			EventType:     orders.EventOrderCreated,
			EventVersion:  1,
			OccurredAt:    time.Now().UTC(),
			Producer:      h.Service,
			TraceID:       r.Header.Get("X-Request-Id"),
			CorrelationID: o.ID,
			Payload: kafkax.MustMarshal(orders.OrderCreatedPayload{
				OrderID:          o.ID,
				BuyerID:          o.BuyerID,
				SellerID:         o.SellerID,
				BookID:           o.BookID,
				AmountCents:      o.AmountCents,
				PaymentReference: o.PaymentReference,
				DeliveryMethod:   string(o.DeliveryMethod),
			}),
		}
		h.Producer.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(env),
			kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCreated)},
			kafkago.Header{Key: "x-event-version", Value: []byte("1")},
		)
	}

	if h.Redis != nil {
		_ = h.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}
	w.WriteHeader(http.StatusOK)
}
