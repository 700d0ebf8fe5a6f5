package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/rebooked/order-service/internal/auth"
	"github.com/rebooked/order-service/internal/commit"
	"github.com/rebooked/order-service/internal/courier"
	"github.com/rebooked/order-service/internal/faults"
	"github.com/rebooked/order-service/internal/orders"
	"github.com/rebooked/order-service/internal/redisx"
	"github.com/rebooked/order-service/internal/refunds"
)

type OrdersHandler struct {
	Commits *commit.Service
	Refunds *refunds.Service
	Repo    *orders.Repo
	Courier *courier.Client
	Redis   *redis.Client
	Secret  string // JWT secret
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	authed := auth.Middleware(h.Secret, WriteFault)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/lockers", h.listLockers)
		r.Group(func(r chi.Router) {
			r.Use(authed)
			r.Post("/orders/commit", h.commitOrder)
			r.Post("/orders/decline", h.declineOrder)
			r.Post("/orders/{id}/refund", h.refundOrder)
			r.Get("/orders/{id}", h.getOrder)
		})
	})
}

type commitReq struct {
	OrderID        string `json:"order_id"`
	DeliveryMethod string `json:"delivery_method"`
	LockerID       string `json:"locker_id,omitempty"`
}

type commitResp struct {
	OrderID         string     `json:"order_id"`
	Status          string     `json:"status"`
	TrackingNumber  string     `json:"tracking_number,omitempty"`
	EstimatedPayout *time.Time `json:"estimated_payment_date,omitempty"`
	CourierBooked   bool       `json:"courier_booked"`
}

func (h *OrdersHandler) commitOrder(w http.ResponseWriter, r *http.Request) {
	sellerID, _ := auth.UserID(r.Context())

	var req commitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteFault(w, faults.New(faults.KindValidation, "invalid json"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Commits.Commit(ctx, commit.CommitRequest{
		OrderID:        req.OrderID,
		SellerID:       sellerID,
		DeliveryMethod: orders.DeliveryMethod(req.DeliveryMethod),
		LockerID:       req.LockerID,
	})
	if err != nil {
		WriteFault(w, err)
		return
	}

	h.cacheStatus(ctx, res.Order.ID, res.Order.Status)
	writeOK(w, http.StatusOK, commitResp{
		OrderID:         res.Order.ID,
		Status:          string(res.Order.Status),
		TrackingNumber:  res.TrackingNumber,
		EstimatedPayout: res.Order.EstimatedPayout,
		CourierBooked:   res.CourierBooked,
	})
}

type declineReq struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (h *OrdersHandler) declineOrder(w http.ResponseWriter, r *http.Request) {
	sellerID, _ := auth.UserID(r.Context())

	var req declineReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteFault(w, faults.New(faults.KindValidation, "invalid json"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Commits.Decline(ctx, commit.DeclineRequest{
		OrderID:  req.OrderID,
		SellerID: sellerID,
		Reason:   req.Reason,
	})
	if err != nil {
		WriteFault(w, err)
		return
	}

	h.cacheStatus(ctx, req.OrderID, orders.StatusCancelled)
	writeOK(w, http.StatusOK, map[string]any{
		"refund_amount_cents": res.RefundAmountCents,
		"refund_reference":    res.RefundReference,
	})
}

type refundReq struct {
	Reason string `json:"reason"`
}

// refundOrder is the buyer-side dispute/cancel path.
func (h *OrdersHandler) refundOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	orderID := chi.URLParam(r, "id")

	var req refundReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteFault(w, faults.New(faults.KindValidation, "invalid json"))
		return
	}
	if req.Reason == "" {
		WriteFault(w, faults.New(faults.KindValidation, "a refund reason is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Repo.Get(ctx, orderID)
	if err != nil {
		WriteFault(w, err)
		return
	}
	if o.BuyerID != userID {
		WriteFault(w, faults.Newf(faults.KindNotFound, "order %s not found", orderID))
		return
	}

	t, err := h.Refunds.ProcessOrderRefund(ctx, orderID, req.Reason)
	if err != nil {
		WriteFault(w, err)
		return
	}

	h.cacheStatus(ctx, orderID, orders.StatusRefunded)
	writeOK(w, http.StatusOK, map[string]any{
		"refund_reference":    t.RefundReference,
		"refund_amount_cents": t.AmountCents,
		"status":              string(t.Status),
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Repo.Get(ctx, orderID)
	if err != nil {
		WriteFault(w, err)
		return
	}
	if o.BuyerID != userID && o.SellerID != userID {
		WriteFault(w, faults.Newf(faults.KindNotFound, "order %s not found", orderID))
		return
	}

	h.cacheStatus(ctx, o.ID, o.Status)
	writeOK(w, http.StatusOK, map[string]any{
		"id":                     o.ID,
		"status":                 string(o.Status),
		"delivery_method":        string(o.DeliveryMethod),
		"amount_cents":           o.AmountCents,
		"locker_id":              o.LockerID,
		"tracking_number":        o.TrackingNumber,
		"committed_at":           o.CommittedAt,
		"cancelled_at":           o.CancelledAt,
		"estimated_payment_date": o.EstimatedPayout,
		"created_at":             o.CreatedAt,
	})
}

func (h *OrdersHandler) listLockers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ls, err := h.Courier.Lockers(ctx)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeOK(w, http.StatusOK, ls)
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, orderID string, status orders.Status) {
	if h.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = h.Redis.Set(ctx, key, fmt.Sprintf(`{"status":%q}`, status), redisx.TTLStatusCache).Err()
}
