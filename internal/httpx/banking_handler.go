package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rebooked/order-service/internal/auth"
	"github.com/rebooked/order-service/internal/banking"
	"github.com/rebooked/order-service/internal/faults"
)

type BankingHandler struct {
	Banking *banking.Service
	Secret  string
}

func (h *BankingHandler) Register(r *chi.Mux) {
	authed := auth.Middleware(h.Secret, WriteFault)
	r.Route("/v1/banking", func(r chi.Router) {
		r.Use(authed)
		r.Post("/subaccount", h.setup)
		r.Delete("/subaccount", h.remove)
		r.Post("/decrypt", h.decrypt)
	})
}

func (h *BankingHandler) setup(w http.ResponseWriter, r *http.Request) {
	sellerID, _ := auth.UserID(r.Context())

	var in banking.SetupInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		WriteFault(w, faults.New(faults.KindValidation, "invalid json"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	sub, err := h.Banking.Setup(ctx, sellerID, in)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"subaccount_code": sub.SubaccountCode,
		"business_name":   sub.BusinessName,
	})
}

func (h *BankingHandler) remove(w http.ResponseWriter, r *http.Request) {
	sellerID, _ := auth.UserID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Banking.Remove(ctx, sellerID); err != nil {
		WriteFault(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"removed": true})
}

// decrypt returns the caller's own banking fields only; the seller id
// comes from the verified token, never the request body.
func (h *BankingHandler) decrypt(w http.ResponseWriter, r *http.Request) {
	sellerID, _ := auth.UserID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sub, err := h.Banking.Decrypt(ctx, sellerID)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"business_name":   sub.BusinessName,
		"bank_code":       sub.BankCode,
		"account_number":  sub.AccountNumber,
		"subaccount_code": sub.SubaccountCode,
	})
}
