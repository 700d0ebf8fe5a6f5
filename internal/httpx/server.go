package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rebooked/order-service/internal/faults"
)

func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOK wraps data in the {success:true} envelope the clients expect.
func writeOK(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, map[string]any{"success": true, "data": data})
}

// WriteFault maps a tagged fault to its HTTP status and the
// {success:false, error, code} body.
func WriteFault(w http.ResponseWriter, err error) {
	writeJSON(w, faults.HTTPStatus(err), map[string]any{
		"success": false,
		"error":   faults.Message(err),
		"code":    string(faults.KindOf(err)),
	})
}
