package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/bundlemart/internal/middleware"
)

const requestTimeout = 15 * time.Second

// SetupRouter настраивает HTTP-маршруты и middleware сервиса bundlemart.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimw.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/products/{id}/availability", h.GetAvailability)
		r.Post("/payments/callback", h.PaymentCallback)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.CreateOrder)
				r.Get("/", h.GetOrders)
				r.Get("/{id}", h.GetOrder)
				r.Post("/{id}/cancel", h.CancelOrder)
				r.Post("/{id}/cancel-items", h.CancelItems)
				r.Post("/{id}/return-request", h.RequestReturn)
				r.Delete("/{id}/return-request", h.WithdrawReturn)
			})

			r.Route("/admin/orders/{id}", func(r chi.Router) {
				r.Use(custommiddleware.RequireOperator)

				r.Post("/status", h.SetStatus)
				r.Post("/return-request/decision", h.DecideReturn)
				r.Post("/return-request/complete", h.CompleteReturn)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
