package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	custommiddleware "github.com/mmeshcher/restaurant-orders/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса заказов.
func (h *Handler) SetupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)
		r.Get("/restaurant-status", h.GetRestaurantStatus)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders/my", h.GetMyOrders)
			r.Get("/orders/{id}", h.GetOrder)

			r.Post("/payment/create-order", h.CreatePaymentOrder)
			r.Post("/payment/verify", h.VerifyPayment)
			r.Post("/payment/verify-payment", h.VerifyPayment)

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RequireAdmin)

				r.Get("/orders", h.ListOrders)
				r.Put("/orders/{id}/status", h.UpdateOrderStatus)
				r.Put("/restaurant-status", h.UpdateRestaurantStatus)
				r.Get("/admin/stats", h.GetStats)
			})
		})
	})

	r.With(h.authMiddleware.Middleware).Get("/ws", h.Subscribe)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	if len(h.corsOrigins) == 0 {
		return r
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   h.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Accept-Encoding", "Content-Encoding"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}
