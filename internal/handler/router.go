package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/devflow/devcoins/internal/middleware"
)

// SetupRouter configures the HTTP routes and middleware of the devcoins API.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.sessionMiddleware.Middleware)

			r.Get("/user/coins", h.GetCoins)
			r.Get("/user/transactions", h.GetTransactions)

			r.Post("/coupons/redeem", h.RedeemCoupon)
			r.Post("/transfer-repo", h.TransferRepo)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/stats", h.AdminStats)
				r.Get("/users", h.AdminListUsers)
				r.Post("/users/add-coins", h.AdminAddCoins)
				r.Post("/users/toggle-admin", h.AdminToggleAdmin)
				r.Get("/coupons", h.AdminListCoupons)
				r.Post("/coupons/generate", h.AdminGenerateCoupons)
				r.Delete("/coupons/{id}", h.AdminDeleteCoupon)
				r.Get("/transactions", h.AdminListTransactions)
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
