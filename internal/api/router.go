package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter mounts the handlers behind the shared middleware stack. Lookups
// wait for the vendor browser, so timeout should cover the session wait plus
// the rate limiter delay.
func NewRouter(h *Handlers, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/vendors", h.ListVendors)
		r.Route("/vendors/{vendor}", func(r chi.Router) {
			r.Post("/lookup", h.Lookup)
			r.Post("/login", h.Login)
			r.Get("/products/{gtin}", h.GetProduct)
		})
		r.Post("/price", h.ParsePrice)
	})

	return r
}
