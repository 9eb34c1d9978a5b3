package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/orders/checkout", handler.InitiateCheckout)

	// The webhook handler consumes the raw body for signature verification,
	// so nothing body-decoding may sit in front of this route.
	r.Post("/payment/webhook/provider", handler.Webhook)
	r.Get("/payment/verify/{reference}", handler.VerifyPayment)

	return &Server{Router: r}
}
