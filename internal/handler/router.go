package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/testermarket/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware биржи.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/testers", h.RegisterTester)
		r.Post("/creators", h.RegisterCreator)
		r.With(h.capture.Middleware).Post("/payments/capture", h.CapturePayment)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/wallet", h.GetWallet)
			r.Get("/wallet/transactions", h.GetTransactions)
			r.Get("/wallet/reconcile", h.Reconcile)

			r.Get("/history", h.GetHistory)
			r.Get("/creator/tasks", h.ListCreatorTasks)

			r.Route("/tasks", func(r chi.Router) {
				r.Post("/", h.CreateTask)
				r.Get("/", h.ListTasks)

				r.Route("/{taskID}", func(r chi.Router) {
					r.Get("/", h.GetTask)
					r.Post("/apply", h.Apply)
					r.Post("/approve", h.Approve)
					r.Post("/reject", h.Reject)
					r.Post("/responses", h.SubmitResponse)
					r.Post("/review", h.ReviewResponse)
				})
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
