package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolios", func(r chi.Router) {
		r.Get("/", h.HandleListPortfolios)
		r.Post("/", h.HandleCreatePortfolio)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGetPortfolio)
			r.Delete("/", h.HandleDeletePortfolio)

			r.Get("/positions", h.HandleGetPositions)
			r.Get("/transactions", h.HandleGetTransactions)
			r.Post("/transactions", h.HandleRecordTransaction)

			// Reconciliation
			r.Get("/sync", h.HandleGetSyncStatus)
			r.Post("/sync", h.HandleSync)
			r.Post("/auto-sync", h.HandleStartAutoSync)
			r.Delete("/auto-sync", h.HandleStopAutoSync)

			r.Post("/liquidate", h.HandleLiquidate)
		})
	})
}
