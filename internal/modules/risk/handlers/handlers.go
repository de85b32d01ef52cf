// Package handlers provides HTTP handlers for risk checks.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/brokersync/internal/domain"
	"github.com/aristath/brokersync/internal/modules/portfolio"
	"github.com/aristath/brokersync/internal/modules/risk"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles risk HTTP requests
type Handler struct {
	checker   *risk.Checker
	portfolio *portfolio.Service
	log       zerolog.Logger
}

// NewHandler creates a new risk handler
func NewHandler(checker *risk.Checker, portfolioService *portfolio.Service, log zerolog.Logger) *Handler {
	return &Handler{
		checker:   checker,
		portfolio: portfolioService,
		log:       log.With().Str("handler", "risk").Logger(),
	}
}

// HandleGetLimits handles GET /api/risk/limits
func (h *Handler) HandleGetLimits(w http.ResponseWriter, r *http.Request) {
	limits := h.checker.Limits()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"max_position_value": limits.MaxPositionValue,
			"max_concentration":  limits.MaxConcentration,
		},
	})
}

// HandleGetPortfolioRisk handles GET /api/risk/portfolios/{id}
func (h *Handler) HandleGetPortfolioRisk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.portfolio.GetPortfolio(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Str("portfolio_id", id).Msg("Failed to get portfolio")
		http.Error(w, "Failed to get portfolio", http.StatusInternalServerError)
		return
	}
	positions, err := h.portfolio.Positions(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("portfolio_id", id).Msg("Failed to get positions")
		http.Error(w, "Failed to get positions", http.StatusInternalServerError)
		return
	}

	alerts := h.checker.Evaluate(p, positions)
	if alerts == nil {
		alerts = []domain.RiskAlert{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"portfolio_id":  id,
			"alerts":        alerts,
			"within_limits": len(alerts) == 0,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
