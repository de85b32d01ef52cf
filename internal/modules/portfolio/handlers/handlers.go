// Package handlers provides HTTP handlers for portfolio management.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aristath/brokersync/internal/domain"
	"github.com/aristath/brokersync/internal/modules/portfolio"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	service *portfolio.Service
	log     zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(service *portfolio.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "portfolio").Logger(),
	}
}

type createPortfolioRequest struct {
	ID              string               `json:"id"`
	OwnerID         string               `json:"ownerId"`
	Name            string               `json:"name"`
	Type            domain.PortfolioType `json:"type"`
	LinkedAccountID string               `json:"linkedAccountId"`
	CashBalance     float64              `json:"cashBalance"`
}

type transactionRequest struct {
	Symbol   string  `json:"symbol"`
	SecType  string  `json:"secType"`
	Side     string  `json:"side"`
	Note     string  `json:"note"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Fees     float64 `json:"fees"`
}

type autoSyncRequest struct {
	IntervalMinutes int `json:"intervalMinutes"`
}

type liquidateRequest struct {
	Reason string `json:"reason"`
}

// HandleListPortfolios returns all portfolios
func (h *Handler) HandleListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := h.service.ListPortfolios(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, portfolios)
}

// HandleCreatePortfolio creates a portfolio
func (h *Handler) HandleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req createPortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	p, err := h.service.CreatePortfolio(r.Context(), domain.Portfolio{
		ID:              req.ID,
		OwnerID:         req.OwnerID,
		Name:            req.Name,
		Type:            req.Type,
		LinkedAccountID: req.LinkedAccountID,
		CashBalance:     req.CashBalance,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, p)
}

// HandleGetPortfolio returns one portfolio
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetPortfolio(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// HandleDeletePortfolio deletes a portfolio without open positions
func (h *Handler) HandleDeletePortfolio(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePortfolio(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetPositions returns open positions
func (h *Handler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.service.Positions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, positions)
}

// HandleGetTransactions returns the transaction log
func (h *Handler) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.service.Transactions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, txs)
}

// HandleRecordTransaction records a manual transaction
func (h *Handler) HandleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.RecordTransaction(r.Context(), domain.Transaction{
		PortfolioID: chi.URLParam(r, "id"),
		Symbol:      req.Symbol,
		SecType:     domain.SecType(req.SecType),
		Side:        domain.Side(req.Side),
		Note:        req.Note,
		Quantity:    req.Quantity,
		Price:       req.Price,
		Fees:        req.Fees,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// HandleSync runs a reconciliation pass and returns its result
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	result := h.service.Sync(r.Context(), chi.URLParam(r, "id"))

	status := http.StatusOK
	switch {
	case result.Success:
	case len(result.Errors) == 1 && result.Errors[0] == portfolio.ErrSyncInProgress.Error():
		status = http.StatusConflict
	default:
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, result)
}

// HandleGetSyncStatus returns the sync state and last result
func (h *Handler) HandleGetSyncStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.service.GetPortfolio(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	state, last := h.service.SyncState(id)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":      state,
		"lastResult": last,
		"autoSync":   h.service.AutoSyncing(id),
	})
}

// HandleStartAutoSync starts or replaces the recurring sync
func (h *Handler) HandleStartAutoSync(w http.ResponseWriter, r *http.Request) {
	var req autoSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.service.StartAutoSync(r.Context(), id, req.IntervalMinutes); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"portfolioId":     id,
		"intervalMinutes": req.IntervalMinutes,
		"autoSync":        true,
	})
}

// HandleStopAutoSync stops the recurring sync
func (h *Handler) HandleStopAutoSync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stopped, err := h.service.DisableAutoSync(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"portfolioId": id,
		"stopped":     stopped,
		"autoSync":    false,
	})
}

// HandleLiquidate closes all open positions
func (h *Handler) HandleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	result, err := h.service.Liquidate(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Helper methods

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case domain.IsNotConnected(err):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error().Err(err).Msg("Portfolio request failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
