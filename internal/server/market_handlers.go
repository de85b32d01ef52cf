package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/brokersync/internal/domain"
	"github.com/aristath/brokersync/internal/utils"
)

// QuoteService is the market data surface the handlers need
type QuoteService interface {
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
	Quotes(ctx context.Context, symbols []string) ([]domain.Quote, error)
	History(ctx context.Context, symbol, period, interval string) (domain.History, error)
}

// MaxQuoteSymbols caps a single batch quote request
const MaxQuoteSymbols = 50

// MarketHandlers serves quotes and history
type MarketHandlers struct {
	quotes QuoteService
	log    zerolog.Logger
}

// NewMarketHandlers creates market data handlers
func NewMarketHandlers(quotes QuoteService, log zerolog.Logger) *MarketHandlers {
	return &MarketHandlers{
		quotes: quotes,
		log:    log.With().Str("handler", "market").Logger(),
	}
}

// HandleGetQuote returns a quote for one symbol
func (h *MarketHandlers) HandleGetQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := h.quotes.Quote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, quote)
}

// HandleGetQuotes returns quotes for ?symbols=A,B,C. Symbols no source could
// price are listed under "missing" instead of failing the request.
func (h *MarketHandlers) HandleGetQuotes(w http.ResponseWriter, r *http.Request) {
	symbols := utils.ParseSymbols(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		writeError(w, h.log, http.StatusBadRequest, "symbols is required")
		return
	}
	if len(symbols) > MaxQuoteSymbols {
		writeError(w, h.log, http.StatusBadRequest, "too many symbols")
		return
	}

	quotes, err := h.quotes.Quotes(r.Context(), symbols)
	if err != nil && len(quotes) == 0 {
		writeDomainError(w, h.log, err)
		return
	}

	served := make(map[string]bool, len(quotes))
	for _, q := range quotes {
		served[q.Symbol] = true
	}
	missing := []string{}
	for _, s := range symbols {
		if !served[s] {
			missing = append(missing, s)
		}
	}

	writeJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"quotes":  quotes,
		"missing": missing,
	})
}

// HandleGetHistory returns bars for ?period=1y&interval=1d along with the source that served them
func (h *MarketHandlers) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "1y"
	}
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "1d"
	}

	history, err := h.quotes.History(r.Context(), chi.URLParam(r, "symbol"), period, interval)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	if history.Bars == nil {
		history.Bars = []domain.Bar{}
	}
	writeJSON(w, h.log, http.StatusOK, history)
}
