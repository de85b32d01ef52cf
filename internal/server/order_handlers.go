package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/brokersync/internal/clients/ibkr"
	"github.com/aristath/brokersync/internal/domain"
)

// OrderGateway places and cancels broker orders
type OrderGateway interface {
	PlaceOrder(ctx context.Context, contract domain.Contract, order domain.Order) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// PortfolioReader reads portfolio state for pre-trade checks
type PortfolioReader interface {
	GetPortfolio(ctx context.Context, portfolioID string) (domain.Portfolio, error)
	Positions(ctx context.Context, portfolioID string) ([]domain.Position, error)
}

// TradeAssessor checks a prospective trade against risk limits
type TradeAssessor interface {
	AssessTrade(p domain.Portfolio, current domain.Position, quantity, price float64) error
}

// PriceSource prices market orders for the pre-trade check
type PriceSource interface {
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
}

// OrderHandlers submits orders to the gateway
type OrderHandlers struct {
	gateway    OrderGateway
	portfolios PortfolioReader
	risk       TradeAssessor
	prices     PriceSource
	log        zerolog.Logger
}

// NewOrderHandlers creates order handlers
func NewOrderHandlers(gateway OrderGateway, portfolios PortfolioReader, risk TradeAssessor, prices PriceSource, log zerolog.Logger) *OrderHandlers {
	return &OrderHandlers{
		gateway:    gateway,
		portfolios: portfolios,
		risk:       risk,
		prices:     prices,
		log:        log.With().Str("handler", "orders").Logger(),
	}
}

type placeOrderRequest struct {
	PortfolioID string  `json:"portfolioId"`
	Symbol      string  `json:"symbol"`
	SecType     string  `json:"secType"`
	Exchange    string  `json:"exchange"`
	Currency    string  `json:"currency"`
	Side        string  `json:"side"`
	OrderType   string  `json:"orderType"`
	TimeInForce string  `json:"tif"`
	ConID       int64   `json:"conid"`
	Quantity    float64 `json:"quantity"`
	LimitPrice  float64 `json:"limitPrice"`
}

func (req placeOrderRequest) toOrder() (domain.Contract, domain.Order, error) {
	side, ok := domain.ParseSide(req.Side)
	if !ok {
		return domain.Contract{}, domain.Order{}, domain.NewValidationError("side", "must be BUY or SELL")
	}
	orderType := domain.OrderType(strings.ToUpper(strings.TrimSpace(req.OrderType)))
	if orderType == "" {
		orderType = domain.OrderMarket
	}

	contract := domain.Contract{
		Symbol:   strings.ToUpper(strings.TrimSpace(req.Symbol)),
		SecType:  domain.NormalizeSecType(req.SecType),
		Exchange: req.Exchange,
		Currency: req.Currency,
		ConID:    req.ConID,
	}
	order := domain.Order{
		Side:        side,
		Type:        orderType,
		TimeInForce: req.TimeInForce,
		Quantity:    req.Quantity,
		LimitPrice:  req.LimitPrice,
	}
	return contract, order, ibkr.ValidateOrder(contract, order)
}

// HandlePlaceOrder validates, optionally risk-checks and submits an order.
// When portfolioId is given the resulting position must stay within limits.
func (h *OrderHandlers) HandlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, http.StatusBadRequest, "Invalid request body")
		return
	}

	contract, order, err := req.toOrder()
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}

	if req.PortfolioID != "" {
		if err := h.assess(r.Context(), req.PortfolioID, contract, order); err != nil {
			writeDomainError(w, h.log, err)
			return
		}
	}

	orderID, err := h.gateway.PlaceOrder(r.Context(), contract, order)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}

	writeJSON(w, h.log, http.StatusCreated, map[string]interface{}{
		"orderId":  orderID,
		"contract": contract,
		"order":    order,
	})
}

func (h *OrderHandlers) assess(ctx context.Context, portfolioID string, contract domain.Contract, order domain.Order) error {
	p, err := h.portfolios.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return err
	}
	positions, err := h.portfolios.Positions(ctx, portfolioID)
	if err != nil {
		return err
	}
	current := domain.Position{Symbol: contract.Symbol, SecType: contract.SecType}
	for _, pos := range positions {
		if pos.Key() == current.Key() {
			current = pos
			break
		}
	}

	price := order.LimitPrice
	if order.Type == domain.OrderMarket {
		quote, err := h.prices.Quote(ctx, contract.Symbol)
		if err != nil {
			return err
		}
		price = quote.Price
	}

	return h.risk.AssessTrade(p, current, order.Side.Sign()*order.Quantity, price)
}

// HandleCancelOrder cancels an open order
func (h *OrderHandlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if err := h.gateway.CancelOrder(r.Context(), orderID); err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"orderId":   orderID,
		"cancelled": true,
	})
}
