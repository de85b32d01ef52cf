package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/brokersync/internal/events"
)

// SignalPublisher fans signals out to subscribers
type SignalPublisher interface {
	PublishSignal(signal events.SignalData)
}

// SignalHandlers accepts trading signals from external producers
type SignalHandlers struct {
	publisher SignalPublisher
	log       zerolog.Logger
}

// NewSignalHandlers creates signal handlers
func NewSignalHandlers(publisher SignalPublisher, log zerolog.Logger) *SignalHandlers {
	return &SignalHandlers{
		publisher: publisher,
		log:       log.With().Str("handler", "signals").Logger(),
	}
}

// HandlePublishSignal broadcasts a signal on the signals channel
func (h *SignalHandlers) HandlePublishSignal(w http.ResponseWriter, r *http.Request) {
	var signal events.SignalData
	if err := json.NewDecoder(r.Body).Decode(&signal); err != nil {
		writeError(w, h.log, http.StatusBadRequest, "Invalid request body")
		return
	}

	signal.Symbol = strings.ToUpper(strings.TrimSpace(signal.Symbol))
	signal.Action = strings.ToUpper(strings.TrimSpace(signal.Action))
	if signal.Symbol == "" {
		writeError(w, h.log, http.StatusBadRequest, "symbol is required")
		return
	}
	switch signal.Action {
	case "BUY", "SELL", "HOLD":
	default:
		writeError(w, h.log, http.StatusBadRequest, "action must be BUY, SELL or HOLD")
		return
	}
	if signal.Confidence < 0 || signal.Confidence > 1 {
		writeError(w, h.log, http.StatusBadRequest, "confidence must be between 0 and 1")
		return
	}

	h.publisher.PublishSignal(signal)
	h.log.Info().Str("symbol", signal.Symbol).Str("action", signal.Action).Msg("Signal published")
	w.WriteHeader(http.StatusAccepted)
}
