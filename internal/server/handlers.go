package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aristath/brokersync/internal/domain"
	"github.com/rs/zerolog"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"version":   version,
		"service":   "brokersync",
		"connected": s.container.Gateway.IsConnected(),
	}

	writeJSON(w, s.log, http.StatusOK, response)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, log zerolog.Logger, status int, message string) {
	writeJSON(w, log, status, map[string]string{"error": message})
}

// writeDomainError maps domain errors onto HTTP statuses
func writeDomainError(w http.ResponseWriter, log zerolog.Logger, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, log, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, log, http.StatusNotFound, err.Error())
	case domain.IsNotConnected(err):
		writeError(w, log, http.StatusServiceUnavailable, err.Error())
	case domain.IsTransport(err):
		writeError(w, log, http.StatusBadGateway, err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		writeError(w, log, http.StatusInternalServerError, err.Error())
	}
}
