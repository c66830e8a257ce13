package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_basket/internal/address"
	"github.com/fjod/go_basket/internal/basket"
	"github.com/fjod/go_basket/internal/checkout"
	"github.com/fjod/go_basket/internal/gateway"
	"github.com/fjod/go_basket/internal/registry"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// RejectionResponse is returned with 422 when the validation service refused a
// mutation. Violations are keyed field -> label -> params.
type RejectionResponse struct {
	Error      string                               `json:"error"`
	Code       string                               `json:"code"`
	Violations map[string]map[string]map[string]any `json:"violations"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleError maps domain and gateway errors to HTTP statuses
func handleError(w http.ResponseWriter, err error) {
	var fault *gateway.FaultError

	switch {
	case errors.Is(err, registry.ErrInvalidID):
		respondError(w, http.StatusBadRequest, "invalid_basket_id", err.Error())
	case errors.Is(err, address.ErrUnknownKind):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, checkout.ErrEmptyBasket):
		respondError(w, http.StatusConflict, "empty_basket", err.Error())
	case errors.As(err, &fault):
		respondJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:   fault.Source() + " refused the request",
			Code:    "gateway_fault",
			Details: string(fault.Body),
		})
	case errors.Is(err, basket.ErrValidationUnavailable),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
