package handlers

import (
	"errors"
	"net/http"

	"github.com/switchboard-ai/switchboard/manager"
	"github.com/switchboard-ai/switchboard/providers"
	"github.com/switchboard-ai/switchboard/utils"
)

// WriteProviderError maps taxonomy kinds and manager errors onto HTTP
// status codes, surfacing the actionable suggestion when one exists.
func WriteProviderError(w http.ResponseWriter, err error) {
	if errors.Is(err, manager.ErrNoProviderAvailable) {
		_ = utils.WriteServiceUnavailable(w, "No provider available")
		return
	}
	if errors.Is(err, manager.ErrProviderNotFound) {
		_ = utils.WriteNotFound(w, err.Error())
		return
	}

	perr, ok := providers.AsProviderError(err)
	if !ok {
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	body := utils.ErrorResponse{
		Error:      string(perr.Kind),
		Message:    perr.Message,
		Suggestion: perr.Suggestion(),
	}

	var status int
	switch perr.Kind {
	case providers.KindValidation:
		status = http.StatusBadRequest
	case providers.KindAuth:
		status = http.StatusUnauthorized
	case providers.KindModelNotFound:
		status = http.StatusNotFound
	case providers.KindRateLimit, providers.KindQuota:
		status = http.StatusTooManyRequests
		if perr.RetryAfter > 0 {
			w.Header().Set("Retry-After", perr.RetryAfter.String())
		}
	case providers.KindTimeout:
		status = http.StatusGatewayTimeout
	case providers.KindCircuitOpen, providers.KindService, providers.KindNetwork:
		status = http.StatusServiceUnavailable
	case providers.KindContextLength:
		status = http.StatusRequestEntityTooLarge
	default:
		status = http.StatusBadGateway
	}

	_ = utils.WriteJSON(w, status, body)
}

// HandleValidationError writes field-level detail for payload
// validation failures.
func HandleValidationError(w http.ResponseWriter, err error) {
	if utils.IsValidationError(err) {
		details := make(map[string]interface{})
		for field, msg := range utils.GetValidationFields(err) {
			details[field] = msg
		}
		_ = utils.WriteBadRequest(w, "Validation failed", details)
		return
	}
	_ = utils.WriteBadRequest(w, err.Error(), nil)
}
