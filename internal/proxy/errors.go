package proxy

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

// ErrorResponse matches Anthropic's error envelope, extended with the
// request ID so tenants can quote it in support requests.
type ErrorResponse struct {
	Type      string      `json:"type"`
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorDetail contains the error type and message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WriteError writes a JSON error response in Anthropic API format.
func WriteError(w http.ResponseWriter, statusCode int, errorType, message, requestID string) {
	response := ErrorResponse{
		Type: "error",
		Error: ErrorDetail{
			Type:    errorType,
			Message: message,
		},
		RequestID: requestID,
	}

	writeJSON(w, statusCode, response)
}

// WriteNotFound writes the deliberately uninformative 404 used for every
// authentication failure, so probing for valid keys learns nothing.
func WriteNotFound(w http.ResponseWriter, requestID string) {
	WriteError(w, http.StatusNotFound, "not_found_error", "Not found", requestID)
}

// IsBodyTooLargeError checks if an error came from http.MaxBytesReader.
func IsBodyTooLargeError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

// WriteBodyTooLargeError writes a 413 Request Entity Too Large response.
func WriteBodyTooLargeError(w http.ResponseWriter, requestID string) {
	WriteError(w, http.StatusRequestEntityTooLarge, "request_too_large",
		"Request body exceeds the maximum allowed size", requestID)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
