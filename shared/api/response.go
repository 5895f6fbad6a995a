// shared/api/response.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Ftotnem/duels-network/shared/broker"
	"github.com/Ftotnem/duels-network/shared/cache"
	"github.com/Ftotnem/duels-network/shared/messaging"
)

// JSONErrorResponse defines a standard structure for API error responses.
type JSONErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`    // Optional: for custom application-specific error codes
	Details string `json:"details,omitempty"` // Optional: for more detailed error info
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response with the given status code and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	errResp := JSONErrorResponse{
		Message: message,
		Code:    status, // Using HTTP status code as the error code
	}
	// Attempt to write JSON, fall back to plain text if JSON encoding fails
	if err := WriteJSON(w, status, errResp); err != nil {
		http.Error(w, message, status)
	}
}

// StatusForError maps coordination errors to HTTP status codes.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, messaging.ErrNoSuchService),
		errors.Is(err, broker.ErrBrokerUnavailable),
		errors.Is(err, cache.ErrCacheUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, messaging.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, messaging.ErrRemote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteServiceError writes err with the status StatusForError picks.
func WriteServiceError(w http.ResponseWriter, err error) {
	WriteError(w, StatusForError(err), err.Error())
}

// WriteBadRequest convenience function
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// WriteNotFound convenience function
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

// WriteInternalServerError convenience function
func WriteInternalServerError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message)
}

// WriteConflict convenience function
func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, message)
}
