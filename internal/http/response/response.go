// Package response writes the JSON envelope shared by every endpoint:
//
//	{"status": "SUCCESS", "message": "...", "data": {...}}
package response

import (
	"encoding/json"
	"net/http"
)

// Envelope status values
const (
	StatusSuccess         = "SUCCESS"
	StatusFailure         = "FAILURE"
	StatusBadRequest      = "BAD_REQUEST"
	StatusValidationError = "VALIDATION_ERROR"
	StatusUnauthorized    = "UNAUTHORIZED"
	StatusForbidden       = "FORBIDDEN"
	StatusTooManyRequests = "TOO_MANY_REQUESTS"
	StatusServerError     = "SERVER_ERROR"
)

// Envelope is the body of every JSON response
type Envelope struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSON writes env with the given HTTP status code
func JSON(w http.ResponseWriter, code int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(env)
}

// Success writes a 200 envelope
func Success(w http.ResponseWriter, message string, data interface{}) {
	JSON(w, http.StatusOK, Envelope{Status: StatusSuccess, Message: message, Data: data})
}

// Error writes an envelope without data, picking the status from the HTTP code
func Error(w http.ResponseWriter, code int, message string) {
	JSON(w, code, Envelope{Status: statusFor(code), Message: message})
}

func statusFor(code int) string {
	switch code {
	case http.StatusBadRequest:
		return StatusBadRequest
	case http.StatusUnprocessableEntity:
		return StatusValidationError
	case http.StatusUnauthorized:
		return StatusUnauthorized
	case http.StatusForbidden:
		return StatusForbidden
	case http.StatusTooManyRequests:
		return StatusTooManyRequests
	default:
		if code >= 500 {
			return StatusServerError
		}
		return StatusFailure
	}
}
