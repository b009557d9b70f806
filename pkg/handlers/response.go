// Package handlers contains the HTTP surface of identity-engine.
package handlers

import (
	"encoding/json"
	"net/http"
)

// errorBody is the error envelope every endpoint returns: a stable machine
// code (merge_conflict, invalid_entity_id, ...) plus a human-readable message.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorResponse writes the error envelope and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, errorBody{
		Error:   errorCode,
		Message: message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}
