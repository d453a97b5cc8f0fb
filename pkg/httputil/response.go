package httputil

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the {"error": ...} envelope
type ErrorResponse struct {
	Error string `json:"error"`
}

// DetailResponse is the {"detail": ...} envelope
type DetailResponse struct {
	Detail string `json:"detail"`
}

// WriteErrorMessage writes {"error": message}
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteDetail writes {"detail": message}
func WriteDetail(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, DetailResponse{Detail: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteDetail(w, http.StatusBadRequest, message)
}
